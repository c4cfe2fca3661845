package verify

import (
	"context"
	"errors"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiChecker treats a key as valid when it can list Gemini models.
// Gemini has no balance endpoint, so Outcome.Balance stays nil.
type GeminiChecker struct {
	list    func(ctx context.Context, key string) error
	timeout time.Duration
}

func NewGeminiChecker(timeout time.Duration) *GeminiChecker {
	return &GeminiChecker{list: listGeminiModels, timeout: timeout}
}

func (g *GeminiChecker) Check(ctx context.Context, key string) (Outcome, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if err := g.list(ctx, key); err != nil {
		return Outcome{Message: err.Error()}, nil
	}
	return Outcome{Valid: true}, nil
}

func listGeminiModels(ctx context.Context, key string) error {
	client, err := genai.NewClient(ctx, option.WithAPIKey(key))
	if err != nil {
		return err
	}
	defer client.Close()

	_, err = client.ListModels(ctx).Next()
	if errors.Is(err, iterator.Done) {
		return nil
	}
	return err
}
