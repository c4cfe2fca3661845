// Package verify checks candidate keys, either against an external
// credential API or against the local key pool.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrKeyRequired is returned for an empty candidate key.
var ErrKeyRequired = errors.New("key required")

// MessageInvalidFormat is reported when a key fails the shape check.
const MessageInvalidFormat = "invalid format"

// Outcome is what a Checker concluded about a well-formed key.
type Outcome struct {
	Valid   bool
	Message string
	// Balance is nil when the checker has no balance to report.
	Balance *string
}

// Checker decides whether a well-formed key is usable. Collaborator
// failures are reported through Outcome; the error return is reserved for
// failures of this service itself.
type Checker interface {
	Check(ctx context.Context, key string) (Outcome, error)
}

// VerificationRecorder is the part of usage accounting the verifier needs.
type VerificationRecorder interface {
	RecordVerification(ctx context.Context) (int, error)
}

// Result is the full answer to a verification request.
type Result struct {
	Outcome
	VerifyCount int
}

type Verifier struct {
	recorder  VerificationRecorder
	checker   Checker
	prefix    string
	minLength int
}

// NewVerifier creates a Verifier. An empty prefix and a zero minLength
// disable the corresponding shape rule.
func NewVerifier(recorder VerificationRecorder, checker Checker, prefix string, minLength int) *Verifier {
	return &Verifier{
		recorder:  recorder,
		checker:   checker,
		prefix:    prefix,
		minLength: minLength,
	}
}

// Verify records the attempt and checks key. Every non-empty key counts as
// one verification, whatever the outcome.
func (v *Verifier) Verify(ctx context.Context, key string) (Result, error) {
	if key == "" {
		return Result{}, ErrKeyRequired
	}

	count, err := v.recorder.RecordVerification(ctx)
	if err != nil {
		return Result{}, err
	}
	result := Result{VerifyCount: count}

	if !v.WellFormed(key) {
		result.Message = MessageInvalidFormat
		return result, nil
	}

	outcome, err := v.checker.Check(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("failed to check key: %w", err)
	}
	result.Outcome = outcome

	slog.Debug("Key verified",
		"key_suffix", KeySuffix(key),
		"valid", outcome.Valid,
		"verify_count", count)

	return result, nil
}

// WellFormed applies the prefix and length rules.
func (v *Verifier) WellFormed(key string) bool {
	if v.prefix != "" && !strings.HasPrefix(key, v.prefix) {
		return false
	}
	return len(key) >= v.minLength
}

// KeySuffix returns the last four characters of key for logging.
func KeySuffix(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "..." + key[len(key)-4:]
}
