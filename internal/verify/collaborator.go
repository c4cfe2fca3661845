package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"keyhub/internal/models"
	"keyhub/internal/version"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxCollaboratorBody caps how much of a collaborator response is read.
const maxCollaboratorBody = 1 << 20

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// CollaboratorChecker validates keys against an OpenAI-compatible API: a
// one-token chat completion proves the key works, then the account endpoint
// supplies the remaining balance.
type CollaboratorChecker struct {
	client         HTTPClient
	completionURL  string
	accountURL     string
	model          string
	requestTimeout time.Duration
}

// NewHTTPClient returns a traced client bounded by timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// NewCollaboratorChecker creates a checker for cfg. A nil client means a
// traced *http.Client bounded by cfg.Timeout.
func NewCollaboratorChecker(cfg models.VerifyConfig, client HTTPClient) *CollaboratorChecker {
	if client == nil {
		client = NewHTTPClient(cfg.Timeout)
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	return &CollaboratorChecker{
		client:         client,
		completionURL:  base + "/" + strings.TrimLeft(cfg.CompletionPath, "/"),
		accountURL:     base + "/" + strings.TrimLeft(cfg.AccountPath, "/"),
		model:          cfg.Model,
		requestTimeout: cfg.Timeout,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type accountResponse struct {
	Data struct {
		TotalBalance json.RawMessage `json:"totalBalance"`
	} `json:"data"`
}

// Check never returns an error: every collaborator failure becomes an
// invalid outcome carrying the failure text.
func (c *CollaboratorChecker) Check(ctx context.Context, key string) (Outcome, error) {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	if err := c.complete(ctx, key); err != nil {
		return Outcome{Message: err.Error()}, nil
	}

	balance, err := c.balance(ctx, key)
	if err != nil {
		return Outcome{Message: err.Error()}, nil
	}

	return Outcome{Valid: true, Balance: &balance}, nil
}

func (c *CollaboratorChecker) complete(ctx context.Context, key string) error {
	body, err := json.Marshal(chatRequest{
		Model:     c.model,
		Messages:  []chatMessage{{Role: "user", Content: "hi"}},
		MaxTokens: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.completionURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = c.do(req, key)
	return err
}

func (c *CollaboratorChecker) balance(ctx context.Context, key string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.accountURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build account request: %w", err)
	}

	body, err := c.do(req, key)
	if err != nil {
		return "", err
	}

	var account accountResponse
	if err := json.Unmarshal(body, &account); err != nil {
		return "", fmt.Errorf("failed to parse account info: %w", err)
	}
	return parseBalance(account.Data.TotalBalance)
}

// do sends req with key as bearer credential and returns the body of a 2xx
// response.
func (c *CollaboratorChecker) do(req *http.Request, key string) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.GetInfo().UserAgent())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCollaboratorBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read collaborator response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.New(errorText(resp.StatusCode, body))
	}
	return body, nil
}

// errorText extracts a message from the usual error shapes:
// {"error":{"message":...}}, {"error":"..."} and {"message":...}.
func errorText(status int, body []byte) string {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		var nested struct {
			Message string `json:"message"`
		}
		if len(payload.Error) > 0 && json.Unmarshal(payload.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		var flat string
		if len(payload.Error) > 0 && json.Unmarshal(payload.Error, &flat) == nil && flat != "" {
			return flat
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return fmt.Sprintf("collaborator returned status %d", status)
}

// parseBalance accepts a JSON number or a numeric string.
func parseBalance(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", errors.New("account info has no balance")
	}

	value := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &value); err != nil {
			return "", fmt.Errorf("invalid balance: %w", err)
		}
	}
	value = strings.TrimSpace(value)
	if _, err := strconv.ParseFloat(value, 64); err != nil {
		return "", fmt.Errorf("invalid balance %q", value)
	}
	return value, nil
}
