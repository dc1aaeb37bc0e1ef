// Package llm talks to OpenAI-compatible chat and embedding endpoints
// (OpenAI, DeepSeek, Ollama's /v1 surface, or any compatible gateway).
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const (
	defaultTimeout = 60 * time.Second
	maxAttempts    = 2
	retryBackoff   = 500 * time.Millisecond
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client issues chat completions and embeddings against one endpoint.
type Client struct {
	endpoint   Endpoint
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates a Client for the endpoint. The endpoint is not checked
// for usability; callers decide that before issuing requests.
func NewClient(ep Endpoint) *Client {
	return &Client{
		endpoint:   ep,
		httpClient: &http.Client{Timeout: defaultTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        ep.Label(),
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("llm circuit breaker state changed", "endpoint", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// Endpoint returns the endpoint this client was built for.
func (c *Client) Endpoint() Endpoint { return c.endpoint }

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string       `json:"type"`
	JSONSchema *namedSchema `json:"json_schema,omitempty"`
}

type namedSchema struct {
	Name   string  `json:"name"`
	Schema *Schema `json:"schema"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Chat sends a completion request at temperature 0. When schema is non-nil
// the model is asked for JSON matching it and the reply is validated before
// it is returned.
func (c *Client) Chat(ctx context.Context, messages []Message, schema *Schema) (string, error) {
	req := chatRequest{
		Model:    c.endpoint.Model,
		Messages: messages,
	}
	if schema != nil {
		req.ResponseFormat = &responseFormat{
			Type:       "json_schema",
			JSONSchema: &namedSchema{Name: "response", Schema: schema},
		}
	}

	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", req, &resp); err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat response has no choices")
	}

	content := stripCodeFence(resp.Choices[0].Message.Content)
	if schema != nil {
		if err := schema.Validate(content); err != nil {
			return "", err
		}
	}
	return content, nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp embedResponse
	if err := c.post(ctx, "/embeddings", embedRequest{Model: c.endpoint.Model, Input: text}, &resp); err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("embed response has no vectors")
	}
	return resp.Data[0].Embedding, nil
}

// retryableError marks failures worth one more attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	_, err = c.breaker.Execute(func() (any, error) {
		var lastErr error
		for attempt := range maxAttempts {
			lastErr = c.doPost(ctx, path, body, out)
			var re *retryableError
			if lastErr == nil || !errors.As(lastErr, &re) {
				return nil, lastErr
			}
			if attempt < maxAttempts-1 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(retryBackoff):
				}
			}
		}
		return nil, lastErr
	})
	return err
}

func (c *Client) doPost(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.URL()+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.endpoint.Key())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return &retryableError{err: fmt.Errorf("executing request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return &retryableError{err: statusErr}
		}
		return statusErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// stripCodeFence removes a ```json ... ``` wrapper some models add despite
// being asked for bare JSON.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
