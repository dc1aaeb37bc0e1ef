package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/config"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
)

// serverClient calls the HTTP API of a running `assistant serve`.
type serverClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newServerClient(cfg config.Config, timeout time.Duration) *serverClient {
	return &serverClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      cfg.Server.APIToken,
		httpClient: &http.Client{Timeout: timeout},
	}
}

var dialServer = func() (*serverClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return newServerClient(cfg, 60*time.Second), nil
}

// serverError is a non-2xx reply. Message comes from the API's error body
// when it has one.
type serverError struct {
	Status  int
	Type    string
	Message string
}

func (e *serverError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// queuedNote is the reply to POST /v1/notes.
type queuedNote struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// SubmitNote queues text for background ingestion.
func (c *serverClient) SubmitNote(ctx context.Context, text string) (queuedNote, error) {
	var q queuedNote
	err := c.call(ctx, http.MethodPost, "/v1/notes", map[string]string{"text": text}, &q)
	return q, err
}

// Job fetches one job from the queue.
func (c *serverClient) Job(ctx context.Context, id string) (storage.Job, error) {
	var j storage.Job
	err := c.call(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(id), nil, &j)
	return j, err
}

// WaitJob polls the job until it completes or fails for good, or ctx ends.
func (c *serverClient) WaitJob(ctx context.Context, id string, every time.Duration) (storage.Job, error) {
	for {
		j, err := c.Job(ctx, id)
		if err != nil {
			return storage.Job{}, err
		}
		if j.Status == "completed" || j.Status == "failed" {
			return j, nil
		}
		select {
		case <-ctx.Done():
			return j, ctx.Err()
		case <-time.After(every):
		}
	}
}

// Healthy reports whether /health answers 200. A transport error means the
// server is not running.
func (c *serverClient) Healthy(ctx context.Context) (bool, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false, 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, 0, err
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK, resp.StatusCode, nil
}

func (c *serverClient) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("server not reachable, is `assistant serve` running? (%w)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var env struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		se := &serverError{Status: resp.StatusCode, Message: string(bytes.TrimSpace(raw))}
		if json.Unmarshal(raw, &env) == nil && env.Error.Message != "" {
			se.Message, se.Type = env.Error.Message, env.Error.Type
		}
		return se
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}
