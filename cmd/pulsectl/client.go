package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/pulse-core/internal/device"
	"github.com/nerrad567/pulse-core/internal/scheduler"
)

const apiPrefix = "/api/v1"

// apiError is a non-2xx response from the server.
type apiError struct {
	Status     int    `json:"status"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"-"`
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
}

type submitResponse struct {
	Status    scheduler.SubmitStatus `json:"status"`
	Position  int                    `json:"position"`
	EntryID   string                 `json:"entry_id"`
	Remaining int                    `json:"remaining"`
}

type statusResponse struct {
	Active         bool                     `json:"active"`
	ActiveKind     scheduler.Kind           `json:"active_kind"`
	ActiveEntry    *scheduler.EntrySummary  `json:"active_entry"`
	QueueLength    int                      `json:"queue_length"`
	Queue          []scheduler.EntrySummary `json:"queue"`
	Remaining      int                      `json:"remaining"`
	Limit          int                      `json:"limit"`
	ResetInSeconds int                      `json:"reset_in_seconds"`
	Locked         bool                     `json:"locked"`
	LockedBy       string                   `json:"locked_by"`
	Connected      bool                     `json:"connected"`
}

type devicesResponse struct {
	Connected bool            `json:"connected"`
	Devices   []device.Device `json:"devices"`
	Summary   device.Summary  `json:"summary"`
}

type stopResponse struct {
	Signalled int `json:"signalled"`
}

type lockResponse struct {
	Locked   bool      `json:"locked"`
	LockedBy string    `json:"locked_by"`
	LockedAt time.Time `json:"locked_at"`
}

// client talks to the pulse-core REST API.
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient(cfg *cliConfig) *client {
	return &client{
		baseURL: cfg.Server + apiPrefix,
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *client) submit(ctx context.Context, kind scheduler.Kind, intensity, seconds int) (*submitResponse, error) {
	body := map[string]any{
		"kind":             kind,
		"intensity":        intensity,
		"duration_seconds": seconds,
	}
	var out submitResponse
	if err := c.do(ctx, http.MethodPost, "/commands", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) status(ctx context.Context) (*statusResponse, error) {
	var out statusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) devices(ctx context.Context) (*devicesResponse, error) {
	var out devicesResponse
	if err := c.do(ctx, http.MethodGet, "/devices", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) stopAll(ctx context.Context) (int, error) {
	var out stopResponse
	if err := c.do(ctx, http.MethodPost, "/stop", nil, &out); err != nil {
		return 0, err
	}
	return out.Signalled, nil
}

func (c *client) lock(ctx context.Context) (*lockResponse, error) {
	var out lockResponse
	if err := c.do(ctx, http.MethodPost, "/lock", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) unlock(ctx context.Context) (*lockResponse, error) {
	var out lockResponse
	if err := c.do(ctx, http.MethodPost, "/unlock", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do sends one request and decodes a 2xx body into out. Other statuses are
// returned as *apiError.
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{Status: resp.StatusCode}
		//nolint:errcheck // Non-JSON error bodies fall back to the status code
		json.NewDecoder(resp.Body).Decode(apiErr)
		apiErr.Status = resp.StatusCode
		if v := resp.Header.Get("Retry-After"); v != "" {
			apiErr.RetryAfter, _ = strconv.Atoi(v)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
