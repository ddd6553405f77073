package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/internal/httpclient"
	"github.com/teranos/recwake/pulse/schedule"
)

// DefaultClientTimeout bounds every API call.
const DefaultClientTimeout = 10 * time.Second

// APIError is a non-2xx response. Client marks it with the matching
// session or schedule sentinel, so errors.Is works across the wire.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Client is the typed client for the control API.
type Client struct {
	baseURL string
	http    *httpclient.LocalClient
}

// NewClient creates a client for address ("127.0.0.1:8787" or a full
// http:// URL). Non-loopback hosts are refused.
func NewClient(address string) (*Client, error) {
	base := address
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	base = strings.TrimRight(base, "/")

	hc := httpclient.NewLocalClient(DefaultClientTimeout)
	if _, err := hc.ValidateURL(base); err != nil {
		return nil, errors.Wrapf(err, "invalid server address %q", address)
	}
	return &Client{baseURL: base, http: hc}, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Schedule creates and arms a recording job.
func (c *Client) Schedule(ctx context.Context, start time.Time, durationSeconds int) (*schedule.Job, error) {
	var job schedule.Job
	req := ScheduleRequest{ScheduledStartTime: start, DurationSeconds: durationSeconds}
	if err := c.do(ctx, http.MethodPost, "/api/job", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Cancel disarms or aborts the active job.
func (c *Client) Cancel(ctx context.Context) (*schedule.Job, error) {
	var job schedule.Job
	if err := c.do(ctx, http.MethodDelete, "/api/job", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Stop ends a running capture early.
func (c *Client) Stop(ctx context.Context) (*schedule.Job, error) {
	var job schedule.Job
	if err := c.do(ctx, http.MethodPost, "/api/job/stop", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Status returns the job, or nil if none was ever scheduled.
func (c *Client) Status(ctx context.Context) (*schedule.Job, error) {
	var job schedule.Job
	if err := c.do(ctx, http.MethodGet, "/api/job", nil, &job); err != nil {
		if errors.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// Fire forwards a wake event for jobID to the daemon.
func (c *Client) Fire(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "/api/wake/"+url.PathEscape(jobID), nil, nil)
}

// Recordings lists the most recent recordings.
func (c *Client) Recordings(ctx context.Context, limit int) ([]schedule.Recording, error) {
	path := "/api/recordings"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var resp RecordingsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Recordings, nil
}

// Health checks that a daemon is answering.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Mark(
			errors.WithHint(
				errors.Wrapf(err, "recwake daemon not reachable at %s", c.baseURL),
				"start it with: recwake daemon"),
			errors.ErrServiceUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "failed to decode %s %s response", method, path)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
		if body.Error == "" {
			body.Error = resp.Status
		}
	}

	var err error = &APIError{Status: resp.StatusCode, Kind: body.Kind, Message: body.Error}
	if sentinel := sentinelForKind(body.Kind); sentinel != nil {
		err = errors.Mark(err, sentinel)
	}
	for _, h := range body.Hints {
		err = errors.WithHint(err, h)
	}
	return err
}
