// Package remote wraps the external task-execution service behind a typed
// client: submit, cancel, and signal, with idempotent submission keyed by
// correlation id and bounded retry of transport failures.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"git.home.luguber.info/inful/buildcoord/internal/logfields"
	"git.home.luguber.info/inful/buildcoord/internal/metrics"
	"git.home.luguber.info/inful/buildcoord/internal/retry"
)

// TaskDescriptor is the submission body sent to the remote service.
type TaskDescriptor struct {
	TaskID         string `json:"task_id"`
	ConfigID       string `json:"config_id"`
	ConfigRevision string `json:"config_revision"`
	DeploymentID   string `json:"deployment_id,omitempty"`
	ProcessID      string `json:"process_id,omitempty"`
}

// TaskHandle identifies a submitted remote task.
type TaskHandle struct {
	CorrelationID string `json:"correlation_id"`
	RemoteID      string `json:"id"`
	DeploymentID  string `json:"deployment_id,omitempty"`
	ProcessID     string `json:"process_id,omitempty"`
}

// Client is a stateless HTTP client for the remote scheduler. Safe for
// concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	recorder   metrics.Recorder

	mu     sync.RWMutex
	policy retry.Policy
}

// NewClient creates a remote scheduler client. A nil recorder disables metrics.
func NewClient(baseURL, token string, timeout time.Duration, policy retry.Policy, rec metrics.Recorder) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		policy:     policy,
		recorder:   rec,
	}
}

// SetPolicy swaps the retry policy. Used by config hot reload; calls already
// in flight finish under the policy they started with.
func (c *Client) SetPolicy(policy retry.Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = policy
}

func (c *Client) currentPolicy() retry.Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy
}

// Submit submits a task under the given correlation id. Submission is
// idempotent keyed by correlation id: resubmitting while a task is active
// yields a *ConflictError. A *BadRequestError is never retried; transport
// failures are retried per the configured policy and surface as
// *TransportError once exhausted.
func (c *Client) Submit(ctx context.Context, task TaskDescriptor, correlationID string) (*TaskHandle, error) {
	var handle *TaskHandle
	err := c.withRetries(ctx, "submit", func() error {
		req, err := c.newRequest(ctx, http.MethodPost, path.Join("tasks", correlationID), task)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retriable(err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			h := &TaskHandle{CorrelationID: correlationID}
			if err := json.NewDecoder(resp.Body).Decode(h); err != nil {
				return fmt.Errorf("decode submit response: %w", err)
			}
			handle = h
			return nil
		case http.StatusConflict:
			var body struct {
				ConflictingID string `json:"conflicting_id"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&body)
			if body.ConflictingID == "" {
				body.ConflictingID = correlationID
			}
			return &ConflictError{CorrelationID: correlationID, ConflictingID: body.ConflictingID}
		case http.StatusBadRequest:
			var body struct {
				Detail string `json:"detail"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&body)
			return &BadRequestError{Detail: body.Detail}
		default:
			return statusError(resp)
		}
	})
	if err != nil {
		c.recorder.IncSubmission(submissionOutcome(err))
		return nil, err
	}
	c.recorder.IncSubmission("accepted")
	return handle, nil
}

// Cancel cancels the remote task bound to the correlation id.
func (c *Client) Cancel(ctx context.Context, correlationID string) error {
	return c.withRetries(ctx, "cancel", func() error {
		return c.postAck(ctx, path.Join("tasks", correlationID, "cancel"), correlationID)
	})
}

// Signal delivers a named signal to the remote task bound to the correlation id.
func (c *Client) Signal(ctx context.Context, correlationID, signalName string) error {
	return c.withRetries(ctx, "signal", func() error {
		return c.postAck(ctx, path.Join("tasks", correlationID, "signal", signalName), correlationID)
	})
}

func (c *Client) postAck(ctx context.Context, endpoint, correlationID string) error {
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retriable(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return &NotFoundError{CorrelationID: correlationID}
	default:
		return statusError(resp)
	}
}

// withRetries runs fn with bounded backoff. Only transientError values are
// retried; typed outcome errors pass straight through. A caller-supplied
// cancellation aborts the wait between attempts promptly.
func (c *Client) withRetries(ctx context.Context, op string, fn func() error) error {
	policy := c.currentPolicy()
	attempts := 0
	start := time.Now()
	for {
		attempts++
		err := fn()
		if err == nil {
			c.recorder.ObserveRemoteCall(op, time.Since(start), true)
			return nil
		}

		te, transient := err.(*transientError)
		if !transient {
			c.recorder.ObserveRemoteCall(op, time.Since(start), false)
			return err
		}

		if attempts > policy.MaxRetries {
			c.recorder.ObserveRemoteCall(op, time.Since(start), false)
			return &TransportError{Op: op, Attempts: attempts, Err: te.err}
		}

		delay := policy.Delay(attempts)
		slog.Warn("Remote scheduler call failed, retrying",
			slog.String("op", op),
			logfields.Attempt(attempts),
			slog.Duration("delay", delay),
			logfields.Error(te.err))
		c.recorder.IncRemoteRetry(op)

		select {
		case <-ctx.Done():
			return &TransportError{Op: op, Attempts: attempts, Err: ctx.Err()}
		case <-time.After(delay):
		}
	}
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path = path.Join(u.Path, endpoint)

	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(jsonBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("User-Agent", "buildcoord/1.0")

	// Propagate caller identity/trace headers verbatim.
	for key, values := range TraceHeaders(ctx) {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	return req, nil
}

// transientError marks a failure eligible for retry.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func retriable(err error) error {
	return &transientError{err: err}
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("remote scheduler returned %s: %s", resp.Status, string(body))
	if resp.StatusCode >= 500 {
		return retriable(err)
	}
	return err
}

func submissionOutcome(err error) string {
	switch err.(type) {
	case *ConflictError:
		return "conflict"
	case *BadRequestError:
		return "bad_request"
	case *TransportError:
		return "transport_error"
	default:
		return "error"
	}
}
