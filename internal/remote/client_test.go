package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildcoord/internal/config"
	"git.home.luguber.info/inful/buildcoord/internal/retry"
)

func testPolicy(maxRetries int) retry.Policy {
	return retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, 5*time.Millisecond, maxRetries)
}

func newTestClient(t *testing.T, handler http.Handler, maxRetries int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-token", time.Second, testPolicy(maxRetries), nil)
}

func TestSubmitAccepted(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody TaskDescriptor
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "remote-42", "deployment_id": "dep-1"})
	}), 0)

	handle, err := c.Submit(t.Context(), TaskDescriptor{TaskID: "t1", ConfigID: "cfg-a", ConfigRevision: "3"}, "corr-1")
	require.NoError(t, err)

	assert.Equal(t, "/tasks/corr-1", gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "cfg-a", gotBody.ConfigID)
	assert.Equal(t, "remote-42", handle.RemoteID)
	assert.Equal(t, "dep-1", handle.DeploymentID)
	assert.Equal(t, "corr-1", handle.CorrelationID)
}

func TestSubmitConflict(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"conflicting_id": "corr-1"})
	}), 3)

	_, err := c.Submit(t.Context(), TaskDescriptor{TaskID: "t1"}, "corr-1")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "corr-1", conflict.ConflictingID)
}

func TestSubmitConflictEmptyBodyFallsBackToCorrelationID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}), 0)

	_, err := c.Submit(t.Context(), TaskDescriptor{TaskID: "t1"}, "corr-9")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "corr-9", conflict.ConflictingID)
}

func TestSubmitBadRequestNeverRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "missing config_id"})
	}), 5)

	_, err := c.Submit(t.Context(), TaskDescriptor{}, "corr-1")
	var bad *BadRequestError
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, "missing config_id", bad.Detail)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSubmitRetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "remote-1"})
	}), 3)

	handle, err := c.Submit(t.Context(), TaskDescriptor{TaskID: "t1"}, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, "remote-1", handle.RemoteID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSubmitTransportErrorAfterExhaustion(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}), 2)

	_, err := c.Submit(t.Context(), TaskDescriptor{TaskID: "t1"}, "corr-1")
	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	assert.Equal(t, 3, transport.Attempts) // first attempt + 2 retries
	assert.Equal(t, int32(3), calls.Load())
}

func TestSubmitRetryAbortsOnContextCancel(t *testing.T) {
	block := make(chan struct{})
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			close(block)
		}
		w.WriteHeader(http.StatusInternalServerError)
	}), 100)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-block
		cancel()
	}()

	_, err := c.Submit(ctx, TaskDescriptor{TaskID: "t1"}, "corr-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	// must abort promptly rather than exhausting 100 retries
	assert.LessOrEqual(t, calls.Load(), int32(3))
}

func TestCancel(t *testing.T) {
	var gotPath string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}), 0)

	require.NoError(t, c.Cancel(t.Context(), "corr-1"))
	assert.Equal(t, "/tasks/corr-1/cancel", gotPath)
}

func TestCancelNotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}), 0)

	err := c.Cancel(t.Context(), "corr-missing")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "corr-missing", notFound.CorrelationID)
}

func TestSignal(t *testing.T) {
	var gotPath string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}), 0)

	require.NoError(t, c.Signal(t.Context(), "corr-1", "pause"))
	assert.Equal(t, "/tasks/corr-1/signal/pause", gotPath)
}

func TestTraceHeaderPropagation(t *testing.T) {
	var gotTrace, gotCaller string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTrace = r.Header.Get("X-Trace-Id")
		gotCaller = r.Header.Get("X-Caller")
		w.WriteHeader(http.StatusOK)
	}), 0)

	h := http.Header{}
	h.Set("X-Trace-Id", "trace-123")
	h.Set("X-Caller", "release-pipeline")
	ctx := WithTraceHeaders(t.Context(), h)

	require.NoError(t, c.Cancel(ctx, "corr-1"))
	assert.Equal(t, "trace-123", gotTrace)
	assert.Equal(t, "release-pipeline", gotCaller)
}

func TestTraceHeadersNilContext(t *testing.T) {
	assert.Nil(t, TraceHeaders(context.Background()))
	// attaching an empty header set keeps the context untouched
	ctx := WithTraceHeaders(context.Background(), http.Header{})
	assert.Nil(t, TraceHeaders(ctx))
}
