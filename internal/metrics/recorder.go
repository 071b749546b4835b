package metrics

import "time"

// Recorder defines observability hooks for the coordination engine.
// Implementations may forward to Prometheus, OpenTelemetry, etc. All methods
// must be safe for nil receivers when using the NoopRecorder (allowing
// optional injection).
type Recorder interface {
	// Remote scheduler client.
	IncSubmission(outcome string) // accepted|conflict|bad_request|transport_error
	IncRemoteRetry(op string)
	ObserveRemoteCall(op string, d time.Duration, success bool)

	// Status flow.
	IncStatusTransition(to string)
	IncEventPublished(terminal bool)
	SetHubSubscribers(n int)

	// Reconciliation loop.
	ObserveReconcileTick(d time.Duration)
	IncReconcileGroup(outcome string) // converged|unchanged|error
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncSubmission(string)                          {}
func (NoopRecorder) IncRemoteRetry(string)                         {}
func (NoopRecorder) ObserveRemoteCall(string, time.Duration, bool) {}
func (NoopRecorder) IncStatusTransition(string)                    {}
func (NoopRecorder) IncEventPublished(bool)                        {}
func (NoopRecorder) SetHubSubscribers(int)                         {}
func (NoopRecorder) ObserveReconcileTick(time.Duration)            {}
func (NoopRecorder) IncReconcileGroup(string)                      {}
