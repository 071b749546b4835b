package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyTaskID        = "task_id"
	KeyGroupID       = "group_id"
	KeyConfigID      = "config_id"
	KeyRevision      = "config_revision"
	KeyCorrelationID = "correlation_id"
	KeyStatus        = "status"
	KeyOldStatus     = "old_status"
	KeyNewStatus     = "new_status"
	KeyAttempt       = "attempt"
	KeyDurationMS    = "duration_ms"
	KeyURL           = "url"
	KeySubject       = "subject"
	KeyWorker        = "worker"
	KeyError         = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func TaskID(id string) slog.Attr        { return slog.String(KeyTaskID, id) }
func GroupID(id string) slog.Attr       { return slog.String(KeyGroupID, id) }
func ConfigID(id string) slog.Attr      { return slog.String(KeyConfigID, id) }
func Revision(rev string) slog.Attr     { return slog.String(KeyRevision, rev) }
func CorrelationID(id string) slog.Attr { return slog.String(KeyCorrelationID, id) }
func Status(s string) slog.Attr         { return slog.String(KeyStatus, s) }
func OldStatus(s string) slog.Attr      { return slog.String(KeyOldStatus, s) }
func NewStatus(s string) slog.Attr      { return slog.String(KeyNewStatus, s) }
func Attempt(n int) slog.Attr           { return slog.Int(KeyAttempt, n) }
func DurationMS(ms float64) slog.Attr   { return slog.Float64(KeyDurationMS, ms) }
func URL(u string) slog.Attr            { return slog.String(KeyURL, u) }
func Subject(s string) slog.Attr        { return slog.String(KeySubject, s) }
func Worker(w string) slog.Attr         { return slog.String(KeyWorker, w) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
