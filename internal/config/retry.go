package config

import "strings"

// RetryBackoffMode selects the growth curve for retry delays.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

// NormalizeRetryBackoff maps arbitrary user input to a canonical mode.
// Unknown values normalize to the empty string so callers can fall back to
// their default.
func NormalizeRetryBackoff(s string) RetryBackoffMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed":
		return RetryBackoffFixed
	case "linear":
		return RetryBackoffLinear
	case "exponential", "exp":
		return RetryBackoffExponential
	default:
		return ""
	}
}
