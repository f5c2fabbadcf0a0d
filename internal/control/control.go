package control

import "time"

// Policy bounds a single exchange with the completion service.
type Policy struct {
	// MaxWallTime caps one completion or transcription call, including
	// adapter-level retries.
	MaxWallTime time.Duration
	// MaxRetries is how many extra attempts an adapter may make on
	// transient failures. The orchestrator itself never retries.
	MaxRetries int
}

// DefaultPolicy returns the default policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxWallTime: 60 * time.Second,
		MaxRetries:  3,
	}
}

// RetryBackoffSeconds computes exponential backoff with a fixed cap.
func RetryBackoffSeconds(attempt int) int {
	if attempt <= 0 {
		return 0
	}
	seconds := 1 << (attempt - 1)
	if seconds > 30 {
		return 30
	}
	return seconds
}

// RetryBackoff is RetryBackoffSeconds as a time.Duration.
func RetryBackoff(attempt int) time.Duration {
	return time.Duration(RetryBackoffSeconds(attempt)) * time.Second
}

// ShouldRetry returns whether a failed attempt should be retried.
func ShouldRetry(p Policy, attempts int) bool {
	return attempts <= p.MaxRetries
}
