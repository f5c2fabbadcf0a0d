package model

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FailureKind classifies why a completion or transcription call failed.
type FailureKind string

const (
	FailureAuth         FailureKind = "auth"
	FailureQuota        FailureKind = "quota"
	FailureConnectivity FailureKind = "connectivity"
	FailureTimeout      FailureKind = "timeout"
	FailureUnclassified FailureKind = "unclassified"
)

// Failure is the error adapters return for a failed upstream call.
type Failure struct {
	Kind       FailureKind
	StatusCode int    // HTTP status, 0 if the request never got a response
	Code       string // provider error code, e.g. "insufficient_quota"
	Err        error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("model failure kind=%s", f.Kind)
	if f.StatusCode != 0 {
		msg += fmt.Sprintf(" status=%d", f.StatusCode)
	}
	if f.Code != "" {
		msg += " code=" + f.Code
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Retryable reports whether a repeated attempt could succeed.
func (f *Failure) Retryable() bool {
	return f.Kind == FailureConnectivity
}

// Classify maps any error to a FailureKind. Typed failures keep their kind;
// untyped errors fall back to context and network inspection.
func Classify(err error) FailureKind {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailureTimeout
		}
		return FailureConnectivity
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return FailureConnectivity
	}
	return FailureUnclassified
}
