package delivery

import (
	"context"
	"errors"
	"net"
	"strings"
)

type OutcomeKind string

const (
	Delivered    OutcomeKind = "delivered"
	Rejected     OutcomeKind = "rejected"
	NetworkError OutcomeKind = "network_error"
	TimedOut     OutcomeKind = "timed_out"
	Skipped      OutcomeKind = "skipped"
)

// Outcome is the result of a single attempt. StatusCode is 0 when no
// response was received.
type Outcome struct {
	Kind       OutcomeKind `json:"kind"`
	StatusCode int         `json:"status_code,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Failed reports whether the outcome is eligible for retry
func (o Outcome) Failed() bool {
	switch o.Kind {
	case Rejected, NetworkError, TimedOut:
		return true
	}
	return false
}

// Reason is a low-cardinality label describing why an attempt failed
func (o Outcome) Reason() string {
	switch o.Kind {
	case TimedOut:
		return "timeout"
	case Rejected:
		switch {
		case o.StatusCode >= 500:
			return "http_5xx"
		case o.StatusCode == 429:
			return "http_429"
		case o.StatusCode >= 400:
			return "http_4xx"
		}
		return "http_other"
	case NetworkError:
		msg := strings.ToLower(o.Error)
		if strings.Contains(msg, "connection refused") {
			return "connection_refused"
		}
		if strings.Contains(msg, "no such host") || strings.Contains(msg, "dns") {
			return "dns_error"
		}
		return "network"
	}
	return "other"
}

// classify maps an HTTP round trip to an outcome
func classify(status int, err error) Outcome {
	if err != nil {
		if isTimeout(err) {
			return Outcome{Kind: TimedOut, Error: err.Error()}
		}
		return Outcome{Kind: NetworkError, Error: err.Error()}
	}
	if status >= 200 && status < 300 {
		return Outcome{Kind: Delivered, StatusCode: status}
	}
	return Outcome{Kind: Rejected, StatusCode: status}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
