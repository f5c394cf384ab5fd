package delivery

import (
	"context"
	"time"
)

const DLQType = "delivery.dlq"

type DeadLetter struct {
	Type       string      `json:"type"`    // "delivery.dlq"
	Version    string      `json:"version"` // schema version
	At         string      `json:"at"`      // RFC3339 time the delivery was abandoned
	Reason     string      `json:"reason"`  // failure reason label of the last attempt
	Attempt    int         `json:"attempt"`
	Outcome    OutcomeKind `json:"outcome"`
	HTTPStatus int         `json:"http_status,omitempty"`
	LastError  string      `json:"last_error,omitempty"`
	Job        Job         `json:"job"` // full delivery snapshot
}

func NewDeadLetter(job Job, last Outcome, at time.Time) DeadLetter {
	return DeadLetter{
		Type:       DLQType,
		Version:    "v1",
		At:         at.UTC().Format(time.RFC3339Nano),
		Reason:     last.Reason(),
		Attempt:    job.Attempt,
		Outcome:    last.Kind,
		HTTPStatus: last.StatusCode,
		LastError:  last.Error,
		Job:        job,
	}
}

// DeadLetterNotifier raises an operational alert for an abandoned delivery
type DeadLetterNotifier interface {
	Notify(ctx context.Context, dl DeadLetter) error
}
