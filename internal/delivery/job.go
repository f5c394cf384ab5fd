package delivery

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedJob = errors.New("malformed delivery job")

// Job is one attempt of a logical delivery. A fresh dispatch creates
// Attempt 1; every retry is a new Job with the same DeliveryID and the
// next attempt number.
type Job struct {
	DeliveryID   string            `json:"delivery_id"`
	TenantID     string            `json:"tenant_id"`
	EndpointID   string            `json:"endpoint_id"`
	EventType    string            `json:"event_type"`
	Payload      json.RawMessage   `json:"payload"`
	Attempt      int               `json:"attempt"`
	DispatchedAt string            `json:"dispatched_at"`           // RFC3339
	TraceHeaders map[string]string `json:"trace_headers,omitempty"` // OTel trace propagation headers
}

// IsRetry reports whether the job was issued by the retry scheduler
func (j Job) IsRetry() bool { return j.Attempt > 1 }

// Next returns the job for the following attempt of the same delivery
func (j Job) Next() Job {
	n := j
	n.Attempt = j.Attempt + 1
	return n
}

func (j Job) Validate() error {
	switch {
	case j.EndpointID == "":
		return fmt.Errorf("%w: endpoint_id is required", ErrMalformedJob)
	case j.EventType == "":
		return fmt.Errorf("%w: event_type is required", ErrMalformedJob)
	case j.Attempt < 1:
		return fmt.Errorf("%w: attempt must be >= 1, got %d", ErrMalformedJob, j.Attempt)
	}
	return nil
}

func EncodeJob(j Job) ([]byte, error) {
	return json.Marshal(j)
}

func DecodeJob(b []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(b, &j); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	return j, nil
}
