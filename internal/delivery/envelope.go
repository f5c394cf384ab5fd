package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderID        = "X-Webhook-Id"

	DefaultUserAgent = "Hookline-Webhook/1.0"

	// TimestampFormat is ISO-8601 in UTC with millisecond precision
	TimestampFormat = "2006-01-02T15:04:05.000Z07:00"
)

// Envelope is the JSON body POSTed to endpoints
type Envelope struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func NewEnvelope(eventType string, payload json.RawMessage, at time.Time) Envelope {
	return Envelope{
		Event:     eventType,
		Timestamp: FormatTimestamp(at),
		Data:      payload,
	}
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// NewRequest builds the signed POST for one attempt. The signature covers
// exactly the bytes in body.
func NewRequest(ctx context.Context, ep Endpoint, env Envelope, body []byte, userAgent string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, env.Event)
	req.Header.Set(HeaderSignature, SignatureHeaderValue(Sign(body, ep.Secret)))
	req.Header.Set(HeaderTimestamp, env.Timestamp)
	req.Header.Set(HeaderID, ep.ID)
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}
