package delivery

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		err        error
		wantKind   OutcomeKind
		wantStatus int
	}{
		{name: "200", status: 200, wantKind: Delivered, wantStatus: 200},
		{name: "204", status: 204, wantKind: Delivered, wantStatus: 204},
		{name: "299", status: 299, wantKind: Delivered, wantStatus: 299},
		{name: "301 is not success", status: 301, wantKind: Rejected, wantStatus: 301},
		{name: "404", status: 404, wantKind: Rejected, wantStatus: 404},
		{name: "500", status: 500, wantKind: Rejected, wantStatus: 500},
		{name: "199", status: 199, wantKind: Rejected, wantStatus: 199},
		{name: "deadline", err: fmt.Errorf("post: %w", context.DeadlineExceeded), wantKind: TimedOut},
		{name: "net timeout", err: timeoutErr{}, wantKind: TimedOut},
		{name: "refused", err: errors.New("dial tcp: connection refused"), wantKind: NetworkError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.status, tt.err)
			if got.Kind != tt.wantKind {
				t.Errorf("classify() kind = %s, want %s", got.Kind, tt.wantKind)
			}
			if got.StatusCode != tt.wantStatus {
				t.Errorf("classify() status = %d, want %d", got.StatusCode, tt.wantStatus)
			}
			if tt.err != nil && got.Error == "" {
				t.Error("classify() dropped the error description")
			}
		})
	}
}

func TestOutcome_Reason(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    string
	}{
		{Outcome{Kind: TimedOut}, "timeout"},
		{Outcome{Kind: Rejected, StatusCode: 503}, "http_5xx"},
		{Outcome{Kind: Rejected, StatusCode: 429}, "http_429"},
		{Outcome{Kind: Rejected, StatusCode: 410}, "http_4xx"},
		{Outcome{Kind: Rejected, StatusCode: 302}, "http_other"},
		{Outcome{Kind: NetworkError, Error: "dial tcp 127.0.0.1:1: connect: connection refused"}, "connection_refused"},
		{Outcome{Kind: NetworkError, Error: "dial tcp: lookup nope: no such host"}, "dns_error"},
		{Outcome{Kind: NetworkError, Error: "EOF"}, "network"},
		{Outcome{Kind: Delivered, StatusCode: 200}, "other"},
	}
	for _, tt := range tests {
		if got := tt.outcome.Reason(); got != tt.want {
			t.Errorf("%+v.Reason() = %q, want %q", tt.outcome, got, tt.want)
		}
	}
}

func TestOutcome_Failed(t *testing.T) {
	tests := map[OutcomeKind]bool{
		Delivered:    false,
		Skipped:      false,
		Rejected:     true,
		NetworkError: true,
		TimedOut:     true,
	}
	for kind, want := range tests {
		if got := (Outcome{Kind: kind}).Failed(); got != want {
			t.Errorf("Outcome{%s}.Failed() = %v, want %v", kind, got, want)
		}
	}
}
