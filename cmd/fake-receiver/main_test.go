package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/austindbirch/hookline/internal/config"
	"github.com/austindbirch/hookline/internal/delivery"
	"github.com/austindbirch/hookline/internal/logging"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testReceiver(cfg config.FakeReceiver) *receiver {
	if cfg.SigningLeewaySeconds == 0 {
		cfg.SigningLeewaySeconds = 300
	}
	rc := newReceiver(cfg, logging.Discard())
	rc.now = func() time.Time { return fixedNow }
	return rc
}

func signedRequest(body, secret string, at time.Time) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
	req.Header.Set(delivery.HeaderTimestamp, delivery.FormatTimestamp(at))
	req.Header.Set(delivery.HeaderSignature, delivery.SignatureHeaderValue(delivery.Sign([]byte(body), secret)))
	req.Header.Set(delivery.HeaderID, "E")
	req.Header.Set(delivery.HeaderEvent, delivery.EventEmailSent)
	return req
}

func TestReceiver_Verify(t *testing.T) {
	rc := testReceiver(config.FakeReceiver{EndpointSecret: "test-secret"})
	body := []byte(`{"event":"email.sent"}`)
	validSig := delivery.SignatureHeaderValue(delivery.Sign(body, "test-secret"))
	ts := delivery.FormatTimestamp(fixedNow)

	tests := []struct {
		name        string
		timestamp   string
		signature   string
		expectValid bool
		expectedMsg string
	}{
		{name: "valid signature", timestamp: ts, signature: validSig, expectValid: true},
		{name: "missing timestamp", signature: validSig, expectedMsg: "missing headers"},
		{name: "missing signature", timestamp: ts, expectedMsg: "missing headers"},
		{name: "invalid timestamp format", timestamp: "1714564800", signature: validSig, expectedMsg: "invalid timestamp"},
		{
			name:        "timestamp too old",
			timestamp:   delivery.FormatTimestamp(fixedNow.Add(-10 * time.Minute)),
			signature:   validSig,
			expectedMsg: "timestamp too far from now (outside leeway)",
		},
		{
			name:        "timestamp in the future",
			timestamp:   delivery.FormatTimestamp(fixedNow.Add(10 * time.Minute)),
			signature:   validSig,
			expectedMsg: "timestamp too far from now (outside leeway)",
		},
		{name: "within leeway", timestamp: delivery.FormatTimestamp(fixedNow.Add(-4 * time.Minute)), signature: validSig, expectValid: true},
		{name: "wrong secret", timestamp: ts, signature: delivery.SignatureHeaderValue(delivery.Sign(body, "other")), expectedMsg: "sig mismatch"},
		{name: "missing prefix", timestamp: ts, signature: delivery.Sign(body, "test-secret"), expectedMsg: "sig mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, msg := rc.verify(body, tt.timestamp, tt.signature)
			if valid != tt.expectValid {
				t.Errorf("verify() valid = %v, want %v", valid, tt.expectValid)
			}
			if msg != tt.expectedMsg {
				t.Errorf("verify() msg = %q, want %q", msg, tt.expectedMsg)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		n        int
		expected string
	}{
		{name: "shorter than limit", input: "hello", n: 10, expected: "hello"},
		{name: "exact length", input: "hello", n: 5, expected: "hello"},
		{name: "longer than limit", input: "hello world", n: 5, expected: "hello..."},
		{name: "empty", input: "", n: 5, expected: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.input, tt.n); got != tt.expected {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.expected)
			}
		})
	}
}

func TestHealthzHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	testReceiver(config.FakeReceiver{}).routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Errorf("body = %q, want {\"ok\":true}", rec.Body.String())
	}
}

func TestHandleHook(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.FakeReceiver
		secret     string // secret the sender signs with
		wantStatus []int
	}{
		{name: "no verification", cfg: config.FakeReceiver{}, wantStatus: []int{200, 200}},
		{name: "fail first two", cfg: config.FakeReceiver{FailFirstN: 2}, wantStatus: []int{500, 500, 200}},
		{name: "valid signature", cfg: config.FakeReceiver{EndpointSecret: "s"}, secret: "s", wantStatus: []int{200}},
		{name: "bad signature", cfg: config.FakeReceiver{EndpointSecret: "s"}, secret: "wrong", wantStatus: []int{401, 401}},
		{name: "fail first with verification", cfg: config.FakeReceiver{EndpointSecret: "s", FailFirstN: 1}, secret: "s", wantStatus: []int{500, 200}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := testReceiver(tt.cfg).routes()
			for i, want := range tt.wantStatus {
				rec := httptest.NewRecorder()
				mux.ServeHTTP(rec, signedRequest(`{"event":"email.sent","data":{}}`, tt.secret, fixedNow))
				if rec.Code != want {
					t.Errorf("request %d status = %d, want %d", i+1, rec.Code, want)
				}
			}
		})
	}
}

func TestHandleHook_ResponseDelay(t *testing.T) {
	mux := testReceiver(config.FakeReceiver{ResponseDelay: 30 * time.Millisecond}).routes()

	start := time.Now()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, signedRequest(`{}`, "", fixedNow))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("response took %v, want at least 30ms", elapsed)
	}
}

// The real sender's wire format must be accepted by the receiver
func TestHandleHook_AcceptsExecutorRequests(t *testing.T) {
	rc := testReceiver(config.FakeReceiver{EndpointSecret: "shared"})
	rc.now = time.Now
	srv := httptest.NewServer(rc.routes())
	defer srv.Close()

	reg := delivery.NewMemoryRegistry(delivery.Endpoint{ID: "E", URL: srv.URL + "/hook", Secret: "shared", Active: true})
	job := delivery.Job{DeliveryID: "d", TenantID: "T", EndpointID: "E", EventType: delivery.EventReplyReceived, Payload: []byte(`{"replyId":"1"}`), Attempt: 1}

	out := delivery.NewExecutor(reg, nil).Attempt(t.Context(), job)
	if out.Kind != delivery.Delivered {
		t.Errorf("Attempt() = %+v, want delivered", out)
	}
}
