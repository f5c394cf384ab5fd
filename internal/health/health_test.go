package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// mockChecker reports a fixed ping result
type mockChecker struct {
	pingError error
}

func (m *mockChecker) Ping(ctx context.Context) error {
	return m.pingError
}

func TestHTTPHandler(t *testing.T) {
	tests := []struct {
		name               string
		checks             map[string]Checker
		expectedStatusCode int
		expectedStatus     Status
	}{
		{
			name:               "healthy with no checks",
			checks:             nil,
			expectedStatusCode: http.StatusOK,
			expectedStatus:     Status{OK: true, Message: "ok"},
		},
		{
			name: "healthy with working dependencies",
			checks: map[string]Checker{
				"database": &mockChecker{},
				"redis":    &mockChecker{},
			},
			expectedStatusCode: http.StatusOK,
			expectedStatus: Status{
				OK:      true,
				Message: "ok",
				Checks:  map[string]bool{"database": true, "redis": true},
			},
		},
		{
			name: "unhealthy with database ping failure",
			checks: map[string]Checker{
				"database": &mockChecker{pingError: context.DeadlineExceeded},
				"redis":    &mockChecker{},
			},
			expectedStatusCode: http.StatusServiceUnavailable,
			expectedStatus: Status{
				OK:      false,
				Message: "database ping failed",
				Checks:  map[string]bool{"database": false, "redis": true},
			},
		},
		{
			name: "nil checker is skipped",
			checks: map[string]Checker{
				"database": nil,
				"redis":    CheckFunc(func(context.Context) error { return errors.New("down") }),
			},
			expectedStatusCode: http.StatusServiceUnavailable,
			expectedStatus: Status{
				OK:      false,
				Message: "redis ping failed",
				Checks:  map[string]bool{"redis": false},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := HTTPHandler(tt.checks)

			req := httptest.NewRequest("GET", "/healthz", nil)
			w := httptest.NewRecorder()
			handler(w, req)

			if w.Code != tt.expectedStatusCode {
				t.Errorf("HTTPHandler() status code = %d, want %d", w.Code, tt.expectedStatusCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("HTTPHandler() Content-Type = %q, want %q", ct, "application/json")
			}

			var status Status
			if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
				t.Fatalf("HTTPHandler() response JSON parse error: %v", err)
			}
			if status.OK != tt.expectedStatus.OK {
				t.Errorf("HTTPHandler() Status.OK = %v, want %v", status.OK, tt.expectedStatus.OK)
			}
			if status.Message != tt.expectedStatus.Message {
				t.Errorf("HTTPHandler() Status.Message = %q, want %q", status.Message, tt.expectedStatus.Message)
			}
			if len(status.Checks) != len(tt.expectedStatus.Checks) {
				t.Fatalf("HTTPHandler() Status.Checks = %v, want %v", status.Checks, tt.expectedStatus.Checks)
			}
			for name, want := range tt.expectedStatus.Checks {
				if status.Checks[name] != want {
					t.Errorf("HTTPHandler() Status.Checks[%q] = %v, want %v", name, status.Checks[name], want)
				}
			}
		})
	}
}

func TestHTTPHandler_CheckTimeout(t *testing.T) {
	slow := CheckFunc(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})

	start := time.Now()
	w := httptest.NewRecorder()
	HTTPHandler(map[string]Checker{"slow": slow})(w, httptest.NewRequest("GET", "/healthz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("HTTPHandler() status code = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("HTTPHandler() took %v, want bounded by the check timeout", elapsed)
	}
}
