package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

// Checker is anything that can report whether a dependency is reachable.
// *pgxpool.Pool satisfies it directly.
type Checker interface {
	Ping(ctx context.Context) error
}

// CheckFunc adapts a plain function to a Checker
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Ping(ctx context.Context) error { return f(ctx) }

type Status struct {
	OK      bool            `json:"ok"`
	Message string          `json:"message,omitempty"`
	Checks  map[string]bool `json:"checks,omitempty"`
}

const checkTimeout = 1 * time.Second

// HTTPHandler returns an HTTP handler that pings every named dependency and
// reports 503 if any of them fails. Nil checkers are skipped.
func HTTPHandler(checks map[string]Checker) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name, c := range checks {
		if c != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok"}
		if len(names) > 0 {
			st.Checks = make(map[string]bool, len(names))
		}

		var failed []string
		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			err := checks[name].Ping(ctx)
			cancel()
			st.Checks[name] = err == nil
			if err != nil {
				failed = append(failed, name)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if len(failed) > 0 {
			st.OK = false
			st.Message = failed[0] + " ping failed"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}
