// Package api is the HTTP front door for producers that live outside the
// worker process. Events are accepted with 202 and fanned out asynchronously.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/austindbirch/hookline/internal/delivery"
	"github.com/austindbirch/hookline/internal/health"
	"github.com/austindbirch/hookline/internal/logging"
	"github.com/austindbirch/hookline/internal/tracing"
)

const maxBodyBytes = 1 << 20

// Dispatcher is satisfied by *delivery.Dispatcher and *delivery.Pipeline
type Dispatcher interface {
	Go(ctx context.Context, tenantID, eventType string, payload any)
}

type Options struct {
	Dispatcher Dispatcher
	Health     map[string]health.Checker
	Metrics    http.Handler
	Logger     *logging.Logger

	// StrictEvents rejects event types outside delivery.EventTypes
	StrictEvents bool
}

type EventRequest struct {
	TenantID  string          `json:"tenant_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type EventResponse struct {
	Accepted  bool   `json:"accepted"`
	RequestID string `json:"request_id,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type server struct {
	opts   Options
	logger *logging.Logger
}

// NewRouter builds the ingest API
func NewRouter(opts Options) (chi.Router, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New("api: dispatcher is required")
	}
	s := &server{opts: opts, logger: opts.Logger}
	if s.logger == nil {
		s.logger = logging.Discard()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", health.HTTPHandler(opts.Health))
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/events", s.publishEvent)
		v1.Get("/event-types", s.listEventTypes)
	})
	return r, nil
}

func (s *server) publishEvent(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(r.Context(), "api.publish_event")
	defer span.End()

	req, err := decodeEvent(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		tracing.SetSpanError(ctx, err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	resp := EventResponse{Accepted: true, RequestID: middleware.GetReqID(ctx)}
	log := s.logger.WithContext(ctx).
		WithTenant(req.TenantID).
		WithEvent(req.EventType).
		WithField("request_id", resp.RequestID)

	if !delivery.KnownEvent(req.EventType) {
		if s.opts.StrictEvents {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: fmt.Sprintf("unknown event type %q", req.EventType)})
			return
		}
		resp.Warning = "unknown event type"
		log.Warn("accepting unknown event type")
	}

	s.opts.Dispatcher.Go(ctx, req.TenantID, req.EventType, req.Payload)
	log.Debug("event accepted")
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *server) listEventTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"event_types": delivery.EventTypes})
}

func decodeEvent(body io.Reader) (EventRequest, error) {
	var req EventRequest
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("invalid JSON body: %w", err)
	}
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.EventType = strings.TrimSpace(req.EventType)
	switch {
	case req.TenantID == "":
		return req, errors.New("tenant_id is required")
	case req.EventType == "":
		return req, errors.New("event_type is required")
	}
	if len(req.Payload) == 0 {
		req.Payload = json.RawMessage("null")
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
