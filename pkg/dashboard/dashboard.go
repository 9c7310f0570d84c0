// Package dashboard serves the console's JSON views, officer actions, health
// and metrics over HTTP.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/joluc/junction-console/pkg/alerts"
	"github.com/joluc/junction-console/pkg/geo"
	"github.com/joluc/junction-console/pkg/models"
	"github.com/joluc/junction-console/pkg/poll"
	"github.com/joluc/junction-console/pkg/render"
	"github.com/joluc/junction-console/pkg/sos"
	"github.com/joluc/junction-console/pkg/telemetry"
	"github.com/joluc/junction-console/pkg/violations"
)

var errBadRequest = errors.New("bad request")

type Telemetry interface {
	GetSnapshot() models.Snapshot
	Stats() telemetry.Stats
}

type SOS interface {
	View() sos.View
	Select(id string) error
	ClearSelection()
	Transition(ctx context.Context, id string, target models.SOSStatus) error
	Stats() poll.Stats
}

type Violations interface {
	View() violations.View
	SetQuery(ctx context.Context, q violations.Query) error
	Open(id string) error
	SetNotes(notes string) error
	Close()
	Transition(ctx context.Context, id string, target models.ViolationStatus) error
}

// Stream reports the push channel state. It is optional.
type Stream interface {
	NewAlert() bool
	Stats() alerts.StreamStats
}

type Notifications interface {
	Recent() []alerts.Notification
	Stats() alerts.DebouncerStats
}

type Options struct {
	Telemetry     Telemetry
	SOS           SOS
	Violations    Violations
	Stream        Stream
	Notifications Notifications
	Resolver      *geo.Resolver
	MetricsPath   string
}

type Server struct {
	opts Options

	scrapeCount atomic.Uint64
}

func New(opts Options) *Server {
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	if opts.Resolver == nil {
		opts.Resolver = geo.DefaultResolver()
	}
	return &Server{opts: opts}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logRequests)

	r.Get("/", s.RootHandler())
	r.Get("/healthz", s.HealthHandler)
	r.Get(s.opts.MetricsPath, s.MetricsHandler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/telemetry", s.telemetry)
		r.Get("/notifications", s.notifications)

		r.Route("/sos", func(r chi.Router) {
			r.Get("/", s.sosView)
			r.Delete("/selection", s.sosClearSelection)
			r.Post("/{id}/select", s.sosSelect)
			r.Post("/{id}/status", s.sosTransition)
		})

		r.Route("/violations", func(r chi.Router) {
			r.Get("/", s.violationsView)
			r.Put("/view", s.violationsQuery)
			r.Put("/panel/notes", s.violationsNotes)
			r.Delete("/panel", s.violationsClose)
			r.Post("/{id}/open", s.violationsOpen)
			r.Post("/{id}/status", s.violationsTransition)
		})
	})
	return r
}

func (s *Server) RootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintf(w, "Junction operator console\nMetrics: %s\nHealth: /healthz\nTelemetry: /api/telemetry\nSOS: /api/sos\nViolations: /api/violations\n", s.opts.MetricsPath)
	}
}

func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	if !s.opts.Telemetry.GetSnapshot().Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "not ready\n")
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok\n")
}

type telemetryResponse struct {
	Junctions          []render.JunctionMarker `json:"junctions"`
	Vehicles           []render.VehicleMarker  `json:"vehicles"`
	JunctionsRefreshed time.Time               `json:"junctions_refreshed"`
	VehiclesRefreshed  time.Time               `json:"vehicles_refreshed"`
	JunctionsError     string                  `json:"junctions_error,omitempty"`
	VehiclesError      string                  `json:"vehicles_error,omitempty"`
}

func (s *Server) telemetry(w http.ResponseWriter, _ *http.Request) {
	snap := s.opts.Telemetry.GetSnapshot()
	writeJSON(w, http.StatusOK, telemetryResponse{
		Junctions:          render.JunctionMarkers(snap.Junctions),
		Vehicles:           render.VehicleMarkers(s.opts.Resolver, snap.Vehicles),
		JunctionsRefreshed: snap.JunctionsRefreshed,
		VehiclesRefreshed:  snap.VehiclesRefreshed,
		JunctionsError:     snap.JunctionsError,
		VehiclesError:      snap.VehiclesError,
	})
}

func (s *Server) notifications(w http.ResponseWriter, _ *http.Request) {
	var recent []alerts.Notification
	if s.opts.Notifications != nil {
		recent = s.opts.Notifications.Recent()
	}
	if recent == nil {
		recent = []alerts.Notification{}
	}
	writeJSON(w, http.StatusOK, recent)
}

type sosResponse struct {
	sos.View
	Markers         []render.SOSMarker `json:"markers"`
	NewAlert        bool               `json:"new_alert"`
	StreamConnected bool               `json:"stream_connected"`
}

func (s *Server) sosView(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sosResponse())
}

func (s *Server) sosResponse() sosResponse {
	view := s.opts.SOS.View()
	resp := sosResponse{View: view, Markers: make([]render.SOSMarker, 0, len(view.Alerts))}
	for _, a := range view.Alerts {
		resp.Markers = append(resp.Markers, render.NewSOSMarker(a.SOSAlert))
	}
	if s.opts.Stream != nil {
		resp.NewAlert = s.opts.Stream.NewAlert()
		resp.StreamConnected = s.opts.Stream.Stats().Connected
	}
	return resp
}

func (s *Server) sosSelect(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.SOS.Select(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sosResponse())
}

func (s *Server) sosClearSelection(w http.ResponseWriter, _ *http.Request) {
	s.opts.SOS.ClearSelection()
	w.WriteHeader(http.StatusNoContent)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) sosTransition(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Status == "" {
		writeError(w, fmt.Errorf("%w: status is required", errBadRequest))
		return
	}
	target, err := models.ParseSOSStatus(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.opts.SOS.Transition(r.Context(), chi.URLParam(r, "id"), target); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sosResponse())
}

type violationsResponse struct {
	violations.View
	Rows      []render.ViolationRow `json:"rows"`
	TotalFine string                `json:"total_fine,omitempty"`
}

func (s *Server) violationsView(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.violationsResponse())
}

func (s *Server) violationsResponse() violationsResponse {
	view := s.opts.Violations.View()
	resp := violationsResponse{View: view, Rows: make([]render.ViolationRow, 0, len(view.Items))}
	for _, item := range view.Items {
		resp.Rows = append(resp.Rows, render.NewViolationRow(item.Violation))
	}
	if view.Summary != nil {
		resp.TotalFine = render.Rupees(view.Summary.TotalFineAmount)
	}
	return resp
}

func (s *Server) violationsQuery(w http.ResponseWriter, r *http.Request) {
	q := s.opts.Violations.View().Query
	if err := decodeBody(r, &q); err != nil {
		writeError(w, err)
		return
	}
	if err := s.opts.Violations.SetQuery(r.Context(), q); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.violationsResponse())
}

func (s *Server) violationsOpen(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Violations.Open(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.violationsResponse())
}

type notesRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) violationsNotes(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.opts.Violations.SetNotes(req.Notes); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) violationsClose(w http.ResponseWriter, _ *http.Request) {
	s.opts.Violations.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) violationsTransition(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	target, err := models.ParseViolationStatus(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.opts.Violations.Transition(r.Context(), chi.URLParam(r, "id"), target); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.violationsResponse())
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, models.ErrUnknownStatus),
		errors.Is(err, violations.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, sos.ErrNotFound), errors.Is(err, violations.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, sos.ErrTransitionInFlight),
		errors.Is(err, violations.ErrTransitionInFlight),
		errors.Is(err, violations.ErrNoPanel):
		return http.StatusConflict
	default:
		// Anything else came back from the platform.
		return http.StatusBadGateway
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("write response failed", "error", err)
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "durationMs", time.Since(start).Milliseconds())
	})
}
