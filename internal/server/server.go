// Package server exposes a router.Router over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/kvrouter/router"
)

// maxBodyBytes caps request bodies; every payload here is a few fields.
const maxBodyBytes = 1 << 20

// Server serves the routing, feedback and membership endpoints.
type Server struct {
	router   *router.Router
	registry *router.MemoryRegistry // nil: membership is registration only
	gatherer prometheus.Gatherer
}

// New creates a Server. registry and gatherer may be nil.
func New(r *router.Router, registry *router.MemoryRegistry, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{router: r, registry: registry, gatherer: gatherer}
}

// RouteRequest is the body of POST /v1/route. Routing hints travel as headers.
type RouteRequest struct {
	TokenCount int `json:"token_count"`
}

// RouteResponse is the body returned by POST /v1/route.
type RouteResponse struct {
	RequestID     string             `json:"request_id"`
	WorkerID      string             `json:"worker_id"`
	PrefixID      string             `json:"prefix_id"`
	ReuseAfter    int                `json:"reuse_after"`
	Overlap       float64            `json:"overlap"`
	OverlapReason string             `json:"overlap_reason,omitempty"`
	Scores        map[string]float64 `json:"scores"`
}

// WorkerStatus is one entry of GET /v1/workers.
type WorkerStatus struct {
	ID          string  `json:"id"`
	Outstanding int64   `json:"outstanding"`
	Healthy     bool    `json:"healthy"`
	Updates     int     `json:"updates"`
	Alpha       float64 `json:"alpha"`
	Beta        float64 `json:"beta"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/v1/route", s.handleRoute).Methods(http.MethodPost)
	r.HandleFunc("/v1/outcome", s.handleOutcome).Methods(http.MethodPost)
	r.HandleFunc("/v1/workers", s.handleListWorkers).Methods(http.MethodGet)
	r.HandleFunc("/v1/workers/{id}", s.handlePutWorker).Methods(http.MethodPut)
	r.HandleFunc("/v1/workers/{id}", s.handleDeleteWorker).Methods(http.MethodDelete)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("server: listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.TokenCount < 0 {
		writeError(w, http.StatusBadRequest, errors.New("token_count must be non-negative"))
		return
	}

	desc := router.ExtractDescriptor(r.Header, req.TokenCount)
	dec, err := s.router.Route(r.Context(), desc)
	switch {
	case errors.Is(err, router.ErrNoAvailableWorkers):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logrus.Debugf("server: route cancelled by client: %v", err)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, RouteResponse{
		RequestID:     dec.RequestID,
		WorkerID:      dec.WorkerID,
		PrefixID:      dec.Record.PrefixID,
		ReuseAfter:    dec.Record.ReuseAfter,
		Overlap:       dec.Record.OverlapChosen,
		OverlapReason: dec.OverlapReason,
		Scores:        dec.Scores,
	})
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var out router.Outcome
	if err := decodeBody(r, &out, false); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if out.RequestID == "" && (out.WorkerID == "" || out.PrefixID == "") {
		writeError(w, http.StatusBadRequest, errors.New("request_id, or worker_id and prefix_id, required"))
		return
	}
	err := s.router.ReportOutcome(out)
	switch {
	case errors.Is(err, router.ErrUnknownOutcome):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handlePutWorker(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.registry != nil {
		s.registry.Heartbeat(id)
	}
	if s.router.Register(id) {
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteWorker(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.registry != nil {
		s.registry.Remove(id)
	}
	if !s.router.Deregister(id) {
		writeError(w, http.StatusNotFound, errors.New("unknown worker "+id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, _ *http.Request) {
	healthy := map[string]bool{}
	if s.registry != nil {
		for _, id := range s.registry.Healthy() {
			healthy[id] = true
		}
	}
	ids := s.router.Workers()
	out := make([]WorkerStatus, 0, len(ids))
	for _, id := range ids {
		ws := s.router.Worker(id)
		if ws == nil {
			continue
		}
		alpha, beta := ws.BetaParams()
		out = append(out, WorkerStatus{
			ID:          id,
			Outstanding: s.router.Load().Current(id),
			Healthy:     s.registry == nil || healthy[id],
			Updates:     ws.Updates(),
			Alpha:       alpha,
			Beta:        beta,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func decodeBody(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Warnf("server: encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
