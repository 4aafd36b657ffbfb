// Package api serves the control loop's status and recorded telemetry over
// HTTP.
package api

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/banshee-data/rcdrive/internal/control"
	"github.com/banshee-data/rcdrive/internal/httputil"
	"github.com/banshee-data/rcdrive/internal/monitoring"
	"github.com/banshee-data/rcdrive/internal/telemetry"
)

// Controller is the slice of *control.Loop the API needs.
type Controller interface {
	Status() control.Status
	EStop()
	Stopped() bool
}

type Server struct {
	loop  Controller
	store *telemetry.Store
}

// NewServer returns a Server. store may be nil, in which case the run
// endpoints answer 503.
func NewServer(loop Controller, store *telemetry.Store) *Server {
	return &Server{loop: loop, store: store}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/estop", s.estop)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/runs/{id}/samples", s.listSamples)
	mux.HandleFunc("/api/runs/{id}/summary", s.showSummary)
	mux.HandleFunc("/api/runs/{id}/chart", s.showChart)
	return mux
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, s.loop.Status())
}

type estopResponse struct {
	Stopped bool `json:"stopped"`
}

// estop latches the loop's emergency stop. There is no way back out.
func (s *Server) estop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.loop.Stopped() {
		monitoring.Logf("emergency stop requested by %s", r.RemoteAddr)
	}
	s.loop.EStop()
	httputil.WriteJSONOK(w, estopResponse{Stopped: true})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.store == nil {
		httputil.ServiceUnavailable(w, "telemetry is disabled")
		return
	}
	runs, err := s.store.Runs()
	if err != nil {
		monitoring.Logf("failed to list runs: %v", err)
		httputil.InternalServerError(w, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []telemetry.Run{}
	}
	httputil.WriteJSONOK(w, runs)
}

// runSamples resolves the {id} path value and loads its samples. It writes
// the error response itself and reports whether the caller should go on.
func (s *Server) runSamples(w http.ResponseWriter, r *http.Request, limit int) (string, []telemetry.Sample, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return "", nil, false
	}
	if s.store == nil {
		httputil.ServiceUnavailable(w, "telemetry is disabled")
		return "", nil, false
	}

	id := r.PathValue("id")
	ok, err := s.store.RunExists(id)
	if err != nil {
		monitoring.Logf("failed to look up run %s: %v", id, err)
		httputil.InternalServerError(w, "failed to look up run")
		return "", nil, false
	}
	if !ok {
		httputil.NotFound(w, "run not found")
		return "", nil, false
	}

	samples, err := s.store.Samples(id, limit)
	if err != nil {
		monitoring.Logf("failed to load samples for run %s: %v", id, err)
		httputil.InternalServerError(w, "failed to load samples")
		return "", nil, false
	}
	if samples == nil {
		samples = []telemetry.Sample{}
	}
	return id, samples, true
}

func (s *Server) listSamples(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	_, samples, ok := s.runSamples(w, r, limit)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, samples)
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	_, samples, ok := s.runSamples(w, r, 0)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, telemetry.Summarize(samples))
}

func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	id, samples, ok := s.runSamples(w, r, 0)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := telemetry.RenderChart(&buf, id, samples); err != nil {
		monitoring.Logf("failed to render chart for run %s: %v", id, err)
		httputil.InternalServerError(w, "failed to render chart")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}
