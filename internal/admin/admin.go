// Package admin exposes the optional introspection HTTP surface spec.md
// §6 adds on top of the runtime: /healthz, /inspect, /dump, /metrics.
// Grounded on the teacher's internal/app.registerHandlers (mux.Router,
// one handler per route, JSON responses) and promhttp for /metrics, the
// same exposition library internal/metrics registers its collectors
// against. Off by default; the composition root only starts a Server
// when config.AdminConfig.Enabled is set.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Dependencies is the narrow surface the admin server reads from the
// composition root. Defined here rather than importing the root package
// directly, so the root package can depend on admin without a cycle.
type Dependencies struct {
	// Healthy reports whether the runtime is installed and serving.
	Healthy func() bool
	// Inspect returns the JSON-marshalable introspection snapshot.
	Inspect func() any
	// Dump renders the ring buffer per the query parameters in a request,
	// returning the rendered text and its content type.
	Dump func(query map[string][]string) (string, string, error)
}

// Server is the admin HTTP surface.
type Server struct {
	deps   Dependencies
	logger *logrus.Logger
	server *http.Server
}

// New builds a Server bound to addr, not yet listening.
func New(addr string, deps Dependencies, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	router := mux.NewRouter()
	s := &Server{deps: deps, logger: logger}

	router.HandleFunc("/healthz", s.healthzHandler).Methods(http.MethodGet)
	router.HandleFunc("/inspect", s.inspectHandler).Methods(http.MethodGet)
	router.HandleFunc("/dump", s.dumpHandler).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.logger.WithField("addr", s.server.Addr).Info("admin server starting")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("admin server error")
		}
	}()
}

// Stop closes the listener.
func (s *Server) Stop() error {
	s.logger.Info("admin server stopping")
	return s.server.Close()
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Healthy == nil || !s.deps.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not_initialised"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) inspectHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Inspect == nil {
		http.Error(w, "inspect unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.deps.Inspect()); err != nil {
		s.logger.WithError(err).Error("admin: inspect encode failed")
	}
}

func (s *Server) dumpHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dump == nil {
		http.Error(w, "dump unavailable", http.StatusServiceUnavailable)
		return
	}
	rendered, contentType, err := s.deps.Dump(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write([]byte(rendered))
}
