package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cordum/cordum-packs/core/infra/buildinfo"
	"github.com/cordum/cordum-packs/core/infra/logging"
	infraMetrics "github.com/cordum/cordum-packs/core/infra/metrics"
	"github.com/cordum/cordum-packs/core/infra/store"
	"github.com/cordum/cordum-packs/core/packs"
)

const maxBodyBytes = 1 << 20

// PackCatalog lists stored packs.
type PackCatalog interface {
	ListPacks(ctx context.Context, filter store.PackFilter) ([]*packs.Pack, error)
}

// Registerer runs bulk content registration.
type Registerer interface {
	RegisterAll(ctx context.Context, kinds packs.KindSet) (map[packs.ContentKind]packs.RegistrationResult, error)
}

// Deregisterer runs the cascading removal of packs.
type Deregisterer interface {
	Deregister(ctx context.Context, packNames []string) (*packs.DeregistrationReport, error)
}

// Dispatcher schedules install and uninstall executions.
type Dispatcher interface {
	DispatchInstall(ctx context.Context, packNames []string) (packs.ExecutionHandle, error)
	DispatchUninstall(ctx context.Context, packNames []string) (packs.ExecutionHandle, error)
}

// ConfigValidator checks pack config values against the stored schema and lists the packs
// that have one.
type ConfigValidator interface {
	ValidateConfig(ctx context.Context, pack string, values map[string]any) error
	List(ctx context.Context) ([]string, error)
}

// Deps wires the lifecycle components into the HTTP surface.
type Deps struct {
	Catalog     PackCatalog
	Lookup      packs.PackLookup
	Registrar   Registerer
	Deregistrar Deregisterer
	Dispatcher  Dispatcher
	Configs     ConfigValidator
	Metrics     infraMetrics.GatewayMetrics
	Auth        AuthProvider
	// Ready reports dependency health for /health. Optional.
	Ready func(ctx context.Context) error
}

// Server is the packs HTTP API.
type Server struct {
	catalog     PackCatalog
	resolver    *packs.Resolver
	registrar   Registerer
	deregistrar Deregisterer
	dispatcher  Dispatcher
	configs     ConfigValidator
	metrics     infraMetrics.GatewayMetrics
	auth        AuthProvider
	ready       func(ctx context.Context) error
	started     time.Time
}

// New builds a server from deps.
func New(d Deps) *Server {
	m := d.Metrics
	if m == nil {
		m = infraMetrics.Noop{}
	}
	return &Server{
		catalog:     d.Catalog,
		resolver:    packs.NewResolver(d.Lookup),
		registrar:   d.Registrar,
		deregistrar: d.Deregistrar,
		dispatcher:  d.Dispatcher,
		configs:     d.Configs,
		metrics:     m,
		auth:        d.Auth,
		ready:       d.Ready,
		started:     time.Now().UTC(),
	}
}

// Handler returns the routed, middleware-wrapped API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/v1/packs", s.instrumented("/api/v1/packs", s.handleListPacks))
	mux.HandleFunc("GET /api/v1/packs/{ref_or_id}", s.instrumented("/api/v1/packs/{ref_or_id}", s.handleGetPack))
	mux.HandleFunc("POST /api/v1/packs/install", s.instrumented("/api/v1/packs/install", s.handleInstall))
	mux.HandleFunc("POST /api/v1/packs/uninstall", s.instrumented("/api/v1/packs/uninstall", s.handleUninstall))
	mux.HandleFunc("POST /api/v1/packs/uninstall/{ref_or_id}", s.instrumented("/api/v1/packs/uninstall/{ref_or_id}", s.handleUninstall))
	mux.HandleFunc("POST /api/v1/packs/register", s.instrumented("/api/v1/packs/register", s.handleRegister))
	mux.HandleFunc("POST /api/v1/packs/deregister", s.instrumented("/api/v1/packs/deregister", s.handleDeregister))
	mux.HandleFunc("POST /api/v1/packs/deregister/{ref_or_id}", s.instrumented("/api/v1/packs/deregister/{ref_or_id}", s.handleDeregister))
	mux.HandleFunc("GET /api/v1/config_schemas", s.instrumented("/api/v1/config_schemas", s.handleListConfigSchemas))
	mux.HandleFunc("POST /api/v1/packs/{ref_or_id}/config/validate", s.instrumented("/api/v1/packs/{ref_or_id}/config/validate", s.handleValidateConfig))

	return apiKeyMiddleware(s.auth, mux)
}

// Run serves the API on httpAddr and metrics on metricsAddr until ctx is done.
func (s *Server) Run(ctx context.Context, httpAddr, metricsAddr string) error {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", infraMetrics.Handler())
	metricsSrv := &http.Server{
		Addr:         metricsAddr,
		Handler:      metricsMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logging.Info("packs-api", "metrics listening", "addr", metricsAddr+"/metrics")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("packs-api", "metrics server error", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              httpAddr,
		Handler:           s.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Registration can take as long as every registrar combined.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Info("packs-api", "http listening", "addr", httpAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		_ = metricsSrv.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logging.Error("packs-api", "http server error", "error", err)
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":     "ok",
		"uptime_sec": int64(time.Since(s.started).Seconds()),
		"build":      buildinfo.Fields(),
	}
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["error"] = err.Error()
		}
	}
	writeJSON(w, status, body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack forwards hijacking support to the underlying writer when available.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijacker not supported")
	}
	return hj.Hijack()
}

// instrumented wraps handlers to record metrics.
func (s *Server) instrumented(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		s.metrics.ObserveRequest(r.Method, route, fmt.Sprintf("%d", rec.status), time.Since(start).Seconds())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
