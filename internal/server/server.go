package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tkjaer/tcplat/internal/shared"
	"github.com/tkjaer/tcplat/internal/version"
)

const shutdownTimeout = 5 * time.Second

// ConfigSource provides the probe configuration in effect
type ConfigSource interface {
	Configuration() shared.ProbeConfiguration
}

// Handlers are the backends behind the HTTP routes. Nil members disable
// their route.
type Handlers struct {
	Gatherer prometheus.Gatherer
	LiveFeed http.Handler
	Probes   ConfigSource
}

// quietRoutes are polled often and only logged on failure
var quietRoutes = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// NewRouter wires the routes served on --listen
func NewRouter(h Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)

	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	if h.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	if h.LiveFeed != nil {
		r.Handle("/ws", h.LiveFeed).Methods(http.MethodGet)
	}

	// Kept on the root router so a wrong method is answered with 405
	if h.Probes != nil {
		r.HandleFunc("/api/target/tcpping", probeConfigHandler(h.Probes)).Methods(http.MethodGet)
	}
	r.HandleFunc("/api/config/ws_port", wsPortHandler).Methods(http.MethodGet)

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// probeConfigHandler returns the configuration of the current cycle as
// {addrs, interval, avg_across, pause, nonce}
func probeConfigHandler(src ConfigSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := sonic.ConfigDefault.NewEncoder(w).Encode(src.Configuration()); err != nil {
			slog.Warn("Failed to encode probe configuration", "err", err)
		}
	}
}

// wsPortHandler reports the port the websocket feed is reachable on, which
// is the port that served this request
func wsPortHandler(w http.ResponseWriter, r *http.Request) {
	addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr)
	if !ok {
		http.Error(w, "local address unknown", http.StatusInternalServerError)
		return
	}
	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(port))
}

// statusRecorder captures the response code for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the hijacker for websocket upgrades
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", version.UserAgent())

		// Websocket upgrades need the original writer to hijack the connection
		if r.URL.Path == "/ws" {
			slog.Debug("Request", "path", r.URL.Path, "method", r.Method, "remote", r.RemoteAddr)
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		attrs := []any{
			"path", r.URL.Path,
			"method", r.Method,
			"status", rec.status,
			"duration", time.Since(start),
		}
		if rec.status >= http.StatusBadRequest {
			slog.Warn("Request failed", attrs...)
		} else if !quietRoutes[r.URL.Path] {
			slog.Debug("Request", attrs...)
		}
	})
}

// Server serves the router on a TCP address until its context is done
type Server struct {
	addr   string
	server *http.Server

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

func New(addr string, h Handlers) *Server {
	return &Server{
		addr: addr,
		server: &http.Server{
			Handler:           NewRouter(h),
			ReadHeaderTimeout: 10 * time.Second,
		},
		ready: make(chan struct{}),
	}
}

// Ready is closed once the server is listening
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, or the configured one before Ready
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)
	slog.Info("HTTP server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	slog.Debug("HTTP server stopped")
	return nil
}
