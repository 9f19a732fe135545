package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tkjaer/tcplat/internal/probe"
	"github.com/tkjaer/tcplat/internal/shared"
)

type staticConfig struct {
	cfg shared.ProbeConfiguration
}

func (s staticConfig) Configuration() shared.ProbeConfiguration {
	return s.cfg
}

func testHandlers() Handlers {
	reg := prometheus.NewRegistry()
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "tcplat_test_gauge", Help: "test"})
	g.Set(42)
	reg.MustRegister(g)

	return Handlers{
		Gatherer: reg,
		LiveFeed: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("feed"))
		}),
		Probes: staticConfig{cfg: shared.ProbeConfiguration{
			Addresses:   []string{"google.com:80", "8.8.8.8:53"},
			IntervalMs:  3000,
			Repetitions: 3,
			PauseMs:     100,
			Nonce:       2,
		}},
	}
}

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestRouter_Routes(t *testing.T) {
	router := NewRouter(testHandlers())

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"health", http.MethodGet, "/health", http.StatusOK, "OK"},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK, "tcplat_test_gauge 42"},
		{"live feed", http.MethodGet, "/ws", http.StatusOK, "feed"},
		{"probe configuration", http.MethodGet, "/api/target/tcpping", http.StatusOK, `"avg_across":3`},
		{"read only configuration", http.MethodPut, "/api/target/tcpping", http.StatusMethodNotAllowed, ""},
		{"read only ws port", http.MethodPost, "/api/config/ws_port", http.StatusMethodNotAllowed, ""},
		{"unknown route", http.MethodGet, "/api/history/tcpping", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, router, tt.method, tt.path)
			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s status = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("%s %s body = %q, want it to contain %q", tt.method, tt.path, rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestRouter_ProbeConfiguration(t *testing.T) {
	rec := get(t, NewRouter(testHandlers()), http.MethodGet, "/api/target/tcpping")

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body struct {
		Addrs     []string `json:"addrs"`
		Interval  uint32   `json:"interval"`
		AvgAcross uint32   `json:"avg_across"`
		Pause     uint32   `json:"pause"`
		Nonce     uint32   `json:"nonce"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if len(body.Addrs) != 2 || body.Addrs[0] != "google.com:80" {
		t.Errorf("addrs = %v", body.Addrs)
	}
	if body.Interval != 3000 || body.AvgAcross != 3 || body.Pause != 100 || body.Nonce != 2 {
		t.Errorf("body = %+v", body)
	}
}

func TestRouter_ProbeConfigurationNoAddresses(t *testing.T) {
	pm, err := probe.NewProbeManager(shared.ProbeConfiguration{IntervalMs: 1000, Repetitions: 1})
	if err != nil {
		t.Fatalf("NewProbeManager() error = %v", err)
	}
	defer pm.Stop()

	rec := get(t, NewRouter(Handlers{Probes: pm}), http.MethodGet, "/api/target/tcpping")
	if !strings.Contains(rec.Body.String(), `"addrs":[]`) {
		t.Errorf("body = %s, want an empty addrs list", rec.Body.String())
	}
}

func TestRouter_MissingHandlers(t *testing.T) {
	router := NewRouter(Handlers{})

	if rec := get(t, router, http.MethodGet, "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("/metrics status = %d, want 404 without a gatherer", rec.Code)
	}
	if rec := get(t, router, http.MethodGet, "/health"); rec.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", rec.Code)
	}
}

func TestRouter_WSPort(t *testing.T) {
	srv := httptest.NewServer(NewRouter(testHandlers()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/config/ws_port")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != u.Port() {
		t.Errorf("ws_port = %q, want %q", body, u.Port())
	}
	if got := resp.Header.Get("Server"); !strings.HasPrefix(got, "tcplat/") {
		t.Errorf("Server header = %q, want tcplat/...", got)
	}
}

func TestServer_Run(t *testing.T) {
	s := New("127.0.0.1:0", testHandlers())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-s.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server never became ready")
	}

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestServer_RunListenError(t *testing.T) {
	s := New("256.0.0.1:bad", Handlers{})
	if err := s.Run(context.Background()); err == nil {
		t.Error("Run() with invalid address expected error, got nil")
	}
}
