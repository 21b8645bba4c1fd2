package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rickgao/livewire/internal/connection"
	"github.com/rickgao/livewire/internal/executor"
	"github.com/rickgao/livewire/internal/poller"
	"github.com/rickgao/livewire/internal/router"
	"github.com/rickgao/livewire/internal/version"
	"github.com/rickgao/livewire/internal/writer"
)

type fakeTransport struct {
	status connection.Status
}

func (f *fakeTransport) Status() connection.Status { return f.status }
func (f *fakeTransport) Stats() connection.ManagerStats {
	return connection.ManagerStats{SessionID: "session-1", FramesIn: 7}
}

type fakeRefresher struct{}

func (fakeRefresher) Stats() poller.Stats { return poller.Stats{Cycles: 3} }

type fakeWriter struct{}

func (fakeWriter) Stats() writer.Stats { return writer.Stats{Inserts: 42} }

type fakeDB struct{ err error }

func (f fakeDB) Ping(ctx context.Context) error { return f.err }

func testServices(state connection.State) (services, *executor.Executor) {
	exec := executor.New(executor.Config{})
	return services{
		transport: &fakeTransport{status: connection.Status{
			State:     state,
			StateName: state.String(),
			Connected: state == connection.StateConnected,
		}},
		dispatcher: router.NewDispatcher(router.DefaultConfig(), nil),
		executor:   exec,
		refresher:  fakeRefresher{},
	}, exec
}

func serve(t *testing.T, svc services, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	newHandler(svc, slog.Default()).ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		state      connection.State
		db         pinger
		wantStatus string
		wantCode   int
	}{
		{"connected", connection.StateConnected, nil, "healthy", http.StatusOK},
		{"reconnecting", connection.StateReconnecting, nil, "degraded", http.StatusOK},
		{"disconnected", connection.StateDisconnected, nil, "unhealthy", http.StatusServiceUnavailable},
		{"database down", connection.StateConnected, fakeDB{err: errors.New("refused")}, "unhealthy", http.StatusServiceUnavailable},
		{"database up", connection.StateConnected, fakeDB{}, "healthy", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := testServices(tt.state)
			svc.db = tt.db

			rec := serve(t, svc, http.MethodGet, "/health")
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}

			var body healthResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if _, ok := body.Components["transport"]; !ok {
				t.Error("missing transport component")
			}
		})
	}
}

func TestMetrics(t *testing.T) {
	svc, exec := testServices(connection.StateConnected)
	svc.samples = fakeWriter{}

	exec.Execute(context.Background(), "k", func(context.Context) (any, error) { return 1, nil })
	exec.Execute(context.Background(), "k", func(context.Context) (any, error) { return 1, nil })

	rec := serve(t, svc, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}

	var body struct {
		Report struct {
			Samples      int     `json:"samples"`
			CacheHitRate float64 `json:"cacheHitRate"`
		} `json:"report"`
		Executor struct {
			Cache struct {
				Len int `json:"len"`
			} `json:"cache"`
		} `json:"executor"`
		Transport struct {
			State string `json:"state"`
		} `json:"transport"`
		Frames struct {
			SessionID string
		} `json:"frames"`
		Refresher poller.Stats  `json:"refresher"`
		Writer    *writer.Stats `json:"writer"`
		Build     version.Info  `json:"build"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if body.Report.Samples != 2 || body.Report.CacheHitRate != 0.5 {
		t.Errorf("report = %+v", body.Report)
	}
	if body.Executor.Cache.Len != 1 {
		t.Errorf("cache len = %d, want 1", body.Executor.Cache.Len)
	}
	if body.Transport.State != "connected" || body.Frames.SessionID != "session-1" {
		t.Errorf("transport = %+v, frames = %+v", body.Transport, body.Frames)
	}
	if body.Refresher.Cycles != 3 {
		t.Errorf("refresher = %+v", body.Refresher)
	}
	if body.Writer == nil || body.Writer.Inserts != 42 {
		t.Errorf("writer = %+v", body.Writer)
	}
	if body.Build.Version != version.Version {
		t.Errorf("build version = %q, want %q", body.Build.Version, version.Version)
	}
}

func TestMetrics_NoWriter(t *testing.T) {
	svc, _ := testServices(connection.StateConnected)

	rec := serve(t, svc, http.MethodGet, "/metrics")
	var body map[string]json.RawMessage
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["writer"]; ok {
		t.Error("writer section should be omitted without a database")
	}
}

func TestCacheClear(t *testing.T) {
	svc, exec := testServices(connection.StateConnected)
	exec.Execute(context.Background(), "a", func(context.Context) (any, error) { return 1, nil })
	exec.Execute(context.Background(), "b", func(context.Context) (any, error) { return 2, nil })

	if rec := serve(t, svc, http.MethodGet, "/cache/clear"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET code = %d, want 405", rec.Code)
	}

	rec := serve(t, svc, http.MethodPost, "/cache/clear")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var body map[string]int
	json.NewDecoder(rec.Body).Decode(&body)
	if body["cleared"] != 2 {
		t.Errorf("cleared = %d, want 2", body["cleared"])
	}
	if exec.Stats().Cache.Len != 0 {
		t.Error("cache not cleared")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("parseLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := parseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestHandshakePath(t *testing.T) {
	tests := map[string]string{
		"wss://feeds.example.com/stream/v2?x=1": "/stream/v2",
		"ws://localhost:8080":                   "/",
		"::bad":                                 "/",
	}
	for in, want := range tests {
		if got := handshakePath(in); got != want {
			t.Errorf("handshakePath(%q) = %q, want %q", in, got, want)
		}
	}
}
