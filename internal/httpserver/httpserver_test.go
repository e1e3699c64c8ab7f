package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestHealthzReportsOKWhenReady(t *testing.T) {
	addr := freeAddr(t)
	srv := New(addr, nil, nil, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Stop(context.Background())

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", addr))
	if err != nil {
		t.Fatalf("get /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %+v", body)
	}
}

func TestHealthzReports503WhenReadyFuncFails(t *testing.T) {
	addr := freeAddr(t)
	failing := func() error { return errors.New("vector store unreachable") }
	srv := New(addr, nil, failing, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Stop(context.Background())

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", addr))
	if err != nil {
		t.Fatalf("get /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestMetricsServesRegisteredRegistry(t *testing.T) {
	addr := freeAddr(t)
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_metric_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := New(addr, reg, nil, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Stop(context.Background())

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
	if err != nil {
		t.Fatalf("get /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestStopIsIdempotentBeforeStart(t *testing.T) {
	srv := New("127.0.0.1:0", nil, nil, nil)
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("expected Stop on an unstarted server to be a no-op, got %v", err)
	}
}

func TestStartWithEmptyAddrIsNoOp(t *testing.T) {
	srv := New("", nil, nil, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("expected a no-op start, got %v", err)
	}
	// Give any accidental background goroutine a moment to misbehave.
	time.Sleep(10 * time.Millisecond)
}
