package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/congo-pay/streampay/internal/config"
	"github.com/congo-pay/streampay/internal/logging"
)

func TestMemoryBackendsServeHealth(t *testing.T) {
	cfg := config.Config{
		AppName:        "streampay-test",
		StoreDriver:    config.StoreMemory,
		HealthInterval: time.Minute,
	}
	logger := logging.Discard()

	backends, closeBackends, err := Open(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer closeBackends()
	if backends.DB != nil || backends.Cache != nil {
		t.Fatalf("memory driver should not connect to postgres or redis")
	}

	svc, err := NewServices(cfg, backends, logger)
	if err != nil {
		t.Fatalf("services: %v", err)
	}
	if svc.Monitor == nil || svc.Streams == nil {
		t.Fatalf("services not wired: %+v", svc)
	}

	srv, err := New(cfg, backends, svc, logger)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	res, err := svc.Monitor.RunOnce(context.Background())
	if err != nil || res.Checked != 0 {
		t.Fatalf("expected empty pass, got %+v %v", res, err)
	}
}
