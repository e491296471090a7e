package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pyparrot/parrotctl/internal/config"
	"github.com/pyparrot/parrotctl/internal/registrar"
)

func cascadedExternalConfig() *config.PipelineConfig {
	return &config.PipelineConfig{
		Name:     "demo",
		Type:     config.TypeCascaded,
		Backends: config.BackendExternal,
		Domain:   "demo.localhost",
		Port:     8001,
		STT:      config.Backend{URL: "http://asr.internal:5051"},
		MT:       config.Backend{URL: "http://mt.internal:5052"},
	}
}

func TestAwaitAndRegisterPollsForLocalBackends(t *testing.T) {
	var healthCalls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ltapi/health" {
			atomic.AddInt64(&healthCalls, 1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := cascadedExternalConfig()
	cfg.Backends = config.BackendLocal

	client := registrar.NewClient(srv.URL, "")
	results, err := awaitAndRegister(context.Background(), client, cfg, false)
	if err != nil {
		t.Fatalf("awaitAndRegister() error = %v", err)
	}
	if results != nil {
		t.Errorf("results = %+v, want none for local backends", results)
	}
	// Readiness is confirmed for every backend mode, not just external.
	if atomic.LoadInt64(&healthCalls) == 0 {
		t.Error("gateway health endpoint was never polled")
	}
}

func TestAwaitAndRegisterContinuesAfterTimeout(t *testing.T) {
	var healthCalls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ltapi/health" {
			atomic.AddInt64(&healthCalls, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	client := registrar.NewClient(srv.URL, "")
	results, err := awaitAndRegister(ctx, client, cascadedExternalConfig(), false)
	if err != nil {
		t.Fatalf("awaitAndRegister() error = %v, want readiness timeout downgraded", err)
	}
	// Registration is still attempted for each configured backend once
	// the readiness wait gives up.
	if len(results) != 2 {
		t.Fatalf("results = %+v, want one per configured backend", results)
	}
	if atomic.LoadInt64(&healthCalls) == 0 {
		t.Error("gateway health endpoint was never polled")
	}
}

func TestAwaitAndRegisterSkipFlag(t *testing.T) {
	var registerCalls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ltapi/register_worker" {
			atomic.AddInt64(&registerCalls, 1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := registrar.NewClient(srv.URL, "")
	results, err := awaitAndRegister(context.Background(), client, cascadedExternalConfig(), true)
	if err != nil {
		t.Fatalf("awaitAndRegister() error = %v", err)
	}
	if results != nil {
		t.Errorf("results = %+v, want none when registration is skipped", results)
	}
	if atomic.LoadInt64(&registerCalls) != 0 {
		t.Error("gateway saw registrations despite --skip-registration")
	}
}
