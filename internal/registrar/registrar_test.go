package registrar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pyparrot/parrotctl/internal/config"
)

func externalConfig() *config.PipelineConfig {
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

func TestWaitReadyHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ltapi/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	if err := client.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady() = %v, want nil", err)
	}
}

func TestWaitReadyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	client := NewClient(srv.URL, "")
	err := client.WaitReady(ctx)
	var timeoutErr *ReadinessTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("WaitReady() = %v, want *ReadinessTimeoutError", err)
	}
}

func TestRegisterAllBackends(t *testing.T) {
	var mu sync.Mutex
	var seen []registerRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ltapi/register_worker" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		mu.Lock()
		seen = append(seen, req)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	results := client.Register(context.Background(), externalConfig())

	if len(results) != 2 {
		t.Fatalf("Register() returned %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("registration of %s failed: %v", r.Component, r.Err)
		}
	}

	if len(seen) != 2 {
		t.Fatalf("gateway saw %d registrations, want 2", len(seen))
	}
	// The speech capability registers under its wire component name.
	if seen[0].Component != "asr" || seen[0].Name != "demo-asr" || seen[0].Server != "http://asr.internal:5051" {
		t.Errorf("first registration = %+v", seen[0])
	}
	if seen[1].Component != "mt" || seen[1].Server != "http://mt.internal:5052" {
		t.Errorf("second registration = %+v", seen[1])
	}
}

func TestRegisterPartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		json.NewDecoder(r.Body).Decode(&req)
		// Reject only the translation backend.
		if req.Component == "mt" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	results := client.Register(context.Background(), externalConfig())

	if len(results) != 2 {
		t.Fatalf("Register() returned %d results, want 2", len(results))
	}
	if results[0].Err != nil {
		t.Errorf("asr registration failed: %v", results[0].Err)
	}
	var regErr *RegistrationError
	if !errors.As(results[1].Err, &regErr) {
		t.Fatalf("mt result error = %v, want *RegistrationError", results[1].Err)
	}
	if regErr.Component != "mt" {
		t.Errorf("RegistrationError component = %q", regErr.Component)
	}
}

func TestRegisterSkipsUnsetBackends(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := externalConfig()
	cfg.MT.URL = ""

	client := NewClient(srv.URL, "")
	results := client.Register(context.Background(), cfg)
	if len(results) != 1 || results[0].Component != "asr" {
		t.Errorf("Register() results = %+v, want only asr", results)
	}
}

func TestRegisterSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := externalConfig()
	cfg.MT.URL = ""

	client := NewClient(srv.URL, "sekrit")
	client.Register(context.Background(), cfg)
	if gotAuth != "Bearer sekrit" {
		t.Errorf("Authorization header = %q, want bearer token", gotAuth)
	}
}
