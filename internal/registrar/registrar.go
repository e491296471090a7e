package registrar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pyparrot/parrotctl/internal/config"
	"github.com/pyparrot/parrotctl/internal/utils/logger"
	"go.uber.org/zap"
)

const (
	healthPath   = "/ltapi/health"
	registerPath = "/ltapi/register_worker"

	readinessAttempts = 30
	readinessInterval = 2 * time.Second

	requestTimeout = 10 * time.Second
)

// ReadinessTimeoutError means the gateway did not report ready within
// the bounded poll. Start downgrades it to a warning: the containers are
// running, the gateway just has not confirmed yet.
type ReadinessTimeoutError struct {
	URL string
	Err error
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("gateway at %s not confirmed ready: %v", e.URL, e.Err)
}

func (e *ReadinessTimeoutError) Unwrap() error {
	return e.Err
}

// RegistrationError is one failed backend registration. It never aborts
// the other registrations or the start operation.
type RegistrationError struct {
	Component string
	Server    string
	Err       error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("failed to register %s backend %s: %v", e.Component, e.Server, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// RegistrationResult is the independent outcome of one registration call.
type RegistrationResult struct {
	Component string
	Name      string
	Server    string
	Err       error
}

// Client talks to the gateway service's small HTTP contract: the health
// route and the worker-registration route.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
}

// NewClient returns a gateway client for the given base URL.
func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		http:      &http.Client{Timeout: requestTimeout},
	}
}

// WaitReady polls the gateway's health endpoint with a fixed interval
// and a fixed number of attempts. It honors ctx cancellation between
// attempts; on exhaustion it returns a *ReadinessTimeoutError.
func (c *Client) WaitReady(ctx context.Context) error {
	url := c.baseURL + healthPath
	err := retry.Do(
		func() error { return c.checkHealth(ctx, url) },
		retry.Context(ctx),
		retry.Attempts(readinessAttempts),
		retry.Delay(readinessInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug("Gateway not ready yet",
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
	)
	if err != nil {
		return &ReadinessTimeoutError{URL: url, Err: err}
	}
	return nil
}

func (c *Client) checkHealth(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned %s", resp.Status)
	}
	return nil
}

// registerRequest is the wire body of one worker registration.
type registerRequest struct {
	Component string `json:"component"`
	Name      string `json:"name"`
	Server    string `json:"server"`
}

// Register registers every configured external backend with the gateway.
// It runs only for the external backend mode; each capability's outcome
// is independent and a failure on one never aborts the others.
func (c *Client) Register(ctx context.Context, cfg *config.PipelineConfig) []RegistrationResult {
	def, ok := config.Definition(cfg.Type)
	if !ok {
		return nil
	}

	var results []RegistrationResult
	for _, capability := range def.Capabilities {
		backend := cfg.CapabilityBackend(capability)
		if backend.URL == "" {
			continue
		}
		component := capability.WireComponent()
		result := RegistrationResult{
			Component: component,
			Name:      fmt.Sprintf("%s-%s", cfg.Name, component),
			Server:    backend.URL,
		}
		if err := c.registerWorker(ctx, result); err != nil {
			result.Err = &RegistrationError{Component: component, Server: backend.URL, Err: err}
			logger.Warn("Backend registration failed",
				zap.String("component", component),
				zap.String("server", backend.URL),
				zap.Error(err))
		} else {
			logger.Info("Registered backend",
				zap.String("component", component),
				zap.String("server", backend.URL))
		}
		results = append(results, result)
	}
	return results
}

func (c *Client) registerWorker(ctx context.Context, r RegistrationResult) error {
	body, err := json.Marshal(registerRequest{
		Component: r.Component,
		Name:      r.Name,
		Server:    r.Server,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+registerPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}
	return nil
}
