package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultDomain is used when no --domain flag is given. It is a
// loopback-style domain, so fresh pipelines never hit an external
// certificate issuer by accident.
const DefaultDomain = "parrot.localhost"

// DefaultTheme is the frontend theme used when none is configured.
const DefaultTheme = "defaulttheme"

// TLSSettings holds the HTTPS-related part of a pipeline configuration.
type TLSSettings struct {
	Enabled       bool   `yaml:"enabled"`
	HTTPSPort     int    `yaml:"https_port"`
	ACMEEmail     string `yaml:"acme_email,omitempty"`
	ACMEStaging   bool   `yaml:"acme_staging,omitempty"`
	ForceRedirect bool   `yaml:"force_redirect,omitempty"`
}

// Backend describes one inference backend. For local and distributed
// modes the engine/model/GPU fields select what to run; for external mode
// only URL is meaningful.
type Backend struct {
	Engine string `yaml:"engine,omitempty"`
	Model  string `yaml:"model,omitempty"`
	GPU    string `yaml:"gpu,omitempty"`
	URL    string `yaml:"url,omitempty"`
}

// PipelineConfig is the validated, immutable description of one pipeline
// instance. It is written wholesale by configure and never patched in
// place; a later configure overwrites the whole record.
type PipelineConfig struct {
	Name     string       `yaml:"name"`
	Type     PipelineType `yaml:"type"`
	Backends BackendMode  `yaml:"backends"`

	Domain       string `yaml:"domain"`
	Port         int    `yaml:"port"`
	ExternalPort int    `yaml:"external_port,omitempty"`

	TLS TLSSettings `yaml:"tls"`

	Theme string `yaml:"theme"`
	Debug bool   `yaml:"debug,omitempty"`

	STT           Backend `yaml:"stt"`
	MT            Backend `yaml:"mt,omitempty"`
	TTS           Backend `yaml:"tts,omitempty"`
	SummarizerURL string  `yaml:"summarizer_url,omitempty"`

	HFToken   string `yaml:"hf_token,omitempty"`
	AuthToken string `yaml:"auth_token,omitempty"`
}

// ValidationError reports a bad or missing configuration field. Nothing is
// written to disk when configure fails with one of these.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// New builds a PipelineConfig with defaults applied and validates it.
func New(name string, typ PipelineType, mode BackendMode) (*PipelineConfig, error) {
	cfg := &PipelineConfig{
		Name:     name,
		Type:     typ,
		Backends: mode,
		Domain:   DefaultDomain,
		Port:     8001,
		Theme:    DefaultTheme,
		TLS:      TLSSettings{HTTPSPort: 443},
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills in the per-type default backend engines for local
// and distributed modes. External mode keeps the descriptors empty; the
// URLs carry everything.
func (c *PipelineConfig) ApplyDefaults() {
	if c.Theme == "" {
		c.Theme = DefaultTheme
	}
	if c.TLS.HTTPSPort == 0 {
		c.TLS.HTTPSPort = 443
	}
	if c.Backends == BackendExternal {
		return
	}
	def, ok := Definition(c.Type)
	if !ok {
		return
	}
	if c.STT.Engine == "" {
		c.STT.Engine = "faster-whisper"
	}
	if c.STT.Model == "" {
		c.STT.Model = "large-v2"
	}
	if c.MT.Engine == "" {
		c.MT.Engine = def.DefaultMTEngine
	}
	if c.TTS.Engine == "" {
		c.TTS.Engine = def.DefaultTTSEngine
	}
}

// Validate checks the configuration. It returns a *ValidationError on the
// first problem found.
func (c *PipelineConfig) Validate() error {
	if c.Name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if !namePattern.MatchString(c.Name) {
		return &ValidationError{Field: "name", Reason: "must start with a lowercase letter or digit and contain only [a-z0-9_-]"}
	}
	if _, ok := Definition(c.Type); !ok {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown pipeline type %q", c.Type)}
	}
	switch c.Backends {
	case BackendLocal, BackendDistributed, BackendExternal:
	default:
		return &ValidationError{Field: "backends", Reason: fmt.Sprintf("unknown backend mode %q", c.Backends)}
	}
	if c.Domain == "" {
		return &ValidationError{Field: "domain", Reason: "must not be empty"}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &ValidationError{Field: "port", Reason: fmt.Sprintf("port %d out of range", c.Port)}
	}
	if c.ExternalPort != 0 && (c.ExternalPort < 1 || c.ExternalPort > 65535) {
		return &ValidationError{Field: "external-port", Reason: fmt.Sprintf("port %d out of range", c.ExternalPort)}
	}
	if c.TLS.Enabled {
		if c.TLS.HTTPSPort < 1 || c.TLS.HTTPSPort > 65535 {
			return &ValidationError{Field: "https-port", Reason: fmt.Sprintf("port %d out of range", c.TLS.HTTPSPort)}
		}
		if !IsLoopbackDomain(c.Domain) && c.TLS.ACMEEmail == "" {
			return &ValidationError{Field: "acme-email", Reason: fmt.Sprintf("required to issue a certificate for public domain %q", c.Domain)}
		}
	}
	if c.Backends == BackendExternal {
		for _, b := range []struct {
			field string
			url   string
		}{
			{"stt-backend-url", c.STT.URL},
			{"mt-backend-url", c.MT.URL},
			{"tts-backend-url", c.TTS.URL},
			{"summarizer-backend-url", c.SummarizerURL},
		} {
			if b.url == "" {
				continue
			}
			u, err := url.Parse(b.url)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return &ValidationError{Field: b.field, Reason: fmt.Sprintf("not an absolute URL: %q", b.url)}
			}
		}
	}
	return nil
}

// ExternalPortOrDefault returns the externally reachable port, falling
// back to the internal port when none is set (e.g. no fronting proxy).
func (c *PipelineConfig) ExternalPortOrDefault() int {
	if c.ExternalPort != 0 {
		return c.ExternalPort
	}
	return c.Port
}

// GatewayURL is the HTTP base URL of the gateway service as reachable
// from this CLI.
func (c *PipelineConfig) GatewayURL() string {
	return fmt.Sprintf("http://%s", net.JoinHostPort(c.Domain, fmt.Sprintf("%d", c.Port)))
}

// CapabilityBackend returns the backend descriptor configured for a
// capability.
func (c *PipelineConfig) CapabilityBackend(cap Capability) Backend {
	switch cap {
	case CapabilitySTT:
		return c.STT
	case CapabilityMT:
		return c.MT
	case CapabilityTTS:
		return c.TTS
	}
	return Backend{}
}

// IsLoopbackDomain reports whether a domain is intended for local-only
// access and is therefore eligible for a self-signed certificate instead
// of externally-issued material.
func IsLoopbackDomain(domain string) bool {
	host := strings.ToLower(strings.TrimSuffix(domain, "."))
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// Load reads a pipeline configuration from its YAML file.
func Load(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline config: %w", err)
	}
	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline config: %w", err)
	}
	return &cfg, nil
}

// Marshal renders the configuration as YAML.
func (c *PipelineConfig) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
