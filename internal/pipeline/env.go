package pipeline

import (
	"fmt"
	"strings"

	"github.com/pyparrot/parrotctl/internal/config"
)

// EnvVar is one rendered environment entry. Order is significant only
// for readability of the emitted file; rendering is deterministic.
type EnvVar struct {
	Key   string
	Value string
}

// RenderEnv derives the full key/value environment consumed by the
// assembled deployment specification: explicit settings verbatim plus
// computed composites. It is a pure function of the configuration.
func RenderEnv(cfg *config.PipelineConfig) []EnvVar {
	externalPort := cfg.ExternalPortOrDefault()

	env := []EnvVar{
		{"PIPELINE_NAME", cfg.Name},
		{"DOMAIN", cfg.Domain},
		{"FRONTEND_THEME", cfg.Theme},
		{"HTTP_PORT", fmt.Sprintf("%d", cfg.Port)},
		{"DOMAIN_PORT", fmt.Sprintf("%s:%d", cfg.Domain, cfg.Port)},
		{"EXTERNAL_PORT", fmt.Sprintf("%d", externalPort)},
		{"EXTERNAL_DOMAIN_PORT", fmt.Sprintf("%s:%d", cfg.Domain, externalPort)},
		{"BACKENDS", string(cfg.Backends)},
	}

	if cfg.TLS.Enabled {
		env = append(env,
			EnvVar{"HTTPS_PORT", fmt.Sprintf("%d", cfg.TLS.HTTPSPort)},
			EnvVar{"HTTPS_DOMAIN_PORT", fmt.Sprintf("%s:%d", cfg.Domain, cfg.TLS.HTTPSPort)},
		)
		if cfg.TLS.ACMEEmail != "" {
			env = append(env, EnvVar{"ACME_EMAIL", cfg.TLS.ACMEEmail})
		}
	}

	def, ok := config.Definition(cfg.Type)
	if ok {
		for _, capability := range def.Capabilities {
			env = append(env, EnvVar{
				Key:   strings.ToUpper(string(capability)) + "_BACKEND_URL",
				Value: backendURL(cfg, capability),
			})
		}
		for _, frag := range def.Fragments {
			if frag == "markup" {
				env = append(env, EnvVar{"SUMMARIZER_BACKEND_URL", cfg.SummarizerURL})
			}
		}
	}

	env = append(env, EnvVar{"HF_TOKEN", cfg.HFToken})
	if cfg.AuthToken != "" {
		env = append(env, EnvVar{"AUTH_TOKEN", cfg.AuthToken})
	}
	if cfg.Debug {
		env = append(env, EnvVar{"DEBUG", "1"})
	}
	return env
}

// backendURL computes where the pipeline reaches one inference backend:
// the configured remote URL for external mode, the published host port
// for distributed mode, and the in-network service address for local
// mode.
func backendURL(cfg *config.PipelineConfig, capability config.Capability) string {
	backend := cfg.CapabilityBackend(capability)
	switch cfg.Backends {
	case config.BackendExternal:
		return backend.URL
	case config.BackendDistributed:
		return fmt.Sprintf("http://%s:%d", cfg.Domain, distributedHostPort(capability))
	default:
		if backend.Engine == "" {
			return ""
		}
		return fmt.Sprintf("http://%s-backend:5000", capability)
	}
}

func distributedHostPort(capability config.Capability) int {
	switch capability {
	case config.CapabilitySTT:
		return 5051
	case config.CapabilityMT:
		return 5052
	case config.CapabilityTTS:
		return 5053
	}
	return 5050
}

// FormatEnv renders the entries as a dotenv file.
func FormatEnv(env []EnvVar) []byte {
	var b strings.Builder
	for _, e := range env {
		b.WriteString(e.Key)
		b.WriteByte('=')
		b.WriteString(e.Value)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
