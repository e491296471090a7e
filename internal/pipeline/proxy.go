package pipeline

import (
	"fmt"
	"strings"

	"github.com/pyparrot/parrotctl/internal/cert"
	"github.com/pyparrot/parrotctl/internal/config"
	"gopkg.in/yaml.v3"
)

// traefikStatic is the reverse proxy's static configuration file.
type traefikStatic struct {
	EntryPoints map[string]traefikEntryPoint `yaml:"entryPoints"`
	Providers   traefikProviders             `yaml:"providers"`
	Log         traefikLog                   `yaml:"log"`
	API         traefikAPI                   `yaml:"api"`
}

type traefikEntryPoint struct {
	Address string `yaml:"address"`
}

type traefikProviders struct {
	Docker traefikDockerProvider `yaml:"docker"`
	File   traefikFileProvider   `yaml:"file"`
}

type traefikDockerProvider struct {
	ExposedByDefault bool   `yaml:"exposedByDefault"`
	Constraints      string `yaml:"constraints"`
}

type traefikFileProvider struct {
	Directory string `yaml:"directory"`
	Watch     bool   `yaml:"watch"`
}

type traefikLog struct {
	Level string `yaml:"level"`
}

type traefikAPI struct {
	Dashboard bool `yaml:"dashboard"`
}

// RenderTraefikConfig renders the reverse proxy's static configuration.
// The docker provider is constrained to this pipeline's containers so
// several pipelines can share one engine.
func RenderTraefikConfig(cfg *config.PipelineConfig) ([]byte, error) {
	static := traefikStatic{
		EntryPoints: map[string]traefikEntryPoint{
			"web": {Address: ":80"},
		},
		Providers: traefikProviders{
			Docker: traefikDockerProvider{
				ExposedByDefault: false,
				Constraints:      fmt.Sprintf("Label(`parrot.pipeline`,`%s`)", cfg.Name),
			},
			File: traefikFileProvider{
				Directory: "/etc/traefik/dynamic",
				Watch:     true,
			},
		},
		Log: traefikLog{Level: "INFO"},
		API: traefikAPI{Dashboard: false},
	}
	if cfg.Debug {
		static.Log.Level = "DEBUG"
	}
	if cfg.TLS.Enabled {
		static.EntryPoints["websecure"] = traefikEntryPoint{Address: ":443"}
	}
	return yaml.Marshal(static)
}

// RenderTraefikRules renders the dynamic rules file for the file
// provider: the https-redirect middleware and, for self-signed domains,
// the mounted certificate paths.
func RenderTraefikRules(cfg *config.PipelineConfig, record *cert.Record) []byte {
	var b strings.Builder
	b.WriteString("[http.middlewares.https-redirect.redirectScheme]\n")
	b.WriteString("  scheme = \"https\"\n")
	b.WriteString("  permanent = true\n")

	if cfg.TLS.Enabled && record != nil && record.Kind == cert.KindSelfSigned {
		b.WriteString("\n[[tls.certificates]]\n")
		b.WriteString("  certFile = \"/etc/traefik/certs/cert.pem\"\n")
		b.WriteString("  keyFile = \"/etc/traefik/certs/key.pem\"\n")
	}
	return []byte(b.String())
}

// dexConfig is the identity provider's configuration file. Secrets are
// referenced through environment variables from dex/dex.env, so this file
// is a pure function of the pipeline configuration.
type dexConfig struct {
	Issuer           string              `yaml:"issuer"`
	Storage          dexStorage          `yaml:"storage"`
	Web              dexWeb              `yaml:"web"`
	StaticClients    []dexClient         `yaml:"staticClients"`
	EnablePasswordDB bool                `yaml:"enablePasswordDB"`
	StaticPasswords  []dexStaticPassword `yaml:"staticPasswords"`
}

type dexStorage struct {
	Type string `yaml:"type"`
}

type dexWeb struct {
	HTTP string `yaml:"http"`
}

type dexClient struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	SecretEnv    string   `yaml:"secretEnv"`
	RedirectURIs []string `yaml:"redirectURIs"`
}

type dexStaticPassword struct {
	Email       string `yaml:"email"`
	HashFromEnv string `yaml:"hashFromEnv"`
	Username    string `yaml:"username"`
	UserID      string `yaml:"userID"`
}

// RenderDexConfig renders the identity provider configuration.
func RenderDexConfig(cfg *config.PipelineConfig) ([]byte, error) {
	scheme := "http"
	port := cfg.ExternalPortOrDefault()
	if cfg.TLS.Enabled {
		scheme = "https"
		port = cfg.TLS.HTTPSPort
	}
	base := fmt.Sprintf("%s://%s:%d", scheme, cfg.Domain, port)

	dex := dexConfig{
		Issuer:  base + "/dex",
		Storage: dexStorage{Type: "memory"},
		Web:     dexWeb{HTTP: "0.0.0.0:5556"},
		StaticClients: []dexClient{
			{
				ID:           "parrot-frontend",
				Name:         "Parrot Frontend",
				SecretEnv:    "CLIENT_SECRET",
				RedirectURIs: []string{base + "/auth/callback"},
			},
		},
		EnablePasswordDB: true,
		StaticPasswords: []dexStaticPassword{
			{
				Email:       "admin@" + cfg.Domain,
				HashFromEnv: "ADMIN_PASSHASH",
				Username:    "admin",
				UserID:      "parrot-admin",
			},
		},
	}
	return yaml.Marshal(dex)
}
