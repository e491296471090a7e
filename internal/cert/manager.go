package cert

import (
	"path/filepath"
	"strings"

	"github.com/pyparrot/parrotctl/internal/config"
	"github.com/pyparrot/parrotctl/internal/utils/logger"
	"go.uber.org/zap"
)

// Manager provisions and shares TLS material keyed by domain. Certificate
// storage outlives any single pipeline: Ensure adds a reference, Release
// removes one, and nothing here ever deletes stored material.
type Manager struct {
	registry *Registry
	baseDir  string
}

// NewManager returns a manager whose registry and self-signed material
// live under baseDir (a user-scoped directory, outside any pipeline
// directory).
func NewManager(registry *Registry, baseDir string) *Manager {
	return &Manager{registry: registry, baseDir: baseDir}
}

// SelfSignedLocation is the storage directory for a domain's self-signed
// material. It depends only on the domain, never on a pipeline name.
func (m *Manager) SelfSignedLocation(domain string) string {
	return filepath.Join(m.baseDir, "certs", sanitizeDomain(domain))
}

// IssuedLocation is the engine volume holding ACME material for a domain.
func IssuedLocation(domain string) string {
	return "parrot-acme-" + sanitizeDomain(domain)
}

// Ensure provisions (or reuses) certificate material for domain and
// records pipeline in the domain's reference set.
//
// Loopback-style domains always get self-signed material, generated at
// most once. Public domains get a record pointing at the domain-scoped
// ACME volume; issuance itself is delegated to the reverse proxy, and an
// existing record is reused as-is so the issuer's weekly per-domain rate
// limit is never re-triggered, regardless of which pipeline asks.
func (m *Manager) Ensure(domain string, tls config.TLSSettings, pipeline string) (*Record, error) {
	if config.IsLoopbackDomain(domain) {
		location := m.SelfSignedLocation(domain)
		record, err := m.registry.AddRef(domain, pipeline, func() (*Record, error) {
			return &Record{Domain: domain, Kind: KindSelfSigned, Location: location}, nil
		})
		if err != nil {
			return nil, &ProvisionError{Domain: domain, Reason: "registry update failed", Err: err}
		}
		// The existence check is re-done here so externally removed
		// material is replaced on the next configure.
		if err := ensureSelfSigned(location, domain); err != nil {
			return nil, &ProvisionError{Domain: domain, Reason: "self-signed generation failed", Err: err}
		}
		logger.Debug("Using self-signed certificate",
			zap.String("domain", domain),
			zap.String("location", location))
		return record, nil
	}

	if tls.ACMEEmail == "" {
		return nil, &ProvisionError{Domain: domain, Reason: "acme email is required for public domains"}
	}

	record, err := m.registry.AddRef(domain, pipeline, func() (*Record, error) {
		logger.Info("Registering ACME certificate storage",
			zap.String("domain", domain),
			zap.Bool("staging", tls.ACMEStaging))
		return &Record{Domain: domain, Kind: KindIssued, Location: IssuedLocation(domain)}, nil
	})
	if err != nil {
		return nil, &ProvisionError{Domain: domain, Reason: "registry update failed", Err: err}
	}
	return record, nil
}

// Release drops pipeline from the domain's reference set. Storage is
// never deleted here; that is an explicit operator action on the shared
// location.
func (m *Manager) Release(domain, pipeline string) error {
	return m.registry.RemoveRef(domain, pipeline)
}

func sanitizeDomain(domain string) string {
	s := strings.ToLower(domain)
	s = strings.ReplaceAll(s, "*", "wildcard")
	s = strings.ReplaceAll(s, ":", "-")
	return s
}
