package cert

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pyparrot/parrotctl/internal/config"
)

func openTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	registry, err := OpenRegistry(dir)
	if err != nil {
		t.Fatalf("OpenRegistry() failed: %v", err)
	}
	t.Cleanup(func() { registry.Close() })
	return registry, dir
}

func TestEnsureSelfSignedSharedAcrossPipelines(t *testing.T) {
	registry, dir := openTestRegistry(t)
	mgr := NewManager(registry, dir)

	first, err := mgr.Ensure("demo.localhost", config.TLSSettings{Enabled: true}, "alpha")
	if err != nil {
		t.Fatalf("Ensure() failed: %v", err)
	}
	if first.Kind != KindSelfSigned {
		t.Fatalf("Kind = %s, want %s", first.Kind, KindSelfSigned)
	}

	certPath := filepath.Join(first.Location, "cert.pem")
	info, err := os.Stat(certPath)
	if err != nil {
		t.Fatalf("cert.pem not written: %v", err)
	}
	firstMod := info.ModTime()

	second, err := mgr.Ensure("demo.localhost", config.TLSSettings{Enabled: true}, "beta")
	if err != nil {
		t.Fatalf("second Ensure() failed: %v", err)
	}

	// Both pipelines share the same record and location; the material is
	// not regenerated.
	if second.Location != first.Location {
		t.Errorf("locations differ: %q vs %q", first.Location, second.Location)
	}
	if len(second.Pipelines) != 2 || second.Pipelines[0] != "alpha" || second.Pipelines[1] != "beta" {
		t.Errorf("Pipelines = %v, want [alpha beta]", second.Pipelines)
	}
	info, err = os.Stat(certPath)
	if err != nil {
		t.Fatalf("cert.pem gone after second Ensure: %v", err)
	}
	if !info.ModTime().Equal(firstMod) {
		t.Error("certificate was regenerated for an existing domain")
	}
}

func TestEnsureSelfSignedCertificateContents(t *testing.T) {
	registry, dir := openTestRegistry(t)
	mgr := NewManager(registry, dir)

	record, err := mgr.Ensure("demo.localhost", config.TLSSettings{Enabled: true}, "alpha")
	if err != nil {
		t.Fatalf("Ensure() failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(record.Location, "cert.pem"))
	if err != nil {
		t.Fatalf("reading cert.pem: %v", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		t.Fatal("cert.pem does not contain a PEM certificate")
	}
	parsed, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parsing certificate: %v", err)
	}
	if err := parsed.VerifyHostname("demo.localhost"); err != nil {
		t.Errorf("certificate does not cover demo.localhost: %v", err)
	}
	if err := parsed.VerifyHostname("sub.demo.localhost"); err != nil {
		t.Errorf("certificate does not cover subdomains: %v", err)
	}

	keyInfo, err := os.Stat(filepath.Join(record.Location, "key.pem"))
	if err != nil {
		t.Fatalf("key.pem not written: %v", err)
	}
	if mode := keyInfo.Mode().Perm(); mode != 0600 {
		t.Errorf("key.pem mode = %o, want 0600", mode)
	}
}

func TestEnsurePublicDomainRequiresEmail(t *testing.T) {
	registry, dir := openTestRegistry(t)
	mgr := NewManager(registry, dir)

	_, err := mgr.Ensure("demo.example.com", config.TLSSettings{Enabled: true}, "alpha")
	var perr *ProvisionError
	if !errors.As(err, &perr) {
		t.Fatalf("Ensure() = %v, want *ProvisionError", err)
	}
	if perr.Domain != "demo.example.com" {
		t.Errorf("ProvisionError domain = %q", perr.Domain)
	}
}

func TestEnsurePublicDomainReusesRecord(t *testing.T) {
	registry, dir := openTestRegistry(t)
	mgr := NewManager(registry, dir)
	tls := config.TLSSettings{Enabled: true, ACMEEmail: "ops@example.com"}

	first, err := mgr.Ensure("demo.example.com", tls, "alpha")
	if err != nil {
		t.Fatalf("Ensure() failed: %v", err)
	}
	if first.Kind != KindIssued {
		t.Fatalf("Kind = %s, want %s", first.Kind, KindIssued)
	}
	if first.Location != "parrot-acme-demo.example.com" {
		t.Errorf("Location = %q", first.Location)
	}

	second, err := mgr.Ensure("demo.example.com", tls, "beta")
	if err != nil {
		t.Fatalf("second Ensure() failed: %v", err)
	}
	if second.Location != first.Location {
		t.Errorf("issued locations differ: %q vs %q", first.Location, second.Location)
	}
}

func TestReleaseKeepsRecordAndStorage(t *testing.T) {
	registry, dir := openTestRegistry(t)
	mgr := NewManager(registry, dir)

	record, err := mgr.Ensure("demo.localhost", config.TLSSettings{Enabled: true}, "alpha")
	if err != nil {
		t.Fatalf("Ensure() failed: %v", err)
	}

	if err := mgr.Release("demo.localhost", "alpha"); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}

	// Record survives with an empty reference set, and the material on
	// disk is untouched.
	got, err := registry.Get("demo.localhost")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got == nil {
		t.Fatal("record was deleted on Release")
	}
	if len(got.Pipelines) != 0 {
		t.Errorf("Pipelines = %v, want empty", got.Pipelines)
	}
	if _, err := os.Stat(filepath.Join(record.Location, "cert.pem")); err != nil {
		t.Errorf("certificate material removed on Release: %v", err)
	}
}

func TestReleaseUnknownDomain(t *testing.T) {
	registry, dir := openTestRegistry(t)
	mgr := NewManager(registry, dir)

	if err := mgr.Release("never-seen.localhost", "alpha"); err != nil {
		t.Errorf("Release() on unknown domain = %v, want nil", err)
	}
}

func TestAddRefIdempotentPerPipeline(t *testing.T) {
	registry, _ := openTestRegistry(t)

	create := func() (*Record, error) {
		return &Record{Domain: "d.localhost", Kind: KindSelfSigned, Location: "/tmp/d"}, nil
	}
	if _, err := registry.AddRef("d.localhost", "alpha", create); err != nil {
		t.Fatalf("AddRef() failed: %v", err)
	}
	record, err := registry.AddRef("d.localhost", "alpha", create)
	if err != nil {
		t.Fatalf("AddRef() failed: %v", err)
	}
	if len(record.Pipelines) != 1 {
		t.Errorf("Pipelines = %v, want single entry", record.Pipelines)
	}
}

func TestRegistryPutGetList(t *testing.T) {
	registry, _ := openTestRegistry(t)

	if got, err := registry.Get("absent.localhost"); err != nil || got != nil {
		t.Fatalf("Get() on empty registry = %v, %v", got, err)
	}

	records := []*Record{
		{Domain: "b.localhost", Kind: KindSelfSigned, Location: "/certs/b", Pipelines: []string{"p1"}},
		{Domain: "a.example.com", Kind: KindIssued, Location: "parrot-acme-a.example.com"},
	}
	for _, r := range records {
		if err := registry.Put(r); err != nil {
			t.Fatalf("Put(%s) failed: %v", r.Domain, err)
		}
	}

	got, err := registry.Get("b.localhost")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Location != "/certs/b" || len(got.Pipelines) != 1 {
		t.Errorf("Get() = %+v", got)
	}

	list, err := registry.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != 2 || list[0].Domain != "a.example.com" || list[1].Domain != "b.localhost" {
		t.Errorf("List() = %+v, want sorted by domain", list)
	}
}

func TestSanitizeDomain(t *testing.T) {
	tests := []struct {
		domain string
		want   string
	}{
		{"Demo.LocalHost", "demo.localhost"},
		{"*.example.com", "wildcard.example.com"},
	}
	for _, tt := range tests {
		if got := sanitizeDomain(tt.domain); got != tt.want {
			t.Errorf("sanitizeDomain(%q) = %q, want %q", tt.domain, got, tt.want)
		}
	}
}
