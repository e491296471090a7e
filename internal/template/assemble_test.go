package template

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/pyparrot/parrotctl/internal/cert"
	"github.com/pyparrot/parrotctl/internal/config"
)

func testConfig(typ config.PipelineType, mode config.BackendMode) *config.PipelineConfig {
	cfg := &config.PipelineConfig{
		Name:     "demo",
		Type:     typ,
		Backends: mode,
		Domain:   "demo.localhost",
		Port:     8001,
		Theme:    config.DefaultTheme,
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestAssembleCascadedExternal(t *testing.T) {
	cfg := testConfig(config.TypeCascaded, config.BackendExternal)

	spec, err := Assemble(cfg, nil)
	if err != nil {
		t.Fatalf("Assemble() failed: %v", err)
	}

	// Base services plus the type's streaming components; external mode
	// adds no backend containers.
	want := []string{"archive", "asr", "dex", "frontend", "gateway", "logger", "mt", "redis", "traefik"}
	got := spec.ServiceNames()
	if len(got) != len(want) {
		t.Fatalf("ServiceNames() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ServiceNames() = %v, want %v", got, want)
		}
	}

	if env := spec.Services["asr"].Environment["STT_BACKEND_URL"]; env != "${STT_BACKEND_URL}" {
		t.Errorf("asr STT_BACKEND_URL = %q", env)
	}

	// No TLS overlay: no secure routers anywhere.
	for name, svc := range spec.Services {
		for label := range svc.Labels {
			if strings.Contains(label, "-secure") || strings.Contains(label, "certresolver") {
				t.Errorf("service %s carries TLS label %q without TLS enabled", name, label)
			}
		}
	}
}

func TestAssembleDeterministic(t *testing.T) {
	cfg := testConfig(config.TypeFullSuite, config.BackendLocal)

	first, err := Assemble(cfg, nil)
	if err != nil {
		t.Fatalf("Assemble() failed: %v", err)
	}
	second, err := Assemble(cfg, nil)
	if err != nil {
		t.Fatalf("Assemble() failed: %v", err)
	}

	a, err := first.Marshal()
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	b, err := second.Marshal()
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("identical configurations produced different documents")
	}
}

func TestAssembleLocalBackends(t *testing.T) {
	cfg := testConfig(config.TypeCascaded, config.BackendLocal)

	spec, err := Assemble(cfg, nil)
	if err != nil {
		t.Fatalf("Assemble() failed: %v", err)
	}

	stt, ok := spec.Services["stt-backend"]
	if !ok {
		t.Fatal("local mode did not add stt-backend")
	}
	if stt.Image != "ghcr.io/pyparrot/backend-faster-whisper:latest" {
		t.Errorf("stt-backend image = %q", stt.Image)
	}
	if stt.Environment["MODEL"] != "large-v2" {
		t.Errorf("stt-backend MODEL = %q", stt.Environment["MODEL"])
	}
	if len(stt.Ports) != 0 {
		t.Errorf("local backend published ports %v", stt.Ports)
	}
	if _, ok := spec.Services["mt-backend"]; !ok {
		t.Error("local mode did not add mt-backend")
	}
}

func TestAssembleDistributedBackends(t *testing.T) {
	cfg := testConfig(config.TypeCascaded, config.BackendDistributed)

	spec, err := Assemble(cfg, nil)
	if err != nil {
		t.Fatalf("Assemble() failed: %v", err)
	}

	stt := spec.Services["stt-backend"]
	if len(stt.Ports) != 1 || stt.Ports[0] != "5051:5000" {
		t.Errorf("distributed stt-backend ports = %v, want [5051:5000]", stt.Ports)
	}
	mt := spec.Services["mt-backend"]
	if len(mt.Ports) != 1 || mt.Ports[0] != "5052:5000" {
		t.Errorf("distributed mt-backend ports = %v, want [5052:5000]", mt.Ports)
	}
	if stt.Labels["parrot.placement"] != "distributed" {
		t.Errorf("distributed stt-backend labels = %v", stt.Labels)
	}
}

func TestAssembleSelfSignedTLS(t *testing.T) {
	cfg := testConfig(config.TypeEndToEnd, config.BackendExternal)
	cfg.TLS = config.TLSSettings{Enabled: true, HTTPSPort: 443}

	record := &cert.Record{
		Domain:   "demo.localhost",
		Kind:     cert.KindSelfSigned,
		Location: "/home/op/.config/parrotctl/certs/demo.localhost",
	}

	spec, err := Assemble(cfg, record)
	if err != nil {
		t.Fatalf("Assemble() failed: %v", err)
	}

	traefik := spec.Services["traefik"]
	if !contains(traefik.Ports, "${HTTPS_PORT}:443") {
		t.Errorf("traefik ports = %v, want HTTPS port published", traefik.Ports)
	}
	if !contains(traefik.Volumes, record.Location+":/etc/traefik/certs:ro") {
		t.Errorf("traefik volumes = %v, want certificate mount", traefik.Volumes)
	}

	gateway := spec.Services["gateway"]
	if gateway.Labels["traefik.http.routers.gateway-secure.tls"] != "true" {
		t.Error("gateway missing secure router")
	}
	if _, ok := gateway.Labels["traefik.http.routers.gateway-secure.tls.certresolver"]; ok {
		t.Error("self-signed TLS must not use an ACME resolver")
	}
}

func TestAssembleIssuedTLS(t *testing.T) {
	cfg := testConfig(config.TypeEndToEnd, config.BackendExternal)
	cfg.Domain = "demo.example.com"
	cfg.TLS = config.TLSSettings{
		Enabled:     true,
		HTTPSPort:   443,
		ACMEEmail:   "ops@example.com",
		ACMEStaging: true,
	}

	record := &cert.Record{
		Domain:   "demo.example.com",
		Kind:     cert.KindIssued,
		Location: "parrot-acme-demo-example-com",
	}

	spec, err := Assemble(cfg, record)
	if err != nil {
		t.Fatalf("Assemble() failed: %v", err)
	}

	traefik := spec.Services["traefik"]
	if !contains(traefik.Command, "--certificatesresolvers.le.acme.caserver=https://acme-staging-v02.api.letsencrypt.org/directory") {
		t.Errorf("traefik command = %v, want staging ACME endpoint", traefik.Command)
	}

	vol, ok := spec.Volumes[record.Location]
	if !ok || !vol.External {
		t.Errorf("ACME volume declaration = %+v, want external", vol)
	}

	if spec.Services["frontend"].Labels["traefik.http.routers.frontend-secure.tls.certresolver"] != "le" {
		t.Error("frontend secure router missing ACME resolver")
	}
}

func TestAssembleTLSWithoutRecord(t *testing.T) {
	cfg := testConfig(config.TypeEndToEnd, config.BackendExternal)
	cfg.TLS = config.TLSSettings{Enabled: true, HTTPSPort: 443}

	_, err := Assemble(cfg, nil)
	var merr *MergeError
	if !errors.As(err, &merr) {
		t.Fatalf("Assemble() = %v, want *MergeError", err)
	}
}

func TestApplyFragmentDanglingPatch(t *testing.T) {
	spec := &Spec{Services: map[string]Service{}}
	frag := Fragment{
		Name:    "bad",
		Patches: []Patch{{Service: "ghost", Environment: map[string]string{"A": "1"}}},
	}

	err := applyFragment(spec, frag, true)
	var merr *MergeError
	if !errors.As(err, &merr) {
		t.Fatalf("applyFragment() = %v, want *MergeError", err)
	}
	if merr.Fragment != "bad" {
		t.Errorf("MergeError fragment = %q", merr.Fragment)
	}
}

func TestMergeServiceOverlayWins(t *testing.T) {
	base := Service{
		Image:       "a:1",
		Environment: map[string]string{"KEY": "old", "KEEP": "yes"},
		Ports:       []string{"80:80"},
	}
	over := Service{
		Image:       "b:2",
		Environment: map[string]string{"KEY": "new"},
		Ports:       []string{"80:80", "443:443"},
	}

	got := mergeService(base, over)
	if got.Image != "b:2" {
		t.Errorf("Image = %q, want overlay's value", got.Image)
	}
	if got.Environment["KEY"] != "new" || got.Environment["KEEP"] != "yes" {
		t.Errorf("Environment = %v", got.Environment)
	}
	if len(got.Ports) != 2 {
		t.Errorf("Ports = %v, want duplicates collapsed", got.Ports)
	}
}

func TestValidateDependencies(t *testing.T) {
	tests := []struct {
		name    string
		spec    *Spec
		wantErr bool
	}{
		{
			name: "dangling depends_on",
			spec: &Spec{Services: map[string]Service{
				"a": {Image: "example/a:v1", DependsOn: []string{"ghost"}},
			}},
			wantErr: true,
		},
		{
			name: "dependency cycle",
			spec: &Spec{Services: map[string]Service{
				"a": {Image: "example/a:v1", DependsOn: []string{"b"}},
				"b": {Image: "example/b:v1", DependsOn: []string{"a"}},
			}},
			wantErr: true,
		},
		{
			name: "invalid image reference",
			spec: &Spec{Services: map[string]Service{
				"a": {Image: "UPPER CASE BAD"},
			}},
			wantErr: true,
		},
		{
			name: "placeholder image reference",
			spec: &Spec{Services: map[string]Service{
				"a": {Image: "ghcr.io/pyparrot/gateway:${TAG}"},
			}},
		},
		{
			name: "valid chain",
			spec: &Spec{Services: map[string]Service{
				"a": {Image: "example/a:v1", DependsOn: []string{"b"}},
				"b": {Image: "example/b:v1"},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
