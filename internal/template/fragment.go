package template

import (
	"fmt"

	"github.com/pyparrot/parrotctl/internal/cert"
	"github.com/pyparrot/parrotctl/internal/config"
)

// Images of the externally built pipeline services. Each service is
// consumed as a named image plus a small HTTP contract; their internals
// are not this tool's business.
const (
	imageTraefik  = "traefik:v3.1"
	imageDex      = "dexidp/dex:v2.41.1"
	imageRedis    = "redis:7-alpine"
	imageGateway  = "ghcr.io/pyparrot/gateway:latest"
	imageArchive  = "ghcr.io/pyparrot/archive:latest"
	imageLogger   = "ghcr.io/pyparrot/session-logger:latest"
	imageFrontend = "ghcr.io/pyparrot/frontend:latest"
	imageASR      = "ghcr.io/pyparrot/stream-asr:latest"
	imageMT       = "ghcr.io/pyparrot/stream-mt:latest"
	imageTTS      = "ghcr.io/pyparrot/stream-tts:latest"
	imageDialog   = "ghcr.io/pyparrot/dialog:latest"
	imageMarkup   = "ghcr.io/pyparrot/markup:latest"
)

const networkName = "parrot"

// Fragment is a named, conditionally-included unit of deployment
// description. Fragments are built from the pipeline configuration with
// every conditional sub-block already evaluated; the merge itself is a
// pure function over the resulting structures.
type Fragment struct {
	Name string

	// CertProducer marks fragments that declare TLS certificate
	// material. At most one may be active in a merge.
	CertProducer bool

	// Services are added whole. Adding a name that already exists
	// replaces conflicting attributes (later overlay wins).
	Services map[string]Service

	Networks map[string]Network
	Volumes  map[string]VolumeDecl

	// Patches modify services that must already exist in the spec.
	Patches []Patch
}

// Patch adds attributes to an existing service. On a key conflict the
// patch value wins.
type Patch struct {
	Service     string
	Environment map[string]string
	Labels      map[string]string
	Command     []string
	Ports       []string
	Volumes     []string
	DependsOn   []string
}

func baseService(img string, cfg *config.PipelineConfig) Service {
	return Service{
		Image:    img,
		Restart:  "unless-stopped",
		Networks: []string{networkName},
		EnvFile:  []string{".env"},
		Labels: map[string]string{
			"parrot.pipeline": cfg.Name,
		},
	}
}

func routerLabels(router, rule string) map[string]string {
	return map[string]string{
		"traefik.enable": "true",
		fmt.Sprintf("traefik.http.routers.%s.rule", router):                      rule,
		fmt.Sprintf("traefik.http.routers.%s.entrypoints", router):               "web",
		fmt.Sprintf("traefik.http.services.%s.loadbalancer.server.port", router): "8000",
	}
}

// BaseFragments returns the always-included fragment set: reverse proxy,
// identity provider, queue infrastructure, gateway, archive, logging and
// frontend.
func BaseFragments(cfg *config.PipelineConfig) []Fragment {
	traefik := baseService(imageTraefik, cfg)
	traefik.Ports = []string{"${HTTP_PORT}:80"}
	traefik.Volumes = []string{
		"./traefik/traefik.yaml:/etc/traefik/traefik.yaml:ro",
		"./traefik:/etc/traefik/dynamic:ro",
		"/var/run/docker.sock:/var/run/docker.sock:ro",
	}

	dex := baseService(imageDex, cfg)
	dex.Command = []string{"dex", "serve", "/etc/dex/config.yaml"}
	dex.EnvFile = append(dex.EnvFile, "./dex/dex.env")
	dex.Volumes = []string{"./traefik/auth/dex.yaml:/etc/dex/config.yaml:ro"}
	dex.Labels["traefik.enable"] = "true"
	dex.Labels["traefik.http.routers.dex.rule"] = "Host(`${DOMAIN}`) && PathPrefix(`/dex`)"
	dex.Labels["traefik.http.routers.dex.entrypoints"] = "web"
	dex.Labels["traefik.http.services.dex.loadbalancer.server.port"] = "5556"

	redis := baseService(imageRedis, cfg)
	redis.HealthCheck = &HealthCheck{
		Test:     []string{"CMD", "redis-cli", "ping"},
		Interval: "5s",
		Timeout:  "3s",
		Retries:  5,
	}

	gateway := baseService(imageGateway, cfg)
	gateway.DependsOn = []string{"redis", "dex"}
	gateway.Environment = map[string]string{
		"PIPELINE_NAME": "${PIPELINE_NAME}",
		"REDIS_URL":     "redis://redis:6379",
	}
	gateway.HealthCheck = &HealthCheck{
		Test:        []string{"CMD", "wget", "--quiet", "--tries=1", "--spider", "http://localhost:8000/ltapi/health"},
		Interval:    "10s",
		Timeout:     "5s",
		Retries:     3,
		StartPeriod: "5s",
	}
	for k, v := range routerLabels("gateway", "Host(`${DOMAIN}`) && PathPrefix(`/ltapi`)") {
		gateway.Labels[k] = v
	}

	archive := baseService(imageArchive, cfg)
	archive.DependsOn = []string{"redis", "gateway"}
	archive.Volumes = []string{"archive-data:/data"}

	sessionLogger := baseService(imageLogger, cfg)
	sessionLogger.DependsOn = []string{"redis"}

	frontend := baseService(imageFrontend, cfg)
	frontend.DependsOn = []string{"gateway"}
	frontend.Environment = map[string]string{
		"FRONTEND_THEME": "${FRONTEND_THEME}",
		"BASE_URL":       "${EXTERNAL_DOMAIN_PORT}",
	}
	for k, v := range routerLabels("frontend", "Host(`${DOMAIN}`)") {
		frontend.Labels[k] = v
	}
	frontend.Labels["traefik.http.services.frontend.loadbalancer.server.port"] = "3000"

	return []Fragment{
		{Name: "proxy", Services: map[string]Service{"traefik": traefik},
			Networks: map[string]Network{networkName: {}}},
		{Name: "identity", Services: map[string]Service{"dex": dex}},
		{Name: "queue", Services: map[string]Service{"redis": redis}},
		{Name: "gateway", Services: map[string]Service{"gateway": gateway}},
		{Name: "archive", Services: map[string]Service{"archive": archive},
			Volumes: map[string]VolumeDecl{"archive-data": {}}},
		{Name: "logging", Services: map[string]Service{"logger": sessionLogger}},
		{Name: "frontend", Services: map[string]Service{"frontend": frontend}},
	}
}

// TypeOverlay returns the overlay fragment for the configured pipeline
// type: the streaming components layered on top of the base set.
func TypeOverlay(cfg *config.PipelineConfig) (Fragment, error) {
	def, ok := config.Definition(cfg.Type)
	if !ok {
		return Fragment{}, fmt.Errorf("unknown pipeline type %q", cfg.Type)
	}

	frag := Fragment{
		Name:     "type:" + string(cfg.Type),
		Services: map[string]Service{},
	}
	for _, name := range def.Fragments {
		svc := baseService(componentImage(name), cfg)
		svc.DependsOn = []string{"gateway", "redis"}
		svc.Environment = map[string]string{
			"GATEWAY_URL": "http://gateway:8000",
			"REDIS_URL":   "redis://redis:6379",
		}
		switch name {
		case "asr":
			svc.Environment["STT_BACKEND_URL"] = "${STT_BACKEND_URL}"
		case "mt":
			svc.Environment["MT_BACKEND_URL"] = "${MT_BACKEND_URL}"
		case "tts":
			svc.Environment["TTS_BACKEND_URL"] = "${TTS_BACKEND_URL}"
		case "dialog":
			svc.Environment["HF_TOKEN"] = "${HF_TOKEN}"
		case "markup":
			svc.Environment["SUMMARIZER_BACKEND_URL"] = "${SUMMARIZER_BACKEND_URL}"
		}
		frag.Services[name] = svc
	}
	if cfg.Debug {
		frag.Patches = append(frag.Patches, Patch{
			Service:     "gateway",
			Environment: map[string]string{"LOG_LEVEL": "debug"},
		})
	}
	return frag, nil
}

func componentImage(name string) string {
	switch name {
	case "asr":
		return imageASR
	case "mt":
		return imageMT
	case "tts":
		return imageTTS
	case "dialog":
		return imageDialog
	case "markup":
		return imageMarkup
	}
	return "ghcr.io/pyparrot/" + name + ":latest"
}

// BackendOverlay returns the overlay for the configured backend mode.
// Local and distributed modes add inference backend containers; external
// mode adds nothing (the rendered environment carries the remote URLs and
// registration happens after start).
func BackendOverlay(cfg *config.PipelineConfig) Fragment {
	frag := Fragment{
		Name:     "backends:" + string(cfg.Backends),
		Services: map[string]Service{},
	}
	if cfg.Backends == config.BackendExternal {
		return frag
	}

	def, _ := config.Definition(cfg.Type)
	for _, capability := range def.Capabilities {
		backend := cfg.CapabilityBackend(capability)
		if backend.Engine == "" {
			continue
		}
		name := string(capability) + "-backend"
		svc := baseService("ghcr.io/pyparrot/backend-"+backend.Engine+":latest", cfg)
		svc.Environment = map[string]string{
			"MODEL": backend.Model,
		}
		if backend.GPU != "" {
			svc.Environment["CUDA_VISIBLE_DEVICES"] = backend.GPU
		}
		if cfg.Backends == config.BackendDistributed {
			// Published so workers on other hosts can reach it.
			svc.Ports = []string{fmt.Sprintf("%d:5000", distributedPort(capability))}
			svc.Labels["parrot.placement"] = "distributed"
		}
		frag.Services[name] = svc
	}
	return frag
}

func distributedPort(capability config.Capability) int {
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

// TLSOverlay returns the TLS overlay for the configuration, or a zero
// fragment when TLS is disabled. Exactly one certificate-producing
// variant is emitted: self-signed material mounted from shared storage
// for loopback-style domains, an ACME resolver for public domains.
func TLSOverlay(cfg *config.PipelineConfig, record *cert.Record) (Fragment, error) {
	if !cfg.TLS.Enabled {
		return Fragment{Name: "tls:off"}, nil
	}
	if record == nil {
		return Fragment{}, fmt.Errorf("TLS enabled but no certificate record for domain %q", cfg.Domain)
	}

	frag := Fragment{
		Name:         "tls:" + string(record.Kind),
		CertProducer: true,
	}

	proxyPatch := Patch{
		Service: "traefik",
		Ports:   []string{"${HTTPS_PORT}:443"},
	}

	switch record.Kind {
	case cert.KindSelfSigned:
		// rules.ini points traefik's file provider at these paths.
		proxyPatch.Volumes = []string{record.Location + ":/etc/traefik/certs:ro"}
	case cert.KindIssued:
		caServer := "https://acme-v02.api.letsencrypt.org/directory"
		if cfg.TLS.ACMEStaging {
			caServer = "https://acme-staging-v02.api.letsencrypt.org/directory"
		}
		proxyPatch.Command = []string{
			"--certificatesresolvers.le.acme.email=${ACME_EMAIL}",
			"--certificatesresolvers.le.acme.storage=/acme/acme.json",
			"--certificatesresolvers.le.acme.httpchallenge.entrypoint=web",
			"--certificatesresolvers.le.acme.caserver=" + caServer,
		}
		proxyPatch.Volumes = []string{record.Location + ":/acme"}
		frag.Volumes = map[string]VolumeDecl{
			record.Location: {External: true, Name: record.Location},
		}
	default:
		return Fragment{}, fmt.Errorf("unknown certificate kind %q", record.Kind)
	}
	frag.Patches = append(frag.Patches, proxyPatch)

	for _, router := range []struct{ service, router, rule string }{
		{"gateway", "gateway", "Host(`${DOMAIN}`) && PathPrefix(`/ltapi`)"},
		{"frontend", "frontend", "Host(`${DOMAIN}`)"},
		{"dex", "dex", "Host(`${DOMAIN}`) && PathPrefix(`/dex`)"},
	} {
		p := Patch{
			Service: router.service,
			Labels: map[string]string{
				fmt.Sprintf("traefik.http.routers.%s-secure.rule", router.router):        router.rule,
				fmt.Sprintf("traefik.http.routers.%s-secure.entrypoints", router.router): "websecure",
				fmt.Sprintf("traefik.http.routers.%s-secure.tls", router.router):         "true",
			},
		}
		if record.Kind == cert.KindIssued {
			p.Labels[fmt.Sprintf("traefik.http.routers.%s-secure.tls.certresolver", router.router)] = "le"
		}
		if cfg.TLS.ForceRedirect {
			p.Labels[fmt.Sprintf("traefik.http.routers.%s.middlewares", router.router)] = "https-redirect@file"
		}
		frag.Patches = append(frag.Patches, p)
	}

	return frag, nil
}
