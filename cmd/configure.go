package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/pyparrot/parrotctl/internal/cert"
	"github.com/pyparrot/parrotctl/internal/config"
	"github.com/pyparrot/parrotctl/internal/pipeline"
	"github.com/pyparrot/parrotctl/internal/template"
	"github.com/pyparrot/parrotctl/internal/utils/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type configureOptions struct {
	pipelineType  string
	backends      string
	domain        string
	port          int
	externalPort  int
	theme         string
	debug         bool
	enableHTTPS   bool
	httpsPort     int
	acmeEmail     string
	acmeStaging   bool
	forceRedirect bool

	sttBackendURL string
	mtBackendURL  string
	ttsBackendURL string
	summarizerURL string

	sttEngine string
	sttModel  string
	sttGPU    string
	mtEngine  string
	mtGPU     string
	ttsEngine string
	ttsGPU    string

	hfToken   string
	authToken string
}

func init() {
	rootCmd.AddCommand(newConfigureCommand())
}

func newConfigureCommand() *cobra.Command {
	opts := &configureOptions{}

	cmd := &cobra.Command{
		Use:   "configure <name>",
		Short: "Configure a pipeline and create its pipeline directory",
		Long: `Assemble the deployment specification for a pipeline from its type,
backend mode and TLS settings, provision shared certificate material, and
write the pipeline directory. Reconfiguring overwrites the directory
wholesale; the admin credential is generated once and kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigure(args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.pipelineType, "type", string(config.TypeEndToEnd), "pipeline type ("+typeNames()+")")
	cmd.Flags().StringVar(&opts.backends, "backends", string(config.BackendLocal), "backend integration mode ("+backendNames()+")")
	cmd.Flags().StringVar(&opts.domain, "domain", config.DefaultDomain, "domain for the pipeline (use a real domain for public deployments)")
	cmd.Flags().IntVar(&opts.port, "port", 8001, "internal port the reverse proxy listens on")
	cmd.Flags().IntVar(&opts.externalPort, "external-port", 0, "externally reachable port when behind another proxy (defaults to --port)")
	cmd.Flags().StringVar(&opts.theme, "theme", config.DefaultTheme, "frontend theme")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "enable debug logging in pipeline services")
	cmd.Flags().BoolVar(&opts.enableHTTPS, "enable-https", false, "enable HTTPS")
	cmd.Flags().IntVar(&opts.httpsPort, "https-port", 443, "port for HTTPS traffic")
	cmd.Flags().StringVar(&opts.acmeEmail, "acme-email", "", "email for ACME registration (required for public domains)")
	cmd.Flags().BoolVar(&opts.acmeStaging, "acme-staging", false, "use the ACME staging endpoint")
	cmd.Flags().BoolVar(&opts.forceRedirect, "force-https-redirect", false, "redirect HTTP to HTTPS")

	cmd.Flags().StringVar(&opts.sttBackendURL, "stt-backend-url", "", "external speech-to-text backend URL")
	cmd.Flags().StringVar(&opts.mtBackendURL, "mt-backend-url", "", "external translation backend URL")
	cmd.Flags().StringVar(&opts.ttsBackendURL, "tts-backend-url", "", "external synthesis backend URL")
	cmd.Flags().StringVar(&opts.summarizerURL, "summarizer-backend-url", "", "external summarizer backend URL")

	cmd.Flags().StringVar(&opts.sttEngine, "stt-engine", "", "speech-to-text engine for local/distributed modes")
	cmd.Flags().StringVar(&opts.sttModel, "stt-model", "", "speech-to-text model for local/distributed modes")
	cmd.Flags().StringVar(&opts.sttGPU, "stt-gpu", "", "GPU device id for the speech-to-text backend")
	cmd.Flags().StringVar(&opts.mtEngine, "mt-engine", "", "translation engine for local/distributed modes")
	cmd.Flags().StringVar(&opts.mtGPU, "mt-gpu", "", "GPU device id for the translation backend")
	cmd.Flags().StringVar(&opts.ttsEngine, "tts-engine", "", "synthesis engine for local/distributed modes")
	cmd.Flags().StringVar(&opts.ttsGPU, "tts-gpu", "", "GPU device id for the synthesis backend")

	cmd.Flags().StringVar(&opts.hfToken, "hf-token", "", "HF token for dialog components")
	cmd.Flags().StringVar(&opts.authToken, "auth-token", "", "bearer token for gateway registration calls")

	return cmd
}

func runConfigure(name string, opts *configureOptions) error {
	cfg := &config.PipelineConfig{
		Name:         name,
		Type:         config.PipelineType(opts.pipelineType),
		Backends:     config.BackendMode(opts.backends),
		Domain:       opts.domain,
		Port:         opts.port,
		ExternalPort: opts.externalPort,
		Theme:        opts.theme,
		Debug:        opts.debug,
		TLS: config.TLSSettings{
			Enabled:       opts.enableHTTPS,
			HTTPSPort:     opts.httpsPort,
			ACMEEmail:     opts.acmeEmail,
			ACMEStaging:   opts.acmeStaging,
			ForceRedirect: opts.forceRedirect,
		},
		STT:           config.Backend{Engine: opts.sttEngine, Model: opts.sttModel, GPU: opts.sttGPU, URL: opts.sttBackendURL},
		MT:            config.Backend{Engine: opts.mtEngine, GPU: opts.mtGPU, URL: opts.mtBackendURL},
		TTS:           config.Backend{Engine: opts.ttsEngine, GPU: opts.ttsGPU, URL: opts.ttsBackendURL},
		SummarizerURL: opts.summarizerURL,
		HFToken:       opts.hfToken,
		AuthToken:     opts.authToken,
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := pipeline.NewDirectory(configRoot(), name)
	var previous *config.PipelineConfig
	if dir.Exists() {
		if !confirm(fmt.Sprintf("Pipeline %q already exists. Overwrite?", name)) {
			color.Yellow("Configuration cancelled.")
			return nil
		}
		// Needed afterwards to release the old certificate reference when
		// TLS is turned off or the pipeline moves to another domain.
		prev, err := dir.LoadConfig()
		if err != nil {
			logger.Warn("Could not read previous pipeline configuration", zap.Error(err))
		} else {
			previous = prev
		}
		logger.Info("Overwriting existing pipeline directory", zap.String("path", dir.Path()))
	}

	// Certificate material is provisioned before anything is written, so
	// an issuance failure aborts configure with the directory untouched.
	var record *cert.Record
	if cfg.TLS.Enabled {
		base, err := certBaseDir()
		if err != nil {
			return err
		}
		registry, err := cert.OpenRegistry(base)
		if err != nil {
			return err
		}
		defer registry.Close()

		record, err = cert.NewManager(registry, base).Ensure(cfg.Domain, cfg.TLS, cfg.Name)
		if err != nil {
			return err
		}
	}

	spec, err := template.Assemble(cfg, record)
	if err != nil {
		return err
	}

	creds, err := dir.WriteAll(cfg, spec, record)
	if err != nil {
		return err
	}

	if stale := staleCertDomain(previous, cfg); stale != "" {
		if err := releaseCertificate(stale, name); err != nil {
			color.Yellow("⚠ Failed to release certificate for %s: %v", stale, err)
		}
	}

	color.Green("✓ Configured pipeline %s (type: %s, backends: %s)", name, cfg.Type, cfg.Backends)
	fmt.Printf("  Directory:  %s\n", dir.Path())
	fmt.Printf("  Domain:     %s:%d\n", cfg.Domain, cfg.Port)
	if cfg.TLS.Enabled {
		fmt.Printf("  TLS:        %s (%s)\n", record.Kind, record.Location)
	}
	if creds.Password != "" {
		color.Cyan("  Admin password (shown once): %s", creds.Password)
	}
	return nil
}

// staleCertDomain reports the domain whose certificate reference the
// pipeline no longer needs after reconfiguring, or "" when the previous
// reference is still in use.
func staleCertDomain(previous, current *config.PipelineConfig) string {
	if previous == nil || !previous.TLS.Enabled {
		return ""
	}
	if !current.TLS.Enabled || current.Domain != previous.Domain {
		return previous.Domain
	}
	return ""
}

func typeNames() string {
	var names []string
	for _, t := range config.KnownTypes() {
		names = append(names, string(t))
	}
	return strings.Join(names, "|")
}

func backendNames() string {
	var names []string
	for _, m := range config.KnownBackendModes() {
		names = append(names, string(m))
	}
	return strings.Join(names, "|")
}
