package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pyparrot/parrotctl/internal/cert"
	"github.com/pyparrot/parrotctl/internal/config"
	"github.com/pyparrot/parrotctl/internal/template"
	"github.com/pyparrot/parrotctl/internal/utils/logger"
	"go.uber.org/zap"
)

// Directory is the on-disk unit of state for one named pipeline: the
// rendered deployment spec, the environment file and the generated
// proxy/identity-provider configuration. Lifecycle is create,
// overwrite-on-reconfigure, delete; certificate bytes never live here.
type Directory struct {
	root string
	name string
}

// NewDirectory addresses the pipeline directory for name under the
// configuration root.
func NewDirectory(configRoot, name string) *Directory {
	return &Directory{root: configRoot, name: name}
}

// Name returns the pipeline name.
func (d *Directory) Name() string { return d.name }

// Path is the pipeline directory itself.
func (d *Directory) Path() string { return filepath.Join(d.root, d.name) }

// ComposePath is the rendered deployment specification.
func (d *Directory) ComposePath() string { return filepath.Join(d.Path(), "docker-compose.yaml") }

// EnvPath is the rendered environment file.
func (d *Directory) EnvPath() string { return filepath.Join(d.Path(), ".env") }

// ConfigPath is the persisted pipeline configuration.
func (d *Directory) ConfigPath() string { return filepath.Join(d.Path(), d.name+".yaml") }

// DexEnvPath is the one-time credential file.
func (d *Directory) DexEnvPath() string { return filepath.Join(d.Path(), "dex", "dex.env") }

// Exists reports whether the pipeline has been configured.
func (d *Directory) Exists() bool {
	_, err := os.Stat(d.ComposePath())
	return err == nil
}

// LoadConfig reads the persisted pipeline configuration.
func (d *Directory) LoadConfig() (*config.PipelineConfig, error) {
	return config.Load(d.ConfigPath())
}

// Files maps directory-relative paths to file contents.
type Files map[string][]byte

// WriteAll renders every generated file for the configuration and swaps
// it into place atomically: everything goes to a staging directory first,
// so a failed render never leaves the previous contents partially
// overwritten. The returned credentials carry a plaintext password only
// when they were generated for the first time.
func (d *Directory) WriteAll(cfg *config.PipelineConfig, spec *template.Spec, record *cert.Record) (*Credentials, error) {
	creds, err := LoadOrGenerateCredentials(d.DexEnvPath())
	if err != nil {
		return nil, err
	}

	specData, err := spec.Marshal()
	if err != nil {
		return nil, err
	}
	cfgData, err := cfg.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pipeline config: %w", err)
	}
	traefikData, err := RenderTraefikConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to render traefik config: %w", err)
	}
	dexData, err := RenderDexConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to render dex config: %w", err)
	}

	files := Files{
		".env":                       FormatEnv(RenderEnv(cfg)),
		"docker-compose.yaml":        specData,
		cfg.Name + ".yaml":           cfgData,
		"traefik/traefik.yaml":       traefikData,
		"traefik/rules.ini":          RenderTraefikRules(cfg, record),
		"traefik/auth/basicauth.txt": creds.FormatBasicAuth(),
		"traefik/auth/dex.yaml":      dexData,
		"dex/dex.env":                creds.FormatDexEnv(),
	}
	if err := d.write(files); err != nil {
		return nil, err
	}
	return creds, nil
}

// write stages all files and swaps the staged tree in.
func (d *Directory) write(files Files) error {
	if err := os.MkdirAll(d.root, 0755); err != nil {
		return fmt.Errorf("failed to create config root: %w", err)
	}

	stage := filepath.Join(d.root, ".staging-"+d.name)
	if err := os.RemoveAll(stage); err != nil {
		return fmt.Errorf("failed to clear staging directory: %w", err)
	}

	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		full := filepath.Join(stage, path)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			os.RemoveAll(stage)
			return fmt.Errorf("failed to stage %s: %w", path, err)
		}
		mode := os.FileMode(0644)
		if filepath.Base(path) == "dex.env" || filepath.Base(path) == "basicauth.txt" {
			mode = 0600
		}
		if err := os.WriteFile(full, files[path], mode); err != nil {
			os.RemoveAll(stage)
			return fmt.Errorf("failed to stage %s: %w", path, err)
		}
	}

	target := d.Path()
	previous := target + ".previous"
	os.RemoveAll(previous)

	if _, err := os.Stat(target); err == nil {
		if err := os.Rename(target, previous); err != nil {
			os.RemoveAll(stage)
			return fmt.Errorf("failed to move previous pipeline directory aside: %w", err)
		}
	}
	if err := os.Rename(stage, target); err != nil {
		// Best effort restore of the old contents.
		os.Rename(previous, target)
		os.RemoveAll(stage)
		return fmt.Errorf("failed to install pipeline directory: %w", err)
	}
	os.RemoveAll(previous)

	logger.Info("Wrote pipeline directory",
		zap.String("pipeline", d.name),
		zap.String("path", target))
	return nil
}

// Remove deletes the pipeline directory and its generated files. Shared
// certificate storage is not touched.
func (d *Directory) Remove() error {
	if err := os.RemoveAll(d.Path()); err != nil {
		return fmt.Errorf("failed to remove pipeline directory: %w", err)
	}
	return nil
}

// List returns the names of all configured pipelines under configRoot in
// sorted order.
func List(configRoot string) ([]string, error) {
	entries, err := os.ReadDir(configRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read config root: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		d := NewDirectory(configRoot, e.Name())
		if d.Exists() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
