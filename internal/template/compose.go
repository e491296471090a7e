package template

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Spec is the merged, placeholder-parameterized deployment specification
// for one pipeline: a set of named services, their dependency edges,
// networks and volumes. It marshals to a docker-compose document.
type Spec struct {
	Services map[string]Service    `yaml:"services"`
	Networks map[string]Network    `yaml:"networks,omitempty"`
	Volumes  map[string]VolumeDecl `yaml:"volumes,omitempty"`
}

// Service is one container in the deployment specification. Values may
// contain ${VAR} placeholders resolved by the engine against the rendered
// environment file.
type Service struct {
	Image         string            `yaml:"image,omitempty"`
	Build         string            `yaml:"build,omitempty"`
	ContainerName string            `yaml:"container_name,omitempty"`
	Command       []string          `yaml:"command,omitempty"`
	Environment   map[string]string `yaml:"environment,omitempty"`
	EnvFile       []string          `yaml:"env_file,omitempty"`
	Ports         []string          `yaml:"ports,omitempty"`
	Volumes       []string          `yaml:"volumes,omitempty"`
	DependsOn     []string          `yaml:"depends_on,omitempty"`
	Networks      []string          `yaml:"networks,omitempty"`
	HealthCheck   *HealthCheck      `yaml:"healthcheck,omitempty"`
	Restart       string            `yaml:"restart,omitempty"`
	Labels        map[string]string `yaml:"labels,omitempty"`
}

// HealthCheck is a container-level health probe.
type HealthCheck struct {
	Test        []string `yaml:"test"`
	Interval    string   `yaml:"interval,omitempty"`
	Timeout     string   `yaml:"timeout,omitempty"`
	Retries     int      `yaml:"retries,omitempty"`
	StartPeriod string   `yaml:"start_period,omitempty"`
}

// Network is a named network in the specification.
type Network struct {
	External bool `yaml:"external,omitempty"`
}

// VolumeDecl is a named volume declaration. External volumes outlive the
// pipeline; the engine never removes them on delete.
type VolumeDecl struct {
	External bool   `yaml:"external,omitempty"`
	Name     string `yaml:"name,omitempty"`
}

// Clone returns a deep copy of the service.
func (s Service) Clone() Service {
	out := s
	out.Command = append([]string(nil), s.Command...)
	out.EnvFile = append([]string(nil), s.EnvFile...)
	out.Ports = append([]string(nil), s.Ports...)
	out.Volumes = append([]string(nil), s.Volumes...)
	out.DependsOn = append([]string(nil), s.DependsOn...)
	out.Networks = append([]string(nil), s.Networks...)
	if s.Environment != nil {
		out.Environment = make(map[string]string, len(s.Environment))
		for k, v := range s.Environment {
			out.Environment[k] = v
		}
	}
	if s.Labels != nil {
		out.Labels = make(map[string]string, len(s.Labels))
		for k, v := range s.Labels {
			out.Labels[k] = v
		}
	}
	if s.HealthCheck != nil {
		hc := *s.HealthCheck
		hc.Test = append([]string(nil), s.HealthCheck.Test...)
		out.HealthCheck = &hc
	}
	return out
}

// Marshal renders the specification as YAML. The output is byte-identical
// for identical specs: map keys are emitted in sorted order and slice
// order is fixed by the assembler.
func (s *Spec) Marshal() ([]byte, error) {
	s.normalize()
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal deployment spec: %w", err)
	}
	return data, nil
}

// normalize puts slice-valued fields whose order carries no meaning into
// a canonical order so marshalling is deterministic.
func (s *Spec) normalize() {
	for name, svc := range s.Services {
		sort.Strings(svc.DependsOn)
		sort.Strings(svc.Networks)
		s.Services[name] = svc
	}
}

// ServiceNames returns the service names in sorted order.
func (s *Spec) ServiceNames() []string {
	names := make([]string, 0, len(s.Services))
	for name := range s.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
