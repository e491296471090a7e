package template

import (
	"fmt"
	"strings"

	"github.com/dominikbraun/graph"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/pyparrot/parrotctl/internal/cert"
	"github.com/pyparrot/parrotctl/internal/config"
	"github.com/pyparrot/parrotctl/internal/utils/logger"
	"go.uber.org/zap"
)

// MergeError reports a conflicting or dangling overlay during assembly.
// Nothing is written when assembly fails.
type MergeError struct {
	Fragment string
	Reason   string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("template merge failed in fragment %q: %s", e.Fragment, e.Reason)
}

// Assemble merges the base fragment set with the overlays selected by the
// pipeline type, backend mode and TLS mode into one deployment
// specification. Overlays apply in that fixed precedence order, so a
// later overlay's additions win on key conflicts. The result is
// deterministic: identical inputs produce a byte-identical spec.
func Assemble(cfg *config.PipelineConfig, record *cert.Record) (*Spec, error) {
	spec := &Spec{
		Services: map[string]Service{},
		Networks: map[string]Network{},
		Volumes:  map[string]VolumeDecl{},
	}

	for _, frag := range BaseFragments(cfg) {
		for svcName := range frag.Services {
			if _, exists := spec.Services[svcName]; exists {
				return nil, &MergeError{Fragment: frag.Name, Reason: fmt.Sprintf("duplicate base service %q", svcName)}
			}
		}
		if err := applyFragment(spec, frag, false); err != nil {
			return nil, err
		}
	}

	typeFrag, err := TypeOverlay(cfg)
	if err != nil {
		return nil, &MergeError{Fragment: "type", Reason: err.Error()}
	}
	backendFrag := BackendOverlay(cfg)
	tlsFrag, err := TLSOverlay(cfg, record)
	if err != nil {
		return nil, &MergeError{Fragment: "tls", Reason: err.Error()}
	}

	overlays := []Fragment{typeFrag, backendFrag, tlsFrag}

	producers := 0
	for _, frag := range overlays {
		if frag.CertProducer {
			producers++
		}
	}
	if producers > 1 {
		return nil, &MergeError{Fragment: "tls", Reason: "more than one TLS-certificate-producing overlay is active"}
	}

	for _, frag := range overlays {
		if err := applyFragment(spec, frag, true); err != nil {
			return nil, err
		}
	}

	if err := validate(spec); err != nil {
		return nil, err
	}

	logger.Debug("Assembled deployment spec",
		zap.String("pipeline", cfg.Name),
		zap.Int("services", len(spec.Services)))
	return spec, nil
}

// applyFragment folds one fragment into the spec. Whole services are
// added (or, for overlays, merged attribute-wise with the fragment
// winning); patches require their target service to exist already.
func applyFragment(spec *Spec, frag Fragment, overlay bool) error {
	for svcName, svc := range frag.Services {
		if existing, ok := spec.Services[svcName]; ok && overlay {
			spec.Services[svcName] = mergeService(existing, svc)
		} else {
			spec.Services[svcName] = svc.Clone()
		}
	}
	for netName, net := range frag.Networks {
		if _, ok := spec.Networks[netName]; !ok {
			spec.Networks[netName] = net
		}
	}
	for volName, vol := range frag.Volumes {
		spec.Volumes[volName] = vol
	}
	for _, patch := range frag.Patches {
		svc, ok := spec.Services[patch.Service]
		if !ok {
			return &MergeError{Fragment: frag.Name, Reason: fmt.Sprintf("patch references service %q absent from the spec", patch.Service)}
		}
		spec.Services[patch.Service] = applyPatch(svc, patch)
	}
	return nil
}

// mergeService overlays b onto a: scalar attributes set in b replace a's,
// map entries from b win per key, list attributes are appended.
func mergeService(a, b Service) Service {
	out := a.Clone()
	if b.Image != "" {
		out.Image = b.Image
	}
	if b.Build != "" {
		out.Build = b.Build
	}
	if b.ContainerName != "" {
		out.ContainerName = b.ContainerName
	}
	if b.Restart != "" {
		out.Restart = b.Restart
	}
	if len(b.Command) > 0 {
		out.Command = append([]string(nil), b.Command...)
	}
	if b.HealthCheck != nil {
		out.HealthCheck = b.HealthCheck
	}
	out.Environment = mergeStringMap(out.Environment, b.Environment)
	out.Labels = mergeStringMap(out.Labels, b.Labels)
	out.EnvFile = appendUnique(out.EnvFile, b.EnvFile)
	out.Ports = appendUnique(out.Ports, b.Ports)
	out.Volumes = appendUnique(out.Volumes, b.Volumes)
	out.DependsOn = appendUnique(out.DependsOn, b.DependsOn)
	out.Networks = appendUnique(out.Networks, b.Networks)
	return out
}

func applyPatch(svc Service, patch Patch) Service {
	out := svc.Clone()
	out.Environment = mergeStringMap(out.Environment, patch.Environment)
	out.Labels = mergeStringMap(out.Labels, patch.Labels)
	out.Command = append(out.Command, patch.Command...)
	out.Ports = appendUnique(out.Ports, patch.Ports)
	out.Volumes = appendUnique(out.Volumes, patch.Volumes)
	out.DependsOn = appendUnique(out.DependsOn, patch.DependsOn)
	return out
}

func mergeStringMap(base, over map[string]string) map[string]string {
	if len(over) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string]string, len(over))
	}
	for k, v := range over {
		base[k] = v
	}
	return base
}

func appendUnique(base, extra []string) []string {
	for _, e := range extra {
		found := false
		for _, b := range base {
			if b == e {
				found = true
				break
			}
		}
		if !found {
			base = append(base, e)
		}
	}
	return base
}

// validate checks the merged spec's cross-service invariants: resolvable
// image references, dependency edges that point at present services, and
// an acyclic dependency graph.
func validate(spec *Spec) error {
	for svcName, svc := range spec.Services {
		if svc.Image == "" && svc.Build == "" {
			return &MergeError{Fragment: svcName, Reason: "service has neither image nor build context"}
		}
		// Placeholder-bearing references are resolved by the engine.
		if svc.Image != "" && !strings.Contains(svc.Image, "${") {
			if _, err := name.ParseReference(svc.Image); err != nil {
				return &MergeError{Fragment: svcName, Reason: fmt.Sprintf("invalid image reference %q: %v", svc.Image, err)}
			}
		}
	}

	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	for _, svcName := range spec.ServiceNames() {
		if err := g.AddVertex(svcName); err != nil {
			return &MergeError{Fragment: svcName, Reason: fmt.Sprintf("dependency graph: %v", err)}
		}
	}
	for _, svcName := range spec.ServiceNames() {
		for _, dep := range spec.Services[svcName].DependsOn {
			if _, ok := spec.Services[dep]; !ok {
				return &MergeError{Fragment: svcName, Reason: fmt.Sprintf("depends on service %q absent from the spec", dep)}
			}
			if err := g.AddEdge(svcName, dep); err != nil {
				return &MergeError{Fragment: svcName, Reason: fmt.Sprintf("dependency edge to %q: %v", dep, err)}
			}
		}
	}
	return nil
}
