package config

// PipelineType identifies which set of deployment fragments a pipeline is
// assembled from.
type PipelineType string

const (
	TypeEndToEnd  PipelineType = "end-to-end"
	TypeCascaded  PipelineType = "cascaded"
	TypeFullSuite PipelineType = "full-suite"
	TypeDialog    PipelineType = "dialog"
	TypeMinimal   PipelineType = "minimal"
)

// BackendMode controls how inference backends are attached to a pipeline.
type BackendMode string

const (
	BackendLocal       BackendMode = "local"
	BackendDistributed BackendMode = "distributed"
	BackendExternal    BackendMode = "external"
)

// Capability names one inference capability a pipeline may require.
type Capability string

const (
	CapabilitySTT Capability = "stt"
	CapabilityMT  Capability = "mt"
	CapabilityTTS Capability = "tts"
)

// WireComponent returns the component name used on the gateway's
// worker-registration route for this capability.
func (c Capability) WireComponent() string {
	switch c {
	case CapabilitySTT:
		return "asr"
	case CapabilityMT:
		return "mt"
	case CapabilityTTS:
		return "tts"
	}
	return string(c)
}

// TypeDefinition describes the fragments and backend capabilities of one
// pipeline type.
type TypeDefinition struct {
	// Fragments are the names of the type-specific overlay fragments,
	// applied on top of the always-included base set.
	Fragments []string

	// Capabilities are the inference backends this type consumes.
	Capabilities []Capability

	// DefaultMTEngine and DefaultTTSEngine seed the backend descriptors
	// for local and distributed modes.
	DefaultMTEngine  string
	DefaultTTSEngine string
}

var typeDefinitions = map[PipelineType]TypeDefinition{
	TypeEndToEnd: {
		Fragments:    []string{"asr"},
		Capabilities: []Capability{CapabilitySTT},
	},
	TypeCascaded: {
		Fragments:       []string{"asr", "mt"},
		Capabilities:    []Capability{CapabilitySTT, CapabilityMT},
		DefaultMTEngine: "vllm",
	},
	TypeFullSuite: {
		Fragments:        []string{"asr", "mt", "tts", "dialog", "markup"},
		Capabilities:     []Capability{CapabilitySTT, CapabilityMT, CapabilityTTS},
		DefaultTTSEngine: "tts-kokoro",
	},
	TypeDialog: {
		Fragments:        []string{"asr", "tts", "dialog"},
		Capabilities:     []Capability{CapabilitySTT, CapabilityTTS},
		DefaultTTSEngine: "tts-kokoro",
	},
	TypeMinimal: {
		Fragments:    []string{"asr"},
		Capabilities: []Capability{CapabilitySTT},
	},
}

// KnownTypes returns the valid pipeline types in a stable order.
func KnownTypes() []PipelineType {
	return []PipelineType{TypeEndToEnd, TypeCascaded, TypeFullSuite, TypeDialog, TypeMinimal}
}

// Definition returns the type definition for t. The second return value is
// false for unknown types.
func Definition(t PipelineType) (TypeDefinition, bool) {
	def, ok := typeDefinitions[t]
	return def, ok
}

// KnownBackendModes returns the valid backend modes in a stable order.
func KnownBackendModes() []BackendMode {
	return []BackendMode{BackendLocal, BackendDistributed, BackendExternal}
}
