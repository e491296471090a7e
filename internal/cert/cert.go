package cert

import "fmt"

// Kind distinguishes how certificate material for a domain is produced.
type Kind string

const (
	// KindSelfSigned is used for loopback-style domains: one locally
	// generated keypair shared by every pipeline on that domain.
	KindSelfSigned Kind = "self-signed"

	// KindIssued is used for public domains: material issued by the
	// ACME endpoint into a domain-scoped engine volume.
	KindIssued Kind = "issued"
)

// Record describes the shared TLS material for one domain. Location is a
// pure function of domain and kind, never of any pipeline name: a
// filesystem directory for self-signed material, an engine volume name
// for issued material. Records are reference-counted by pipeline name and
// survive pipeline deletion; only explicit operator action on the shared
// storage removes them.
type Record struct {
	Domain    string   `json:"domain"`
	Kind      Kind     `json:"kind"`
	Location  string   `json:"location"`
	Pipelines []string `json:"pipelines"`
}

// ProvisionError reports that certificate material for a domain could not
// be provisioned. Configure aborts before any pipeline files are written.
type ProvisionError struct {
	Domain string
	Reason string
	Err    error
}

func (e *ProvisionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("certificate provisioning for %s failed: %s: %v", e.Domain, e.Reason, e.Err)
	}
	return fmt.Sprintf("certificate provisioning for %s failed: %s", e.Domain, e.Reason)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}
