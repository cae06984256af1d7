// Package policy implements the disclosure policy catalog: a named,
// versioned, hashed ruleset scoping what a published disclosure
// statement may contain. Definitions are YAML, one file per policy,
// loaded with gopkg.in/yaml.v3 struct tags plus yaml.Unmarshal, no
// generic config framework.
package policy

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kuibu/transparent-company/pkg/canonical"
)

type Audience string

const (
	AudiencePublic   Audience = "public"
	AudienceInvestor Audience = "investor"
	AudiencePartner  Audience = "partner"
	AudienceAuditor  Audience = "auditor"
)

type Granularity string

const (
	GranularityHour  Granularity = "hour"
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

type ProofLevel string

const (
	ProofLevelRootOnly                  ProofLevel = "root_only"
	ProofLevelRootPlusProof              ProofLevel = "root_plus_proof"
	ProofLevelSelectiveDisclosureReady  ProofLevel = "selective_disclosure_ready"
)

// RedactionRules controls which identifying fields a disclosure statement
// may surface.
type RedactionRules struct {
	HideCustomerRef bool `yaml:"hide_customer_ref"`
	HideSupplierID  bool `yaml:"hide_supplier_id"`
	HideUnitCost    bool `yaml:"hide_unit_cost"`
	AllowSKU        bool `yaml:"allow_sku"`
}

func (r RedactionRules) ToCanonical() canonical.Map {
	return canonical.Map{
		"hide_customer_ref": r.HideCustomerRef,
		"hide_supplier_id":  r.HideSupplierID,
		"hide_unit_cost":    r.HideUnitCost,
		"allow_sku":         r.AllowSKU,
	}
}

// Policy is one named disclosure policy.
type Policy struct {
	PolicyID        string         `yaml:"policy_id"`
	Version         string         `yaml:"version"`
	Audience        Audience       `yaml:"audience"`
	TimeGranularity Granularity    `yaml:"time_granularity"`
	AllowedMetrics  []string       `yaml:"allowed_metrics"`
	AllowedGroupBy  []string       `yaml:"allowed_group_by"`
	Redaction       RedactionRules `yaml:"redaction"`
	DelayDays       int            `yaml:"delay_days"`
	ProofLevel      ProofLevel     `yaml:"proof_level"`
}

func (p Policy) Validate() error {
	switch p.Audience {
	case AudiencePublic, AudienceInvestor, AudiencePartner, AudienceAuditor:
	default:
		return fmt.Errorf("policy: unknown audience %q", p.Audience)
	}
	switch p.TimeGranularity {
	case GranularityHour, GranularityDay, GranularityWeek, GranularityMonth:
	default:
		return fmt.Errorf("policy: unknown time_granularity %q", p.TimeGranularity)
	}
	switch p.ProofLevel {
	case ProofLevelRootOnly, ProofLevelRootPlusProof, ProofLevelSelectiveDisclosureReady:
	default:
		return fmt.Errorf("policy: unknown proof_level %q", p.ProofLevel)
	}
	if p.DelayDays < 0 {
		return fmt.Errorf("policy: delay_days must be >= 0")
	}
	if p.PolicyID == "" {
		return fmt.Errorf("policy: policy_id required")
	}
	return nil
}

// ToCanonical renders the policy into the canonical tree it is hashed
// from. Field order in the struct has no bearing on the hash: canonical
// encoding sorts map keys byte-wise.
func (p Policy) ToCanonical() canonical.Map {
	metrics := make(canonical.List, len(p.AllowedMetrics))
	for i, m := range p.AllowedMetrics {
		metrics[i] = m
	}
	groupBy := make(canonical.List, len(p.AllowedGroupBy))
	for i, g := range p.AllowedGroupBy {
		groupBy[i] = g
	}
	return canonical.Map{
		"policy_id":         p.PolicyID,
		"version":           p.Version,
		"audience":          string(p.Audience),
		"time_granularity":  string(p.TimeGranularity),
		"allowed_metrics":   metrics,
		"allowed_group_by":  groupBy,
		"redaction":         p.Redaction.ToCanonical(),
		"delay_days":        int64(p.DelayDays),
		"proof_level":       string(p.ProofLevel),
	}
}

// Hash returns the policy content hash bound into every statement and
// commitment leaf.
func (p Policy) Hash() (string, error) {
	return canonical.Hash(p.ToCanonical())
}

// AllowsMetric reports whether m is in the policy's allowed metric set.
func (p Policy) AllowsMetric(m string) bool {
	for _, a := range p.AllowedMetrics {
		if a == m {
			return true
		}
	}
	return false
}

// AllowsGroupBy reports whether every requested dimension is permitted.
func (p Policy) AllowsGroupBy(dims []string) bool {
	for _, d := range dims {
		allowed := false
		for _, a := range p.AllowedGroupBy {
			if a == d {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	return true
}

//go:embed policies/*.yaml
var defaultPolicyFiles embed.FS

// Catalog is the loaded, immutable set of disclosure policies keyed by
// policy_id. The catalog is reloaded as a whole, never patched in place.
type Catalog struct {
	policies map[string]Policy
}

// DefaultCatalog loads the bundled policy_public_v1/investor/partner/
// auditor definitions.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalogFS(defaultPolicyFiles, "policies")
}

// LoadCatalogFS loads every *.yaml file directly under dir in fsys into a
// Catalog.
func LoadCatalogFS(fsys fs.FS, dir string) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("policy: read dir %s: %w", dir, err)
	}
	out := &Catalog{policies: make(map[string]Policy, len(entries))}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		raw, err := fs.ReadFile(fsys, dir+"/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("policy: read %s: %w", entry.Name(), err)
		}
		var p Policy
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("policy: parse %s: %w", entry.Name(), err)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy: %s: %w", entry.Name(), err)
		}
		if _, dup := out.policies[p.PolicyID]; dup {
			return nil, fmt.Errorf("policy: duplicate policy_id %s", p.PolicyID)
		}
		out.policies[p.PolicyID] = p
	}
	return out, nil
}

// Get returns a policy by id.
func (c *Catalog) Get(policyID string) (Policy, bool) {
	p, ok := c.policies[policyID]
	return p, ok
}

// List returns every policy sorted by policy_id.
func (c *Catalog) List() []Policy {
	out := make([]Policy, 0, len(c.policies))
	for _, p := range c.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PolicyID < out[j].PolicyID })
	return out
}
