package disclosure

import (
	"fmt"
	"sort"
	"time"

	"github.com/kuibu/transparent-company/internal/ledgererr"
	"github.com/kuibu/transparent-company/internal/policy"
	"github.com/kuibu/transparent-company/pkg/canonical"
	"github.com/kuibu/transparent-company/pkg/merkle"
)

// leaf is one base commitment leaf: a single (metric_key, group, period)
// triple with its value, ready to be hashed and placed in the summary
// tree. groupCanon is the canonical bytes of the group map, precomputed
// for the sort key.
type leaf struct {
	lookupKey  string
	metricKey  string
	groupCanon string
	payload    canonical.Map
	hash       string
}

// ProofEntry is one row of the proof index: what a holder of a disclosure
// statement needs to verify one disclosed number against the summary
// root, plus (when the policy's proof level permits it) a detail tree
// binding the number to the exact event hashes that produced it.
type ProofEntry struct {
	LookupKey    string
	LeafHash     string
	LeafPayload  canonical.Map
	Proof        []merkle.ProofNode
	Position     int
	DetailRoot   string
	DetailProof  map[string][]merkle.ProofNode
	DetailHashes []string
}

// Commitment is the full Merkle binding for one computed disclosure:
// the summary tree over every metric/group leaf, an optional tree over
// all (lookup, detail_root) pairs, and a proof index keyed by lookup key.
// LeafPayloads keeps the sorted leaves in tree order for the statement's
// commitments section.
type Commitment struct {
	RootSummary  string
	RootDetails  string
	ProofIndex   map[string]ProofEntry
	LeafPayloads canonical.List
}

// LeafSchemaFields is the published field order of every summary leaf.
// Downstream verifiers depend on this exact list.
var LeafSchemaFields = []string{"metric_key", "group", "period", "value", "policy_id", "policy_hash", "detail_root"}

func leafPayload(metricKey string, group map[string]string, value int64, policyID, policyHash string, periodStart, periodEnd time.Time) canonical.Map {
	groupMap := canonical.Map{}
	for k, v := range group {
		groupMap[k] = v
	}
	return canonical.Map{
		"metric_key": metricKey,
		"group":      groupMap,
		"period": canonical.Map{
			"start": periodStart.UTC().Format(time.RFC3339),
			"end":   periodEnd.UTC().Format(time.RFC3339),
		},
		"value":       value,
		"policy_id":   policyID,
		"policy_hash": policyHash,
	}
}

// sortLeaves orders leaves by (metric_key, canonical(group) bytes); the
// period components of the sort key are constant within one disclosure,
// so they never break a tie here.
func sortLeaves(leaves []leaf) {
	sort.Slice(leaves, func(i, j int) bool {
		if leaves[i].metricKey != leaves[j].metricKey {
			return leaves[i].metricKey < leaves[j].metricKey
		}
		return leaves[i].groupCanon < leaves[j].groupCanon
	})
}

func groupCanonBytes(group map[string]string) string {
	m := canonical.Map{}
	for k, v := range group {
		m[k] = v
	}
	b, err := canonical.ToBytes(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// BuildCommitments turns a Computation into sorted base leaves and
// builds the summary tree over them. When the policy grants
// selective_disclosure_ready, each leaf first gets a detail tree over the
// exact event hashes backing that number and its detail_root is written
// into the leaf payload before any summary hashing, so root_summary
// commits to both the aggregate and the detail linkage; root_details is
// then a second tree over the sorted (lookup, detail_root) pairs.
func BuildCommitments(comp *Computation, pol policy.Policy, policyHash string, periodStart, periodEnd time.Time) (*Commitment, error) {
	var leaves []leaf

	for metricKey, value := range comp.Metrics {
		group := map[string]string{}
		leaves = append(leaves, leaf{
			lookupKey:  metricLookupKey(metricKey, group),
			metricKey:  metricKey,
			groupCanon: groupCanonBytes(group),
			payload:    leafPayload(metricKey, group, value, pol.PolicyID, policyHash, periodStart, periodEnd),
		})
	}

	for _, g := range comp.GroupedMetrics {
		leaves = append(leaves, leaf{
			lookupKey:  metricLookupKey(g.MetricKey, g.Group),
			metricKey:  g.MetricKey,
			groupCanon: groupCanonBytes(g.Group),
			payload:    leafPayload(g.MetricKey, g.Group, g.Value, pol.PolicyID, policyHash, periodStart, periodEnd),
		})
	}

	sortLeaves(leaves)

	wantDetails := pol.ProofLevel == policy.ProofLevelSelectiveDisclosureReady

	detailRoots := make(map[string]string)
	detailProofs := make(map[string]map[string][]merkle.ProofNode)
	detailHashLists := make(map[string][]string)

	if wantDetails {
		for i := range leaves {
			l := &leaves[i]
			hashes := sortedUnique(comp.DetailEventMap[l.lookupKey])
			detailTree := merkle.New(hashes)
			root := detailTree.Root()
			proofs := make(map[string][]merkle.ProofNode, len(hashes))
			for j, h := range hashes {
				p, err := detailTree.Proof(j)
				if err != nil {
					return nil, fmt.Errorf("disclosure: detail proof for %s: %w", l.lookupKey, err)
				}
				proofs[h] = p
			}
			l.payload["detail_root"] = root
			detailRoots[l.lookupKey] = root
			detailProofs[l.lookupKey] = proofs
			detailHashLists[l.lookupKey] = hashes
		}
	}

	leafHashes := make([]string, len(leaves))
	leafPayloads := make(canonical.List, len(leaves))
	for i, l := range leaves {
		h, err := merkle.HashLeafPayload(l.payload)
		if err != nil {
			return nil, fmt.Errorf("disclosure: hash leaf %s: %w", l.lookupKey, err)
		}
		leaves[i].hash = h
		leafHashes[i] = h
		leafPayloads[i] = l.payload
	}
	summaryTree := merkle.New(leafHashes)

	proofIndex := make(map[string]ProofEntry, len(leaves))
	for i, l := range leaves {
		proof, err := summaryTree.Proof(i)
		if err != nil {
			return nil, fmt.Errorf("disclosure: proof for leaf %d: %w", i, err)
		}
		entry := ProofEntry{
			LookupKey:   l.lookupKey,
			LeafHash:    l.hash,
			LeafPayload: l.payload,
			Proof:       proof,
			Position:    i,
		}
		if wantDetails {
			entry.DetailRoot = detailRoots[l.lookupKey]
			entry.DetailProof = detailProofs[l.lookupKey]
			entry.DetailHashes = detailHashLists[l.lookupKey]
		}
		proofIndex[l.lookupKey] = entry
	}

	c := &Commitment{
		RootSummary:  summaryTree.Root(),
		ProofIndex:   proofIndex,
		LeafPayloads: leafPayloads,
	}

	if wantDetails && len(detailRoots) > 0 {
		lookups := make([]string, 0, len(detailRoots))
		for lookup := range detailRoots {
			lookups = append(lookups, lookup)
		}
		sort.Strings(lookups)
		rootHashes := make([]string, len(lookups))
		for i, lookup := range lookups {
			h, err := merkle.HashLeafPayload(canonical.Map{
				"lookup":      lookup,
				"detail_root": detailRoots[lookup],
			})
			if err != nil {
				return nil, fmt.Errorf("disclosure: hash detail entry %s: %w", lookup, err)
			}
			rootHashes[i] = h
		}
		c.RootDetails = merkle.New(rootHashes).Root()
	}

	return c, nil
}

func sortedUnique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ProofFor returns the inclusion proof for one (metric_key, group) leaf,
// enforcing the policy's proof level: a root_only policy gates every
// per-metric proof with ProofLevelGated, and a lookup with no committed
// leaf fails with NoDetail.
func (c *Commitment) ProofFor(pol policy.Policy, metricKey string, group map[string]string) (ProofEntry, error) {
	if pol.ProofLevel == policy.ProofLevelRootOnly {
		return ProofEntry{}, ledgererr.New(ledgererr.ProofLevelGated, "disclosure: policy proof level is root_only; per-metric proofs are not published")
	}
	entry, ok := c.ProofIndex[metricLookupKey(metricKey, group)]
	if !ok {
		return ProofEntry{}, ledgererr.New(ledgererr.NoDetail, "disclosure: no committed leaf for requested metric/group")
	}
	return entry, nil
}

// ProofLookupKey exposes the (metric_key, group) lookup key format used
// by the proof index, for callers building a selective disclosure
// request (internal/reveal).
func ProofLookupKey(metricKey string, group map[string]string) string {
	return metricLookupKey(metricKey, group)
}
