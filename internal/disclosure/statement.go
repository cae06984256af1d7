// Statement, signature, and anchor orchestration: compute, commit,
// attach reconciliation, sign, anchor, persist, then append one
// DisclosurePublished event so the commitment is itself chain-linked.
package disclosure

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kuibu/transparent-company/internal/anchor"
	"github.com/kuibu/transparent-company/internal/events"
	"github.com/kuibu/transparent-company/internal/ledger"
	"github.com/kuibu/transparent-company/internal/ledgererr"
	"github.com/kuibu/transparent-company/internal/observability/metrics"
	"github.com/kuibu/transparent-company/internal/policy"
	"github.com/kuibu/transparent-company/internal/reconcile"
	"github.com/kuibu/transparent-company/internal/reports"
	"github.com/kuibu/transparent-company/pkg/canonical"
	"github.com/kuibu/transparent-company/pkg/signer"
)

// DisclosureRun is the persisted record of one published disclosure:
// the statement body, its signature, the anchor keys it was written
// under, and the reconciliation outcome attached at publish time.
type DisclosureRun struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	PolicyID         string    `gorm:"size:64;index"`
	PolicyHash       string    `gorm:"size:128"`
	PeriodStart      time.Time `gorm:"index"`
	PeriodEnd        time.Time
	StatementJSON    []byte `gorm:"type:jsonb"`
	RootSummary      string `gorm:"size:128"`
	RootDetails      string `gorm:"size:128"`
	Signature        []byte
	StatementSigHash string `gorm:"size:128;index"`
	GeneratedAt      time.Time
	CreatedAt        time.Time
}

// AutoMigrate applies the disclosure run schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&DisclosureRun{})
}

// Anchorer is the subset of anchor.Service a publish needs.
type Anchorer interface {
	AnchorDisclosure(ctx context.Context, disclosureID string, periodStart time.Time, policyID, rootSummary, rootDetails string) ([]anchor.WriteResult, error)
}

// Appender is the subset of ledger.Store a publish needs.
type Appender interface {
	Append(ctx context.Context, req ledger.AppendRequest, signerRole signer.Role) (ledger.Row, error)
}

// Statement is the full public body of one published disclosure:
// everything a holder needs to verify the disclosed numbers against the
// anchored Merkle root, plus the reconciliation outcome.
type Statement struct {
	DisclosureID    string
	PolicyID        string
	PolicyHash      string
	PeriodStart     time.Time
	PeriodEnd       time.Time
	Metrics         map[string]int64
	GroupedMetrics  []GroupedMetric
	RootSummary     string
	RootDetails     string
	ProofLevel      policy.ProofLevel
	LeafPayloads    canonical.List
	Reconciliation  []reconcile.Result
	GeneratedAt     time.Time
}

func (s Statement) toCanonical() canonical.Map {
	metrics := canonical.Map{}
	for k, v := range s.Metrics {
		metrics[k] = v
	}
	grouped := make(canonical.List, len(s.GroupedMetrics))
	for i, g := range s.GroupedMetrics {
		groupMap := canonical.Map{}
		for k, v := range g.Group {
			groupMap[k] = v
		}
		grouped[i] = canonical.Map{
			"metric_key": g.MetricKey,
			"group":      groupMap,
			"value":      g.Value,
		}
	}
	reconciliation := make(canonical.List, len(s.Reconciliation))
	for i, r := range s.Reconciliation {
		reconciliation[i] = canonical.Map{
			"rule":   r.Rule,
			"passed": r.Passed,
			"detail": r.Detail,
		}
	}
	return canonical.Map{
		"disclosure_id": s.DisclosureID,
		"policy_id":     s.PolicyID,
		"policy_hash":   s.PolicyHash,
		"period": canonical.Map{
			"start": s.PeriodStart.UTC().Format(time.RFC3339),
			"end":   s.PeriodEnd.UTC().Format(time.RFC3339),
		},
		"metrics":         metrics,
		"grouped_metrics": grouped,
		"commitments": canonical.Map{
			"root_summary":  s.RootSummary,
			"root_details":  s.RootDetails,
			"proof_level":   string(s.ProofLevel),
			"leaf_payloads": s.LeafPayloads,
			"leaf_schema":   canonical.Map{"fields": leafSchemaList()},
		},
		"reconciliation": reconciliation,
		"generated_at":   s.GeneratedAt.UTC().Format(time.RFC3339),
	}
}

func leafSchemaList() canonical.List {
	out := make(canonical.List, len(LeafSchemaFields))
	for i, f := range LeafSchemaFields {
		out[i] = f
	}
	return out
}

// applyRedaction enforces the policy's redaction rules on computed
// grouped metrics: allow_sku=false drops any grouped row keyed by sku,
// and the hide_* flags strip the named keys from every remaining group.
// The current dimension set never groups by customer_ref or supplier_id
// directly, so those two hide flags only matter if a future dimension
// introduces one.
func applyRedaction(comp *Computation, pol policy.Policy) *Computation {
	out := &Computation{
		Metrics:        comp.Metrics,
		DetailEventMap: comp.DetailEventMap,
	}
	for _, g := range comp.GroupedMetrics {
		if !pol.Redaction.AllowSKU {
			if _, ok := g.Group["sku"]; ok {
				continue
			}
		}
		group := map[string]string{}
		for k, v := range g.Group {
			if pol.Redaction.HideCustomerRef && k == "customer_ref" {
				continue
			}
			if pol.Redaction.HideSupplierID && k == "supplier_id" {
				continue
			}
			if pol.Redaction.HideUnitCost && k == "unit_cost" {
				continue
			}
			group[k] = v
		}
		out.GroupedMetrics = append(out.GroupedMetrics, GroupedMetric{
			MetricKey: g.MetricKey,
			Group:     group,
			Value:     g.Value,
		})
	}
	return out
}

// PublishResult is what Publish returns on success.
type PublishResult struct {
	Statement   Statement
	Commitment  *Commitment
	Signature   []byte
	SigHash     string
	AnchorWrites []anchor.WriteResult
}

// Publish runs the full disclosure flow: compute, commit, attach
// reconciliation, sign, anchor, persist, and append a
// DisclosurePublished event.
//
// now is injected rather than calling time.Now() so delay_days gating
// and generated_at are deterministic under test.
func Publish(
	ctx context.Context,
	db *gorm.DB,
	rows []ledger.Row,
	shipmentCosts map[uuid.UUID]int64,
	pol policy.Policy,
	periodStart, periodEnd time.Time,
	groupBy []string,
	signers *signer.Registry,
	ledgerStore Appender,
	anchorer Anchorer,
	now time.Time,
) (*PublishResult, error) {
	reg := metrics.Default()
	start := time.Now()
	outcome := "error"
	defer func() {
		reg.PublishLatency.Observe(time.Since(start).Seconds())
		reg.PublishesTotal.WithLabelValues(pol.PolicyID, outcome).Inc()
	}()

	cutoff := now.AddDate(0, 0, -pol.DelayDays)
	if periodEnd.After(cutoff) {
		return nil, ledgererr.New(ledgererr.PeriodTooRecent, fmt.Sprintf("disclosure: period end %s is inside the %d day delay window", periodEnd.UTC().Format(time.RFC3339), pol.DelayDays))
	}

	policyHash, err := pol.Hash()
	if err != nil {
		return nil, fmt.Errorf("disclosure: hash policy: %w", err)
	}

	scoped := filterPeriod(rows, periodStart, periodEnd)
	pnlReport := reports.GeneratePnL(scoped, shipmentCosts)

	comp, err := Compute(rows, pol.AllowedMetrics, pol.AllowedGroupBy, periodStart, periodEnd, groupBy, PnLInput{CogsCents: pnlReport.CogsCents})
	if err != nil {
		return nil, fmt.Errorf("disclosure: compute: %w", err)
	}
	comp = applyRedaction(comp, pol)

	commitment, err := BuildCommitments(comp, pol, policyHash, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("disclosure: build commitments: %w", err)
	}

	disclosedRevenue := comp.Metrics["revenue_cents"]
	reconciliation := reconcile.RunMinimumReconciliation(scoped, disclosedRevenue, pnlReport)

	disclosureUUID := uuid.New()
	disclosureID := disclosureUUID.String()
	statement := Statement{
		DisclosureID:   disclosureID,
		PolicyID:       pol.PolicyID,
		PolicyHash:     policyHash,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		Metrics:        comp.Metrics,
		GroupedMetrics: comp.GroupedMetrics,
		RootSummary:    commitment.RootSummary,
		RootDetails:    commitment.RootDetails,
		ProofLevel:     pol.ProofLevel,
		LeafPayloads:   commitment.LeafPayloads,
		Reconciliation: reconciliation,
		GeneratedAt:    now,
	}

	sig, err := signers.Sign(signer.RoleAgent, statement.toCanonical())
	if err != nil {
		return nil, fmt.Errorf("disclosure: sign statement: %w", err)
	}

	sigHash, err := canonical.Hash(canonical.Map{
		"signature":     canonical.Bytes(sig),
		"disclosure_id": disclosureID,
	})
	if err != nil {
		return nil, fmt.Errorf("disclosure: hash signature: %w", err)
	}

	anchorWrites, err := anchorer.AnchorDisclosure(ctx, disclosureID, periodStart, pol.PolicyID, commitment.RootSummary, commitment.RootDetails)
	if err != nil {
		return nil, fmt.Errorf("disclosure: anchor: %w", err)
	}

	statementJSON, err := canonical.ToBytes(statement.toCanonical())
	if err != nil {
		return nil, fmt.Errorf("disclosure: encode statement: %w", err)
	}

	run := &DisclosureRun{
		ID:               disclosureUUID,
		PolicyID:         pol.PolicyID,
		PolicyHash:       policyHash,
		PeriodStart:      periodStart,
		PeriodEnd:        periodEnd,
		StatementJSON:    statementJSON,
		RootSummary:      commitment.RootSummary,
		RootDetails:      commitment.RootDetails,
		Signature:        sig,
		StatementSigHash: sigHash,
		GeneratedAt:      now,
	}
	if err := db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("disclosure: persist run: %w", err)
	}

	anchorRef := canonical.Map{}
	for _, w := range anchorWrites {
		anchorRef[w.Key] = canonical.Map{"backend": w.Backend, "tx_id": w.TxID}
	}

	metrics := make(map[string]int64, len(comp.Metrics))
	for k, v := range comp.Metrics {
		metrics[k] = v
	}

	req := ledger.AppendRequest{
		EventType: events.DisclosurePublished,
		Actor:     events.Actor{Type: signer.ActorSystem, ID: "disclosure-publisher"},
		PolicyID:  pol.PolicyID,
		Payload: events.DisclosurePublishedPayload{
			DisclosureID: disclosureID,
			PolicyID:     pol.PolicyID,
			Period: map[string]string{
				"start": periodStart.UTC().Format(time.RFC3339),
				"end":   periodEnd.UTC().Format(time.RFC3339),
			},
			Metrics:          metrics,
			MerkleRoot:       commitment.RootSummary,
			AnchorRef:        anchorRef,
			StatementSigHash: sigHash,
		},
	}
	if _, err := ledgerStore.Append(ctx, req, signer.RoleAgent); err != nil {
		return nil, fmt.Errorf("disclosure: append DisclosurePublished: %w", err)
	}

	outcome = "ok"
	return &PublishResult{
		Statement:    statement,
		Commitment:   commitment,
		Signature:    sig,
		SigHash:      sigHash,
		AnchorWrites: anchorWrites,
	}, nil
}
