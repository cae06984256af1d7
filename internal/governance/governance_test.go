package governance

import (
	"testing"

	"github.com/kuibu/transparent-company/pkg/canonical"
	"github.com/kuibu/transparent-company/pkg/signer"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyAllowsOrdinaryEvent(t *testing.T) {
	eng, err := NewEngine(DefaultPolicy())
	require.NoError(t, err)

	d := eng.Evaluate("event:OrderPlaced", signer.ActorAgent, signer.RoleAgent, nil, nil, nil)
	require.True(t, d.Allowed)
	require.Empty(t, d.MatchedRuleID)
}

func TestDefaultPolicyDeniesUnknownTool(t *testing.T) {
	eng, err := NewEngine(DefaultPolicy())
	require.NoError(t, err)

	d := eng.Evaluate("tool:email.send", signer.ActorAgent, signer.RoleAgent, nil, nil, nil)
	require.False(t, d.Allowed)
	require.Empty(t, d.MatchedRuleID)
}

func TestLargeProcurementRequiresHumanApproval(t *testing.T) {
	eng, err := NewEngine(DefaultPolicy())
	require.NoError(t, err)

	payload := canonical.Map{
		"items": canonical.List{
			canonical.Map{"qty": 10, "unit_cost": 100_000},
		},
	}

	d := eng.Evaluate("event:ProcurementOrdered", signer.ActorAgent, signer.RoleAgent, payload, nil, nil)
	require.False(t, d.Allowed)
	require.Equal(t, "procurement_gt_5000_human", d.MatchedRuleID)

	d2 := eng.Evaluate("event:ProcurementOrdered", signer.ActorHuman, signer.RoleHuman, payload, nil, nil)
	require.True(t, d2.Allowed)
	require.Equal(t, "procurement_gt_5000_human", d2.MatchedRuleID)
}

func TestSmallProcurementSkipsRule(t *testing.T) {
	eng, err := NewEngine(DefaultPolicy())
	require.NoError(t, err)

	payload := canonical.Map{
		"items": canonical.List{
			canonical.Map{"qty": 1, "unit_cost": 100},
		},
	}
	d := eng.Evaluate("event:ProcurementOrdered", signer.ActorAgent, signer.RoleAgent, payload, nil, nil)
	require.True(t, d.Allowed)
	require.Empty(t, d.MatchedRuleID)
}

func TestBankTransferRequiresHumanSignerAndApproval(t *testing.T) {
	eng, err := NewEngine(DefaultPolicy())
	require.NoError(t, err)

	d := eng.Evaluate("tool:payment.bank_transfer", signer.ActorHuman, signer.RoleAgent, nil, nil, nil)
	require.False(t, d.Allowed)
	require.Equal(t, "bank_transfer_human_only", d.MatchedRuleID)

	d2 := eng.Evaluate("tool:payment.bank_transfer", signer.ActorHuman, signer.RoleHuman, nil, nil, nil)
	require.True(t, d2.Allowed)
}

func TestPolicyHashStableAcrossManifestCalls(t *testing.T) {
	eng, err := NewEngine(DefaultPolicy())
	require.NoError(t, err)

	m1 := eng.PolicyManifest()
	m2 := eng.PolicyManifest()
	require.Equal(t, m1["policy_hash"], m2["policy_hash"])
	require.NotEmpty(t, m1["policy_hash"])
}

func TestCustomDefaultDecisionEventDeny(t *testing.T) {
	policy := &GovernancePolicy{
		PolicyID: "custom",
		Version:  "0.0.1",
		Default:  DefaultDecision{ToolDefault: DecisionDeny, EventDefault: DecisionDeny},
	}
	eng, err := NewEngine(policy)
	require.NoError(t, err)

	d := eng.Evaluate("event:OrderPlaced", signer.ActorAgent, signer.RoleAgent, nil, nil, nil)
	require.False(t, d.Allowed)
}
