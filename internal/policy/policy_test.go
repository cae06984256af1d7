package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogLoadsFourPolicies(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)

	list := cat.List()
	require.Len(t, list, 4)

	ids := make([]string, len(list))
	for i, p := range list {
		ids[i] = p.PolicyID
	}
	require.Equal(t, []string{
		"policy_auditor_v1",
		"policy_investor_v1",
		"policy_partner_v1",
		"policy_public_v1",
	}, ids)
}

func TestPolicyPublicV1Shape(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)

	p, ok := cat.Get("policy_public_v1")
	require.True(t, ok)
	require.Equal(t, AudiencePublic, p.Audience)
	require.Equal(t, ProofLevelRootPlusProof, p.ProofLevel)
	require.True(t, p.AllowsMetric("revenue_cents"))
	require.False(t, p.AllowsMetric("cogs_cents"))
	require.True(t, p.AllowsGroupBy([]string{"channel"}))
	require.False(t, p.AllowsGroupBy([]string{"sku"}))
}

func TestAuditorPolicyAllowsUnitCostDisclosure(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)

	p, ok := cat.Get("policy_auditor_v1")
	require.True(t, ok)
	require.False(t, p.Redaction.HideUnitCost)
	require.Equal(t, ProofLevelSelectiveDisclosureReady, p.ProofLevel)
}

func TestPolicyHashStableAndSensitiveToContent(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)

	p, _ := cat.Get("policy_public_v1")
	h1, err := p.Hash()
	require.NoError(t, err)
	h2, err := p.Hash()
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	p.DelayDays = 99
	h3, err := p.Hash()
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}

func TestGetUnknownPolicyIDMisses(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)

	_, ok := cat.Get("policy_does_not_exist")
	require.False(t, ok)
}
