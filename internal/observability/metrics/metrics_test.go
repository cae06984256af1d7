package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsSingletonAndRegistersAllMetrics(t *testing.T) {
	a := Default()
	b := Default()
	require.Same(t, a, b)
	require.NotNil(t, a.AppendsTotal)
	require.NotNil(t, a.PublishesTotal)
	require.NotNil(t, a.RevealsTotal)
	require.NotNil(t, a.GovernanceDenials)
	require.NotNil(t, a.AnchorFallbacks)
	require.NotNil(t, a.ChainVerified)
}
