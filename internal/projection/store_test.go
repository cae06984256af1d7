package projection

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kuibu/transparent-company/internal/events"
	"github.com/kuibu/transparent-company/pkg/canonical"
)

func TestStorePersistAndLoadRoundTrip(t *testing.T) {
	e := New()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, e.Apply(row(1, events.OrderPlaced, canonicalOrderPayload("o-1"), t0)))
	require.NoError(t, e.Apply(row(2, events.GoodsReceived, canonicalGoodsReceivedPayload(), t0)))

	dbPath := filepath.Join(t.TempDir(), "projection.db")
	store, err := OpenStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Persist(e))

	loaded, err := store.Load()
	require.NoError(t, err)

	order, ok := loaded.Order("o-1")
	require.True(t, ok)
	require.Equal(t, StatusPlaced, order.Status)
	require.Len(t, order.Items, 1)

	lots := loaded.Lots()
	require.Len(t, lots, 1)
	require.Equal(t, int64(10), lots[0].QtyOnHand)
}

func canonicalOrderPayload(orderID string) canonical.Map {
	return canonical.Map{
		"order_id": orderID, "customer_ref": "c-1", "channel": "web",
		"items": canonical.List{canonical.Map{"sku": "sku-1", "qty": int64(1), "unit_price": int64(500)}},
	}
}

func canonicalGoodsReceivedPayload() canonical.Map {
	return canonical.Map{
		"batch_id": "b-1", "qc_passed": true,
		"items": canonical.List{canonical.Map{"sku": "sku-1", "qty": int64(10), "expiry_date": "2026-02-01", "unit_cost": int64(100)}},
	}
}
