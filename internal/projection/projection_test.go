package projection

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kuibu/transparent-company/internal/events"
	"github.com/kuibu/transparent-company/internal/ledger"
	"github.com/kuibu/transparent-company/internal/ledgererr"
	"github.com/kuibu/transparent-company/pkg/canonical"
	"github.com/kuibu/transparent-company/pkg/signer"
)

func row(seq int64, evType events.EventType, payload canonical.Map, occurredAt time.Time) ledger.Row {
	return ledger.Row{
		SeqID:      seq,
		EventID:    uuid.New(),
		EventType:  evType,
		OccurredAt: occurredAt,
		Actor:      events.Actor{Type: signer.ActorAgent, ID: "agent-1"},
		Payload:    payload,
		ToolTrace:  canonical.Map{},
	}
}

func TestOrderStatusMonotonicAcrossEvents(t *testing.T) {
	e := New()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, e.Apply(row(1, events.OrderPlaced, canonical.Map{
		"order_id": "o-1", "customer_ref": "c-1", "channel": "web",
		"items": canonical.List{canonical.Map{"sku": "sku-1", "qty": int64(2), "unit_price": int64(500)}},
	}, t0)))

	order, ok := e.Order("o-1")
	require.True(t, ok)
	require.Equal(t, StatusPlaced, order.Status)

	require.NoError(t, e.Apply(row(2, events.PaymentCaptured, canonical.Map{"order_id": "o-1", "amount": int64(1000)}, t0)))
	order, _ = e.Order("o-1")
	require.Equal(t, StatusPaid, order.Status)
	require.Equal(t, int64(1000), order.PaidCents)

	require.NoError(t, e.Apply(row(3, events.GoodsReceived, canonical.Map{
		"procurement_id": "", "batch_id": "b-1", "qc_passed": true,
		"items": canonical.List{canonical.Map{"sku": "sku-1", "qty": int64(10), "expiry_date": "2026-02-01", "unit_cost": int64(100)}},
	}, t0)))

	require.NoError(t, e.Apply(row(4, events.ShipmentDispatched, canonical.Map{
		"order_id": "o-1", "carrier_ref": "carrier-1",
		"items": canonical.List{canonical.Map{"sku": "sku-1", "qty": int64(2)}},
	}, t0)))
	order, _ = e.Order("o-1")
	require.Equal(t, StatusShipped, order.Status)
	require.Equal(t, int64(2), order.ShippedQty)

	require.NoError(t, e.Apply(row(5, events.RefundIssued, canonical.Map{"order_id": "o-1", "amount": int64(500)}, t0)))
	order, _ = e.Order("o-1")
	require.Equal(t, StatusRefunded, order.Status)

	// a later payment must not move status backward from refunded.
	require.NoError(t, e.Apply(row(6, events.PaymentCaptured, canonical.Map{"order_id": "o-1", "amount": int64(0)}, t0)))
	order, _ = e.Order("o-1")
	require.Equal(t, StatusRefunded, order.Status)
}

func TestGoodsReceivedWeightedAverageCost(t *testing.T) {
	e := New()
	t0 := time.Now().UTC()

	require.NoError(t, e.Apply(row(1, events.GoodsReceived, canonical.Map{
		"batch_id": "b-1", "qc_passed": true,
		"items": canonical.List{canonical.Map{"sku": "sku-1", "qty": int64(10), "expiry_date": "2026-02-01", "unit_cost": int64(100)}},
	}, t0)))
	require.NoError(t, e.Apply(row(2, events.GoodsReceived, canonical.Map{
		"batch_id": "b-1", "qc_passed": true,
		"items": canonical.List{canonical.Map{"sku": "sku-1", "qty": int64(10), "expiry_date": "2026-02-01", "unit_cost": int64(200)}},
	}, t0)))

	lots := e.Lots()
	require.Len(t, lots, 1)
	require.Equal(t, int64(20), lots[0].QtyOnHand)
	require.Equal(t, int64(150), lots[0].UnitCostCents) // (10*100+10*200)/20
}

func TestShipmentConsumesFIFOByExpiryThenBatch(t *testing.T) {
	e := New()
	t0 := time.Now().UTC()

	require.NoError(t, e.Apply(row(1, events.GoodsReceived, canonical.Map{
		"batch_id": "b-late", "qc_passed": true,
		"items": canonical.List{canonical.Map{"sku": "sku-1", "qty": int64(5), "expiry_date": "2026-03-01", "unit_cost": int64(300)}},
	}, t0)))
	require.NoError(t, e.Apply(row(2, events.GoodsReceived, canonical.Map{
		"batch_id": "b-early", "qc_passed": true,
		"items": canonical.List{canonical.Map{"sku": "sku-1", "qty": int64(5), "expiry_date": "2026-01-01", "unit_cost": int64(100)}},
	}, t0)))

	require.NoError(t, e.Apply(row(3, events.ShipmentDispatched, canonical.Map{
		"order_id": "o-1", "carrier_ref": "c1",
		"items": canonical.List{canonical.Map{"sku": "sku-1", "qty": int64(5)}},
	}, t0)))

	costs := e.ShipmentCosts()
	require.Len(t, costs, 1)
	for _, cost := range costs {
		require.Equal(t, int64(500), cost) // 5 * 100 from the earlier-expiring lot
	}

	lots := e.Lots()
	var early, late *InventoryLot
	for _, l := range lots {
		if l.BatchID == "b-early" {
			early = l
		}
		if l.BatchID == "b-late" {
			late = l
		}
	}
	require.Equal(t, int64(0), early.QtyOnHand)
	require.Equal(t, int64(5), late.QtyOnHand)
}

func TestShipmentInsufficientStockFails(t *testing.T) {
	e := New()
	t0 := time.Now().UTC()

	require.NoError(t, e.Apply(row(1, events.GoodsReceived, canonical.Map{
		"batch_id": "b-1", "qc_passed": true,
		"items": canonical.List{canonical.Map{"sku": "sku-1", "qty": int64(1), "expiry_date": "2026-01-01", "unit_cost": int64(100)}},
	}, t0)))

	err := e.Apply(row(2, events.ShipmentDispatched, canonical.Map{
		"order_id": "o-1", "carrier_ref": "c1",
		"items": canonical.List{canonical.Map{"sku": "sku-1", "qty": int64(2)}},
	}, t0))
	var lerr *ledgererr.Error
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, ledgererr.NegativeInventory, lerr.Kind)

	// The failed shipment leaves inventory untouched and records no COGS.
	lots := e.Lots()
	require.Len(t, lots, 1)
	require.Equal(t, int64(1), lots[0].QtyOnHand)
	require.Empty(t, e.ShipmentCosts())

	// Exactly-sufficient stock still ships.
	require.NoError(t, e.Apply(row(3, events.ShipmentDispatched, canonical.Map{
		"order_id": "o-1", "carrier_ref": "c1",
		"items": canonical.List{canonical.Map{"sku": "sku-1", "qty": int64(1)}},
	}, t0)))
	require.Equal(t, int64(0), e.Lots()[0].QtyOnHand)
}

func TestInventoryAdjustedNegativeBeyondStockFails(t *testing.T) {
	e := New()
	t0 := time.Now().UTC()

	require.NoError(t, e.Apply(row(1, events.GoodsReceived, canonical.Map{
		"batch_id": "b-1", "qc_passed": true,
		"items": canonical.List{canonical.Map{"sku": "sku-1", "qty": int64(5), "expiry_date": "2026-01-01", "unit_cost": int64(100)}},
	}, t0)))

	err := e.Apply(row(2, events.InventoryAdjusted, canonical.Map{
		"reason": "waste",
		"items":  canonical.List{canonical.Map{"sku": "sku-1", "qty_delta": int64(-10), "batch_id": "b-1"}},
	}, t0))
	require.Error(t, err)
}

func TestRebuildIsDeterministic(t *testing.T) {
	t0 := time.Now().UTC()
	rows := []ledger.Row{
		row(1, events.OrderPlaced, canonical.Map{
			"order_id": "o-1", "customer_ref": "c-1", "channel": "web",
			"items": canonical.List{canonical.Map{"sku": "sku-1", "qty": int64(1), "unit_price": int64(100)}},
		}, t0),
		row(2, events.PaymentCaptured, canonical.Map{"order_id": "o-1", "amount": int64(100)}, t0),
	}

	e1, err := Rebuild(rows)
	require.NoError(t, err)
	e2, err := Rebuild(rows)
	require.NoError(t, err)

	require.Equal(t, e1.Orders()[0].Status, e2.Orders()[0].Status)
	require.Equal(t, e1.Orders()[0].PaidCents, e2.Orders()[0].PaidCents)
}
