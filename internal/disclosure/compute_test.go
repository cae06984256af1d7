package disclosure

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
		EventHash:  uuid.New().String(),
	}
}

func periodRows(t0 time.Time) []ledger.Row {
	return []ledger.Row{
		row(1, events.OrderPlaced, canonical.Map{
			"order_id": "o-1", "customer_ref": "c-1", "channel": "web", "region": "north",
			"items": canonical.List{canonical.Map{"sku": "tomato", "qty": int64(2), "unit_price": int64(500)}},
		}, t0),
		row(2, events.PaymentCaptured, canonical.Map{"order_id": "o-1", "amount": int64(1000)}, t0),
		row(3, events.GoodsReceived, canonical.Map{
			"batch_id": "b-1", "qc_passed": true,
			"items": canonical.List{canonical.Map{"sku": "tomato", "qty": int64(20), "expiry_date": "2026-02-01", "unit_cost": int64(100)}},
		}, t0),
		row(4, events.ShipmentDispatched, canonical.Map{
			"order_id": "o-1", "carrier_ref": "carrier-1",
			"items": canonical.List{canonical.Map{"sku": "tomato", "qty": int64(2)}},
		}, t0),
	}
}

func TestComputeRevenueAndOrdersCount(t *testing.T) {
	t0 := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	rows := periodRows(t0)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	allowed := []string{"revenue_cents", "orders_count", "shipment_qty"}
	comp, err := Compute(rows, allowed, nil, start, end, nil, PnLInput{})
	require.NoError(t, err)

	require.Equal(t, int64(1000), comp.Metrics["revenue_cents"])
	require.Equal(t, int64(1), comp.Metrics["orders_count"])
	require.Equal(t, int64(2), comp.Metrics["shipment_qty"])
}

func TestComputeRejectsDisallowedGroupBy(t *testing.T) {
	t0 := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	rows := periodRows(t0)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	_, err := Compute(rows, []string{"revenue_cents"}, []string{"channel"}, start, end, []string{"sku"}, PnLInput{})
	var lerr *ledgererr.Error
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, ledgererr.GroupByNotAllowed, lerr.Kind)
}

func TestComputeGroupsRevenueByAllowedDimension(t *testing.T) {
	t0 := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	rows := periodRows(t0)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	comp, err := Compute(rows, []string{"revenue_cents"}, []string{"channel"}, start, end, []string{"channel"}, PnLInput{})
	require.NoError(t, err)
	require.Len(t, comp.GroupedMetrics, 1)
	require.Equal(t, "revenue_cents", comp.GroupedMetrics[0].MetricKey)
	require.Equal(t, "web", comp.GroupedMetrics[0].Group["channel"])
	require.Equal(t, int64(1000), comp.GroupedMetrics[0].Value)
}

func TestComputeExcludesRowsOutsidePeriod(t *testing.T) {
	t0 := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	rows := periodRows(t0)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	comp, err := Compute(rows, []string{"revenue_cents", "orders_count"}, nil, start, end, nil, PnLInput{})
	require.NoError(t, err)
	require.Equal(t, int64(0), comp.Metrics["revenue_cents"])
	require.Equal(t, int64(0), comp.Metrics["orders_count"])
}

func TestComputeRefundRateAndConflictRate(t *testing.T) {
	t0 := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	rows := periodRows(t0)
	rows = append(rows,
		row(5, events.RefundIssued, canonical.Map{"order_id": "o-1", "amount": int64(200)}, t0),
		row(6, events.CustomerConflictReported, canonical.Map{
			"conflict_id": "cf-1", "order_id": "o-1", "customer_ref": "c-1", "severity": "low",
		}, t0),
	)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	comp, err := Compute(rows, []string{"revenue_cents", "refunds_cents", "refund_rate_bps", "conflict_count", "conflict_rate_bps", "orders_count"}, nil, start, end, nil, PnLInput{})
	require.NoError(t, err)

	require.Equal(t, int64(200), comp.Metrics["refunds_cents"])
	require.Equal(t, int64(2000), comp.Metrics["refund_rate_bps"]) // 200/1000 = 20%
	require.Equal(t, int64(1), comp.Metrics["conflict_count"])
	require.Equal(t, int64(10000), comp.Metrics["conflict_rate_bps"]) // 1 conflict / 1 order
}

func TestComputeSupplierSettlementTermBucketing(t *testing.T) {
	t0 := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	procuredAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []ledger.Row{
		row(1, events.ProcurementOrdered, canonical.Map{
			"procurement_id": "p-1", "supplier_id": "s-1",
			"items": canonical.List{canonical.Map{"sku": "tomato", "qty": int64(100), "unit_cost": int64(50)}},
		}, procuredAt),
		row(2, events.ToolInvocationLogged, canonical.Map{
			"run_id": "r-1", "task_id": "t-1", "connector": "payment", "action": "bank_transfer",
			"status": "succeeded", "attempt": int64(1), "amount_cents": int64(5000),
			"supplier_id": "s-1", "settlement_procurement_id": "p-1", "purpose": "supplier settlement",
		}, t0),
	}

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	comp, err := Compute(rows, []string{"supplier_settlement_cents", "supplier_payment_term_days_avg", "supplier_term_long_ratio_bps"}, []string{"sku"}, start, end, nil, PnLInput{})
	require.NoError(t, err)

	require.Equal(t, int64(5000), comp.Metrics["supplier_settlement_cents"])
	require.Equal(t, int64(19), comp.Metrics["supplier_payment_term_days_avg"])
	require.Equal(t, int64(10000), comp.Metrics["supplier_term_long_ratio_bps"])
}
