package reports

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kuibu/transparent-company/internal/events"
	"github.com/kuibu/transparent-company/internal/ledger"
	"github.com/kuibu/transparent-company/pkg/canonical"
	"github.com/kuibu/transparent-company/pkg/signer"
)

func row(seq int64, eventID uuid.UUID, evType events.EventType, payload canonical.Map, occurredAt time.Time) ledger.Row {
	return ledger.Row{
		SeqID:      seq,
		EventID:    eventID,
		EventType:  evType,
		OccurredAt: occurredAt,
		Actor:      events.Actor{Type: signer.ActorAgent, ID: "agent-1"},
		Payload:    payload,
		ToolTrace:  canonical.Map{},
	}
}

func TestEventsToPostingsCoversAllRecognizedEventTypes(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	shipmentID := uuid.New()

	rows := []ledger.Row{
		row(1, uuid.New(), events.GoodsReceived, canonical.Map{
			"procurement_id": "p-1", "batch_id": "b-1", "qc_passed": true,
			"items": canonical.List{canonical.Map{"sku": "sku-1", "qty": int64(10), "unit_cost": int64(100)}},
		}, t0),
		row(2, uuid.New(), events.PaymentCaptured, canonical.Map{
			"order_id": "o-1", "amount": int64(1000),
		}, t0),
		row(3, shipmentID, events.ShipmentDispatched, canonical.Map{
			"order_id": "o-1", "carrier_ref": "c-1",
			"items": canonical.List{canonical.Map{"sku": "sku-1", "qty": int64(2)}},
		}, t0),
		row(4, uuid.New(), events.RefundIssued, canonical.Map{
			"order_id": "o-1", "amount": int64(150),
		}, t0),
		row(5, uuid.New(), events.CompanyCompensationIssued, canonical.Map{
			"conflict_id": "conf-1", "order_id": "o-1", "amount": int64(75), "reason": "late_delivery", "receipt_hash": "h",
		}, t0),
	}

	shipmentCosts := map[uuid.UUID]int64{shipmentID: 200}

	postings := EventsToPostings(rows, shipmentCosts)
	require.Len(t, postings, 5)

	require.Equal(t, AccountInventory, postings[0].DebitAccount)
	require.Equal(t, AccountCash, postings[0].CreditAccount)
	require.Equal(t, int64(1000), postings[0].AmountCents)

	require.Equal(t, AccountCash, postings[1].DebitAccount)
	require.Equal(t, AccountSales, postings[1].CreditAccount)
	require.Equal(t, int64(1000), postings[1].AmountCents)

	require.Equal(t, AccountCOGS, postings[2].DebitAccount)
	require.Equal(t, AccountInventory, postings[2].CreditAccount)
	require.Equal(t, int64(200), postings[2].AmountCents)

	require.Equal(t, AccountRefunds, postings[3].DebitAccount)
	require.Equal(t, int64(150), postings[3].AmountCents)

	require.Equal(t, AccountCompensation, postings[4].DebitAccount)
	require.Equal(t, AccountCash, postings[4].CreditAccount)
	require.Equal(t, int64(75), postings[4].AmountCents)
}

func TestEventsToPostingsSkipsGoodsReceivedThatFailedQC(t *testing.T) {
	t0 := time.Now().UTC()
	rows := []ledger.Row{
		row(1, uuid.New(), events.GoodsReceived, canonical.Map{
			"procurement_id": "p-1", "batch_id": "b-1", "qc_passed": false,
			"items": canonical.List{canonical.Map{"sku": "sku-1", "qty": int64(10), "unit_cost": int64(100)}},
		}, t0),
	}
	postings := EventsToPostings(rows, nil)
	require.Empty(t, postings)
}

func TestGeneratePnLNetsIncomeAgainstCogsRefundsAndCompensation(t *testing.T) {
	t0 := time.Now().UTC()
	shipmentID := uuid.New()

	rows := []ledger.Row{
		row(1, uuid.New(), events.PaymentCaptured, canonical.Map{
			"order_id": "o-1", "amount": int64(10000),
		}, t0),
		row(2, shipmentID, events.ShipmentDispatched, canonical.Map{
			"order_id": "o-1", "carrier_ref": "c-1",
			"items": canonical.List{canonical.Map{"sku": "sku-1", "qty": int64(2)}},
		}, t0),
		row(3, uuid.New(), events.RefundIssued, canonical.Map{
			"order_id": "o-1", "amount": int64(500),
		}, t0),
		row(4, uuid.New(), events.CompanyCompensationIssued, canonical.Map{
			"conflict_id": "conf-1", "amount": int64(300), "reason": "late_delivery", "receipt_hash": "h",
		}, t0),
	}
	shipmentCosts := map[uuid.UUID]int64{shipmentID: 4000}

	pnl := GeneratePnL(rows, shipmentCosts)

	require.Equal(t, int64(10000), pnl.IncomeSalesCents)
	require.Equal(t, int64(4000), pnl.CogsCents)
	require.Equal(t, int64(500), pnl.RefundsCents)
	require.Equal(t, int64(300), pnl.CompensationCents)
	require.Equal(t, int64(10000-4000-500-300), pnl.NetProfitCents)
	require.Equal(t, 4, pnl.PostingCount)
}

func TestGeneratePnLPostsCompensationExpense(t *testing.T) {
	// CompanyCompensationIssued must land in Expenses:Compensation, not
	// vanish from the report.
	t0 := time.Now().UTC()
	rows := []ledger.Row{
		row(1, uuid.New(), events.CompanyCompensationIssued, canonical.Map{
			"conflict_id": "conf-1", "amount": int64(500), "reason": "damaged_goods", "receipt_hash": "h",
		}, t0),
	}

	pnl := GeneratePnL(rows, nil)
	require.Equal(t, int64(500), pnl.CompensationCents)
	require.Equal(t, int64(-500), pnl.NetProfitCents)
}
