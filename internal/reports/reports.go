// Package reports builds the double-entry P&L statement the disclosure
// compiler reads cogs_cents from: each recognized event becomes one
// posting against a fixed chart of accounts, and the four headline
// balances are summed directly from the postings.
package reports

import (
	"time"

	"github.com/google/uuid"

	"github.com/kuibu/transparent-company/internal/events"
	"github.com/kuibu/transparent-company/internal/ledger"
	"github.com/kuibu/transparent-company/pkg/canonical"
)

// The chart of accounts. Every posting debits one and credits another.
const (
	AccountCash         = "Assets:Cash"
	AccountInventory    = "Assets:Inventory"
	AccountSales        = "Income:Sales"
	AccountCOGS         = "Expenses:COGS"
	AccountRefunds      = "Expenses:Refunds"
	AccountCompensation = "Expenses:Compensation"
)

// Posting is one double-entry line: a single amount moving from
// CreditAccount to DebitAccount.
type Posting struct {
	Date          time.Time
	Narration     string
	DebitAccount  string
	CreditAccount string
	AmountCents   int64
	EventID       uuid.UUID
	EventType     events.EventType
}

func strFieldRow(m canonical.Map, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func int64FieldRow(m canonical.Map, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func listFieldRow(m canonical.Map, key string) canonical.List {
	if v, ok := m[key].(canonical.List); ok {
		return v
	}
	return nil
}

func asMapRow(v any) (canonical.Map, bool) {
	m, ok := v.(canonical.Map)
	return m, ok
}

// EventsToPostings emits one posting per recognized event, in ledger
// order. shipmentCosts supplies the FIFO-costed COGS
// amount for each ShipmentDispatched event, keyed by its event id (the
// same map projection.Engine.ShipmentCosts returns).
func EventsToPostings(rows []ledger.Row, shipmentCosts map[uuid.UUID]int64) []Posting {
	var out []Posting
	for _, row := range rows {
		payload := row.Payload
		switch row.EventType {
		case events.GoodsReceived:
			if !boolFieldRow(payload, "qc_passed") {
				continue
			}
			var total int64
			for _, raw := range listFieldRow(payload, "items") {
				item, ok := asMapRow(raw)
				if !ok {
					continue
				}
				total += int64FieldRow(item, "qty") * int64FieldRow(item, "unit_cost")
			}
			out = append(out, Posting{
				Date:          row.OccurredAt,
				Narration:     "GoodsReceived " + strFieldRow(payload, "procurement_id"),
				DebitAccount:  AccountInventory,
				CreditAccount: AccountCash,
				AmountCents:   total,
				EventID:       row.EventID,
				EventType:     row.EventType,
			})

		case events.PaymentCaptured:
			out = append(out, Posting{
				Date:          row.OccurredAt,
				Narration:     "PaymentCaptured " + strFieldRow(payload, "order_id"),
				DebitAccount:  AccountCash,
				CreditAccount: AccountSales,
				AmountCents:   int64FieldRow(payload, "amount"),
				EventID:       row.EventID,
				EventType:     row.EventType,
			})

		case events.ShipmentDispatched:
			out = append(out, Posting{
				Date:          row.OccurredAt,
				Narration:     "ShipmentDispatched " + strFieldRow(payload, "order_id"),
				DebitAccount:  AccountCOGS,
				CreditAccount: AccountInventory,
				AmountCents:   shipmentCosts[row.EventID],
				EventID:       row.EventID,
				EventType:     row.EventType,
			})

		case events.RefundIssued:
			out = append(out, Posting{
				Date:          row.OccurredAt,
				Narration:     "RefundIssued " + strFieldRow(payload, "order_id"),
				DebitAccount:  AccountRefunds,
				CreditAccount: AccountCash,
				AmountCents:   int64FieldRow(payload, "amount"),
				EventID:       row.EventID,
				EventType:     row.EventType,
			})

		case events.CompanyCompensationIssued:
			out = append(out, Posting{
				Date:          row.OccurredAt,
				Narration:     "CompanyCompensationIssued " + strFieldRow(payload, "conflict_id"),
				DebitAccount:  AccountCompensation,
				CreditAccount: AccountCash,
				AmountCents:   int64FieldRow(payload, "amount"),
				EventID:       row.EventID,
				EventType:     row.EventType,
			})
		}
	}
	return out
}

func boolFieldRow(m canonical.Map, key string) bool {
	v, _ := m[key].(bool)
	return v
}

// PnL is the summarized profit-and-loss statement.
type PnL struct {
	IncomeSalesCents  int64
	CogsCents         int64
	RefundsCents      int64
	CompensationCents int64
	NetProfitCents    int64
	PostingCount      int
	Postings          []Posting
}

// GeneratePnL sums each account's postings into the four headline
// balances plus net profit.
func GeneratePnL(rows []ledger.Row, shipmentCosts map[uuid.UUID]int64) PnL {
	postings := EventsToPostings(rows, shipmentCosts)

	var pnl PnL
	pnl.Postings = postings
	pnl.PostingCount = len(postings)

	for _, p := range postings {
		switch {
		case p.DebitAccount == AccountCash && p.CreditAccount == AccountSales:
			pnl.IncomeSalesCents += p.AmountCents
		case p.DebitAccount == AccountCOGS:
			pnl.CogsCents += p.AmountCents
		case p.DebitAccount == AccountRefunds:
			pnl.RefundsCents += p.AmountCents
		case p.DebitAccount == AccountCompensation:
			pnl.CompensationCents += p.AmountCents
		}
	}

	pnl.NetProfitCents = pnl.IncomeSalesCents - pnl.CogsCents - pnl.RefundsCents - pnl.CompensationCents
	return pnl
}
