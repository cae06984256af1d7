// Package reconcile runs the minimum cross-check set a disclosure must
// pass before publication: payments must equal disclosed revenue,
// inventory balances must never go negative across the scoped events,
// and every refund event must have a matching posting in the P&L
// report. Results are stapled to the statement, pass or fail.
package reconcile

import (
	"fmt"

	"github.com/kuibu/transparent-company/internal/events"
	"github.com/kuibu/transparent-company/internal/ledger"
	"github.com/kuibu/transparent-company/internal/reports"
	"github.com/kuibu/transparent-company/pkg/canonical"
)

// Rule identifiers, stable across the wire.
const (
	RulePaymentEqualsRevenue  = "payment_equals_revenue"
	RuleInventoryNonNegative  = "inventory_non_negative"
	RuleRefundPostingExists   = "refund_posting_exists"
)

// Result is the outcome of one reconciliation rule.
type Result struct {
	Rule   string
	Passed bool
	Detail string
}

func strField(m canonical.Map, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func int64Field(m canonical.Map, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func boolField(m canonical.Map, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func listField(m canonical.Map, key string) canonical.List {
	if v, ok := m[key].(canonical.List); ok {
		return v
	}
	return nil
}

func asMap(v any) (canonical.Map, bool) {
	m, ok := v.(canonical.Map)
	return m, ok
}

// CheckPaymentEqualsRevenue sums every PaymentCaptured.amount and
// compares it against the revenue the disclosure actually published.
func CheckPaymentEqualsRevenue(rows []ledger.Row, disclosedRevenueCents int64) Result {
	var payments int64
	for _, row := range rows {
		if row.EventType == events.PaymentCaptured {
			payments += int64Field(row.Payload, "amount")
		}
	}
	passed := payments == disclosedRevenueCents
	return Result{
		Rule:   RulePaymentEqualsRevenue,
		Passed: passed,
		Detail: fmt.Sprintf("payments=%d, disclosed_revenue=%d", payments, disclosedRevenueCents),
	}
}

// CheckInventoryNonNegative replays GoodsReceived (qc-passed only),
// ShipmentDispatched, and InventoryAdjusted in ledger order and fails
// fast the moment any sku's running balance goes negative.
func CheckInventoryNonNegative(rows []ledger.Row) Result {
	balances := map[string]int64{}

	for _, row := range rows {
		switch row.EventType {
		case events.GoodsReceived:
			if !boolField(row.Payload, "qc_passed") {
				continue
			}
			for _, raw := range listField(row.Payload, "items") {
				item, ok := asMap(raw)
				if !ok {
					continue
				}
				balances[strField(item, "sku")] += int64Field(item, "qty")
			}

		case events.ShipmentDispatched:
			for _, raw := range listField(row.Payload, "items") {
				item, ok := asMap(raw)
				if !ok {
					continue
				}
				sku := strField(item, "sku")
				balances[sku] -= int64Field(item, "qty")
				if balances[sku] < 0 {
					return Result{
						Rule:   RuleInventoryNonNegative,
						Passed: false,
						Detail: fmt.Sprintf("negative inventory for sku=%s", sku),
					}
				}
			}

		case events.InventoryAdjusted:
			for _, raw := range listField(row.Payload, "items") {
				item, ok := asMap(raw)
				if !ok {
					continue
				}
				sku := strField(item, "sku")
				balances[sku] += int64Field(item, "qty_delta")
				if balances[sku] < 0 {
					return Result{
						Rule:   RuleInventoryNonNegative,
						Passed: false,
						Detail: fmt.Sprintf("negative inventory after adjustment sku=%s", sku),
					}
				}
			}
		}
	}

	return Result{Rule: RuleInventoryNonNegative, Passed: true, Detail: "ok"}
}

// CheckRefundPostingExists compares the sum of RefundIssued.amount
// against the refunds account balance the P&L actually posted.
func CheckRefundPostingExists(rows []ledger.Row, pnl reports.PnL) Result {
	var refundTotal int64
	var count int
	for _, row := range rows {
		if row.EventType == events.RefundIssued {
			refundTotal += int64Field(row.Payload, "amount")
			count++
		}
	}
	if count == 0 {
		return Result{Rule: RuleRefundPostingExists, Passed: true, Detail: "no refunds"}
	}

	passed := refundTotal == pnl.RefundsCents
	return Result{
		Rule:   RuleRefundPostingExists,
		Passed: passed,
		Detail: fmt.Sprintf("refund_events=%d, posted_refunds=%d", refundTotal, pnl.RefundsCents),
	}
}

// RunMinimumReconciliation runs the full minimum rule set in a fixed
// order.
func RunMinimumReconciliation(rows []ledger.Row, disclosedRevenueCents int64, pnl reports.PnL) []Result {
	return []Result{
		CheckPaymentEqualsRevenue(rows, disclosedRevenueCents),
		CheckInventoryNonNegative(rows),
		CheckRefundPostingExists(rows, pnl),
	}
}
