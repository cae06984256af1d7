// Package disclosure implements the disclosure compiler: compute
// aggregate metrics over a period under a named policy, bind them to a
// Merkle commitment, sign the statement, and anchor it to an external
// immutable store.
//
// compute.go does its aggregation with plain maps over typed row structs
// extracted from canonical ledger payloads; the rows are already in
// memory as Go values when compute runs, so there is nothing a query
// engine or dataframe layer would add.
package disclosure

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kuibu/transparent-company/internal/events"
	"github.com/kuibu/transparent-company/internal/ledger"
	"github.com/kuibu/transparent-company/internal/ledgererr"
	"github.com/kuibu/transparent-company/pkg/canonical"
)

var skuCategory = map[string]string{
	"tomato":   "vegetable",
	"cucumber": "vegetable",
	"fish":     "aquatic",
	"tea":      "tea",
	"apple":    "fruit",
}

func categoryFor(sku string) string {
	if c, ok := skuCategory[sku]; ok {
		return c
	}
	return sku
}

func customerID(customerRef string) string {
	if customerRef == "" {
		return ""
	}
	id := strings.SplitN(customerRef, ":", 2)[0]
	return strings.TrimSpace(id)
}

// OrderLine is one sku line of an OrderPlaced event, carrying enough of
// the order's dimensional context to group revenue/refund/compensation
// metrics by channel, region, sku, etc.
type OrderLine struct {
	OrderID         string
	CustomerID      string
	SKU             string
	Category        string
	Qty             int64
	UnitPrice       int64
	LineRevenue     int64
	Channel         string
	Region          string
	StoreID         string
	TimeSlot        string
	PromotionID     string
	PromotionPhase  string
	SourceEventHash string
}

type orderMeta struct {
	Channel        string
	Region         string
	StoreID        string
	TimeSlot       string
	PromotionID    string
	PromotionPhase string
	CustomerID     string
}

type paymentRow struct {
	OrderID   string
	Amount    int64
	EventHash string
}

type refundRow struct {
	OrderID   string
	Amount    int64
	EventHash string
}

type compensationRow struct {
	ConflictID string
	OrderID    string
	Amount     int64
	OccurredAt time.Time
	EventHash  string
}

type conflictRow struct {
	ConflictID string
	OrderID    string
	EventHash  string
}

type complaintRow struct {
	ComplaintID string
	OrderID     string
	OccurredAt  time.Time
	EventHash   string
}

type qcRow struct {
	SKU       string
	Qty       int64
	QCPassed  bool
	EventHash string
}

type procurementRow struct {
	ProcurementID string
	OccurredAt    time.Time
}

type settlementRow struct {
	Amount                  int64
	SupplierID              string
	SettlementProcurementID string
	Purpose                 string
	OccurredAt              time.Time
	EventHash               string
}

type shipmentLine struct {
	OrderID        string
	SKU            string
	Category       string
	Qty            int64
	Channel        string
	Region         string
	StoreID        string
	TimeSlot       string
	PromotionID    string
	PromotionPhase string
	EventHash      string
}

func inPeriod(row ledger.Row, start, end time.Time) bool {
	t := row.OccurredAt.UTC()
	return !t.Before(start) && t.Before(end)
}

func filterPeriod(rows []ledger.Row, start, end time.Time) []ledger.Row {
	out := make([]ledger.Row, 0, len(rows))
	for _, r := range rows {
		if inPeriod(r, start, end) {
			out = append(out, r)
		}
	}
	return out
}

func extractOrderLines(rows []ledger.Row) ([]OrderLine, map[string]orderMeta) {
	var lines []OrderLine
	meta := make(map[string]orderMeta)
	for _, row := range rows {
		if row.EventType != events.OrderPlaced {
			continue
		}
		orderID := strField(row.Payload, "order_id")
		custID := customerID(strField(row.Payload, "customer_ref"))
		m := orderMeta{
			Channel:        strField(row.Payload, "channel"),
			Region:         strField(row.Payload, "region"),
			StoreID:        strField(row.Payload, "store_id"),
			TimeSlot:       strField(row.Payload, "time_slot"),
			PromotionID:    strField(row.Payload, "promotion_id"),
			PromotionPhase: strField(row.Payload, "promotion_phase"),
			CustomerID:     custID,
		}
		meta[orderID] = m
		for _, raw := range listField(row.Payload, "items") {
			item, ok := asMap(raw)
			if !ok {
				continue
			}
			sku := strField(item, "sku")
			qty := int64Field(item, "qty")
			unitPrice := int64Field(item, "unit_price")
			lines = append(lines, OrderLine{
				OrderID:         orderID,
				CustomerID:      custID,
				SKU:             sku,
				Category:        categoryFor(sku),
				Qty:             qty,
				UnitPrice:       unitPrice,
				LineRevenue:     qty * unitPrice,
				Channel:         m.Channel,
				Region:          m.Region,
				StoreID:         m.StoreID,
				TimeSlot:        m.TimeSlot,
				PromotionID:     m.PromotionID,
				PromotionPhase:  m.PromotionPhase,
				SourceEventHash: row.EventHash,
			})
		}
	}
	return lines, meta
}

func extractPayments(rows []ledger.Row) []paymentRow {
	var out []paymentRow
	for _, row := range rows {
		if row.EventType != events.PaymentCaptured {
			continue
		}
		out = append(out, paymentRow{
			OrderID:   strField(row.Payload, "order_id"),
			Amount:    int64Field(row.Payload, "amount"),
			EventHash: row.EventHash,
		})
	}
	return out
}

func extractRefunds(rows []ledger.Row) []refundRow {
	var out []refundRow
	for _, row := range rows {
		if row.EventType != events.RefundIssued {
			continue
		}
		out = append(out, refundRow{
			OrderID:   strField(row.Payload, "order_id"),
			Amount:    int64Field(row.Payload, "amount"),
			EventHash: row.EventHash,
		})
	}
	return out
}

func extractCompensation(rows []ledger.Row) []compensationRow {
	var out []compensationRow
	for _, row := range rows {
		if row.EventType != events.CompanyCompensationIssued {
			continue
		}
		out = append(out, compensationRow{
			ConflictID: strField(row.Payload, "conflict_id"),
			OrderID:    strField(row.Payload, "order_id"),
			Amount:     int64Field(row.Payload, "amount"),
			OccurredAt: row.OccurredAt.UTC(),
			EventHash:  row.EventHash,
		})
	}
	return out
}

func extractConflicts(rows []ledger.Row) []conflictRow {
	var out []conflictRow
	for _, row := range rows {
		if row.EventType != events.CustomerConflictReported {
			continue
		}
		out = append(out, conflictRow{
			ConflictID: strField(row.Payload, "conflict_id"),
			OrderID:    strField(row.Payload, "order_id"),
			EventHash:  row.EventHash,
		})
	}
	return out
}

func extractComplaints(rows []ledger.Row) []complaintRow {
	var out []complaintRow
	for _, row := range rows {
		if row.EventType != events.ComplaintLogged {
			continue
		}
		out = append(out, complaintRow{
			ComplaintID: strField(row.Payload, "complaint_id"),
			OrderID:     strField(row.Payload, "order_id"),
			OccurredAt:  row.OccurredAt.UTC(),
			EventHash:   row.EventHash,
		})
	}
	return out
}

func extractQC(rows []ledger.Row) []qcRow {
	var out []qcRow
	for _, row := range rows {
		if row.EventType != events.GoodsReceived {
			continue
		}
		qcPassed := boolField(row.Payload, "qc_passed")
		for _, raw := range listField(row.Payload, "items") {
			item, ok := asMap(raw)
			if !ok {
				continue
			}
			out = append(out, qcRow{
				SKU:       strField(item, "sku"),
				Qty:       int64Field(item, "qty"),
				QCPassed:  qcPassed,
				EventHash: row.EventHash,
			})
		}
	}
	return out
}

func extractProcurement(rows []ledger.Row) []procurementRow {
	var out []procurementRow
	for _, row := range rows {
		if row.EventType != events.ProcurementOrdered {
			continue
		}
		out = append(out, procurementRow{
			ProcurementID: strField(row.Payload, "procurement_id"),
			OccurredAt:    row.OccurredAt.UTC(),
		})
	}
	return out
}

func extractSettlements(rows []ledger.Row) []settlementRow {
	var out []settlementRow
	for _, row := range rows {
		if row.EventType != events.ToolInvocationLogged {
			continue
		}
		if strField(row.Payload, "connector") != "payment" || strField(row.Payload, "action") != "bank_transfer" {
			continue
		}
		amount := int64Field(row.Payload, "amount_cents")
		if amount <= 0 {
			continue
		}
		purpose := strField(row.Payload, "purpose")
		supplierID := strField(row.Payload, "supplier_id")
		settlementProcurementID := strField(row.Payload, "settlement_procurement_id")
		if supplierID == "" && settlementProcurementID == "" && !strings.Contains(purpose, "supplier") {
			continue
		}
		out = append(out, settlementRow{
			Amount:                  amount,
			SupplierID:              supplierID,
			SettlementProcurementID: settlementProcurementID,
			Purpose:                 purpose,
			OccurredAt:              row.OccurredAt.UTC(),
			EventHash:               row.EventHash,
		})
	}
	return out
}

func extractShipments(rows []ledger.Row, meta map[string]orderMeta) []shipmentLine {
	var out []shipmentLine
	for _, row := range rows {
		if row.EventType != events.ShipmentDispatched {
			continue
		}
		orderID := strField(row.Payload, "order_id")
		m := meta[orderID]
		for _, raw := range listField(row.Payload, "items") {
			item, ok := asMap(raw)
			if !ok {
				continue
			}
			sku := strField(item, "sku")
			out = append(out, shipmentLine{
				OrderID:        orderID,
				SKU:            sku,
				Category:       categoryFor(sku),
				Qty:            int64Field(item, "qty"),
				Channel:        m.Channel,
				Region:         m.Region,
				StoreID:        m.StoreID,
				TimeSlot:       m.TimeSlot,
				PromotionID:    m.PromotionID,
				PromotionPhase: m.PromotionPhase,
				EventHash:      row.EventHash,
			})
		}
	}
	return out
}

func containsAny(s string, subs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// inventoryLoss computes waste quantity/cost/rate from InventoryAdjusted
// events whose reason names expiry, waste, loss, or damage.
func inventoryLoss(rows []ledger.Row) (wasteQty, wasteCents, lossRateBps int64) {
	var receivedQty int64
	for _, row := range rows {
		if row.EventType == events.GoodsReceived && boolField(row.Payload, "qc_passed") {
			for _, raw := range listField(row.Payload, "items") {
				item, ok := asMap(raw)
				if !ok {
					continue
				}
				receivedQty += int64Field(item, "qty")
			}
		}
		if row.EventType == events.InventoryAdjusted {
			reason := strField(row.Payload, "reason")
			if !containsAny(reason, "expire", "waste", "loss", "damaged") {
				continue
			}
			for _, raw := range listField(row.Payload, "items") {
				item, ok := asMap(raw)
				if !ok {
					continue
				}
				delta := int64Field(item, "qty_delta")
				if delta >= 0 {
					continue
				}
				qtyAbs := -delta
				wasteQty += qtyAbs
				wasteCents += qtyAbs * int64Field(item, "unit_cost")
			}
		}
	}
	if receivedQty > 0 {
		lossRateBps = (wasteQty * 10000) / receivedQty
	}
	return
}

// inventorySnapshot replays every row strictly before cutoff to derive
// per-sku qty and weighted-average cost, the same algorithm as
// projection.upsertLot but scoped to "as of an instant" rather than "as
// of now". Backs the opening/closing balances for turnover and
// slow-mover metrics.
func inventorySnapshot(rows []ledger.Row, cutoff time.Time) (qtyBySku, avgCostBySku map[string]int64, totalValue int64) {
	qtyBySku = make(map[string]int64)
	avgCostBySku = make(map[string]int64)

	sorted := make([]ledger.Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].OccurredAt.Equal(sorted[j].OccurredAt) {
			return sorted[i].OccurredAt.Before(sorted[j].OccurredAt)
		}
		return sorted[i].SeqID < sorted[j].SeqID
	})

	cutoffUTC := cutoff.UTC()
	blend := func(sku string, qtyDelta, cost int64) {
		oldQty := qtyBySku[sku]
		oldAvg, ok := avgCostBySku[sku]
		if !ok {
			oldAvg = cost
		}
		newQty := oldQty + qtyDelta
		if newQty > 0 {
			avgCostBySku[sku] = (oldQty*oldAvg + qtyDelta*cost) / newQty
		}
		qtyBySku[sku] = newQty
	}

	for _, row := range sorted {
		if !row.OccurredAt.UTC().Before(cutoffUTC) {
			break
		}
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
				sku := strField(item, "sku")
				qty := int64Field(item, "qty")
				if qty <= 0 {
					continue
				}
				blend(sku, qty, int64Field(item, "unit_cost"))
			}
		case events.ShipmentDispatched:
			for _, raw := range listField(row.Payload, "items") {
				item, ok := asMap(raw)
				if !ok {
					continue
				}
				sku := strField(item, "sku")
				qty := int64Field(item, "qty")
				if qty <= 0 {
					continue
				}
				qtyBySku[sku] = qtyBySku[sku] - qty
			}
		case events.InventoryAdjusted:
			for _, raw := range listField(row.Payload, "items") {
				item, ok := asMap(raw)
				if !ok {
					continue
				}
				sku := strField(item, "sku")
				delta := int64Field(item, "qty_delta")
				if delta == 0 {
					continue
				}
				cost := int64Field(item, "unit_cost")
				if delta > 0 && cost > 0 {
					blend(sku, delta, cost)
				} else {
					qtyBySku[sku] = qtyBySku[sku] + delta
				}
			}
		}
	}

	for sku, qty := range qtyBySku {
		if qty <= 0 {
			continue
		}
		totalValue += qty * avgCostBySku[sku]
	}
	return qtyBySku, avgCostBySku, totalValue
}

func supplierTermBucket(termDays *int64) string {
	if termDays == nil {
		return "unknown"
	}
	switch {
	case *termDays <= 7:
		return "<=7_days"
	case *termDays <= 14:
		return "8_to_14_days"
	default:
		return ">14_days"
	}
}

// GroupedMetric is one (metric_key, group) aggregate value.
type GroupedMetric struct {
	MetricKey string
	Group     map[string]string
	Value     int64
}

// Computation is the full output of Compute: the scalar metric set
// (already intersected with the policy's allowed_metrics), grouped
// metrics, and the detail_event_map backing selective-disclosure proofs.
type Computation struct {
	Metrics        map[string]int64
	GroupedMetrics []GroupedMetric
	DetailEventMap map[string][]string
}

// PnLInput is the subset of the P&L report (internal/reports) the
// disclosure compiler needs.
type PnLInput struct {
	CogsCents int64
}

// metricLookupKey is the proof-index key for one disclosed number:
// metric_key + "|" + canonical JSON of the group map.
func metricLookupKey(metricKey string, group map[string]string) string {
	m := canonical.Map{}
	for k, v := range group {
		m[k] = v
	}
	b, err := canonical.ToBytes(m)
	if err != nil {
		b = []byte("{}")
	}
	return metricKey + "|" + string(b)
}

// groupLines buckets lines by their values for the groupBy dimensions,
// summing LineRevenue per group and keeping each group's lines.
func groupLines(lines []OrderLine, groupBy []string) map[string]struct {
	group map[string]string
	value int64
	lines []OrderLine
} {
	acc := make(map[string]struct {
		group map[string]string
		value int64
		lines []OrderLine
	})
	getter := func(l OrderLine, dim string) string {
		switch dim {
		case "channel":
			return l.Channel
		case "region":
			return l.Region
		case "sku":
			return l.SKU
		case "category":
			return l.Category
		case "store_id":
			return l.StoreID
		case "time_slot":
			return l.TimeSlot
		case "promotion_id":
			return l.PromotionID
		case "promotion_phase":
			return l.PromotionPhase
		default:
			return ""
		}
	}
	for _, l := range lines {
		group := make(map[string]string, len(groupBy))
		for _, dim := range groupBy {
			group[dim] = getter(l, dim)
		}
		key := metricLookupKey("", group)
		entry := acc[key]
		entry.group = group
		entry.value += l.LineRevenue
		entry.lines = append(entry.lines, l)
		acc[key] = entry
	}
	return acc
}

func groupShipments(lines []shipmentLine, groupBy []string) map[string]struct {
	group map[string]string
	value int64
	hash  map[string]struct{}
} {
	acc := make(map[string]struct {
		group map[string]string
		value int64
		hash  map[string]struct{}
	})
	getter := func(l shipmentLine, dim string) string {
		switch dim {
		case "channel":
			return l.Channel
		case "region":
			return l.Region
		case "sku":
			return l.SKU
		case "category":
			return l.Category
		case "store_id":
			return l.StoreID
		case "time_slot":
			return l.TimeSlot
		case "promotion_id":
			return l.PromotionID
		case "promotion_phase":
			return l.PromotionPhase
		default:
			return ""
		}
	}
	for _, l := range lines {
		group := make(map[string]string, len(groupBy))
		for _, dim := range groupBy {
			group[dim] = getter(l, dim)
		}
		key := metricLookupKey("", group)
		entry, ok := acc[key]
		if !ok {
			entry.hash = make(map[string]struct{})
		}
		entry.group = group
		entry.value += l.Qty
		entry.hash[l.EventHash] = struct{}{}
		acc[key] = entry
	}
	return acc
}

func sortedKeys(hashes map[string]struct{}) []string {
	out := make([]string, 0, len(hashes))
	for h := range hashes {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Compute derives the full metric set for one disclosure window. rows
// must be the full event log (procurement timing and inventory
// snapshots look outside the period); the period subset is derived
// internally by filtering to [periodStart, periodEnd).
func Compute(rows []ledger.Row, allowedMetrics, allowedGroupBy []string, periodStart, periodEnd time.Time, groupBy []string, pnl PnLInput) (*Computation, error) {
	allowed := make(map[string]bool, len(allowedMetrics))
	for _, m := range allowedMetrics {
		allowed[m] = true
	}
	allowedGroup := make(map[string]bool, len(allowedGroupBy))
	for _, g := range allowedGroupBy {
		allowedGroup[g] = true
	}
	for _, g := range groupBy {
		if !allowedGroup[g] {
			return nil, ledgererr.New(ledgererr.GroupByNotAllowed, fmt.Sprintf("disclosure: group_by %q not allowed by policy", g))
		}
	}

	scoped := filterPeriod(rows, periodStart, periodEnd)
	lines, meta := extractOrderLines(scoped)
	payments := extractPayments(scoped)
	refunds := extractRefunds(scoped)
	compensations := extractCompensation(scoped)
	conflicts := extractConflicts(scoped)
	complaints := extractComplaints(scoped)
	shipments := extractShipments(scoped, meta)
	qc := extractQC(scoped)
	settlements := extractSettlements(scoped)
	procurements := extractProcurement(rows)

	var revenue, refundTotal, compensationTotal, shipmentQty int64
	for _, p := range payments {
		revenue += p.Amount
	}
	for _, r := range refunds {
		refundTotal += r.Amount
	}
	for _, c := range compensations {
		compensationTotal += c.Amount
	}
	for _, s := range shipments {
		shipmentQty += s.Qty
	}

	orderSet := map[string]struct{}{}
	for _, l := range lines {
		orderSet[l.OrderID] = struct{}{}
	}
	ordersCount := int64(len(orderSet))

	conflictSet := map[string]struct{}{}
	for _, c := range conflicts {
		conflictSet[c.ConflictID] = struct{}{}
	}
	conflictCount := int64(len(conflictSet))

	var refundRateBps, conflictRateBps int64
	if revenue > 0 {
		refundRateBps = (refundTotal * 10000) / revenue
	}
	if ordersCount > 0 {
		conflictRateBps = (conflictCount * 10000) / ordersCount
	}

	cogs := pnl.CogsCents
	grossProfit := revenue - refundTotal - cogs
	var grossMarginBps int64
	if revenue > 0 {
		grossMarginBps = (grossProfit * 10000) / revenue
	}

	wasteQty, wasteCents, lossRateBps := inventoryLoss(scoped)

	var avgOrderValue int64
	if ordersCount > 0 {
		avgOrderValue = revenue / ordersCount
	}

	customerOrders := map[string]map[string]struct{}{}
	for _, l := range lines {
		if l.CustomerID == "" {
			continue
		}
		set := customerOrders[l.CustomerID]
		if set == nil {
			set = map[string]struct{}{}
			customerOrders[l.CustomerID] = set
		}
		set[l.OrderID] = struct{}{}
	}
	var repeatPurchaseRateBps int64
	if len(customerOrders) > 0 {
		var repeat int64
		for _, set := range customerOrders {
			if len(set) >= 2 {
				repeat++
			}
		}
		repeatPurchaseRateBps = (repeat * 10000) / int64(len(customerOrders))
	}

	_, _, openingValue := inventorySnapshot(rows, periodStart)
	closingQty, _, closingValue := inventorySnapshot(rows, periodEnd)
	averageInventory := (openingValue + closingValue) / 2
	periodDays := int64(periodEnd.Sub(periodStart).Hours() / 24)
	if periodDays < 1 {
		periodDays = 1
	}
	var inventoryTurnoverDays int64
	if cogs > 0 {
		inventoryTurnoverDays = (periodDays * averageInventory) / cogs
	}

	shippedBySku := map[string]int64{}
	for _, s := range shipments {
		shippedBySku[s.SKU] += s.Qty
	}
	var inventorySkus, slowSkus int64
	for sku, qty := range closingQty {
		if qty <= 0 {
			continue
		}
		inventorySkus++
		if shippedBySku[sku] == 0 {
			slowSkus++
		}
	}
	var slowMovingRatioBps int64
	if inventorySkus > 0 {
		slowMovingRatioBps = (slowSkus * 10000) / inventorySkus
	}

	var complaintResolutionHoursAvg int64
	if len(complaints) > 0 && len(compensations) > 0 {
		compByOrder := map[string]time.Time{}
		for _, c := range compensations {
			if c.OrderID == "" {
				continue
			}
			if existing, ok := compByOrder[c.OrderID]; !ok || c.OccurredAt.Before(existing) {
				compByOrder[c.OrderID] = c.OccurredAt
			}
		}
		var total float64
		var n int64
		for _, c := range complaints {
			resolved, ok := compByOrder[c.OrderID]
			if !ok || resolved.Before(c.OccurredAt) {
				continue
			}
			total += resolved.Sub(c.OccurredAt).Hours()
			n++
		}
		if n > 0 {
			complaintResolutionHoursAvg = int64(total / float64(n))
		}
	}

	var compensationRatioBps int64
	if revenue > 0 {
		compensationRatioBps = (compensationTotal * 10000) / revenue
	}

	var qcFailRateBps int64
	if len(qc) > 0 {
		var total, failed int64
		for _, q := range qc {
			total += q.Qty
			if !q.QCPassed {
				failed += q.Qty
			}
		}
		if total > 0 {
			qcFailRateBps = (failed * 10000) / total
		}
	}

	var supplierSettlementTotal int64
	for _, s := range settlements {
		supplierSettlementTotal += s.Amount
	}
	operatingCashNetInflow := revenue - refundTotal - compensationTotal - supplierSettlementTotal

	procurementTimeByID := map[string]time.Time{}
	for _, p := range procurements {
		if p.ProcurementID != "" {
			procurementTimeByID[p.ProcurementID] = p.OccurredAt
		}
	}

	var supplierTermDaysAvg, supplierTermShortBps, supplierTermMidBps, supplierTermLongBps int64
	bucketAmounts := map[string]int64{"<=7_days": 0, "8_to_14_days": 0, ">14_days": 0, "unknown": 0}
	bucketHashes := map[string]map[string]struct{}{
		"<=7_days": {}, "8_to_14_days": {}, ">14_days": {}, "unknown": {},
	}
	if len(settlements) > 0 {
		var termDaysSum, termDaysCount int64
		for _, s := range settlements {
			var termDays *int64
			if s.SettlementProcurementID != "" {
				if t, ok := procurementTimeByID[s.SettlementProcurementID]; ok {
					d := int64(s.OccurredAt.Sub(t).Hours() / 24)
					termDays = &d
					termDaysSum += d
					termDaysCount++
				}
			}
			bucket := supplierTermBucket(termDays)
			bucketAmounts[bucket] += s.Amount
			bucketHashes[bucket][s.EventHash] = struct{}{}
		}
		if termDaysCount > 0 {
			supplierTermDaysAvg = termDaysSum / termDaysCount
		}
		knownTotal := bucketAmounts["<=7_days"] + bucketAmounts["8_to_14_days"] + bucketAmounts[">14_days"]
		if knownTotal > 0 {
			supplierTermShortBps = (bucketAmounts["<=7_days"] * 10000) / knownTotal
			supplierTermMidBps = (bucketAmounts["8_to_14_days"] * 10000) / knownTotal
			supplierTermLongBps = (bucketAmounts[">14_days"] * 10000) / knownTotal
		}
	}

	allMetrics := map[string]int64{
		"revenue_cents":                    revenue,
		"refunds_cents":                    refundTotal,
		"compensation_cents":               compensationTotal,
		"net_revenue_cents":                revenue - refundTotal - compensationTotal,
		"orders_count":                     ordersCount,
		"shipment_qty":                     shipmentQty,
		"refund_rate_bps":                  refundRateBps,
		"conflict_count":                   conflictCount,
		"conflict_rate_bps":                conflictRateBps,
		"inventory_waste_qty":              wasteQty,
		"inventory_waste_cents":            wasteCents,
		"inventory_loss_rate_bps":          lossRateBps,
		"cogs_cents":                       cogs,
		"gross_profit_cents":               grossProfit,
		"gross_margin_bps":                 grossMarginBps,
		"avg_order_value_cents":            avgOrderValue,
		"repeat_purchase_rate_bps":         repeatPurchaseRateBps,
		"inventory_turnover_days":          inventoryTurnoverDays,
		"slow_moving_sku_ratio_bps":        slowMovingRatioBps,
		"complaint_resolution_hours_avg":   complaintResolutionHoursAvg,
		"compensation_ratio_bps":           compensationRatioBps,
		"qc_fail_rate_bps":                 qcFailRateBps,
		"operating_cash_net_inflow_cents":  operatingCashNetInflow,
		"supplier_settlement_cents":        supplierSettlementTotal,
		"supplier_payment_term_days_avg":   supplierTermDaysAvg,
		"supplier_term_short_ratio_bps":    supplierTermShortBps,
		"supplier_term_mid_ratio_bps":      supplierTermMidBps,
		"supplier_term_long_ratio_bps":     supplierTermLongBps,
	}

	metrics := make(map[string]int64, len(allMetrics))
	for k, v := range allMetrics {
		if allowed[k] {
			metrics[k] = v
		}
	}

	var grouped []GroupedMetric
	detailEventMap := make(map[string][]string)

	if len(groupBy) > 0 {
		if len(lines) > 0 {
			for _, entry := range groupLines(lines, groupBy) {
				hashes := map[string]struct{}{}
				for _, l := range entry.lines {
					hashes[l.SourceEventHash] = struct{}{}
				}
				grouped = append(grouped, GroupedMetric{MetricKey: "revenue_cents", Group: entry.group, Value: entry.value})
				detailEventMap[metricLookupKey("revenue_cents", entry.group)] = sortedKeys(hashes)
			}
		}

		if len(shipments) > 0 && allowed["shipment_qty"] {
			for _, entry := range groupShipments(shipments, groupBy) {
				grouped = append(grouped, GroupedMetric{MetricKey: "shipment_qty", Group: entry.group, Value: entry.value})
				detailEventMap[metricLookupKey("shipment_qty", entry.group)] = sortedKeys(entry.hash)
			}
		}

		if len(refunds) > 0 && len(lines) > 0 && allowed["refunds_cents"] {
			alloc := allocateByRevenue(lines, refunds, "refunds_cents", groupBy)
			grouped = append(grouped, alloc...)
			refundHashes := map[string]struct{}{}
			for _, r := range refunds {
				refundHashes[r.EventHash] = struct{}{}
			}
			for _, g := range alloc {
				detailEventMap[metricLookupKey("refunds_cents", g.Group)] = sortedKeys(refundHashes)
			}
		}

		if len(conflicts) > 0 && len(lines) > 0 && allowed["conflict_count"] {
			conflictRows, hashesByKey := groupConflictCount(lines, conflicts, groupBy)
			grouped = append(grouped, conflictRows...)
			for key, hashes := range hashesByKey {
				detailEventMap[key] = hashes
			}
		}

		if len(compensations) > 0 && len(lines) > 0 && allowed["compensation_cents"] {
			alloc := allocateByRevenue(lines, compensationsAsRefunds(compensations), "compensation_cents", groupBy)
			grouped = append(grouped, alloc...)
			compHashes := map[string]struct{}{}
			for _, c := range compensations {
				compHashes[c.EventHash] = struct{}{}
			}
			for _, g := range alloc {
				detailEventMap[metricLookupKey("compensation_cents", g.Group)] = sortedKeys(compHashes)
			}
		}
	}

	if allowed["supplier_settlement_cents"] {
		for _, bucket := range []string{"<=7_days", "8_to_14_days", ">14_days", "unknown"} {
			amount := bucketAmounts[bucket]
			if amount <= 0 {
				continue
			}
			group := map[string]string{"payment_term_bucket": bucket}
			grouped = append(grouped, GroupedMetric{MetricKey: "supplier_settlement_cents", Group: group, Value: amount})
			detailEventMap[metricLookupKey("supplier_settlement_cents", group)] = sortedKeys(bucketHashes[bucket])
		}
	}

	allScopedHashes := make([]string, 0, len(scoped))
	for _, r := range scoped {
		allScopedHashes = append(allScopedHashes, r.EventHash)
	}
	sort.Strings(allScopedHashes)
	for metricKey := range metrics {
		key := metricLookupKey(metricKey, map[string]string{})
		if _, ok := detailEventMap[key]; !ok {
			detailEventMap[key] = allScopedHashes
		}
	}

	filtered := grouped[:0]
	for _, g := range grouped {
		if allowed[g.MetricKey] {
			filtered = append(filtered, g)
		}
	}

	return &Computation{Metrics: metrics, GroupedMetrics: filtered, DetailEventMap: detailEventMap}, nil
}

// allocateByRevenue allocates a per-order amount (refund or
// compensation) across an order's lines in proportion to each line's
// share of order revenue (integer division), then sums per group.
func allocateByRevenue(lines []OrderLine, amounts []refundRow, metricKey string, groupBy []string) []GroupedMetric {
	orderRevenue := map[string]int64{}
	for _, l := range lines {
		orderRevenue[l.OrderID] += l.LineRevenue
	}
	amountByOrder := map[string]int64{}
	for _, a := range amounts {
		amountByOrder[a.OrderID] += a.Amount
	}

	type acc struct {
		group map[string]string
		value int64
	}
	sums := make(map[string]acc)
	getter := func(l OrderLine, dim string) string {
		switch dim {
		case "channel":
			return l.Channel
		case "region":
			return l.Region
		case "sku":
			return l.SKU
		case "category":
			return l.Category
		case "store_id":
			return l.StoreID
		case "time_slot":
			return l.TimeSlot
		case "promotion_id":
			return l.PromotionID
		case "promotion_phase":
			return l.PromotionPhase
		default:
			return ""
		}
	}
	for _, l := range lines {
		rev := orderRevenue[l.OrderID]
		amt := amountByOrder[l.OrderID]
		var allocated int64
		if rev > 0 {
			allocated = (l.LineRevenue * amt) / rev
		}
		group := make(map[string]string, len(groupBy))
		for _, dim := range groupBy {
			group[dim] = getter(l, dim)
		}
		key := metricLookupKey(metricKey, group)
		e := sums[key]
		e.group = group
		e.value += allocated
		sums[key] = e
	}

	out := make([]GroupedMetric, 0, len(sums))
	for _, e := range sums {
		out = append(out, GroupedMetric{MetricKey: metricKey, Group: e.group, Value: e.value})
	}
	return out
}

func compensationsAsRefunds(rows []compensationRow) []refundRow {
	out := make([]refundRow, len(rows))
	for i, r := range rows {
		out[i] = refundRow{OrderID: r.OrderID, Amount: r.Amount, EventHash: r.EventHash}
	}
	return out
}

func groupConflictCount(lines []OrderLine, conflicts []conflictRow, groupBy []string) ([]GroupedMetric, map[string][]string) {
	orderDims := map[string]map[string]string{}
	getter := func(l OrderLine, dim string) string {
		switch dim {
		case "channel":
			return l.Channel
		case "region":
			return l.Region
		case "sku":
			return l.SKU
		case "category":
			return l.Category
		case "store_id":
			return l.StoreID
		case "time_slot":
			return l.TimeSlot
		case "promotion_id":
			return l.PromotionID
		case "promotion_phase":
			return l.PromotionPhase
		default:
			return ""
		}
	}
	for _, l := range lines {
		if _, ok := orderDims[l.OrderID]; ok {
			continue
		}
		group := make(map[string]string, len(groupBy))
		for _, dim := range groupBy {
			group[dim] = getter(l, dim)
		}
		orderDims[l.OrderID] = group
	}

	type acc struct {
		group map[string]string
		ids   map[string]struct{}
		hash  map[string]struct{}
	}
	sums := map[string]acc{}
	for _, c := range conflicts {
		group, ok := orderDims[c.OrderID]
		if !ok {
			continue
		}
		key := metricLookupKey("conflict_count", group)
		e, ok := sums[key]
		if !ok {
			e.ids = map[string]struct{}{}
			e.hash = map[string]struct{}{}
		}
		e.group = group
		e.ids[c.ConflictID] = struct{}{}
		e.hash[c.EventHash] = struct{}{}
		sums[key] = e
	}

	out := make([]GroupedMetric, 0, len(sums))
	hashesByKey := make(map[string][]string, len(sums))
	for key, e := range sums {
		out = append(out, GroupedMetric{MetricKey: "conflict_count", Group: e.group, Value: int64(len(e.ids))})
		hashesByKey[key] = sortedKeys(e.hash)
	}
	return out, hashesByKey
}
