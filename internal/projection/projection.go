// Package projection implements the deterministic read models built by
// replaying the ledger in seq_id order: an Orders view with monotonic
// status, and a FIFO-costed Inventory view keyed by (sku, batch_id)
// with weighted-average lot costing and per-shipment COGS. The replay
// engine is pure in-memory state; nothing here reads or writes storage.
package projection

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kuibu/transparent-company/internal/events"
	"github.com/kuibu/transparent-company/internal/ledger"
	"github.com/kuibu/transparent-company/internal/ledgererr"
	"github.com/kuibu/transparent-company/pkg/canonical"
)

// OrderStatus is the monotonically increasing lifecycle state of an
// order. Rank order is placed < paid < shipped < refunded; a later
// observation never moves status backward.
type OrderStatus string

const (
	StatusPlaced   OrderStatus = "placed"
	StatusPaid     OrderStatus = "paid"
	StatusShipped  OrderStatus = "shipped"
	StatusRefunded OrderStatus = "refunded"
)

var statusRank = map[OrderStatus]int{
	StatusPlaced:   0,
	StatusPaid:     1,
	StatusShipped:  2,
	StatusRefunded: 3,
}

func advance(current, next OrderStatus) OrderStatus {
	if statusRank[next] > statusRank[current] {
		return next
	}
	return current
}

// OrderView is the projected state of one order.
type OrderView struct {
	OrderID       string
	CustomerRef   string
	Channel       string
	Items         []events.OrderItem
	Status        OrderStatus
	PaidCents     int64
	ShippedQty    int64
	RefundedCents int64
	UpdatedAt     time.Time
}

// InventoryLot is one (sku, batch_id) stock position.
type InventoryLot struct {
	SKU           string
	BatchID       string
	QtyOnHand     int64
	UnitCostCents int64
	ExpiryDate    string
	UpdatedAt     time.Time
}

type lotKey struct {
	sku     string
	batchID string
}

// Engine replays ledger rows into the orders + inventory read models. It
// holds no external state; Rebuild always starts from empty.
type Engine struct {
	orders              map[string]*OrderView
	lots                map[lotKey]*InventoryLot
	lotOrder             []lotKey // first-seen order per sku, for stable iteration
	shipmentCosts       map[uuid.UUID]int64
	procurementUnitCost map[string]map[string]int64 // procurement_id -> sku -> unit_cost_cents
}

// New returns an empty projection engine.
func New() *Engine {
	return &Engine{
		orders:              make(map[string]*OrderView),
		lots:                make(map[lotKey]*InventoryLot),
		shipmentCosts:       make(map[uuid.UUID]int64),
		procurementUnitCost: make(map[string]map[string]int64),
	}
}

// Rebuild replays rows, which MUST already be in seq_id order, into a
// fresh Engine.
func Rebuild(rows []ledger.Row) (*Engine, error) {
	e := New()
	for _, row := range rows {
		if err := e.Apply(row); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Apply folds one ledger row into the projections.
func (e *Engine) Apply(row ledger.Row) error {
	switch row.EventType {
	case events.ProcurementOrdered:
		return e.applyProcurementOrdered(row)
	case events.OrderPlaced:
		return e.applyOrderPlaced(row)
	case events.PaymentCaptured:
		return e.applyPaymentCaptured(row)
	case events.ShipmentDispatched:
		return e.applyShipmentDispatched(row)
	case events.RefundIssued:
		return e.applyRefundIssued(row)
	case events.GoodsReceived:
		return e.applyGoodsReceived(row)
	case events.InventoryAdjusted:
		return e.applyInventoryAdjusted(row)
	default:
		return nil // events outside the orders/inventory domain are not projected
	}
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

func (e *Engine) applyProcurementOrdered(row ledger.Row) error {
	procurementID := strField(row.Payload, "procurement_id")
	if procurementID == "" {
		return nil
	}
	items := listField(row.Payload, "items")
	bySku := e.procurementUnitCost[procurementID]
	if bySku == nil {
		bySku = make(map[string]int64)
		e.procurementUnitCost[procurementID] = bySku
	}
	for _, raw := range items {
		item, ok := asMap(raw)
		if !ok {
			continue
		}
		bySku[strField(item, "sku")] = int64Field(item, "unit_cost")
	}
	return nil
}

func (e *Engine) applyOrderPlaced(row ledger.Row) error {
	orderID := strField(row.Payload, "order_id")
	items := listField(row.Payload, "items")
	parsed := make([]events.OrderItem, 0, len(items))
	for _, raw := range items {
		item, ok := asMap(raw)
		if !ok {
			continue
		}
		parsed = append(parsed, events.OrderItem{
			SKU:       strField(item, "sku"),
			Qty:       int64Field(item, "qty"),
			UnitPrice: int64Field(item, "unit_price"),
		})
	}
	e.orders[orderID] = &OrderView{
		OrderID:     orderID,
		CustomerRef: strField(row.Payload, "customer_ref"),
		Channel:     strField(row.Payload, "channel"),
		Items:       parsed,
		Status:      StatusPlaced,
		UpdatedAt:   row.OccurredAt,
	}
	return nil
}

func (e *Engine) applyPaymentCaptured(row ledger.Row) error {
	orderID := strField(row.Payload, "order_id")
	order := e.orders[orderID]
	if order == nil {
		order = &OrderView{OrderID: orderID, Status: StatusPlaced}
		e.orders[orderID] = order
	}
	order.PaidCents += int64Field(row.Payload, "amount")
	order.Status = advance(order.Status, StatusPaid)
	order.UpdatedAt = row.OccurredAt
	return nil
}

func (e *Engine) applyShipmentDispatched(row ledger.Row) error {
	orderID := strField(row.Payload, "order_id")
	order := e.orders[orderID]
	if order == nil {
		order = &OrderView{OrderID: orderID, Status: StatusPlaced}
		e.orders[orderID] = order
	}

	// Plan every line's FIFO consumption before touching any lot, so a
	// shipment short on stock fails without partially draining inventory.
	items := listField(row.Payload, "items")
	var shippedQty, totalCost int64
	var plan []fifoTake
	for _, raw := range items {
		item, ok := asMap(raw)
		if !ok {
			continue
		}
		sku := strField(item, "sku")
		qty := int64Field(item, "qty")
		shippedQty += qty
		takes, cost, err := e.planFIFO(sku, qty, plan)
		if err != nil {
			return err
		}
		plan = append(plan, takes...)
		totalCost += cost
	}
	for _, t := range plan {
		t.lot.QtyOnHand -= t.qty
		t.lot.UpdatedAt = row.OccurredAt
	}
	order.ShippedQty += shippedQty
	order.Status = advance(order.Status, StatusShipped)
	order.UpdatedAt = row.OccurredAt
	e.shipmentCosts[row.EventID] = totalCost
	return nil
}

func (e *Engine) applyRefundIssued(row ledger.Row) error {
	orderID := strField(row.Payload, "order_id")
	order := e.orders[orderID]
	if order == nil {
		order = &OrderView{OrderID: orderID, Status: StatusPlaced}
		e.orders[orderID] = order
	}
	amount := int64Field(row.Payload, "amount")
	order.RefundedCents += amount
	if order.RefundedCents > 0 {
		order.Status = advance(order.Status, StatusRefunded)
	}
	order.UpdatedAt = row.OccurredAt
	return nil
}

func (e *Engine) applyGoodsReceived(row ledger.Row) error {
	qcPassed, _ := row.Payload["qc_passed"].(bool)
	if !qcPassed {
		return nil
	}
	procurementID := strField(row.Payload, "procurement_id")
	batchID := strField(row.Payload, "batch_id")
	items := listField(row.Payload, "items")
	for _, raw := range items {
		item, ok := asMap(raw)
		if !ok {
			continue
		}
		sku := strField(item, "sku")
		qty := int64Field(item, "qty")
		unitCost := int64Field(item, "unit_cost")
		if unitCost == 0 {
			if bySku, ok := e.procurementUnitCost[procurementID]; ok {
				unitCost = bySku[sku]
			}
		}
		if err := e.upsertLot(sku, batchID, qty, strField(item, "expiry_date"), unitCost, row.OccurredAt, true); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyInventoryAdjusted(row ledger.Row) error {
	items := listField(row.Payload, "items")
	for _, raw := range items {
		item, ok := asMap(raw)
		if !ok {
			continue
		}
		sku := strField(item, "sku")
		batchID := strField(item, "batch_id")
		if batchID == "" {
			batchID = "adjustment"
		}
		qtyDelta := int64Field(item, "qty_delta")
		unitCost := int64Field(item, "unit_cost")
		weighted := qtyDelta > 0 && unitCost > 0
		if err := e.upsertLot(sku, batchID, qtyDelta, "", unitCost, row.OccurredAt, weighted); err != nil {
			return err
		}
	}
	return nil
}

// upsertLot creates or augments the (sku, batchID) lot by qtyDelta. When
// weighted is true and qtyDelta > 0, unitCost is blended into the lot's
// existing cost by weighted average over the added quantity (integer
// division).
func (e *Engine) upsertLot(sku, batchID string, qtyDelta int64, expiryDate string, unitCost int64, occurredAt time.Time, weighted bool) error {
	key := lotKey{sku: sku, batchID: batchID}
	lot, ok := e.lots[key]
	if !ok {
		lot = &InventoryLot{SKU: sku, BatchID: batchID}
	}
	if lot.QtyOnHand+qtyDelta < 0 {
		return &ledgererr.Error{
			Kind:    ledgererr.NegativeInventory,
			Message: fmt.Sprintf("adjustment would drive %s/%s negative", sku, batchID),
		}
	}
	if !ok {
		e.lots[key] = lot
		e.lotOrder = append(e.lotOrder, key)
	}

	if weighted && qtyDelta > 0 {
		existingValue := lot.QtyOnHand * lot.UnitCostCents
		addedValue := qtyDelta * unitCost
		newQty := lot.QtyOnHand + qtyDelta
		if newQty > 0 {
			lot.UnitCostCents = (existingValue + addedValue) / newQty
		}
	} else if unitCost > 0 {
		lot.UnitCostCents = unitCost
	}

	lot.QtyOnHand += qtyDelta
	lot.UpdatedAt = occurredAt
	if expiryDate != "" {
		lot.ExpiryDate = expiryDate
	}
	return nil
}

// fifoTake is one planned draw against a lot, staged so a failing
// shipment never mutates inventory.
type fifoTake struct {
	lot *InventoryLot
	qty int64
}

// planFIFO plans consumption of qty units of sku from lots ordered by
// expiry_date ascending then batch_id ascending, returning the planned
// per-lot draws and their total cost. earlier holds draws already
// planned by prior lines of the same shipment, so a multi-line shipment
// cannot double-spend a lot.
func (e *Engine) planFIFO(sku string, qty int64, earlier []fifoTake) ([]fifoTake, int64, error) {
	reserved := make(map[*InventoryLot]int64, len(earlier))
	for _, t := range earlier {
		reserved[t.lot] += t.qty
	}

	var candidates []*InventoryLot
	for _, key := range e.lotOrder {
		lot := e.lots[key]
		if lot.SKU == sku && lot.QtyOnHand-reserved[lot] > 0 {
			candidates = append(candidates, lot)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].ExpiryDate != candidates[j].ExpiryDate {
			return candidates[i].ExpiryDate < candidates[j].ExpiryDate
		}
		return candidates[i].BatchID < candidates[j].BatchID
	})

	remaining := qty
	var takes []fifoTake
	var totalCost int64
	for _, lot := range candidates {
		if remaining <= 0 {
			break
		}
		available := lot.QtyOnHand - reserved[lot]
		take := available
		if take > remaining {
			take = remaining
		}
		takes = append(takes, fifoTake{lot: lot, qty: take})
		remaining -= take
		totalCost += take * lot.UnitCostCents
	}
	if remaining > 0 {
		return nil, 0, &ledgererr.Error{
			Kind:    ledgererr.NegativeInventory,
			Message: fmt.Sprintf("insufficient stock for sku=%s: short by %d", sku, remaining),
		}
	}
	return takes, totalCost, nil
}

// Orders returns all projected orders, sorted by order_id for
// deterministic output.
func (e *Engine) Orders() []*OrderView {
	out := make([]*OrderView, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// Order returns one order view by id.
func (e *Engine) Order(orderID string) (*OrderView, bool) {
	o, ok := e.orders[orderID]
	return o, ok
}

// Lots returns all inventory lots, including zero-quantity ones, sorted
// by (sku, batch_id).
func (e *Engine) Lots() []*InventoryLot {
	out := make([]*InventoryLot, 0, len(e.lots))
	for _, l := range e.lots {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SKU != out[j].SKU {
			return out[i].SKU < out[j].SKU
		}
		return out[i].BatchID < out[j].BatchID
	})
	return out
}

// ShipmentCost returns the COGS recorded for a ShipmentDispatched event.
func (e *Engine) ShipmentCost(eventID uuid.UUID) (int64, bool) {
	c, ok := e.shipmentCosts[eventID]
	return c, ok
}

// ShipmentCosts returns the full event_id -> COGS map.
func (e *Engine) ShipmentCosts() map[uuid.UUID]int64 {
	out := make(map[uuid.UUID]int64, len(e.shipmentCosts))
	for k, v := range e.shipmentCosts {
		out[k] = v
	}
	return out
}
