// Package events implements the closed event-kind enum and its typed,
// per-kind payloads: a tagged variant keyed by event_type, validated
// per-variant at construction, expressed as one interface (Payload)
// implemented by one struct per event kind. Unknown kinds are rejected
// at the ledger boundary.
package events

import (
	"fmt"

	"github.com/kuibu/transparent-company/pkg/canonical"
	"github.com/kuibu/transparent-company/pkg/signer"
)

// EventType is the closed enum of ledger event kinds. Unknown kinds are
// rejected when appended (ledger.Store.Append checks IsKnown).
type EventType string

const (
	ProcurementOrdered         EventType = "ProcurementOrdered"
	GoodsReceived              EventType = "GoodsReceived"
	OrderPlaced                EventType = "OrderPlaced"
	PaymentCaptured            EventType = "PaymentCaptured"
	ShipmentDispatched         EventType = "ShipmentDispatched"
	RefundIssued               EventType = "RefundIssued"
	InventoryAdjusted          EventType = "InventoryAdjusted"
	DisclosurePublished        EventType = "DisclosurePublished"
	SelectiveDisclosureRevealed EventType = "SelectiveDisclosureRevealed"
	ToolInvocationLogged       EventType = "ToolInvocationLogged"
	OrchestratorStateChanged   EventType = "OrchestratorStateChanged"
	DemoScenarioInitialized    EventType = "DemoScenarioInitialized"
	SupplierContractSigned     EventType = "SupplierContractSigned"
	PolicyUpdated              EventType = "PolicyUpdated"
	ComplaintLogged            EventType = "ComplaintLogged"
	CustomerConflictReported   EventType = "CustomerConflictReported"
	CompanyCompensationIssued EventType = "CompanyCompensationIssued"
	SkillRunStarted            EventType = "SkillRunStarted"
	SkillRunFinished           EventType = "SkillRunFinished"
	SkillRunFailed             EventType = "SkillRunFailed"
)

// Payload is implemented by each event kind's typed payload.
type Payload interface {
	EventType() EventType
	Validate() error
	ToCanonical() canonical.Map
}

// Actor identifies who performed an action.
type Actor struct {
	Type signer.ActorType `json:"type"`
	ID   string           `json:"id"`
}

func (a Actor) Validate() error {
	switch a.Type {
	case signer.ActorAgent, signer.ActorHuman, signer.ActorSystem, signer.ActorAuditor:
	default:
		return fmt.Errorf("events: unknown actor type %q", a.Type)
	}
	if a.ID == "" {
		return fmt.Errorf("events: actor.id must not be empty")
	}
	return nil
}

func (a Actor) ToCanonical() canonical.Map {
	return canonical.Map{"type": string(a.Type), "id": a.ID}
}

// ItemCost is a procurement line: a positive quantity at a non-negative
// per-unit cost.
type ItemCost struct {
	SKU      string `json:"sku"`
	Qty      int64  `json:"qty"`
	UnitCost int64  `json:"unit_cost"`
}

func (i ItemCost) Validate() error {
	if i.SKU == "" {
		return fmt.Errorf("events: item.sku must not be empty")
	}
	if i.Qty <= 0 {
		return fmt.Errorf("events: item.qty must be positive, got %d", i.Qty)
	}
	if i.UnitCost < 0 {
		return fmt.Errorf("events: item.unit_cost must be non-negative, got %d", i.UnitCost)
	}
	return nil
}

func (i ItemCost) ToCanonical() canonical.Map {
	return canonical.Map{"sku": i.SKU, "qty": i.Qty, "unit_cost": i.UnitCost}
}

// ItemReceived is a goods-receipt line; unit cost is optional (it may be
// finalized later against the procurement order's cost).
type ItemReceived struct {
	SKU        string `json:"sku"`
	Qty        int64  `json:"qty"`
	ExpiryDate string `json:"expiry_date"`
	UnitCost   *int64 `json:"unit_cost,omitempty"`
}

func (i ItemReceived) Validate() error {
	if i.SKU == "" {
		return fmt.Errorf("events: item.sku must not be empty")
	}
	if i.Qty <= 0 {
		return fmt.Errorf("events: item.qty must be positive, got %d", i.Qty)
	}
	if i.ExpiryDate == "" {
		return fmt.Errorf("events: item.expiry_date must not be empty")
	}
	if i.UnitCost != nil && *i.UnitCost < 0 {
		return fmt.Errorf("events: item.unit_cost must be non-negative")
	}
	return nil
}

func (i ItemReceived) ToCanonical() canonical.Map {
	m := canonical.Map{"sku": i.SKU, "qty": i.Qty, "expiry_date": rawDate(i.ExpiryDate)}
	if i.UnitCost != nil {
		m["unit_cost"] = *i.UnitCost
	} else {
		m["unit_cost"] = nil
	}
	return m
}

// rawDate passes an already-ISO-formatted date string through unchanged;
// kept distinct from a bare string so call sites read as intentional.
func rawDate(s string) string { return s }

// OrderItem is a customer order line at the price actually charged.
type OrderItem struct {
	SKU       string `json:"sku"`
	Qty       int64  `json:"qty"`
	UnitPrice int64  `json:"unit_price"`
}

func (i OrderItem) Validate() error {
	if i.SKU == "" {
		return fmt.Errorf("events: item.sku must not be empty")
	}
	if i.Qty <= 0 {
		return fmt.Errorf("events: item.qty must be positive, got %d", i.Qty)
	}
	if i.UnitPrice < 0 {
		return fmt.Errorf("events: item.unit_price must be non-negative")
	}
	return nil
}

func (i OrderItem) ToCanonical() canonical.Map {
	return canonical.Map{"sku": i.SKU, "qty": i.Qty, "unit_price": i.UnitPrice}
}

// ShipmentItem is a shipped quantity of one sku.
type ShipmentItem struct {
	SKU string `json:"sku"`
	Qty int64  `json:"qty"`
}

func (i ShipmentItem) Validate() error {
	if i.SKU == "" {
		return fmt.Errorf("events: item.sku must not be empty")
	}
	if i.Qty <= 0 {
		return fmt.Errorf("events: item.qty must be positive, got %d", i.Qty)
	}
	return nil
}

func (i ShipmentItem) ToCanonical() canonical.Map {
	return canonical.Map{"sku": i.SKU, "qty": i.Qty}
}

// InventoryAdjustItem carries a signed quantity delta, the one place a
// quantity may be negative.
type InventoryAdjustItem struct {
	SKU      string `json:"sku"`
	QtyDelta int64  `json:"qty_delta"`
	BatchID  string `json:"batch_id,omitempty"`
	UnitCost *int64 `json:"unit_cost,omitempty"`
}

func (i InventoryAdjustItem) Validate() error {
	if i.SKU == "" {
		return fmt.Errorf("events: item.sku must not be empty")
	}
	if i.QtyDelta == 0 {
		return fmt.Errorf("events: item.qty_delta must not be zero")
	}
	if i.UnitCost != nil && *i.UnitCost < 0 {
		return fmt.Errorf("events: item.unit_cost must be non-negative")
	}
	return nil
}

func (i InventoryAdjustItem) ToCanonical() canonical.Map {
	m := canonical.Map{"sku": i.SKU, "qty_delta": i.QtyDelta}
	if i.BatchID != "" {
		m["batch_id"] = i.BatchID
	} else {
		m["batch_id"] = nil
	}
	if i.UnitCost != nil {
		m["unit_cost"] = *i.UnitCost
	} else {
		m["unit_cost"] = nil
	}
	return m
}

func validateItems[T interface{ Validate() error }](items []T, label string) error {
	if len(items) == 0 {
		return fmt.Errorf("events: %s must have at least one item", label)
	}
	for idx, item := range items {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("events: %s[%d]: %w", label, idx, err)
		}
	}
	return nil
}

func itemsToCanonical[T interface{ ToCanonical() canonical.Map }](items []T) canonical.List {
	out := make(canonical.List, len(items))
	for i, item := range items {
		out[i] = item.ToCanonical()
	}
	return out
}

// ---- ProcurementOrdered ----

type ProcurementOrderedPayload struct {
	ProcurementID string     `json:"procurement_id,omitempty"`
	SupplierID    string     `json:"supplier_id"`
	Items         []ItemCost `json:"items"`
	ExpectedDate  string     `json:"expected_date"`
}

func (p ProcurementOrderedPayload) EventType() EventType { return ProcurementOrdered }

func (p ProcurementOrderedPayload) Validate() error {
	if p.SupplierID == "" {
		return fmt.Errorf("events: ProcurementOrdered.supplier_id must not be empty")
	}
	if p.ExpectedDate == "" {
		return fmt.Errorf("events: ProcurementOrdered.expected_date must not be empty")
	}
	return validateItems(p.Items, "ProcurementOrdered.items")
}

func (p ProcurementOrderedPayload) ToCanonical() canonical.Map {
	m := canonical.Map{
		"supplier_id":   p.SupplierID,
		"items":         itemsToCanonical(p.Items),
		"expected_date": rawDate(p.ExpectedDate),
	}
	if p.ProcurementID != "" {
		m["procurement_id"] = p.ProcurementID
	} else {
		m["procurement_id"] = nil
	}
	return m
}

// ---- GoodsReceived ----

type GoodsReceivedPayload struct {
	ProcurementID string         `json:"procurement_id"`
	BatchID       string         `json:"batch_id"`
	Items         []ItemReceived `json:"items"`
	QCPassed      bool           `json:"qc_passed"`
}

func (p GoodsReceivedPayload) EventType() EventType { return GoodsReceived }

func (p GoodsReceivedPayload) Validate() error {
	if p.ProcurementID == "" {
		return fmt.Errorf("events: GoodsReceived.procurement_id must not be empty")
	}
	if p.BatchID == "" {
		return fmt.Errorf("events: GoodsReceived.batch_id must not be empty")
	}
	return validateItems(p.Items, "GoodsReceived.items")
}

func (p GoodsReceivedPayload) ToCanonical() canonical.Map {
	return canonical.Map{
		"procurement_id": p.ProcurementID,
		"batch_id":       p.BatchID,
		"items":          itemsToCanonical(p.Items),
		"qc_passed":      p.QCPassed,
	}
}

// ---- OrderPlaced ----

type OrderPlacedPayload struct {
	OrderID         string      `json:"order_id"`
	CustomerRef     string      `json:"customer_ref"`
	Items           []OrderItem `json:"items"`
	Channel         string      `json:"channel"`
	Region          string      `json:"region,omitempty"`
	StoreID         string      `json:"store_id,omitempty"`
	TimeSlot        string      `json:"time_slot,omitempty"`
	PromotionID     string      `json:"promotion_id,omitempty"`
	PromotionPhase  string      `json:"promotion_phase,omitempty"`
}

func (p OrderPlacedPayload) EventType() EventType { return OrderPlaced }

func (p OrderPlacedPayload) Validate() error {
	if p.OrderID == "" {
		return fmt.Errorf("events: OrderPlaced.order_id must not be empty")
	}
	if p.CustomerRef == "" {
		return fmt.Errorf("events: OrderPlaced.customer_ref must not be empty")
	}
	if p.Channel == "" {
		return fmt.Errorf("events: OrderPlaced.channel must not be empty")
	}
	return validateItems(p.Items, "OrderPlaced.items")
}

func optStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (p OrderPlacedPayload) ToCanonical() canonical.Map {
	return canonical.Map{
		"order_id":        p.OrderID,
		"customer_ref":    p.CustomerRef,
		"items":           itemsToCanonical(p.Items),
		"channel":         p.Channel,
		"region":          optStr(p.Region),
		"store_id":        optStr(p.StoreID),
		"time_slot":       optStr(p.TimeSlot),
		"promotion_id":    optStr(p.PromotionID),
		"promotion_phase": optStr(p.PromotionPhase),
	}
}

// ---- PaymentCaptured ----

type PaymentCapturedPayload struct {
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Method           string `json:"method"`
	ReceiptObjectKey string `json:"receipt_object_key"`
	ReceiptHash      string `json:"receipt_hash"`
}

func (p PaymentCapturedPayload) EventType() EventType { return PaymentCaptured }

func (p PaymentCapturedPayload) Validate() error {
	if p.OrderID == "" {
		return fmt.Errorf("events: PaymentCaptured.order_id must not be empty")
	}
	if p.Amount < 0 {
		return fmt.Errorf("events: PaymentCaptured.amount must be non-negative")
	}
	if p.Method == "" {
		return fmt.Errorf("events: PaymentCaptured.method must not be empty")
	}
	if p.ReceiptHash == "" {
		return fmt.Errorf("events: PaymentCaptured.receipt_hash must not be empty")
	}
	return nil
}

func (p PaymentCapturedPayload) ToCanonical() canonical.Map {
	return canonical.Map{
		"order_id":           p.OrderID,
		"amount":             p.Amount,
		"method":             p.Method,
		"receipt_object_key": p.ReceiptObjectKey,
		"receipt_hash":       p.ReceiptHash,
	}
}

// ---- ShipmentDispatched ----

type ShipmentDispatchedPayload struct {
	OrderID    string         `json:"order_id"`
	Items      []ShipmentItem `json:"items"`
	CarrierRef string         `json:"carrier_ref"`
}

func (p ShipmentDispatchedPayload) EventType() EventType { return ShipmentDispatched }

func (p ShipmentDispatchedPayload) Validate() error {
	if p.OrderID == "" {
		return fmt.Errorf("events: ShipmentDispatched.order_id must not be empty")
	}
	if p.CarrierRef == "" {
		return fmt.Errorf("events: ShipmentDispatched.carrier_ref must not be empty")
	}
	return validateItems(p.Items, "ShipmentDispatched.items")
}

func (p ShipmentDispatchedPayload) ToCanonical() canonical.Map {
	return canonical.Map{
		"order_id":    p.OrderID,
		"items":       itemsToCanonical(p.Items),
		"carrier_ref": p.CarrierRef,
	}
}

// ---- RefundIssued ----

type RefundIssuedPayload struct {
	OrderID     string `json:"order_id"`
	Amount      int64  `json:"amount"`
	ReceiptHash string `json:"receipt_hash"`
}

func (p RefundIssuedPayload) EventType() EventType { return RefundIssued }

func (p RefundIssuedPayload) Validate() error {
	if p.OrderID == "" {
		return fmt.Errorf("events: RefundIssued.order_id must not be empty")
	}
	if p.Amount < 0 {
		return fmt.Errorf("events: RefundIssued.amount must be non-negative")
	}
	if p.ReceiptHash == "" {
		return fmt.Errorf("events: RefundIssued.receipt_hash must not be empty")
	}
	return nil
}

func (p RefundIssuedPayload) ToCanonical() canonical.Map {
	return canonical.Map{"order_id": p.OrderID, "amount": p.Amount, "receipt_hash": p.ReceiptHash}
}

// ---- InventoryAdjusted ----

type InventoryAdjustedPayload struct {
	Reason string                `json:"reason"`
	Items  []InventoryAdjustItem `json:"items"`
}

func (p InventoryAdjustedPayload) EventType() EventType { return InventoryAdjusted }

func (p InventoryAdjustedPayload) Validate() error {
	if p.Reason == "" {
		return fmt.Errorf("events: InventoryAdjusted.reason must not be empty")
	}
	return validateItems(p.Items, "InventoryAdjusted.items")
}

func (p InventoryAdjustedPayload) ToCanonical() canonical.Map {
	return canonical.Map{"reason": p.Reason, "items": itemsToCanonical(p.Items)}
}

// ---- DisclosurePublished ----

type DisclosurePublishedPayload struct {
	DisclosureID     string         `json:"disclosure_id"`
	PolicyID         string         `json:"policy_id"`
	Period           map[string]string `json:"period"`
	Metrics          map[string]int64  `json:"metrics"`
	MerkleRoot       string         `json:"merkle_root"`
	AnchorRef        canonical.Map  `json:"anchor_ref"`
	StatementSigHash string         `json:"statement_sig_hash"`
}

func (p DisclosurePublishedPayload) EventType() EventType { return DisclosurePublished }

func (p DisclosurePublishedPayload) Validate() error {
	if p.DisclosureID == "" {
		return fmt.Errorf("events: DisclosurePublished.disclosure_id must not be empty")
	}
	if p.PolicyID == "" {
		return fmt.Errorf("events: DisclosurePublished.policy_id must not be empty")
	}
	if p.MerkleRoot == "" {
		return fmt.Errorf("events: DisclosurePublished.merkle_root must not be empty")
	}
	return nil
}

func (p DisclosurePublishedPayload) ToCanonical() canonical.Map {
	period := canonical.Map{}
	for k, v := range p.Period {
		period[k] = v
	}
	metrics := canonical.Map{}
	for k, v := range p.Metrics {
		metrics[k] = v
	}
	anchorRef := p.AnchorRef
	if anchorRef == nil {
		anchorRef = canonical.Map{}
	}
	return canonical.Map{
		"disclosure_id":      p.DisclosureID,
		"policy_id":          p.PolicyID,
		"period":             period,
		"metrics":            metrics,
		"merkle_root":        p.MerkleRoot,
		"anchor_ref":         anchorRef,
		"statement_sig_hash": p.StatementSigHash,
	}
}

// ---- SelectiveDisclosureRevealed ----

type SelectiveDisclosureRevealedPayload struct {
	DisclosureID        string        `json:"disclosure_id"`
	MetricKey           string        `json:"metric_key"`
	Group               canonical.Map `json:"group"`
	RevealedEventHashes []string      `json:"revealed_event_hashes"`
	ChallengeSubject    string        `json:"challenge_subject"`
}

func (p SelectiveDisclosureRevealedPayload) EventType() EventType {
	return SelectiveDisclosureRevealed
}

func (p SelectiveDisclosureRevealedPayload) Validate() error {
	if p.DisclosureID == "" {
		return fmt.Errorf("events: SelectiveDisclosureRevealed.disclosure_id must not be empty")
	}
	if p.MetricKey == "" {
		return fmt.Errorf("events: SelectiveDisclosureRevealed.metric_key must not be empty")
	}
	return nil
}

func (p SelectiveDisclosureRevealedPayload) ToCanonical() canonical.Map {
	group := p.Group
	if group == nil {
		group = canonical.Map{}
	}
	hashes := make(canonical.List, len(p.RevealedEventHashes))
	for i, h := range p.RevealedEventHashes {
		hashes[i] = h
	}
	return canonical.Map{
		"disclosure_id":         p.DisclosureID,
		"metric_key":            p.MetricKey,
		"group":                 group,
		"revealed_event_hashes": hashes,
		"challenge_subject":     p.ChallengeSubject,
	}
}

// ---- OrchestratorStateChanged ----

type OrchestratorStateChangedPayload struct {
	RunID        string `json:"run_id"`
	WorkflowName string `json:"workflow_name"`
	FromState    string `json:"from_state,omitempty"`
	ToState      string `json:"to_state"`
	Reason       string `json:"reason,omitempty"`
}

func (p OrchestratorStateChangedPayload) EventType() EventType { return OrchestratorStateChanged }

func (p OrchestratorStateChangedPayload) Validate() error {
	if p.RunID == "" {
		return fmt.Errorf("events: OrchestratorStateChanged.run_id must not be empty")
	}
	if p.WorkflowName == "" {
		return fmt.Errorf("events: OrchestratorStateChanged.workflow_name must not be empty")
	}
	if p.ToState == "" {
		return fmt.Errorf("events: OrchestratorStateChanged.to_state must not be empty")
	}
	return nil
}

func (p OrchestratorStateChangedPayload) ToCanonical() canonical.Map {
	return canonical.Map{
		"run_id":        p.RunID,
		"workflow_name": p.WorkflowName,
		"from_state":    optStr(p.FromState),
		"to_state":      p.ToState,
		"reason":        optStr(p.Reason),
	}
}

// ---- ToolInvocationLogged ----

type ToolInvocationLoggedPayload struct {
	RunID                    string        `json:"run_id"`
	TaskID                   string        `json:"task_id"`
	Connector                string        `json:"connector"`
	Action                   string        `json:"action"`
	Status                   string        `json:"status"` // "success" | "failed"
	Attempt                  int64         `json:"attempt"`
	TimeoutSeconds           int64         `json:"timeout_seconds"`
	MaxRetries               int64         `json:"max_retries"`
	RequestHash              string        `json:"request_hash"`
	ResponseHash             string        `json:"response_hash,omitempty"`
	Error                    string        `json:"error,omitempty"`
	Governance               canonical.Map `json:"governance,omitempty"`
	AmountCents              *int64        `json:"amount_cents,omitempty"`
	SupplierID               string        `json:"supplier_id,omitempty"`
	SettlementProcurementID  string        `json:"settlement_procurement_id,omitempty"`
	Purpose                  string        `json:"purpose,omitempty"`
}

func (p ToolInvocationLoggedPayload) EventType() EventType { return ToolInvocationLogged }

func (p ToolInvocationLoggedPayload) Validate() error {
	if p.RunID == "" || p.TaskID == "" {
		return fmt.Errorf("events: ToolInvocationLogged requires run_id and task_id")
	}
	if p.Connector == "" || p.Action == "" {
		return fmt.Errorf("events: ToolInvocationLogged requires connector and action")
	}
	if p.Status != "success" && p.Status != "failed" {
		return fmt.Errorf("events: ToolInvocationLogged.status must be success or failed, got %q", p.Status)
	}
	if p.Attempt < 1 {
		return fmt.Errorf("events: ToolInvocationLogged.attempt must be >= 1")
	}
	if p.TimeoutSeconds < 1 {
		return fmt.Errorf("events: ToolInvocationLogged.timeout_seconds must be >= 1")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("events: ToolInvocationLogged.max_retries must be >= 0")
	}
	if p.RequestHash == "" {
		return fmt.Errorf("events: ToolInvocationLogged.request_hash must not be empty")
	}
	if p.AmountCents != nil && *p.AmountCents < 0 {
		return fmt.Errorf("events: ToolInvocationLogged.amount_cents must be non-negative")
	}
	return nil
}

func (p ToolInvocationLoggedPayload) ToCanonical() canonical.Map {
	gov := p.Governance
	if gov == nil {
		gov = canonical.Map{}
	}
	var amount any
	if p.AmountCents != nil {
		amount = *p.AmountCents
	}
	return canonical.Map{
		"run_id":                     p.RunID,
		"task_id":                    p.TaskID,
		"connector":                  p.Connector,
		"action":                     p.Action,
		"status":                     p.Status,
		"attempt":                    p.Attempt,
		"timeout_seconds":            p.TimeoutSeconds,
		"max_retries":                p.MaxRetries,
		"request_hash":               p.RequestHash,
		"response_hash":              optStr(p.ResponseHash),
		"error":                      optStr(p.Error),
		"governance":                 gov,
		"amount_cents":               amount,
		"supplier_id":                optStr(p.SupplierID),
		"settlement_procurement_id": optStr(p.SettlementProcurementID),
		"purpose":                    optStr(p.Purpose),
	}
}

// ---- DemoScenarioInitialized ----

type DemoScenarioInitializedPayload struct {
	ScenarioID      string        `json:"scenario_id"`
	ScenarioVersion string        `json:"scenario_version"`
	SeededAt        string        `json:"seeded_at"`
	KeyEventIDs     []string      `json:"key_event_ids,omitempty"`
	Result          canonical.Map `json:"result,omitempty"`
}

func (p DemoScenarioInitializedPayload) EventType() EventType { return DemoScenarioInitialized }

func (p DemoScenarioInitializedPayload) Validate() error {
	if p.ScenarioID == "" {
		return fmt.Errorf("events: DemoScenarioInitialized.scenario_id must not be empty")
	}
	if p.ScenarioVersion == "" {
		return fmt.Errorf("events: DemoScenarioInitialized.scenario_version must not be empty")
	}
	if p.SeededAt == "" {
		return fmt.Errorf("events: DemoScenarioInitialized.seeded_at must not be empty")
	}
	return nil
}

func (p DemoScenarioInitializedPayload) ToCanonical() canonical.Map {
	ids := make(canonical.List, len(p.KeyEventIDs))
	for i, id := range p.KeyEventIDs {
		ids[i] = id
	}
	result := p.Result
	if result == nil {
		result = canonical.Map{}
	}
	return canonical.Map{
		"scenario_id":      p.ScenarioID,
		"scenario_version": p.ScenarioVersion,
		"seeded_at":        rawDate(p.SeededAt),
		"key_event_ids":    ids,
		"result":           result,
	}
}

// ---- SupplierContractSigned ----

type SupplierContractSignedPayload struct {
	ContractID    string `json:"contract_id"`
	SupplierID    string `json:"supplier_id"`
	SignedBy      string `json:"signed_by"`
	EffectiveDate string `json:"effective_date"`
	TermsHash     string `json:"terms_hash"`
}

func (p SupplierContractSignedPayload) EventType() EventType { return SupplierContractSigned }

func (p SupplierContractSignedPayload) Validate() error {
	if p.ContractID == "" || p.SupplierID == "" || p.SignedBy == "" {
		return fmt.Errorf("events: SupplierContractSigned requires contract_id, supplier_id, signed_by")
	}
	if p.EffectiveDate == "" {
		return fmt.Errorf("events: SupplierContractSigned.effective_date must not be empty")
	}
	if p.TermsHash == "" {
		return fmt.Errorf("events: SupplierContractSigned.terms_hash must not be empty")
	}
	return nil
}

func (p SupplierContractSignedPayload) ToCanonical() canonical.Map {
	return canonical.Map{
		"contract_id":    p.ContractID,
		"supplier_id":    p.SupplierID,
		"signed_by":      p.SignedBy,
		"effective_date": rawDate(p.EffectiveDate),
		"terms_hash":     p.TermsHash,
	}
}

// ---- PolicyUpdated ----

type PolicyUpdatedPayload struct {
	PolicyDomain    string `json:"policy_domain"`
	PreviousVersion string `json:"previous_version"`
	NewVersion      string `json:"new_version"`
	PolicyHash      string `json:"policy_hash"`
	Reason          string `json:"reason"`
}

func (p PolicyUpdatedPayload) EventType() EventType { return PolicyUpdated }

func (p PolicyUpdatedPayload) Validate() error {
	if p.PolicyDomain == "" {
		return fmt.Errorf("events: PolicyUpdated.policy_domain must not be empty")
	}
	if p.NewVersion == "" {
		return fmt.Errorf("events: PolicyUpdated.new_version must not be empty")
	}
	if p.PolicyHash == "" {
		return fmt.Errorf("events: PolicyUpdated.policy_hash must not be empty")
	}
	return nil
}

func (p PolicyUpdatedPayload) ToCanonical() canonical.Map {
	return canonical.Map{
		"policy_domain":    p.PolicyDomain,
		"previous_version": p.PreviousVersion,
		"new_version":      p.NewVersion,
		"policy_hash":      p.PolicyHash,
		"reason":           p.Reason,
	}
}

// ---- ComplaintLogged ----

type ComplaintLoggedPayload struct {
	ComplaintID string `json:"complaint_id"`
	OrderID     string `json:"order_id,omitempty"`
	CustomerRef string `json:"customer_ref"`
	Topic       string `json:"topic"`
	Severity    string `json:"severity"` // low|medium|high|critical
	Summary     string `json:"summary"`
}

func (p ComplaintLoggedPayload) EventType() EventType { return ComplaintLogged }

func validSeverity(s string) bool {
	switch s {
	case "low", "medium", "high", "critical":
		return true
	default:
		return false
	}
}

func (p ComplaintLoggedPayload) Validate() error {
	if p.ComplaintID == "" || p.CustomerRef == "" {
		return fmt.Errorf("events: ComplaintLogged requires complaint_id and customer_ref")
	}
	if p.Topic == "" {
		return fmt.Errorf("events: ComplaintLogged.topic must not be empty")
	}
	if !validSeverity(p.Severity) {
		return fmt.Errorf("events: ComplaintLogged.severity %q invalid", p.Severity)
	}
	return nil
}

func (p ComplaintLoggedPayload) ToCanonical() canonical.Map {
	return canonical.Map{
		"complaint_id": p.ComplaintID,
		"order_id":     optStr(p.OrderID),
		"customer_ref": p.CustomerRef,
		"topic":        p.Topic,
		"severity":     p.Severity,
		"summary":      p.Summary,
	}
}

// ---- CustomerConflictReported ----

type CustomerConflictReportedPayload struct {
	ConflictID  string   `json:"conflict_id"`
	OrderID     string   `json:"order_id,omitempty"`
	CustomerRef string   `json:"customer_ref"`
	EmployeeRef string   `json:"employee_ref"`
	Severity    string   `json:"severity"`
	Resolution  string   `json:"resolution"`
	PrivacyTags []string `json:"privacy_tags,omitempty"`
}

func (p CustomerConflictReportedPayload) EventType() EventType { return CustomerConflictReported }

func (p CustomerConflictReportedPayload) Validate() error {
	if p.ConflictID == "" || p.CustomerRef == "" || p.EmployeeRef == "" {
		return fmt.Errorf("events: CustomerConflictReported requires conflict_id, customer_ref, employee_ref")
	}
	if !validSeverity(p.Severity) {
		return fmt.Errorf("events: CustomerConflictReported.severity %q invalid", p.Severity)
	}
	return nil
}

func (p CustomerConflictReportedPayload) ToCanonical() canonical.Map {
	tags := make(canonical.List, len(p.PrivacyTags))
	for i, t := range p.PrivacyTags {
		tags[i] = t
	}
	return canonical.Map{
		"conflict_id":  p.ConflictID,
		"order_id":     optStr(p.OrderID),
		"customer_ref": p.CustomerRef,
		"employee_ref": p.EmployeeRef,
		"severity":     p.Severity,
		"resolution":   p.Resolution,
		"privacy_tags": tags,
	}
}

// ---- CompanyCompensationIssued ----

type CompanyCompensationIssuedPayload struct {
	ConflictID  string `json:"conflict_id"`
	OrderID     string `json:"order_id,omitempty"`
	Amount      int64  `json:"amount"`
	Reason      string `json:"reason"`
	ReceiptHash string `json:"receipt_hash"`
}

func (p CompanyCompensationIssuedPayload) EventType() EventType { return CompanyCompensationIssued }

func (p CompanyCompensationIssuedPayload) Validate() error {
	if p.ConflictID == "" {
		return fmt.Errorf("events: CompanyCompensationIssued.conflict_id must not be empty")
	}
	if p.Amount < 0 {
		return fmt.Errorf("events: CompanyCompensationIssued.amount must be non-negative")
	}
	if p.ReceiptHash == "" {
		return fmt.Errorf("events: CompanyCompensationIssued.receipt_hash must not be empty")
	}
	return nil
}

func (p CompanyCompensationIssuedPayload) ToCanonical() canonical.Map {
	return canonical.Map{
		"conflict_id":  p.ConflictID,
		"order_id":     optStr(p.OrderID),
		"amount":       p.Amount,
		"reason":       p.Reason,
		"receipt_hash": p.ReceiptHash,
	}
}

// ---- SkillRunStarted / Finished / Failed ----

type SkillRunStartedPayload struct {
	RunID       string   `json:"run_id"`
	SkillName   string   `json:"skill_name"`
	Entrypoint  string   `json:"entrypoint"`
	ActorID     string   `json:"actor_id"`
	InputsHash  string   `json:"inputs_hash"`
	OutputsHash string   `json:"outputs_hash,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	SOPHash     string   `json:"sop_hash"`
	ReceiptHash string   `json:"receipt_hash,omitempty"`
}

func (p SkillRunStartedPayload) EventType() EventType { return SkillRunStarted }

func validHash64(s string) bool { return len(s) == 64 }

func (p SkillRunStartedPayload) Validate() error {
	if p.RunID == "" || p.SkillName == "" || p.Entrypoint == "" || p.ActorID == "" {
		return fmt.Errorf("events: SkillRunStarted requires run_id, skill_name, entrypoint, actor_id")
	}
	if !validHash64(p.InputsHash) {
		return fmt.Errorf("events: SkillRunStarted.inputs_hash must be 64 hex chars")
	}
	if !validHash64(p.SOPHash) {
		return fmt.Errorf("events: SkillRunStarted.sop_hash must be 64 hex chars")
	}
	return nil
}

func (p SkillRunStartedPayload) ToCanonical() canonical.Map {
	perms := make(canonical.List, len(p.Permissions))
	for i, perm := range p.Permissions {
		perms[i] = perm
	}
	return canonical.Map{
		"run_id":       p.RunID,
		"skill_name":   p.SkillName,
		"entrypoint":   p.Entrypoint,
		"actor_id":     p.ActorID,
		"inputs_hash":  p.InputsHash,
		"outputs_hash": p.OutputsHash,
		"permissions":  perms,
		"sop_hash":     p.SOPHash,
		"receipt_hash": optStr(p.ReceiptHash),
	}
}

type SkillRunFinishedPayload struct {
	RunID       string `json:"run_id"`
	SkillName   string `json:"skill_name"`
	Entrypoint  string `json:"entrypoint"`
	ActorID     string `json:"actor_id"`
	InputsHash  string `json:"inputs_hash"`
	OutputsHash string `json:"outputs_hash"`
	ReceiptHash string `json:"receipt_hash,omitempty"`
}

func (p SkillRunFinishedPayload) EventType() EventType { return SkillRunFinished }

func (p SkillRunFinishedPayload) Validate() error {
	if p.RunID == "" || p.SkillName == "" || p.Entrypoint == "" || p.ActorID == "" {
		return fmt.Errorf("events: SkillRunFinished requires run_id, skill_name, entrypoint, actor_id")
	}
	if !validHash64(p.InputsHash) || !validHash64(p.OutputsHash) {
		return fmt.Errorf("events: SkillRunFinished.inputs_hash/outputs_hash must be 64 hex chars")
	}
	return nil
}

func (p SkillRunFinishedPayload) ToCanonical() canonical.Map {
	return canonical.Map{
		"run_id":       p.RunID,
		"skill_name":   p.SkillName,
		"entrypoint":   p.Entrypoint,
		"actor_id":     p.ActorID,
		"inputs_hash":  p.InputsHash,
		"outputs_hash": p.OutputsHash,
		"receipt_hash": optStr(p.ReceiptHash),
	}
}

type SkillRunFailedPayload struct {
	RunID       string `json:"run_id"`
	SkillName   string `json:"skill_name"`
	Entrypoint  string `json:"entrypoint"`
	ActorID     string `json:"actor_id"`
	InputsHash  string `json:"inputs_hash"`
	OutputsHash string `json:"outputs_hash,omitempty"`
	Error       string `json:"error"`
}

func (p SkillRunFailedPayload) EventType() EventType { return SkillRunFailed }

func (p SkillRunFailedPayload) Validate() error {
	if p.RunID == "" || p.SkillName == "" || p.Entrypoint == "" || p.ActorID == "" {
		return fmt.Errorf("events: SkillRunFailed requires run_id, skill_name, entrypoint, actor_id")
	}
	if !validHash64(p.InputsHash) {
		return fmt.Errorf("events: SkillRunFailed.inputs_hash must be 64 hex chars")
	}
	if p.Error == "" {
		return fmt.Errorf("events: SkillRunFailed.error must not be empty")
	}
	return nil
}

func (p SkillRunFailedPayload) ToCanonical() canonical.Map {
	return canonical.Map{
		"run_id":       p.RunID,
		"skill_name":   p.SkillName,
		"entrypoint":   p.Entrypoint,
		"actor_id":     p.ActorID,
		"inputs_hash":  p.InputsHash,
		"outputs_hash": p.OutputsHash,
		"error":        p.Error,
	}
}

// KnownTypes lists every event kind accepted by the system.
var KnownTypes = []EventType{
	ProcurementOrdered, GoodsReceived, OrderPlaced, PaymentCaptured,
	ShipmentDispatched, RefundIssued, InventoryAdjusted, DisclosurePublished,
	SelectiveDisclosureRevealed, ToolInvocationLogged, OrchestratorStateChanged,
	DemoScenarioInitialized, SupplierContractSigned, PolicyUpdated,
	ComplaintLogged, CustomerConflictReported, CompanyCompensationIssued,
	SkillRunStarted, SkillRunFinished, SkillRunFailed,
}

// IsKnown reports whether t is one of KnownTypes.
func IsKnown(t EventType) bool {
	for _, k := range KnownTypes {
		if k == t {
			return true
		}
	}
	return false
}
