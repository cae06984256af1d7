package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProcurementOrderedValidation(t *testing.T) {
	p := ProcurementOrderedPayload{
		SupplierID:   "sup-1",
		ExpectedDate: "2026-08-01",
		Items:        []ItemCost{{SKU: "sku-1", Qty: 10, UnitCost: 500}},
	}
	require.NoError(t, p.Validate())

	bad := p
	bad.Items = nil
	require.Error(t, bad.Validate())

	bad2 := p
	bad2.Items = []ItemCost{{SKU: "sku-1", Qty: 0, UnitCost: 500}}
	require.Error(t, bad2.Validate())
}

func TestInventoryAdjustedAllowsSignedDelta(t *testing.T) {
	p := InventoryAdjustedPayload{
		Reason: "damaged",
		Items:  []InventoryAdjustItem{{SKU: "sku-1", QtyDelta: -3}},
	}
	require.NoError(t, p.Validate())

	zero := InventoryAdjustedPayload{Reason: "x", Items: []InventoryAdjustItem{{SKU: "sku-1", QtyDelta: 0}}}
	require.Error(t, zero.Validate())
}

func TestToolInvocationLoggedStatusEnum(t *testing.T) {
	base := ToolInvocationLoggedPayload{
		RunID: "r1", TaskID: "t1", Connector: "payment", Action: "bank_transfer",
		Status: "success", Attempt: 1, TimeoutSeconds: 30, MaxRetries: 2,
		RequestHash: "abc",
	}
	require.NoError(t, base.Validate())

	bad := base
	bad.Status = "pending"
	require.Error(t, bad.Validate())
}

func TestSkillRunHashLengthValidation(t *testing.T) {
	h64 := ""
	for i := 0; i < 64; i++ {
		h64 += "a"
	}
	p := SkillRunStartedPayload{
		RunID: "r", SkillName: "s", Entrypoint: "e", ActorID: "a",
		InputsHash: h64, SOPHash: h64,
	}
	require.NoError(t, p.Validate())

	bad := p
	bad.InputsHash = "tooshort"
	require.Error(t, bad.Validate())
}

func TestComplaintLoggedSeverityEnum(t *testing.T) {
	p := ComplaintLoggedPayload{ComplaintID: "c1", CustomerRef: "cust-1", Topic: "shipping", Severity: "high"}
	require.NoError(t, p.Validate())

	p.Severity = "urgent"
	require.Error(t, p.Validate())
}

func TestKnownTypesContainsAllTwentyKinds(t *testing.T) {
	require.Len(t, KnownTypes, 20)
	require.True(t, IsKnown(OrderPlaced))
	require.False(t, IsKnown(EventType("SomethingElse")))
}

func TestToCanonicalOmitsOptionalFieldsAsNull(t *testing.T) {
	p := OrderPlacedPayload{
		OrderID: "o1", CustomerRef: "cust-1", Channel: "web",
		Items: []OrderItem{{SKU: "sku-1", Qty: 1, UnitPrice: 100}},
	}
	m := p.ToCanonical()
	require.Nil(t, m["region"])
	require.Equal(t, "web", m["channel"])
}
