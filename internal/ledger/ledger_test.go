package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kuibu/transparent-company/internal/events"
	"github.com/kuibu/transparent-company/internal/governance"
	"github.com/kuibu/transparent-company/pkg/canonical"
	"github.com/kuibu/transparent-company/pkg/signer"
)

func testSeeds() map[signer.Role][]byte {
	mk := func(b byte) []byte {
		s := make([]byte, 32)
		for i := range s {
			s[i] = b
		}
		return s
	}
	return map[signer.Role][]byte{
		signer.RoleAgent:   mk(10),
		signer.RoleHuman:   mk(20),
		signer.RoleAuditor: mk(30),
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	reg, err := signer.NewRegistry(testSeeds())
	require.NoError(t, err)
	eng, err := governance.NewEngine(governance.DefaultPolicy())
	require.NoError(t, err)
	store, err := Open(":memory:", reg, eng)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func orderPlacedReq(orderID string) AppendRequest {
	return AppendRequest{
		EventType: events.OrderPlaced,
		Actor:     events.Actor{Type: signer.ActorAgent, ID: "agent-1"},
		PolicyID:  "policy_internal_v1",
		Payload: events.OrderPlacedPayload{
			OrderID:     orderID,
			CustomerRef: "cust-1",
			Channel:     "web",
			Items:       []events.OrderItem{{SKU: "sku-1", Qty: 2, UnitPrice: 500}},
		},
	}
}

func TestAppendAssignsSeqIDAndChainsPrevHash(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r1, err := store.Append(ctx, orderPlacedReq("o-1"), signer.RoleAgent)
	require.NoError(t, err)
	require.Equal(t, int64(1), r1.SeqID)
	require.Equal(t, canonical.ZeroHash, r1.PrevHash)
	require.NotEmpty(t, r1.EventHash)

	r2, err := store.Append(ctx, orderPlacedReq("o-2"), signer.RoleAgent)
	require.NoError(t, err)
	require.Equal(t, int64(2), r2.SeqID)
	require.Equal(t, r1.EventHash, r2.PrevHash)
}

func TestAppendRejectsSignerMismatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, orderPlacedReq("o-1"), signer.RoleHuman)
	require.Error(t, err)
}

func TestAppendRejectsUnknownEventType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	req := orderPlacedReq("o-1")
	req.EventType = events.EventType("NotARealKind")
	_, err := store.Append(ctx, req, signer.RoleAgent)
	require.Error(t, err)
}

func TestAppendDeniesPolicyBoundAction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	req := AppendRequest{
		EventType: events.ProcurementOrdered,
		Actor:     events.Actor{Type: signer.ActorAgent, ID: "agent-1"},
		Payload: events.ProcurementOrderedPayload{
			SupplierID:   "sup-1",
			ExpectedDate: "2026-08-01",
			Items:        []events.ItemCost{{SKU: "sku-1", Qty: 10, UnitCost: 100_000}},
		},
	}
	_, err := store.Append(ctx, req, signer.RoleAgent)
	require.Error(t, err)
}

func TestVerifyChainTrueOnCleanAppendSequence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Append(ctx, orderPlacedReq("o"), signer.RoleAgent)
		require.NoError(t, err)
	}

	ok, err := store.VerifyChain(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyChainFalseOnTamperedRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, orderPlacedReq("o-1"), signer.RoleAgent)
	require.NoError(t, err)

	_, err = store.db.ExecContext(ctx, `UPDATE ledger_events SET event_hash = 'deadbeef' WHERE seq_id = 1`)
	require.NoError(t, err)

	ok, err := store.VerifyChain(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetAndListRoundTripPayload(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r1, err := store.Append(ctx, orderPlacedReq("o-42"), signer.RoleAgent)
	require.NoError(t, err)

	got, err := store.Get(ctx, r1.EventID)
	require.NoError(t, err)
	require.Equal(t, "o-42", got.Payload["order_id"])

	rows, err := store.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	_, err = store.Get(ctx, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAppendRejectsDuplicateEventID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	req := orderPlacedReq("o-1")
	req.EventID = uuid.New()

	_, err := store.Append(ctx, req, signer.RoleAgent)
	require.NoError(t, err)

	// Same logical event again: the event_id uniqueness constraint must
	// reject it rather than silently extending the chain.
	req2 := orderPlacedReq("o-1")
	req2.EventID = req.EventID
	_, err = store.Append(ctx, req2, signer.RoleAgent)
	require.Error(t, err)

	rows, err := store.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
