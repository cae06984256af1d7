package reveal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kuibu/transparent-company/internal/disclosure"
	"github.com/kuibu/transparent-company/internal/events"
	"github.com/kuibu/transparent-company/internal/ledger"
	"github.com/kuibu/transparent-company/internal/ledgererr"
	"github.com/kuibu/transparent-company/pkg/merkle"
	"github.com/kuibu/transparent-company/pkg/signer"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return db
}

type fakeAppender struct {
	appended []ledger.AppendRequest
}

func (f *fakeAppender) Append(_ context.Context, req ledger.AppendRequest, _ signer.Role) (ledger.Row, error) {
	f.appended = append(f.appended, req)
	return ledger.Row{EventType: req.EventType}, nil
}

func testCommitment(t *testing.T) (*disclosure.Commitment, string) {
	t.Helper()
	h1, err := merkle.HashLeafPayload(map[string]any{"i": 1})
	require.NoError(t, err)
	h2, err := merkle.HashLeafPayload(map[string]any{"i": 2})
	require.NoError(t, err)
	tree := merkle.New([]string{h1, h2})

	proof0, err := tree.Proof(0)
	require.NoError(t, err)

	key := disclosure.ProofLookupKey("revenue_cents", map[string]string{})
	return &disclosure.Commitment{
		RootSummary: tree.Root(),
		RootDetails: "detail-root",
		ProofIndex: map[string]disclosure.ProofEntry{
			key: {
				LookupKey:    key,
				LeafHash:     h1,
				Proof:        proof0,
				DetailRoot:   "detail-root",
				DetailHashes: []string{h1, h2},
				DetailProof:  map[string][]merkle.ProofNode{h1: proof0},
			},
		},
	}, key
}

func TestRequestTokenRejectsNonHumanNonAuditorActor(t *testing.T) {
	db := setupDB(t)
	svc := New(db, []byte("secret"), time.Hour, nil)

	_, err := svc.RequestToken(context.Background(), "disc-1", "sub", events.Actor{Type: signer.ActorAgent, ID: "a-1"})
	require.Error(t, err)
}

func TestRequestTokenThenRevealSucceedsOnce(t *testing.T) {
	db := setupDB(t)
	appender := &fakeAppender{}
	svc := New(db, []byte("secret"), time.Hour, appender)

	actor := events.Actor{Type: signer.ActorAuditor, ID: "auditor-1"}
	issued, err := svc.RequestToken(context.Background(), "disc-1", "sub", actor)
	require.NoError(t, err)
	require.NotEmpty(t, issued.Token)

	commitment, _ := testCommitment(t)

	result, err := svc.Reveal(context.Background(), "disc-1", issued.Token, "revenue_cents", map[string]string{}, actor, commitment, signer.RoleAuditor)
	require.NoError(t, err)
	require.Equal(t, "disc-1", result.DisclosureID)
	require.Len(t, result.RevealedEventHashes, 2)
	require.Len(t, appender.appended, 1)
	require.Equal(t, events.SelectiveDisclosureRevealed, appender.appended[0].EventType)

	var audits []Audit
	require.NoError(t, db.Find(&audits).Error)
	require.Len(t, audits, 1)
	require.Equal(t, "disc-1", audits[0].DisclosureID)
	require.Equal(t, "revenue_cents", audits[0].RequestedMetricKey)
	require.True(t, audits[0].Granted)

	_, err = svc.Reveal(context.Background(), "disc-1", issued.Token, "revenue_cents", map[string]string{}, actor, commitment, signer.RoleAuditor)
	require.Error(t, err)
	var lerr *ledgererr.Error
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, ledgererr.AlreadyUsed, lerr.Reason)
}

func TestRevealFailsForDifferentActor(t *testing.T) {
	db := setupDB(t)
	svc := New(db, []byte("secret"), time.Hour, nil)

	issuer := events.Actor{Type: signer.ActorAuditor, ID: "auditor-1"}
	issued, err := svc.RequestToken(context.Background(), "disc-2", "sub", issuer)
	require.NoError(t, err)

	commitment, _ := testCommitment(t)
	other := events.Actor{Type: signer.ActorAuditor, ID: "auditor-2"}

	_, err = svc.Reveal(context.Background(), "disc-2", issued.Token, "revenue_cents", map[string]string{}, other, commitment, signer.RoleAuditor)
	require.Error(t, err)
	var lerr *ledgererr.Error
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, ledgererr.ActorMismatch, lerr.Reason)
}

func TestRevealFailsForWrongDisclosureScope(t *testing.T) {
	db := setupDB(t)
	svc := New(db, []byte("secret"), time.Hour, nil)

	actor := events.Actor{Type: signer.ActorHuman, ID: "h-1"}
	issued, err := svc.RequestToken(context.Background(), "disc-3", "sub", actor)
	require.NoError(t, err)

	commitment, _ := testCommitment(t)
	_, err = svc.Reveal(context.Background(), "disc-other", issued.Token, "revenue_cents", map[string]string{}, actor, commitment, signer.RoleHuman)
	require.Error(t, err)
}

func TestRevealFailsWhenTokenExpired(t *testing.T) {
	db := setupDB(t)
	svc := New(db, []byte("secret"), time.Millisecond, nil)

	actor := events.Actor{Type: signer.ActorAuditor, ID: "auditor-1"}
	issued, err := svc.RequestToken(context.Background(), "disc-4", "sub", actor)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	commitment, _ := testCommitment(t)
	_, err = svc.Reveal(context.Background(), "disc-4", issued.Token, "revenue_cents", map[string]string{}, actor, commitment, signer.RoleAuditor)
	require.Error(t, err)
	var lerr *ledgererr.Error
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, ledgererr.Expired, lerr.Reason)
}
