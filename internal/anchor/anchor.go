// Package anchor writes disclosure and receipt commitments to an
// external immutable store, and keeps a locally persisted mirror of
// every write so the anchoring decision (and any fallback) survives a
// restart.
//
// The external store is reached through the Client interface; a real
// deployment implements it against whatever tamper-evident backend it
// runs (a WORM store, an append-only KV with signed transactions).
// FakeClient is the in-process backend used for local development and
// as the degraded-mode fallback.
package anchor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kuibu/transparent-company/internal/ledgererr"
	"github.com/kuibu/transparent-company/internal/observability/metrics"
)

// Mode names the anchor backend an AnchoringService is configured to use.
type Mode string

const (
	// ModeFake writes to an in-process FakeClient only, used for local
	// development and tests.
	ModeFake Mode = "fake"
	// ModeImmutableNative means no external backend is configured at
	// all: with a nil client every write goes to the service's in-process
	// FakeClient and is mirrored with backend "fake" into the local
	// postgres/sqlite mirror, which is itself append-only (no UPDATE
	// path, see Record).
	ModeImmutableNative Mode = "immutable_native"
)

// WriteResult mirrors anchoring.py's AnchorWriteResult: what was written,
// where, and the backend's transaction identifier.
type WriteResult struct {
	Key     string
	Value   string
	Backend string
	TxID    string
}

// Client is the external anchor store contract. A real deployment backs
// this with whatever tamper-evident store is available; the only
// implementation in this package is FakeClient.
type Client interface {
	Set(ctx context.Context, key, value string) (txID string, err error)
	Get(ctx context.Context, key string) (value string, txID string, found bool, err error)
}

// FakeClient is an in-memory Client, fabricating a deterministic-looking
// tx id from the key, value, and wall-clock time it was written at.
type FakeClient struct {
	store map[string]fakeEntry
}

type fakeEntry struct {
	value string
	txID  string
}

func NewFakeClient() *FakeClient {
	return &FakeClient{store: make(map[string]fakeEntry)}
}

func (f *FakeClient) Set(_ context.Context, key, value string) (string, error) {
	sum := sha256.Sum256([]byte(key + "|" + value + "|" + time.Now().UTC().Format(time.RFC3339Nano)))
	txID := "fake-" + hex.EncodeToString(sum[:8])
	f.store[key] = fakeEntry{value: value, txID: txID}
	return txID, nil
}

func (f *FakeClient) Get(_ context.Context, key string) (string, string, bool, error) {
	e, ok := f.store[key]
	if !ok {
		return "", "", false, nil
	}
	return e.value, e.txID, true, nil
}

// Record is the locally persisted mirror of one anchor write. Rows are
// never updated in place: a later write for the same key inserts a new
// row, so the mirror itself stays append-only and its history can be
// diffed against the external backend during reconciliation.
type Record struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Key       string    `gorm:"size:255;index"`
	Value     string    `gorm:"type:text"`
	Backend   string    `gorm:"size:32"`
	TxID      string    `gorm:"size:128"`
	Degraded  bool      `gorm:"index"`
	CreatedAt time.Time
}

// AutoMigrate applies the anchor mirror's schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Record{})
}

// Service orchestrates anchor writes: it always tries the configured
// client first; in strict mode a client failure aborts the write, in
// degraded mode it falls back to an in-process FakeClient and records
// that the write was degraded.
type Service struct {
	mode    Mode
	client  Client
	db      *gorm.DB
	strict  bool
	fake    *FakeClient
	timeout time.Duration
}

// defaultWriteTimeout bounds every external anchor write; a backend that
// hangs past it surfaces as ExternalTimeout in strict mode and falls
// back to the in-process FakeClient in degraded mode, rather than
// stalling a publish indefinitely.
const defaultWriteTimeout = 5 * time.Second

// New builds a Service. client may be nil when mode is ModeImmutableNative.
func New(db *gorm.DB, mode Mode, client Client, strict bool) *Service {
	return &Service{mode: mode, client: client, db: db, strict: strict, fake: NewFakeClient(), timeout: defaultWriteTimeout}
}

func (s *Service) safeSet(ctx context.Context, key, value string) (WriteResult, error) {
	backend := string(s.mode)
	degraded := false

	if s.client != nil {
		writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
		txID, err := s.client.Set(writeCtx, key, value)
		cancel()
		if err == nil {
			return s.persist(key, value, backend, txID, false)
		}
		if s.strict {
			if errors.Is(err, context.DeadlineExceeded) {
				return WriteResult{}, ledgererr.Wrap(ledgererr.ExternalTimeout, "anchor: write timed out in strict mode", err)
			}
			return WriteResult{}, ledgererr.Wrap(ledgererr.AnchorUnavailable, "anchor: write failed in strict mode", err)
		}
		degraded = true
	}

	txID, err := s.fake.Set(ctx, key, value)
	if err != nil {
		return WriteResult{}, ledgererr.Wrap(ledgererr.AnchorUnavailable, "anchor: fallback write failed", err)
	}
	if degraded {
		metrics.Default().AnchorFallbacks.Inc()
	}
	return s.persist(key, value, "fake", txID, degraded)
}

func (s *Service) persist(key, value, backend, txID string, degraded bool) (WriteResult, error) {
	if s.db != nil {
		rec := &Record{
			ID:        uuid.New(),
			Key:       key,
			Value:     value,
			Backend:   backend,
			TxID:      txID,
			Degraded:  degraded,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.db.Create(rec).Error; err != nil {
			return WriteResult{}, fmt.Errorf("anchor: persist mirror record for %s: %w", key, err)
		}
	}
	return WriteResult{Key: key, Value: value, Backend: backend, TxID: txID}, nil
}

// DisclosureAnchorKeys names the three keys a disclosure publish
// anchors under: the disclosure id, the summary root, and the details
// root when one exists.
func DisclosureAnchorKeys(disclosureID string, periodStart time.Time, policyID string) (disclosureKey, rootSummaryKey, rootDetailsKey string) {
	disclosureKey = fmt.Sprintf("disclosure:%s", disclosureID)
	rootSummaryKey = fmt.Sprintf("root:summary:%s:%s", periodStart.UTC().Format(time.RFC3339), policyID)
	rootDetailsKey = fmt.Sprintf("root:details:%s:%s", periodStart.UTC().Format(time.RFC3339), policyID)
	return
}

// AnchorDisclosure writes the disclosure id, the summary root, and (when
// non-empty) the details root as three independent keyed records.
func (s *Service) AnchorDisclosure(ctx context.Context, disclosureID string, periodStart time.Time, policyID, rootSummary, rootDetails string) ([]WriteResult, error) {
	disclosureKey, rootSummaryKey, rootDetailsKey := DisclosureAnchorKeys(disclosureID, periodStart, policyID)

	results := make([]WriteResult, 0, 3)

	r, err := s.safeSet(ctx, disclosureKey, disclosureID)
	if err != nil {
		return nil, err
	}
	results = append(results, r)

	r, err = s.safeSet(ctx, rootSummaryKey, rootSummary)
	if err != nil {
		return nil, err
	}
	results = append(results, r)

	if rootDetails != "" {
		r, err = s.safeSet(ctx, rootDetailsKey, rootDetails)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	return results, nil
}

// AnchorReceipt anchors a single opaque receipt payload under its own
// key, mirroring anchoring.py::anchor_receipt.
func (s *Service) AnchorReceipt(ctx context.Context, receiptID, payload string) (WriteResult, error) {
	return s.safeSet(ctx, fmt.Sprintf("receipt:%s", receiptID), payload)
}

// GetDisclosureAnchor returns the most recent mirror record written for
// a disclosure id, or nil when none was written.
func (s *Service) GetDisclosureAnchor(disclosureID string) (*Record, error) {
	key := fmt.Sprintf("disclosure:%s", disclosureID)
	var rec Record
	err := s.db.Where("key = ?", key).Order("created_at DESC").First(&rec).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("anchor: lookup %s: %w", key, err)
	}
	return &rec, nil
}
