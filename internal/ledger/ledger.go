// Package ledger implements the append-only signed hash chain:
// append/list/get/verify over a sqlite-backed event table. A single
// append-only table plus a mutex serializes the "read latest prev_hash,
// then insert" critical section; rows are never updated or deleted.
// The driver is modernc.org/sqlite imported directly (glebarez/sqlite,
// used by the gorm-backed stores, is a thin shell around the same
// implementation and registers under the same driver name).
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kuibu/transparent-company/internal/events"
	"github.com/kuibu/transparent-company/internal/governance"
	"github.com/kuibu/transparent-company/internal/ledgererr"
	"github.com/kuibu/transparent-company/internal/observability/metrics"
	"github.com/kuibu/transparent-company/pkg/canonical"
	"github.com/kuibu/transparent-company/pkg/signer"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_events (
    seq_id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id TEXT NOT NULL UNIQUE,
    event_type TEXT NOT NULL,
    occurred_at TEXT NOT NULL,
    actor_type TEXT NOT NULL,
    actor_id TEXT NOT NULL,
    policy_id TEXT NOT NULL,
    payload BLOB NOT NULL,
    tool_trace BLOB NOT NULL,
    prev_hash TEXT NOT NULL,
    event_hash TEXT NOT NULL,
    signature BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_events_type ON ledger_events(event_type);
CREATE INDEX IF NOT EXISTS idx_ledger_events_occurred_at ON ledger_events(occurred_at);
`

// ErrNotFound is returned by Get for an event_id the ledger has never
// seen.
var ErrNotFound = errors.New("not found")

// Row is one persisted, chain-linked event.
type Row struct {
	SeqID      int64
	EventID    uuid.UUID
	EventType  events.EventType
	OccurredAt time.Time
	Actor      events.Actor
	PolicyID   string
	Payload    canonical.Map
	ToolTrace  canonical.Map
	PrevHash   string
	EventHash  string
	Signature  []byte
}

// AppendRequest is the caller-supplied intent to append one event.
type AppendRequest struct {
	EventID    uuid.UUID // zero value means "generate"; duplicates are rejected
	EventType  events.EventType
	Actor      events.Actor
	PolicyID   string
	Payload    events.Payload
	ToolTrace  canonical.Map
	Approvals  []string
	OccurredAt time.Time // zero value means "now"
}

// Store is the append-only ledger. Appends are serialized through mu so
// "read latest prev_hash, then insert" is atomic with respect to other
// writers in this process; the service is single-writer per database,
// so an in-process mutex suffices over a DB-level lock.
type Store struct {
	db         *sql.DB
	mu         sync.Mutex
	signers    *signer.Registry
	governance *governance.Engine
}

// Open creates/migrates the sqlite-backed event table at dsn.
func Open(dsn string, signers *signer.Registry, gov *governance.Engine) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open database: %w", err)
	}
	// One connection: appends are already serialized through mu, and a
	// second pooled connection against a ":memory:" dsn would see its own
	// empty database instead of the migrated one.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	return &Store{db: db, signers: signers, governance: gov}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func approvalsFromTrace(trace canonical.Map) []string {
	raw, ok := trace["approvals"]
	if !ok {
		return nil
	}
	list, ok := raw.(canonical.List)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func preSignatureView(eventID uuid.UUID, eventType events.EventType, occurredAt time.Time, actor events.Actor, policyID string, payload, toolTrace canonical.Map, prevHash string) canonical.Map {
	return canonical.Map{
		"event_id":   eventID,
		"event_type": string(eventType),
		"occurred_at": occurredAt,
		"actor":      actor.ToCanonical(),
		"policy_id":  policyID,
		"payload":    payload,
		"tool_trace": toolTrace,
		"prev_hash":  prevHash,
	}
}

// Append validates, governs, signs, and persists one event, returning the
// stored row. signerRole is the role under which the caller is signing;
// it must match the role required for actor.Type.
func (s *Store) Append(ctx context.Context, req AppendRequest, signerRole signer.Role) (Row, error) {
	reg := metrics.Default()
	start := time.Now()
	outcome := "error"
	defer func() {
		reg.AppendLatency.Observe(time.Since(start).Seconds())
		reg.AppendsTotal.WithLabelValues(string(req.EventType), outcome).Inc()
	}()

	if !events.IsKnown(req.EventType) {
		return Row{}, &ledgererr.Error{Kind: ledgererr.SchemaValidation, Message: fmt.Sprintf("unknown event_type %q", req.EventType)}
	}
	if req.Payload == nil || req.Payload.EventType() != req.EventType {
		return Row{}, &ledgererr.Error{Kind: ledgererr.SchemaValidation, Message: "payload does not match event_type"}
	}
	if err := req.Payload.Validate(); err != nil {
		return Row{}, &ledgererr.Error{Kind: ledgererr.SchemaValidation, Message: err.Error(), Err: err}
	}
	if err := req.Actor.Validate(); err != nil {
		return Row{}, &ledgererr.Error{Kind: ledgererr.SchemaValidation, Message: err.Error(), Err: err}
	}

	requiredRole, err := signer.RequiredRole(req.Actor.Type)
	if err != nil {
		return Row{}, &ledgererr.Error{Kind: ledgererr.SchemaValidation, Message: err.Error(), Err: err}
	}
	if requiredRole != signerRole {
		return Row{}, &ledgererr.Error{
			Kind:    ledgererr.SignerMismatch,
			Message: fmt.Sprintf("actor_type=%s requires signer role %s, got %s", req.Actor.Type, requiredRole, signerRole),
		}
	}

	toolTrace := req.ToolTrace
	if toolTrace == nil {
		toolTrace = canonical.Map{}
	}
	payloadCanon := req.Payload.ToCanonical()

	decision := s.governance.Evaluate(
		"event:"+string(req.EventType),
		req.Actor.Type,
		signerRole,
		payloadCanon,
		toolTrace,
		approvalsFromTrace(toolTrace),
	)
	toolTrace = mapWithGovernance(toolTrace, decision)
	if !decision.Allowed {
		outcome = "denied"
		reg.GovernanceDenials.WithLabelValues(decision.MatchedRuleID).Inc()
		return Row{}, &ledgererr.Error{Kind: ledgererr.PolicyEnforcement, Message: decision.Reason, RuleID: decision.MatchedRuleID}
	}

	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	} else {
		occurredAt = occurredAt.UTC()
	}
	policyID := req.PolicyID
	if policyID == "" {
		policyID = decision.PolicyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prevHash, err := s.latestEventHashLocked(ctx)
	if err != nil {
		return Row{}, fmt.Errorf("ledger: read latest hash: %w", err)
	}

	eventID := req.EventID
	if eventID == uuid.Nil {
		eventID = uuid.New()
	}
	preView := preSignatureView(eventID, req.EventType, occurredAt, req.Actor, policyID, payloadCanon, toolTrace, prevHash)
	sig, err := s.signers.Sign(signerRole, preView)
	if err != nil {
		return Row{}, fmt.Errorf("ledger: sign: %w", err)
	}

	fullView := cloneMap(preView)
	fullView["signature"] = canonical.Bytes(sig)
	eventHash, err := canonical.Hash(fullView)
	if err != nil {
		return Row{}, fmt.Errorf("ledger: hash: %w", err)
	}

	row := Row{
		EventID:    eventID,
		EventType:  req.EventType,
		OccurredAt: occurredAt,
		Actor:      req.Actor,
		PolicyID:   policyID,
		Payload:    payloadCanon,
		ToolTrace:  toolTrace,
		PrevHash:   prevHash,
		EventHash:  eventHash,
		Signature:  sig,
	}

	payloadBytes, err := canonical.ToBytes(payloadCanon)
	if err != nil {
		return Row{}, fmt.Errorf("ledger: encode payload: %w", err)
	}
	traceBytes, err := canonical.ToBytes(toolTrace)
	if err != nil {
		return Row{}, fmt.Errorf("ledger: encode tool_trace: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_events(event_id, event_type, occurred_at, actor_type, actor_id, policy_id, payload, tool_trace, prev_hash, event_hash, signature)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, eventID.String(), string(req.EventType), occurredAt.Format(time.RFC3339Nano), string(req.Actor.Type), req.Actor.ID, policyID, payloadBytes, traceBytes, prevHash, eventHash, sig)
	if err != nil {
		return Row{}, fmt.Errorf("ledger: insert event: %w", err)
	}
	seqID, err := result.LastInsertId()
	if err != nil {
		return Row{}, fmt.Errorf("ledger: read seq_id: %w", err)
	}
	row.SeqID = seqID
	outcome = "ok"
	return row, nil
}

func mapWithGovernance(trace canonical.Map, decision governance.GovernanceDecision) canonical.Map {
	out := cloneMap(trace)
	out["governance"] = decision.ToAuditMap()
	return out
}

func cloneMap(m canonical.Map) canonical.Map {
	out := make(canonical.Map, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Store) latestEventHashLocked(ctx context.Context) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT event_hash FROM ledger_events ORDER BY seq_id DESC LIMIT 1`)
	var hash string
	err := row.Scan(&hash)
	if err == sql.ErrNoRows {
		return canonical.ZeroHash, nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

// Get returns the event with the given event_id, or ErrNotFound if
// absent. The surrounding API layer maps ErrNotFound to 404.
func (s *Store) Get(ctx context.Context, eventID uuid.UUID) (Row, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq_id, event_id, event_type, occurred_at, actor_type, actor_id, policy_id, payload, tool_trace, prev_hash, event_hash, signature
		FROM ledger_events WHERE event_id = ?
	`, eventID.String())
	r, err := scanRow(row)
	if err == sql.ErrNoRows {
		return Row{}, fmt.Errorf("ledger: event %s: %w", eventID, ErrNotFound)
	}
	if err != nil {
		return Row{}, fmt.Errorf("ledger: get: %w", err)
	}
	return r, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	Start *time.Time
	End   *time.Time
	Kinds []events.EventType
}

// List returns events in seq_id order, optionally filtered by a
// half-open occurred_at window [Start, End) and event kinds.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]Row, error) {
	query := `SELECT seq_id, event_id, event_type, occurred_at, actor_type, actor_id, policy_id, payload, tool_trace, prev_hash, event_hash, signature FROM ledger_events WHERE 1=1`
	var args []any
	if filter.Start != nil {
		query += " AND occurred_at >= ?"
		args = append(args, filter.Start.UTC().Format(time.RFC3339Nano))
	}
	if filter.End != nil {
		query += " AND occurred_at < ?"
		args = append(args, filter.End.UTC().Format(time.RFC3339Nano))
	}
	if len(filter.Kinds) > 0 {
		query += " AND event_type IN (" + placeholders(len(filter.Kinds)) + ")"
		for _, k := range filter.Kinds {
			args = append(args, string(k))
		}
	}
	query += " ORDER BY seq_id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRows(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ","
		}
		out += "?"
	}
	return out
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(row scanner) (Row, error) {
	return scanInto(row)
}

func scanRows(rows *sql.Rows) (Row, error) {
	return scanInto(rows)
}

func scanInto(s scanner) (Row, error) {
	var (
		r            Row
		eventIDStr   string
		occurredStr  string
		actorType    string
		payloadBytes []byte
		traceBytes   []byte
	)
	if err := s.Scan(&r.SeqID, &eventIDStr, (*string)(&r.EventType), &occurredStr, &actorType, &r.Actor.ID, &r.PolicyID, &payloadBytes, &traceBytes, &r.PrevHash, &r.EventHash, &r.Signature); err != nil {
		return Row{}, err
	}
	id, err := uuid.Parse(eventIDStr)
	if err != nil {
		return Row{}, fmt.Errorf("parse event_id: %w", err)
	}
	r.EventID = id
	occurred, err := time.Parse(time.RFC3339Nano, occurredStr)
	if err != nil {
		return Row{}, fmt.Errorf("parse occurred_at: %w", err)
	}
	r.OccurredAt = occurred.UTC()
	r.Actor.Type = signer.ActorType(actorType)

	payloadVal, err := canonical.FromBytes(payloadBytes)
	if err != nil {
		return Row{}, fmt.Errorf("decode payload: %w", err)
	}
	payloadMap, ok := payloadVal.(canonical.Map)
	if !ok {
		return Row{}, fmt.Errorf("decode payload: not an object")
	}
	r.Payload = payloadMap

	traceVal, err := canonical.FromBytes(traceBytes)
	if err != nil {
		return Row{}, fmt.Errorf("decode tool_trace: %w", err)
	}
	traceMap, ok := traceVal.(canonical.Map)
	if !ok {
		return Row{}, fmt.Errorf("decode tool_trace: not an object")
	}
	r.ToolTrace = traceMap

	return r, nil
}

// VerifyChain walks every row in seq_id order, asserting prev_hash
// linkage and recomputing each event_hash and signature against the
// actor's required role public key.
func (s *Store) VerifyChain(ctx context.Context) (bool, error) {
	rows, err := s.List(ctx, ListFilter{})
	if err != nil {
		return false, err
	}
	expectedPrev := canonical.ZeroHash
	for _, r := range rows {
		if r.PrevHash != expectedPrev {
			return false, nil
		}
		preView := preSignatureView(r.EventID, r.EventType, r.OccurredAt, r.Actor, r.PolicyID, r.Payload, r.ToolTrace, r.PrevHash)
		fullView := cloneMap(preView)
		fullView["signature"] = canonical.Bytes(r.Signature)
		recomputed, err := canonical.Hash(fullView)
		if err != nil {
			return false, fmt.Errorf("ledger: recompute hash for seq %d: %w", r.SeqID, err)
		}
		if recomputed != r.EventHash {
			return false, nil
		}
		role, err := signer.RequiredRole(r.Actor.Type)
		if err != nil {
			return false, nil
		}
		ok, err := s.signers.Verify(role, preView, r.Signature)
		if err != nil {
			return false, fmt.Errorf("ledger: verify signature for seq %d: %w", r.SeqID, err)
		}
		if !ok {
			return false, nil
		}
		expectedPrev = r.EventHash
	}
	return true, nil
}
