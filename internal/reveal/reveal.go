// Package reveal implements selective disclosure token issuance and
// single-use redemption. Tokens are store-backed: a Token row
// transitions issued -> used exactly once, so replaying an
// already-redeemed token fails even within its TTL. The transport
// envelope is a golang-jwt/jwt/v5 HS256 JWT whose claims mirror the
// row; the envelope alone proves nothing without a matching, unused,
// unexpired row.
package reveal

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kuibu/transparent-company/internal/disclosure"
	"github.com/kuibu/transparent-company/internal/events"
	"github.com/kuibu/transparent-company/internal/ledger"
	"github.com/kuibu/transparent-company/internal/ledgererr"
	"github.com/kuibu/transparent-company/internal/observability/metrics"
	"github.com/kuibu/transparent-company/pkg/canonical"
	"github.com/kuibu/transparent-company/pkg/signer"
)

// Token is the store-backed record of one issued reveal token. The
// envelope handed to the caller carries Token.ID as its jti claim; the
// envelope alone proves nothing without a matching, unused, unexpired
// row here.
type Token struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	DisclosureID    string    `gorm:"size:64;index"`
	Subject         string    `gorm:"size:255"`
	IssuedToType    string    `gorm:"size:16"`
	IssuedToID      string    `gorm:"size:255"`
	ExpiresAt       time.Time
	UsedAt          *time.Time
	CreatedAt       time.Time
}

// Audit is the per-reveal audit row, recorded alongside the
// SelectiveDisclosureRevealed ledger event.
type Audit struct {
	ID                 uint      `gorm:"primaryKey;autoIncrement"`
	DisclosureID       string    `gorm:"size:64;index"`
	TokenID            uuid.UUID `gorm:"type:uuid;index"`
	ActorType          string    `gorm:"size:16"`
	ActorID            string    `gorm:"size:255"`
	ChallengeSubject   string    `gorm:"size:255"`
	RequestedMetricKey string    `gorm:"size:128"`
	RequestedGroup     string    `gorm:"size:512"`
	Granted            bool
	CreatedAt          time.Time
}

// AutoMigrate applies the reveal token and audit schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Token{}, &Audit{})
}

// Appender is the subset of ledger.Store reveal needs, kept as an
// interface so tests don't need a real sqlite-backed ledger.
type Appender interface {
	Append(ctx context.Context, req ledger.AppendRequest, signerRole signer.Role) (ledger.Row, error)
}

// Service issues and redeems selective-reveal tokens.
type Service struct {
	db         *gorm.DB
	signingKey []byte
	ttl        time.Duration
	ledger     Appender
	now        func() time.Time
}

// New builds a Service. signingKey is a process secret distinct from the
// Ed25519 role signing seeds.
func New(db *gorm.DB, signingKey []byte, ttl time.Duration, ledgerStore Appender) *Service {
	return &Service{db: db, signingKey: signingKey, ttl: ttl, ledger: ledgerStore, now: time.Now}
}

type claims struct {
	Subject      string `json:"subject"`
	DisclosureID string `json:"disclosure_id"`
	IssuedTo     string `json:"issued_to"`
	jwt.RegisteredClaims
}

// IssueResult is what RequestToken returns to the caller.
type IssueResult struct {
	DisclosureID      string
	Token             string
	ExpiresInSeconds  int64
}

// RequestToken issues a one-time reveal token. actor must be human or
// auditor.
func (s *Service) RequestToken(ctx context.Context, disclosureID, subject string, actor events.Actor) (*IssueResult, error) {
	if actor.Type != signer.ActorHuman && actor.Type != signer.ActorAuditor {
		return nil, ledgererr.New(ledgererr.PolicyEnforcement, "reveal: only human or auditor actors may request a reveal token")
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)
	id := uuid.New()

	tok := &Token{
		ID:           id,
		DisclosureID: disclosureID,
		Subject:      subject,
		IssuedToType: string(actor.Type),
		IssuedToID:   actor.ID,
		ExpiresAt:    expiresAt,
		CreatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(tok).Error; err != nil {
		return nil, fmt.Errorf("reveal: persist token: %w", err)
	}

	c := claims{
		Subject:      subject,
		DisclosureID: disclosureID,
		IssuedTo:     string(actor.Type) + ":" + actor.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return nil, fmt.Errorf("reveal: sign token: %w", err)
	}

	return &IssueResult{
		DisclosureID:     disclosureID,
		Token:            signed,
		ExpiresInSeconds: int64(s.ttl.Seconds()),
	}, nil
}

func (s *Service) parseToken(tokenString, disclosureID string) (*claims, error) {
	c := &claims{}
	// Claims validation is skipped: expiry and replay are authoritatively
	// decided by the Token row (store-backed single-use), not by the JWT
	// envelope's own exp claim, so a stale signature and an expired token
	// surface as distinct reasons.
	_, err := jwt.ParseWithClaims(tokenString, c, func(t *jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, ledgererr.Token(ledgererr.SignatureBroken, "reveal: token signature invalid: "+err.Error())
	}
	if c.DisclosureID != disclosureID {
		return nil, ledgererr.Token(ledgererr.ScopeMismatch, "reveal: token scoped to a different disclosure")
	}
	return c, nil
}

// RevealResult is the evidence returned for one approved reveal request.
type RevealResult struct {
	DisclosureID        string
	MetricKey           string
	Group               map[string]string
	DetailRoot          string
	RootDetails         string
	RevealedEventHashes []string
	EventProofs         map[string][]string
}

// Reveal redeems tokenString exactly once against disclosureID, and,
// if every check passes, returns the event hashes and Merkle proofs
// backing (metricKey, group) from commitment, appending an audit row
// and a SelectiveDisclosureRevealed event.
func (s *Service) Reveal(ctx context.Context, disclosureID, tokenString, metricKey string, group map[string]string, actor events.Actor, commitment *disclosure.Commitment, signerRole signer.Role) (*RevealResult, error) {
	outcome := "error"
	defer func() {
		metrics.Default().RevealsTotal.WithLabelValues(outcome).Inc()
	}()

	c, err := s.parseToken(tokenString, disclosureID)
	if err != nil {
		return nil, err
	}

	jti, err := uuid.Parse(c.ID)
	if err != nil {
		return nil, ledgererr.Token(ledgererr.SignatureBroken, "reveal: token carries a malformed jti: "+err.Error())
	}

	var tok Token
	if err := s.db.WithContext(ctx).First(&tok, "id = ?", jti).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ledgererr.Token(ledgererr.NotIssued, "reveal: token was never issued")
		}
		return nil, fmt.Errorf("reveal: lookup token: %w", err)
	}

	if tok.DisclosureID != disclosureID {
		return nil, ledgererr.Token(ledgererr.ScopeMismatch, "reveal: token issued for a different disclosure")
	}
	if tok.UsedAt != nil {
		return nil, ledgererr.Token(ledgererr.AlreadyUsed, "reveal: token already redeemed")
	}
	now := s.now().UTC()
	if now.After(tok.ExpiresAt) {
		return nil, ledgererr.Token(ledgererr.Expired, "reveal: token expired")
	}
	if tok.IssuedToType != string(actor.Type) || tok.IssuedToID != actor.ID {
		return nil, ledgererr.Token(ledgererr.ActorMismatch, "reveal: token was issued to a different actor")
	}

	key := disclosure.ProofLookupKey(metricKey, group)
	entry, ok := commitment.ProofIndex[key]
	if !ok || entry.DetailRoot == "" || len(entry.DetailHashes) == 0 {
		return nil, ledgererr.New(ledgererr.NoDetail, "reveal: no committed detail for requested metric/group")
	}

	if err := s.db.WithContext(ctx).Model(&tok).Update("used_at", now).Error; err != nil {
		return nil, fmt.Errorf("reveal: mark token used: %w", err)
	}

	groupCanon := canonical.Map{}
	for k, v := range group {
		groupCanon[k] = v
	}
	groupBytes, err := canonical.ToBytes(groupCanon)
	if err != nil {
		return nil, fmt.Errorf("reveal: encode requested group: %w", err)
	}

	audit := &Audit{
		DisclosureID:       disclosureID,
		TokenID:            tok.ID,
		ActorType:          string(actor.Type),
		ActorID:            actor.ID,
		ChallengeSubject:   tok.Subject,
		RequestedMetricKey: metricKey,
		RequestedGroup:     string(groupBytes),
		Granted:            true,
		CreatedAt:          now,
	}
	if err := s.db.WithContext(ctx).Create(audit).Error; err != nil {
		return nil, fmt.Errorf("reveal: persist audit row: %w", err)
	}

	eventProofs := make(map[string][]string, len(entry.DetailHashes))
	for _, h := range entry.DetailHashes {
		proof := entry.DetailProof[h]
		rendered := make([]string, len(proof))
		for i, p := range proof {
			rendered[i] = string(p.Direction) + ":" + p.Hash
		}
		eventProofs[h] = rendered
	}

	result := &RevealResult{
		DisclosureID:        disclosureID,
		MetricKey:           metricKey,
		Group:                group,
		DetailRoot:          entry.DetailRoot,
		RootDetails:         commitment.RootDetails,
		RevealedEventHashes: entry.DetailHashes,
		EventProofs:         eventProofs,
	}

	if s.ledger != nil {
		req := ledger.AppendRequest{
			EventType: events.SelectiveDisclosureRevealed,
			Actor:     actor,
			Payload: events.SelectiveDisclosureRevealedPayload{
				DisclosureID:        disclosureID,
				MetricKey:           metricKey,
				Group:               groupCanon,
				RevealedEventHashes: entry.DetailHashes,
				ChallengeSubject:    tok.Subject,
			},
		}
		if _, err := s.ledger.Append(ctx, req, signerRole); err != nil {
			return nil, fmt.Errorf("reveal: append SelectiveDisclosureRevealed: %w", err)
		}
	}

	outcome = "ok"
	return result, nil
}
