// Package signer implements the role/keypair registry: three roles, each
// bound to one Ed25519 keypair seeded at configuration time, with
// sign/verify over canonical bytes and a published key manifest. The
// raw crypto/ed25519 key types are wrapped in a small named struct
// rather than hidden behind a signing framework.
package signer

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/kuibu/transparent-company/pkg/canonical"
)

// Role identifies which keypair should sign or verify a given action.
type Role string

const (
	RoleAgent   Role = "agent"
	RoleHuman   Role = "human"
	RoleAuditor Role = "auditor"
)

// ActorType is the event actor kind recorded on every ledger event.
type ActorType string

const (
	ActorAgent   ActorType = "agent"
	ActorHuman   ActorType = "human"
	ActorSystem  ActorType = "system"
	ActorAuditor ActorType = "auditor"
)

// RequiredRole returns the signing role an actor type must use. system
// actions sign with the agent key.
func RequiredRole(actor ActorType) (Role, error) {
	switch actor {
	case ActorAgent, ActorSystem:
		return RoleAgent, nil
	case ActorHuman:
		return RoleHuman, nil
	case ActorAuditor:
		return RoleAuditor, nil
	default:
		return "", fmt.Errorf("signer: unknown actor type %q", actor)
	}
}

// KeyPair is one role's Ed25519 material.
type KeyPair struct {
	KeyID   string
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// Registry holds the three role keypairs. It is process-global and
// read-only after construction; keys are never rotated mid-process.
type Registry struct {
	mu   sync.RWMutex
	keys map[Role]KeyPair
}

// NewRegistry builds a registry from 32-byte Ed25519 seeds, one per role.
func NewRegistry(seeds map[Role][]byte) (*Registry, error) {
	reg := &Registry{keys: make(map[Role]KeyPair, len(seeds))}
	for _, role := range []Role{RoleAgent, RoleHuman, RoleAuditor} {
		seed, ok := seeds[role]
		if !ok {
			return nil, fmt.Errorf("signer: missing seed for role %q", role)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("signer: seed for role %q must be %d bytes, got %d", role, ed25519.SeedSize, len(seed))
		}
		priv := ed25519.NewKeyFromSeed(seed)
		pub := priv.Public().(ed25519.PublicKey)
		reg.keys[role] = KeyPair{
			KeyID:   string(role) + "-key-1",
			Private: priv,
			Public:  pub,
		}
	}
	return reg, nil
}

// Sign signs canonical(value) with the named role's private key.
func (r *Registry) Sign(role Role, value canonical.Value) ([]byte, error) {
	b, err := canonical.ToBytes(value)
	if err != nil {
		return nil, err
	}
	return r.SignBytes(role, b)
}

// SignBytes signs raw bytes directly (used when the caller has already
// produced the canonical form, e.g. to avoid re-deriving it).
func (r *Registry) SignBytes(role Role, b []byte) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kp, ok := r.keys[role]
	if !ok {
		return nil, fmt.Errorf("signer: unknown role %q", role)
	}
	return ed25519.Sign(kp.Private, b), nil
}

// Verify checks a signature over canonical(value) against the given role's
// public key.
func (r *Registry) Verify(role Role, value canonical.Value, sig []byte) (bool, error) {
	b, err := canonical.ToBytes(value)
	if err != nil {
		return false, err
	}
	return r.VerifyBytes(role, b, sig)
}

// VerifyBytes checks a signature over raw bytes.
func (r *Registry) VerifyBytes(role Role, b, sig []byte) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kp, ok := r.keys[role]
	if !ok {
		return false, fmt.Errorf("signer: unknown role %q", role)
	}
	return ed25519.Verify(kp.Public, b, sig), nil
}

// PublicKey returns the public key material for a role, for manifest
// publication or external verification.
func (r *Registry) PublicKey(role Role) (KeyPair, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kp, ok := r.keys[role]
	return kp, ok
}

// ManifestEntry is one role's published key material.
type ManifestEntry struct {
	KeyID       string `json:"key_id"`
	Algorithm   string `json:"algorithm"`
	PublicKeyB64 string `json:"public_key_b64"`
}

// PublicManifest returns {role: {key_id, algorithm, public_key_b64}} for
// every registered role, as a map keyed by role.
func (r *Registry) PublicManifest() map[Role]ManifestEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Role]ManifestEntry, len(r.keys))
	for role, kp := range r.keys {
		out[role] = ManifestEntry{
			KeyID:        kp.KeyID,
			Algorithm:    "Ed25519",
			PublicKeyB64: base64.StdEncoding.EncodeToString(kp.Public),
		}
	}
	return out
}
