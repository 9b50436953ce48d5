// Package attest keeps the latest signed history per player.
package attest

import (
	"strings"
	"time"
)

// Attestation is a player's signature over a serialized history.
type Attestation struct {
	Identity  string    `json:"identity"`
	Message   string    `json:"message"`
	Signature string    `json:"signature"`
	SignedAt  time.Time `json:"signedAt"`
}

// Store is a keyed overwrite store. It is not synchronized; the owning
// session actor serializes access.
type Store struct {
	byIdentity map[string]Attestation
	now        func() time.Time
}

func NewStore() *Store {
	return &Store{byIdentity: make(map[string]Attestation), now: time.Now}
}

// Put replaces identity's attestation and returns the stored value.
func (s *Store) Put(identity, message, signature string) Attestation {
	a := Attestation{
		Identity:  identity,
		Message:   message,
		Signature: signature,
		SignedAt:  s.now().UTC(),
	}
	s.byIdentity[key(identity)] = a
	return a
}

// Restore installs a previously stored attestation verbatim.
func (s *Store) Restore(a Attestation) {
	if strings.TrimSpace(a.Identity) == "" {
		return
	}
	s.byIdentity[key(a.Identity)] = a
}

func (s *Store) Get(identity string) (Attestation, bool) {
	a, ok := s.byIdentity[key(identity)]
	return a, ok
}

func (s *Store) Delete(identity string) {
	delete(s.byIdentity, key(identity))
}

// Reset drops every attestation.
func (s *Store) Reset() {
	clear(s.byIdentity)
}

// Identities are hex addresses; case is not significant.
func key(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
