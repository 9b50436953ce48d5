package session

import (
	"time"

	"github.com/park285/basedchess/internal/attest"
	"github.com/park285/basedchess/internal/rules"
	"github.com/park285/basedchess/pkg/chessdto"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusAwaitingPlayers Status = "awaiting_players"
	StatusInProgress      Status = "in_progress"
	StatusCompleted       Status = "completed"
)

// Participants are the registered identities. Player1 moves first (white).
type Participants struct {
	Player1 string
	Player2 string
}

// IdentityOf returns the identity playing side.
func (p Participants) IdentityOf(side rules.Side) string {
	if side == rules.Black {
		return p.Player2
	}
	return p.Player1
}

// InitParams registers a pairing on an empty session.
type InitParams struct {
	Player1        string
	Player2        string
	ContractGameID uint64
}

// SignedHistory is a client signature over a serialized history.
type SignedHistory struct {
	Message   string
	Signature string
}

// MoveRequest is one move submitted by mover. Attestation, when set, was
// verified upstream and is recorded with the move.
type MoveRequest struct {
	Mover       string
	Move        rules.MoveSpec
	Attestation *SignedHistory
}

// Snapshot is the read-only state published after every mutation.
type Snapshot struct {
	GameID         string
	ContractGameID uint64
	Status         Status
	Participants   Participants
	History        string
	Ply            int
	SideToMove     rules.Side
	Terminal       rules.Terminal
	Player1Attest  *attest.Attestation
	Player2Attest  *attest.Attestation
	Observers      int
	CreatedAt      time.Time
}

// Outcome returns the settlement code and winning identity of the snapshot.
func (s *Snapshot) Outcome() (rules.OutcomeCode, string) {
	code, side, ok := s.Terminal.Outcome()
	if !ok {
		return code, ""
	}
	return code, s.Participants.IdentityOf(side)
}

// Observer receives broadcast envelopes. Deliver must not block; an
// observer that cannot keep up drops frames.
type Observer interface {
	ID() string
	Deliver(env chessdto.Envelope) bool
}

// View renders snap for the get-game reply.
func View(snap *Snapshot) chessdto.GameView {
	v := chessdto.GameView{
		DisplayID:      snap.GameID,
		ContractGameID: snap.ContractGameID,
		Status:         string(snap.Status),
		Player1:        snap.Participants.Player1,
		Player2:        snap.Participants.Player2,
		PGN:            snap.History,
		LiveViewers:    snap.Observers,
	}
	if a := snap.Player1Attest; a != nil {
		v.LatestPlayer1Message, v.LatestPlayer1Signature = a.Message, a.Signature
	}
	if a := snap.Player2Attest; a != nil {
		v.LatestPlayer2Message, v.LatestPlayer2Signature = a.Message, a.Signature
	}
	return v
}
