// Package rules wraps the chess move generator behind the narrow Engine
// interface the game session drives.
package rules

import (
	"errors"

	"github.com/park285/basedchess/internal/history"
)

// Side is the color to move.
type Side int

const (
	White Side = iota
	Black
)

func (s Side) String() string {
	if s == Black {
		return "black"
	}
	return "white"
}

// Opponent returns the other side.
func (s Side) Opponent() Side {
	if s == White {
		return Black
	}
	return White
}

var (
	ErrIllegalMove = errors.New("illegal move")
	ErrGameOver    = errors.New("game is over")
	ErrBadHistory  = errors.New("history does not replay")
)

// MoveSpec is a move as sent by a client.
type MoveSpec struct {
	From      string
	To        string
	Promotion string
}

// MoveRecord is an applied move.
type MoveRecord struct {
	From      string
	To        string
	Promotion string
	SAN       string
	UCI       string
	Side      Side
	Ply       int // 1-based
}

// Terminal describes whether and how the game ended.
type Terminal struct {
	Over       bool
	Checkmate  bool
	Draw       bool
	Stalemate  bool
	Threefold  bool
	Resigned   bool
	Result     string
	SideToMove Side
}

// Engine is one game's rules state. Implementations are not safe for
// concurrent use; the session actor owns its engine.
type Engine interface {
	Apply(MoveSpec) (MoveRecord, error)
	SideToMove() Side
	Terminal() Terminal
	Ply() int
	Header(key string) (string, bool)
	SetHeader(key, value string)
	// Resign records a resignation by loser in the Result tag.
	Resign(loser Side) error
	// Serialize returns the full history in PGN form.
	Serialize() string
}

// Loader rebuilds an engine from a serialized history. It is the only way
// sessions create engines, so rollback is a reload of the last good history.
type Loader func(pgn string) (Engine, error)

// OutcomeCode is the settlement result code understood by the games contract.
type OutcomeCode uint8

const (
	OutcomeNone      OutcomeCode = 0
	OutcomeDecisive  OutcomeCode = 1
	OutcomeDraw      OutcomeCode = 2
	OutcomeStalemate OutcomeCode = 3
	OutcomeThreefold OutcomeCode = 4
)

// Outcome maps a terminal state to its contract code. hasWinner is set for
// decisive results, with winner naming the winning side.
func (t Terminal) Outcome() (code OutcomeCode, winner Side, hasWinner bool) {
	if !t.Over {
		return OutcomeNone, White, false
	}
	switch {
	case t.Checkmate:
		return OutcomeDecisive, t.SideToMove.Opponent(), true
	case t.Draw:
		code = OutcomeDraw
		if t.Stalemate {
			code = OutcomeStalemate
		}
		if t.Threefold {
			code = OutcomeThreefold
		}
		return code, White, false
	}
	switch t.Result {
	case history.ResultWhiteWins:
		return OutcomeDecisive, White, true
	case history.ResultBlackWins:
		return OutcomeDecisive, Black, true
	case history.ResultDraw:
		return OutcomeDraw, White, false
	}
	return OutcomeNone, White, false
}
