package rules

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/basedchess/internal/history"
)

// ChessEngine is the Engine backed by corentings/chess.
type ChessEngine struct {
	game    *nchess.Game
	headers history.Headers
	san     []string
}

var _ Engine = (*ChessEngine)(nil)

// NewChessEngine starts a game from the initial position with the given tags.
func NewChessEngine(headers history.Headers) *ChessEngine {
	return &ChessEngine{game: nchess.NewGame(), headers: headers.Clone()}
}

// LoadChess replays a serialized history. It satisfies Loader.
func LoadChess(pgn string) (Engine, error) {
	doc := history.Parse(pgn)
	e := NewChessEngine(doc.Headers)
	for i, san := range doc.Moves {
		if err := e.game.PushNotationMove(san, nchess.AlgebraicNotation{}, nil); err != nil {
			return nil, fmt.Errorf("%w: ply %d %q: %v", ErrBadHistory, i+1, san, err)
		}
		e.san = append(e.san, san)
	}
	return e, nil
}

// Board exposes the current position for rendering.
func (e *ChessEngine) Board() *nchess.Board { return e.game.Position().Board() }

func (e *ChessEngine) Apply(spec MoveSpec) (MoveRecord, error) {
	if e.Terminal().Over {
		return MoveRecord{}, ErrGameOver
	}
	pos := e.game.Position()
	uci, ok := matchValidMove(pos, spec)
	if !ok {
		return MoveRecord{}, ErrIllegalMove
	}
	mv, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return MoveRecord{}, ErrIllegalMove
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	side := sideOf(pos.Turn())
	if err := e.game.Move(mv, nil); err != nil {
		return MoveRecord{}, ErrIllegalMove
	}
	e.san = append(e.san, san)

	rec := MoveRecord{
		From:      uci[0:2],
		To:        uci[2:4],
		Promotion: uci[4:],
		SAN:       san,
		UCI:       uci,
		Side:      side,
		Ply:       len(e.san),
	}
	if t := e.Terminal(); t.Over && t.Result != "" {
		e.headers.Set("Result", t.Result)
	}
	return rec, nil
}

// matchValidMove finds the legal move from spec.From to spec.To. A missing
// promotion piece means queen.
func matchValidMove(pos *nchess.Position, spec MoveSpec) (string, bool) {
	from := strings.ToLower(strings.TrimSpace(spec.From))
	to := strings.ToLower(strings.TrimSpace(spec.To))
	promo := strings.ToLower(strings.TrimSpace(spec.Promotion))
	if promo == "" {
		promo = "q"
	}
	for _, mv := range pos.ValidMoves() {
		if mv.S1().String() != from || mv.S2().String() != to {
			continue
		}
		p := mv.Promo().String()
		if p == "" || p == promo {
			return from + to + p, true
		}
	}
	return "", false
}

func (e *ChessEngine) SideToMove() Side { return sideOf(e.game.Position().Turn()) }

func (e *ChessEngine) Ply() int { return len(e.san) }

func (e *ChessEngine) Header(key string) (string, bool) { return e.headers.Get(key) }

func (e *ChessEngine) SetHeader(key, value string) { e.headers.Set(key, value) }

func (e *ChessEngine) Serialize() string {
	return history.Document{Headers: e.headers, Moves: e.san}.String()
}

// Terminal treats claimable threefold and fifty-move draws as final, and a
// decisive or drawn Result tag as a concluded game.
func (e *ChessEngine) Terminal() Terminal {
	t := Terminal{SideToMove: e.SideToMove()}

	switch e.game.Method() {
	case nchess.Checkmate:
		t.Checkmate = true
	case nchess.Stalemate:
		t.Draw, t.Stalemate = true, true
	case nchess.ThreefoldRepetition, nchess.FivefoldRepetition:
		t.Draw, t.Threefold = true, true
	case nchess.FiftyMoveRule, nchess.SeventyFiveMoveRule, nchess.InsufficientMaterial:
		t.Draw = true
	}
	if e.game.Outcome() == nchess.NoOutcome {
		for _, m := range e.game.EligibleDraws() {
			switch m {
			case nchess.ThreefoldRepetition:
				t.Draw, t.Threefold = true, true
			case nchess.FiftyMoveRule:
				t.Draw = true
			}
		}
	}

	switch {
	case t.Checkmate:
		t.Over = true
		t.Result = history.ResultWhiteWins
		if t.SideToMove == White {
			t.Result = history.ResultBlackWins
		}
	case t.Draw:
		t.Over = true
		t.Result = history.ResultDraw
	default:
		res, _ := e.headers.Get("Result")
		switch res {
		case history.ResultWhiteWins, history.ResultBlackWins:
			t.Over, t.Resigned, t.Result = true, true, res
		case history.ResultDraw:
			t.Over, t.Draw, t.Result = true, true, res
		}
	}
	return t
}

// Resign concludes the game in favour of the opponent of loser.
func (e *ChessEngine) Resign(loser Side) error {
	if e.Terminal().Over {
		return ErrGameOver
	}
	res := history.ResultBlackWins
	if loser == Black {
		res = history.ResultWhiteWins
	}
	e.headers.Set("Result", res)
	return nil
}

func sideOf(c nchess.Color) Side {
	if c == nchess.Black {
		return Black
	}
	return White
}
