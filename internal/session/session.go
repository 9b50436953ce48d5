package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/park285/basedchess/internal/attest"
	"github.com/park285/basedchess/internal/gameerr"
	"github.com/park285/basedchess/internal/history"
	"github.com/park285/basedchess/internal/rules"
	"github.com/park285/basedchess/internal/store"
	"github.com/park285/basedchess/pkg/chessdto"
)

var ErrClosed = errors.New("session closed")

// Session is one game's actor. Exported methods enqueue work on the
// mailbox and wait for it; Snapshot reads the last published state.
type Session struct {
	id string
	m  *Manager

	mailbox chan func()
	quit    chan struct{}
	stopped chan struct{}
	ready   chan struct{}
	loadErr error

	snap atomic.Pointer[Snapshot]

	// 액터 고루틴 전용 상태
	engine         rules.Engine
	persisted      string
	status         Status
	players        Participants
	contractGameID uint64
	createdAt      time.Time
	attests        *attest.Store
	observers      map[string]Observer
	log            *zap.Logger
}

func newSession(m *Manager, id string) *Session {
	return &Session{
		id:        id,
		m:         m,
		mailbox:   make(chan func(), m.mailbox),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		ready:     make(chan struct{}),
		status:    StatusAwaitingPlayers,
		attests:   attest.NewStore(),
		observers: make(map[string]Observer),
		log:       m.logger.With(zap.String("game_id", id)),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) run() {
	defer close(s.stopped)
	s.loadErr = s.restore()
	if s.loadErr == nil {
		s.publish()
	}
	close(s.ready)
	if s.loadErr != nil {
		s.log.Error("game_restore_error", zap.Error(s.loadErr))
		return
	}
	for {
		select {
		case fn := <-s.mailbox:
			fn()
		case <-s.quit:
			return
		}
	}
}

// do runs fn on the actor and returns its error. Once enqueued, fn runs to
// completion even if ctx is cancelled.
func (s *Session) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	select {
	case s.mailbox <- func() { res <- fn() }:
	case <-s.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-res:
		return err
	case <-s.stopped:
		select {
		case err := <-res:
			return err
		default:
			return ErrClosed
		}
	}
}

// Snapshot returns the most recently published state.
func (s *Session) Snapshot() Snapshot {
	if p := s.snap.Load(); p != nil {
		return *p
	}
	return Snapshot{GameID: s.id, Status: StatusAwaitingPlayers}
}

func (s *Session) Status() Status { return s.Snapshot().Status }

func (s *Session) Participants() Participants { return s.Snapshot().Participants }

func (s *Session) History() string { return s.Snapshot().History }

func (s *Session) LiveViewers() int { return s.Snapshot().Observers }

// Initialize registers the pairing and writes the initial history.
func (s *Session) Initialize(ctx context.Context, p InitParams) error {
	p.Player1 = strings.TrimSpace(p.Player1)
	p.Player2 = strings.TrimSpace(p.Player2)
	if p.Player1 == "" || p.Player2 == "" {
		return gameerr.Validation("both players are required")
	}
	if strings.EqualFold(p.Player1, p.Player2) {
		return gameerr.Validation("players must be distinct")
	}

	return s.do(ctx, func() error {
		if s.status != StatusAwaitingPlayers {
			return gameerr.Conflict("game already initialized")
		}
		now := s.m.now().UTC()
		players := Participants{Player1: p.Player1, Player2: p.Player2}
		eng, err := s.m.load(history.Document{Headers: s.newHeaders(players, now)}.String())
		if err != nil {
			return gameerr.Internal("build initial history", err)
		}
		hist := eng.Serialize()
		fields := map[string]string{
			store.FieldHistory:        hist,
			store.FieldStatus:         string(StatusInProgress),
			store.FieldPlayer1:        players.Player1,
			store.FieldPlayer2:        players.Player2,
			store.FieldContractGameID: strconv.FormatUint(p.ContractGameID, 10),
			store.FieldCreatedAt:      now.Format(time.RFC3339Nano),
		}
		if err := s.persist(ctx, fields); err != nil {
			return gameerr.Internal("persist new game", err)
		}

		s.engine = eng
		s.persisted = hist
		s.status = StatusInProgress
		s.players = players
		s.contractGameID = p.ContractGameID
		s.createdAt = now
		s.publish()
		s.log.Info("game_initialize",
			zap.String("player1", players.Player1),
			zap.String("player2", players.Player2),
			zap.Uint64("contract_game_id", p.ContractGameID),
		)
		return nil
	})
}

// ApplyMove validates and applies one move, persists it, then broadcasts
// it (and game-over when the move ends the game).
func (s *Session) ApplyMove(ctx context.Context, req MoveRequest) (rules.MoveRecord, error) {
	var accepted rules.MoveRecord
	err := s.do(ctx, func() error {
		if err := s.requireInProgress(); err != nil {
			return err
		}
		rec, err := s.engine.Apply(req.Move)
		if err != nil {
			if errors.Is(err, rules.ErrIllegalMove) || errors.Is(err, rules.ErrGameOver) {
				return gameerr.Validation("illegal move")
			}
			return gameerr.Internal("apply move", err)
		}

		owner := s.players.IdentityOf(rec.Side)
		if !sameIdentity(req.Mover, owner) {
			if rbErr := s.rollback(); rbErr != nil {
				return gameerr.Internal("rollback move", rbErr)
			}
			s.log.Warn("game_move_wrong_signer",
				zap.String("mover", req.Mover),
				zap.String("side", rec.Side.String()),
			)
			return gameerr.Authorization("mover does not own the side to move")
		}

		hist := s.engine.Serialize()
		term := s.engine.Terminal()
		status := StatusInProgress
		if term.Over {
			status = StatusCompleted
		}
		fields := map[string]string{
			store.FieldHistory: hist,
			store.FieldStatus:  string(status),
		}
		var undo func()
		if req.Attestation != nil {
			undo, err = s.stageAttestation(owner, rec.Side, *req.Attestation, hist, fields)
			if err != nil {
				if rbErr := s.rollback(); rbErr != nil {
					s.log.Error("game_rollback_error", zap.Error(rbErr))
				}
				return err
			}
		}

		if err := s.persist(ctx, fields); err != nil {
			if undo != nil {
				undo()
			}
			if rbErr := s.rollback(); rbErr != nil {
				s.log.Error("game_rollback_error", zap.Error(rbErr))
			}
			return gameerr.Internal("persist move", err)
		}

		s.persisted = hist
		s.status = status
		s.publish()

		s.broadcast(chessdto.MoveEvent{
			From:      rec.From,
			To:        rec.To,
			Promotion: rec.Promotion,
			SAN:       rec.SAN,
			Ply:       rec.Ply,
			Mover:     owner,
			PGN:       hist,
		})
		if term.Over {
			s.broadcast(s.gameOver(term))
		}
		s.log.Info("game_move",
			zap.String("mover", owner),
			zap.String("san", rec.SAN),
			zap.Int("ply", rec.Ply),
			zap.String("status", string(status)),
		)
		accepted = rec
		return nil
	})
	return accepted, err
}

// RecordAttestation stores identity's latest signed history.
func (s *Session) RecordAttestation(ctx context.Context, identity string, signed SignedHistory) error {
	return s.do(ctx, func() error {
		if s.status == StatusAwaitingPlayers {
			return gameerr.Validation("game has not started")
		}
		side, ok := s.sideOf(identity)
		if !ok {
			return gameerr.Authorization("identity is not a player in this game")
		}
		fields := map[string]string{}
		undo, err := s.stageAttestation(s.players.IdentityOf(side), side, signed, s.persisted, fields)
		if err != nil {
			return err
		}
		if err := s.persist(ctx, fields); err != nil {
			undo()
			return gameerr.Internal("persist attestation", err)
		}
		s.publish()
		return nil
	})
}

// Reset starts a fresh history for the same players and drops attestations.
func (s *Session) Reset(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.status == StatusAwaitingPlayers {
			return gameerr.Validation("game has not started")
		}
		now := s.m.now().UTC()
		eng, err := s.m.load(history.Document{Headers: s.newHeaders(s.players, now)}.String())
		if err != nil {
			return gameerr.Internal("build reset history", err)
		}
		hist := eng.Serialize()
		fields := map[string]string{
			store.FieldHistory:       hist,
			store.FieldStatus:        string(StatusInProgress),
			store.FieldCreatedAt:     now.Format(time.RFC3339Nano),
			store.FieldAttestPlayer1: "",
			store.FieldAttestPlayer2: "",
		}
		if err := s.persist(ctx, fields); err != nil {
			return gameerr.Internal("persist reset", err)
		}

		s.engine = eng
		s.persisted = hist
		s.status = StatusInProgress
		s.createdAt = now
		s.attests.Reset()
		s.publish()
		s.broadcast(View(s.snap.Load()))
		s.log.Info("game_reset")
		return nil
	})
}

// Resign concludes the game against identity.
func (s *Session) Resign(ctx context.Context, identity string) (rules.Terminal, error) {
	var out rules.Terminal
	err := s.do(ctx, func() error {
		if err := s.requireInProgress(); err != nil {
			return err
		}
		side, ok := s.sideOf(identity)
		if !ok {
			return gameerr.Authorization("identity is not a player in this game")
		}
		if err := s.engine.Resign(side); err != nil {
			return gameerr.Validation("game is over")
		}
		hist := s.engine.Serialize()
		term := s.engine.Terminal()
		fields := map[string]string{
			store.FieldHistory: hist,
			store.FieldStatus:  string(StatusCompleted),
		}
		if err := s.persist(ctx, fields); err != nil {
			if rbErr := s.rollback(); rbErr != nil {
				s.log.Error("game_rollback_error", zap.Error(rbErr))
			}
			return gameerr.Internal("persist resignation", err)
		}
		s.persisted = hist
		s.status = StatusCompleted
		s.publish()
		s.broadcast(s.gameOver(term))
		s.log.Info("game_resign", zap.String("resigner", s.players.IdentityOf(side)))
		out = term
		return nil
	})
	return out, err
}

// AddObserver subscribes o to broadcasts and returns the observer count.
func (s *Session) AddObserver(ctx context.Context, o Observer) (int, error) {
	var n int
	err := s.do(ctx, func() error {
		s.observers[o.ID()] = o
		n = len(s.observers)
		s.publish()
		return nil
	})
	return n, err
}

// RemoveObserver unsubscribes id and returns the observer count.
func (s *Session) RemoveObserver(ctx context.Context, id string) (int, error) {
	var n int
	err := s.do(ctx, func() error {
		delete(s.observers, id)
		n = len(s.observers)
		s.publish()
		return nil
	})
	return n, err
}

// 이하 액터 내부 전용 헬퍼.

func (s *Session) requireInProgress() error {
	switch s.status {
	case StatusAwaitingPlayers:
		return gameerr.Validation("game has not started")
	case StatusCompleted:
		return gameerr.Validation("game is over")
	}
	return nil
}

func (s *Session) sideOf(identity string) (rules.Side, bool) {
	switch {
	case sameIdentity(identity, s.players.Player1):
		return rules.White, true
	case sameIdentity(identity, s.players.Player2):
		return rules.Black, true
	}
	return rules.White, false
}

// stageAttestation writes the attestation into the in-memory store and the
// pending field set, returning an undo for a failed persist. The signed
// message must be current or an earlier state of it.
func (s *Session) stageAttestation(identity string, side rules.Side, signed SignedHistory, current string, fields map[string]string) (func(), error) {
	if err := history.CheckPrior(signed.Message, current); err != nil {
		s.log.Info("game_attestation_rejected", zap.String("identity", identity), zap.Error(err))
		return nil, gameerr.StaleHistory("signed history does not match this game")
	}
	prev, had := s.attests.Get(identity)
	a := s.attests.Put(identity, signed.Message, signed.Signature)
	raw, err := json.Marshal(a)
	if err != nil {
		s.attests.Delete(identity)
		if had {
			s.attests.Restore(prev)
		}
		return nil, gameerr.Internal("encode attestation", err)
	}
	fields[attestField(side)] = string(raw)
	return func() {
		if had {
			s.attests.Restore(prev)
		} else {
			s.attests.Delete(identity)
		}
	}, nil
}

func (s *Session) rollback() error {
	eng, err := s.m.load(s.persisted)
	if err != nil {
		return err
	}
	s.engine = eng
	return nil
}

func (s *Session) persist(ctx context.Context, fields map[string]string) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.m.persistTimeout)
	defer cancel()
	return s.m.store.PutAll(pctx, s.id, fields)
}

func (s *Session) broadcast(msg chessdto.Message) {
	env, err := chessdto.Encode(msg)
	if err != nil {
		s.log.Error("game_broadcast_encode_error", zap.Error(err))
		return
	}
	for id, o := range s.observers {
		if !o.Deliver(env) {
			s.log.Debug("game_broadcast_drop", zap.String("observer_id", id), zap.String("type", env.Type))
		}
	}
}

func (s *Session) gameOver(term rules.Terminal) chessdto.GameOver {
	code, side, ok := term.Outcome()
	winner := ""
	if ok {
		winner = s.players.IdentityOf(side)
	}
	return chessdto.GameOver{PGN: s.persisted, Outcome: int(code), Winner: winner}
}

func (s *Session) newHeaders(p Participants, now time.Time) history.Headers {
	return history.Headers{
		{Key: "Event", Value: "BasedChess"},
		{Key: "Site", Value: s.m.venue},
		{Key: "Date", Value: now.Format("2006.01.02")},
		{Key: "Time", Value: now.Format("15:04:05")},
		{Key: "White", Value: p.Player1},
		{Key: "Black", Value: p.Player2},
	}
}

func (s *Session) publish() {
	snap := &Snapshot{
		GameID:         s.id,
		ContractGameID: s.contractGameID,
		Status:         s.status,
		Participants:   s.players,
		Observers:      len(s.observers),
		CreatedAt:      s.createdAt,
	}
	if s.engine != nil {
		snap.History = s.persisted
		snap.Ply = s.engine.Ply()
		snap.SideToMove = s.engine.SideToMove()
		snap.Terminal = s.engine.Terminal()
	}
	if s.players.Player1 != "" {
		if a, ok := s.attests.Get(s.players.Player1); ok {
			snap.Player1Attest = &a
		}
	}
	if s.players.Player2 != "" {
		if a, ok := s.attests.Get(s.players.Player2); ok {
			snap.Player2Attest = &a
		}
	}
	s.snap.Store(snap)
}

func (s *Session) restore() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.m.persistTimeout)
	defer cancel()
	fields, err := s.m.store.GetAll(ctx, s.id)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}

	hist := fields[store.FieldHistory]
	eng, err := s.m.load(hist)
	if err != nil {
		return fmt.Errorf("replay history: %w", err)
	}
	s.engine = eng
	s.persisted = hist
	s.status = Status(fields[store.FieldStatus])
	if s.status == "" {
		s.status = StatusInProgress
	}
	s.players = Participants{Player1: fields[store.FieldPlayer1], Player2: fields[store.FieldPlayer2]}
	if v := fields[store.FieldContractGameID]; v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse contract game id: %w", err)
		}
		s.contractGameID = id
	}
	if v := fields[store.FieldCreatedAt]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			s.createdAt = t
		}
	}
	for _, f := range []string{store.FieldAttestPlayer1, store.FieldAttestPlayer2} {
		raw := fields[f]
		if raw == "" {
			continue
		}
		var a attest.Attestation
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return fmt.Errorf("decode %s: %w", f, err)
		}
		s.attests.Restore(a)
	}
	s.log.Info("game_restore", zap.String("status", string(s.status)), zap.Int("ply", eng.Ply()))
	return nil
}

func attestField(side rules.Side) string {
	if side == rules.Black {
		return store.FieldAttestPlayer2
	}
	return store.FieldAttestPlayer1
}

func sameIdentity(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}
