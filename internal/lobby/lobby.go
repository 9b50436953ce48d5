// Package lobby registers new on-chain games and opens their sessions.
package lobby

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/basedchess/internal/gameerr"
	"github.com/park285/basedchess/internal/registry"
	"github.com/park285/basedchess/internal/session"
)

const (
	displayIDLength   = 6
	displayIDAttempts = 5
	displayIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	inviteTimeout     = 15 * time.Second
)

type SessionSource interface {
	Session(ctx context.Context, gameID string) (*session.Session, error)
}

// Inviter delivers a best-effort invitation to the second player.
type Inviter interface {
	Invite(ctx context.Context, inviter, invitee, displayID string) error
}

type Params struct {
	ContractGameID uint64
	Player1        string
	Player2        string
	Creator        string
}

type Lobby struct {
	rdb      *redis.Client
	games    registry.Repository
	sessions SessionSource
	invites  Inviter
	contract string
	logger   *zap.Logger
	genID    func() (string, error)

	// 진행 중인 초대 고루틴
	wg sync.WaitGroup
}

func New(rdb *redis.Client, games registry.Repository, sessions SessionSource, invites Inviter, gamesContract string, logger *zap.Logger) *Lobby {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lobby{
		rdb:      rdb,
		games:    games,
		sessions: sessions,
		invites:  invites,
		contract: gamesContract,
		logger:   logger,
		genID:    newDisplayID,
	}
}

func keyDisplayID(code string) string { return "displayid:" + strings.TrimSpace(code) }

// Register records a new pairing under a fresh display id, starts its
// session and sends the invite in the background.
func (l *Lobby) Register(ctx context.Context, p Params) (*registry.Record, error) {
	p.Player1 = strings.TrimSpace(p.Player1)
	p.Player2 = strings.TrimSpace(p.Player2)
	p.Creator = strings.TrimSpace(p.Creator)
	if !common.IsHexAddress(p.Player1) || !common.IsHexAddress(p.Player2) {
		return nil, gameerr.Validation("players must be addresses")
	}
	if strings.EqualFold(p.Player1, p.Player2) {
		return nil, gameerr.Validation("players must be distinct")
	}
	if p.Creator != "" && !common.IsHexAddress(p.Creator) {
		return nil, gameerr.Validation("creator must be an address")
	}

	if _, err := l.games.ByContractGameID(ctx, l.contract, p.ContractGameID); err == nil {
		return nil, gameerr.Conflict(fmt.Sprintf("game %d already registered", p.ContractGameID))
	} else if !errors.Is(err, registry.ErrNotFound) {
		return nil, gameerr.Internal("lookup game record", err)
	}

	code, err := l.allocate(ctx, p.ContractGameID)
	if err != nil {
		return nil, err
	}

	rec := &registry.Record{
		ContractGameID:  p.ContractGameID,
		ContractAddress: l.contract,
		DisplayID:       code,
		Player1:         p.Player1,
		Player2:         p.Player2,
		Creator:         p.Creator,
		CreatedAt:       time.Now().UTC(),
	}
	if err := l.games.Insert(ctx, rec); err != nil {
		l.release(ctx, code)
		if errors.Is(err, registry.ErrDuplicate) {
			return nil, gameerr.Conflict(fmt.Sprintf("game %d already registered", p.ContractGameID))
		}
		return nil, gameerr.Internal("insert game record", err)
	}

	if err := l.start(ctx, code, p); err != nil {
		if derr := l.games.Delete(context.WithoutCancel(ctx), l.contract, p.ContractGameID); derr != nil {
			l.logger.Error("lobby_record_cleanup_failed", zap.String("game_id", code), zap.Error(derr))
		}
		l.release(ctx, code)
		l.logger.Warn("lobby_start_failed", zap.String("game_id", code), zap.Error(err))
		return nil, err
	}

	l.logger.Info("lobby_register",
		zap.String("game_id", code),
		zap.Uint64("contract_game_id", p.ContractGameID),
		zap.String("player1", p.Player1),
		zap.String("player2", p.Player2),
	)
	l.sendInvite(ctx, p.Player1, p.Player2, code)
	return rec, nil
}

func (l *Lobby) start(ctx context.Context, code string, p Params) error {
	sess, err := l.sessions.Session(ctx, code)
	if err != nil {
		return err
	}
	return sess.Initialize(ctx, session.InitParams{
		Player1:        p.Player1,
		Player2:        p.Player2,
		ContractGameID: p.ContractGameID,
	})
}

// release는 예약한 표시 ID를 반납한다.
func (l *Lobby) release(ctx context.Context, code string) {
	if err := l.rdb.Del(context.WithoutCancel(ctx), keyDisplayID(code)).Err(); err != nil {
		l.logger.Warn("lobby_display_id_release_failed", zap.String("game_id", code), zap.Error(err))
	}
}

// Lookup resolves a display id to its registered game.
func (l *Lobby) Lookup(ctx context.Context, displayID string) (*registry.Record, error) {
	rec, err := l.games.ByDisplayID(ctx, displayID)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, gameerr.NotFound(fmt.Sprintf("game %s not found", displayID))
	}
	if err != nil {
		return nil, gameerr.Internal("lookup game record", err)
	}
	return rec, nil
}

// Wait blocks until in-flight invites finish.
func (l *Lobby) Wait() { l.wg.Wait() }

func (l *Lobby) allocate(ctx context.Context, contractGameID uint64) (string, error) {
	for i := 0; i < displayIDAttempts; i++ {
		code, err := l.genID()
		if err != nil {
			return "", gameerr.Internal("generate display id", err)
		}
		ok, err := l.rdb.SetNX(ctx, keyDisplayID(code), strconv.FormatUint(contractGameID, 10), 0).Result()
		if err != nil {
			return "", gameerr.Internal("reserve display id", err)
		}
		if ok {
			return code, nil
		}
		l.logger.Debug("lobby_display_id_collision", zap.String("game_id", code))
	}
	return "", gameerr.Internal("allocate display id", errors.New("too many collisions"))
}

func (l *Lobby) sendInvite(ctx context.Context, inviter, invitee, code string) {
	if l.invites == nil {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), inviteTimeout)
		defer cancel()
		if err := l.invites.Invite(ictx, inviter, invitee, code); err != nil {
			l.logger.Warn("lobby_invite_failed", zap.String("game_id", code), zap.Error(err))
		}
	}()
}

func newDisplayID() (string, error) {
	b := make([]byte, displayIDLength)
	n := big.NewInt(int64(len(displayIDAlphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", err
		}
		b[i] = displayIDAlphabet[idx.Int64()]
	}
	return string(b), nil
}
