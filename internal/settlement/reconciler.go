// Package settlement reconciles finished games with the on-chain ledger.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/park285/basedchess/internal/gameerr"
	"github.com/park285/basedchess/internal/history"
	"github.com/park285/basedchess/internal/ledger"
	"github.com/park285/basedchess/internal/registry"
	"github.com/park285/basedchess/internal/rules"
	"github.com/park285/basedchess/internal/session"
)

// SessionSource resolves the live session for a display id.
type SessionSource interface {
	Session(ctx context.Context, gameID string) (*session.Session, error)
}

type Request struct {
	ContractGameID uint64
	SignerIdentity string
	Message        string
	Signature      string
	UpdateIndex    uint64
}

type Result struct {
	TxHash      string
	Outcome     rules.OutcomeCode
	Winner      string
	BlockNumber uint64
}

type Reconciler struct {
	games    registry.Repository
	sessions SessionSource
	chain    ledger.Client
	contract common.Address
	logger   *zap.Logger

	inflight singleflight.Group
}

func NewReconciler(games registry.Repository, sessions SessionSource, chain ledger.Client, gamesContract common.Address, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		games:    games,
		sessions: sessions,
		chain:    chain,
		contract: gamesContract,
		logger:   logger,
	}
}

// Reconcile verifies a player's signed history against the server's record
// and submits the derived outcome to the games contract.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (Result, error) {
	rec, err := r.games.ByContractGameID(ctx, r.contract.Hex(), req.ContractGameID)
	if errors.Is(err, registry.ErrNotFound) {
		return Result{}, gameerr.NotFound(fmt.Sprintf("game %d not found", req.ContractGameID))
	}
	if err != nil {
		return Result{}, gameerr.Internal("load game record", err)
	}

	signer := strings.TrimSpace(req.SignerIdentity)
	if !strings.EqualFold(signer, rec.Player1) && !strings.EqualFold(signer, rec.Player2) {
		return Result{}, gameerr.Authorization("signer is not a player in this game")
	}

	ok, err := r.chain.VerifySignature(req.Message, req.Signature, signer)
	if err != nil || !ok {
		if err != nil {
			r.logger.Debug("settlement_signature_malformed", zap.Uint64("contract_game_id", req.ContractGameID), zap.Error(err))
		}
		return Result{}, gameerr.InvalidSignature("signature is invalid")
	}

	sess, err := r.sessions.Session(ctx, rec.DisplayID)
	if err != nil {
		return Result{}, err
	}
	snap := sess.Snapshot()

	// Both the submitted message and the stored reference must lead to the
	// authoritative history.
	for _, msg := range []string{req.Message, referenceMessage(&snap, req.Message)} {
		if err := history.CheckPrior(msg, snap.History); err != nil {
			r.logger.Info("settlement_history_rejected",
				zap.String("game_id", rec.DisplayID),
				zap.Uint64("contract_game_id", req.ContractGameID),
				zap.Error(err),
			)
			return Result{}, gameerr.StaleHistory("attested history invalid for this game")
		}
	}

	code, winner := snap.Outcome()
	winnerAddr := common.Address{}
	if winner != "" {
		winnerAddr = common.HexToAddress(winner)
	}

	key := fmt.Sprintf("%d:%d", req.ContractGameID, req.UpdateIndex)
	v, err, shared := r.inflight.Do(key, func() (any, error) {
		return r.submit(context.WithoutCancel(ctx), req, code, winnerAddr)
	})
	if err != nil {
		return Result{}, err
	}
	res := v.(Result)
	res.Winner = winner
	if shared {
		r.logger.Debug("settlement_shared", zap.String("key", key))
	}
	return res, nil
}

func (r *Reconciler) submit(ctx context.Context, req Request, code rules.OutcomeCode, winner common.Address) (Result, error) {
	tx, err := r.chain.SimulateAndSubmit(ctx, r.contract, ledger.FnVerifyGameUpdate,
		ledger.U256(req.ContractGameID),
		ledger.U256(req.UpdateIndex),
		uint8(code),
		winner,
	)
	if err != nil {
		r.logger.Warn("settlement_submit_failed",
			zap.Uint64("contract_game_id", req.ContractGameID),
			zap.Uint64("update_index", req.UpdateIndex),
			zap.Error(err),
		)
		return Result{}, gameerr.Ledger("ledger submission failed", err)
	}
	receipt, err := r.chain.AwaitInclusion(ctx, tx)
	if err != nil {
		r.logger.Warn("settlement_inclusion_failed",
			zap.Uint64("contract_game_id", req.ContractGameID),
			zap.String("tx_hash", tx.Hash.Hex()),
			zap.Error(err),
		)
		return Result{}, gameerr.Ledger("ledger transaction was not confirmed", err)
	}
	r.logger.Info("settlement_confirmed",
		zap.Uint64("contract_game_id", req.ContractGameID),
		zap.Uint64("update_index", req.UpdateIndex),
		zap.Uint8("outcome", uint8(code)),
		zap.String("winner", winner.Hex()),
		zap.String("tx_hash", tx.Hash.Hex()),
		zap.Uint64("block", receipt.BlockNumber),
	)
	return Result{TxHash: tx.Hash.Hex(), Outcome: code, BlockNumber: receipt.BlockNumber}, nil
}

// referenceMessage picks the longer stored attestation, player2 on ties.
// With nothing stored the submitted message is checked instead.
func referenceMessage(snap *session.Snapshot, submitted string) string {
	var p1, p2 string
	if snap.Player1Attest != nil {
		p1 = snap.Player1Attest.Message
	}
	if snap.Player2Attest != nil {
		p2 = snap.Player2Attest.Message
	}
	switch {
	case p1 == "" && p2 == "":
		return submitted
	case len(p1) > len(p2):
		return p1
	default:
		return p2
	}
}
