package settlement

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/park285/basedchess/internal/gameerr"
	"github.com/park285/basedchess/internal/ledger"
	"github.com/park285/basedchess/internal/registry"
)

type NFTRequest struct {
	ContractAddress string
	ContractGameID  uint64
	MetadataURL     string
}

// NFTPublisher points a finished game's NFT at its metadata document.
type NFTPublisher struct {
	games         registry.Repository
	chain         ledger.Client
	gamesContract common.Address
	nftContract   common.Address
	logger        *zap.Logger
}

func NewNFTPublisher(games registry.Repository, chain ledger.Client, gamesContract, nftContract common.Address, logger *zap.Logger) *NFTPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NFTPublisher{
		games:         games,
		chain:         chain,
		gamesContract: gamesContract,
		nftContract:   nftContract,
		logger:        logger,
	}
}

func (p *NFTPublisher) Publish(ctx context.Context, req NFTRequest) (string, error) {
	if p.nftContract == (common.Address{}) {
		return "", gameerr.Validation("nft contract is not configured")
	}
	if !common.IsHexAddress(req.ContractAddress) || common.HexToAddress(req.ContractAddress) != p.gamesContract {
		return "", gameerr.Authorization("contract address does not match the games contract")
	}
	u, err := url.Parse(strings.TrimSpace(req.MetadataURL))
	if err != nil || (u.Scheme != "https" && u.Scheme != "http" && u.Scheme != "ipfs") || (u.Host == "" && u.Opaque == "") {
		return "", gameerr.Validation("metadataUrl must be an absolute http(s) or ipfs url")
	}

	if _, err := p.games.ByContractGameID(ctx, p.gamesContract.Hex(), req.ContractGameID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return "", gameerr.NotFound(fmt.Sprintf("game %d not found", req.ContractGameID))
		}
		return "", gameerr.Internal("load game record", err)
	}

	ctx = context.WithoutCancel(ctx)
	tx, err := p.chain.SimulateAndSubmit(ctx, p.nftContract, ledger.FnSetNftURI,
		p.gamesContract, ledger.U256(req.ContractGameID), u.String())
	if err != nil {
		return "", gameerr.Ledger("ledger submission failed", err)
	}
	if _, err := p.chain.AwaitInclusion(ctx, tx); err != nil {
		return "", gameerr.Ledger("ledger transaction was not confirmed", err)
	}
	p.logger.Info("nft_uri_set",
		zap.Uint64("contract_game_id", req.ContractGameID),
		zap.String("tx_hash", tx.Hash.Hex()),
	)
	return tx.Hash.Hex(), nil
}
