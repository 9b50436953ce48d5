package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	appcfg "github.com/park285/basedchess/internal/config"
	"github.com/park285/basedchess/internal/httpapi"
	"github.com/park285/basedchess/internal/ledger"
	"github.com/park285/basedchess/internal/lobby"
	"github.com/park285/basedchess/internal/msgcat"
	"github.com/park285/basedchess/internal/neynar"
	"github.com/park285/basedchess/internal/obslog"
	"github.com/park285/basedchess/internal/registry"
	"github.com/park285/basedchess/internal/rules"
	"github.com/park285/basedchess/internal/session"
	"github.com/park285/basedchess/internal/settlement"
	"github.com/park285/basedchess/internal/store"
	"github.com/park285/basedchess/internal/transport/wsserver"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := obslog.Init(obslog.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
		Caller: cfg.LogCaller,
	})
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	rdb, err := store.Connect(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis_connect_failed", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	var games registry.Repository
	if cfg.DatabaseURL != "" {
		games, err = registry.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres_connect_failed", zap.Error(err))
		}
	} else {
		if cfg.Production() {
			logger.Fatal("DATABASE_URL is required in production")
		}
		logger.Warn("registry_in_memory", zap.String("reason", "DATABASE_URL not set"))
		games = registry.NewMemory()
	}
	defer func() { _ = games.Close() }()

	chainID := cfg.ChainID
	if chainID == 0 {
		chainID = ledger.DefaultChainID(cfg.Production())
	}
	chain, err := ledger.Dial(ctx, cfg.ChainRPCURL, cfg.WalletPrivateKey, chainID,
		ledger.WithInclusionTimeout(cfg.InclusionTimeout),
		ledger.WithLogger(logger.Named("ledger")),
	)
	if err != nil {
		logger.Fatal("ledger_dial_failed", zap.Error(err))
	}
	defer chain.Close()

	sessions := session.NewManager(store.NewRedisStore(rdb), rules.LoadChess, logger.Named("session"),
		session.WithVenue(cfg.Venue),
	)
	defer sessions.Close()

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("message_catalog_failed", zap.Error(err))
	}
	inviter := neynar.NewInviter(neynar.NewClient(cfg.NeynarBaseURL, cfg.NeynarAPIKey), catalog, cfg.AppBaseURL, logger.Named("neynar"))

	gamesContract := common.HexToAddress(cfg.GamesContractAddress)
	var nftContract common.Address
	if cfg.NFTContractAddress != "" {
		nftContract = common.HexToAddress(cfg.NFTContractAddress)
	}

	pairing := lobby.New(rdb, games, sessions, inviter, gamesContract.Hex(), logger.Named("lobby"))
	defer pairing.Wait()

	handler := httpapi.NewRouter(httpapi.Deps{
		Games:       pairing,
		Sessions:    sessions,
		Observers:   wsserver.New(sessions, chain, logger.Named("ws"), wsserver.WithBuffer(cfg.ObserverBuffer)),
		Settlements: settlement.NewReconciler(games, sessions, chain, gamesContract, logger.Named("settlement")),
		NFT:         settlement.NewNFTPublisher(games, chain, gamesContract, nftContract, logger.Named("nft")),
		Logger:      logger.Named("http"),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http_listen",
			zap.String("addr", cfg.HTTPAddr),
			zap.Int64("chain_id", chainID),
			zap.String("wallet", chain.From().Hex()),
			zap.String("games_contract", gamesContract.Hex()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http_serve_failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_error", zap.Error(err))
	}
	logger.Info("shutdown_complete")
}
