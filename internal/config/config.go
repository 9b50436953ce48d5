package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
)

// AppConfig holds every setting the server reads at startup.
type AppConfig struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8787"`

	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DATABASE_URL"`

	ChainRPCURL          string        `env:"CHAIN_RPC_URL"`
	ChainID              int64         `env:"CHAIN_ID"`
	WalletPrivateKey     string        `env:"WALLET_PRIVATE_KEY"`
	GamesContractAddress string        `env:"GAMES_CONTRACT_ADDRESS"`
	NFTContractAddress   string        `env:"NFT_CONTRACT_ADDRESS"`
	InclusionTimeout     time.Duration `env:"LEDGER_INCLUSION_TIMEOUT" envDefault:"90s"`

	Venue      string `env:"GAME_VENUE" envDefault:"basedchess.xyz"`
	AppBaseURL string `env:"APP_BASE_URL" envDefault:"https://basedchess.xyz"`

	NeynarAPIKey  string `env:"NEYNAR_API_KEY"`
	NeynarBaseURL string `env:"NEYNAR_BASE_URL" envDefault:"https://api.neynar.com"`

	MessagesDir string `env:"MESSAGES_DIR"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	LogFile   string `env:"LOG_FILE"`
	LogCaller bool   `env:"LOG_CALLER" envDefault:"false"`

	// Observer fan-out buffer per websocket connection.
	ObserverBuffer int `env:"OBSERVER_BUFFER" envDefault:"32"`
}

// Production reports whether the server talks to mainnet contracts.
func (c *AppConfig) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.HTTPAddr = strings.TrimSpace(cfg.HTTPAddr)
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.ChainRPCURL = strings.TrimSpace(cfg.ChainRPCURL)
	cfg.WalletPrivateKey = strings.TrimPrefix(strings.TrimSpace(cfg.WalletPrivateKey), "0x")
	cfg.GamesContractAddress = strings.TrimSpace(cfg.GamesContractAddress)
	cfg.NFTContractAddress = strings.TrimSpace(cfg.NFTContractAddress)
	cfg.AppBaseURL = strings.TrimRight(strings.TrimSpace(cfg.AppBaseURL), "/")
	cfg.NeynarAPIKey = strings.TrimSpace(cfg.NeynarAPIKey)

	if cfg.ObserverBuffer <= 0 {
		cfg.ObserverBuffer = 32
	}
	if cfg.InclusionTimeout <= 0 {
		cfg.InclusionTimeout = 90 * time.Second
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.ChainRPCURL == "" {
		return nil, errors.New("CHAIN_RPC_URL is required")
	}
	if cfg.WalletPrivateKey == "" {
		return nil, errors.New("WALLET_PRIVATE_KEY is required")
	}
	if !common.IsHexAddress(cfg.GamesContractAddress) {
		return nil, errors.New("GAMES_CONTRACT_ADDRESS is required")
	}
	if cfg.NFTContractAddress != "" && !common.IsHexAddress(cfg.NFTContractAddress) {
		return nil, fmt.Errorf("NFT_CONTRACT_ADDRESS is not an address: %s", cfg.NFTContractAddress)
	}

	return cfg, nil
}
