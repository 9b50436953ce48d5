// Package registry stores the mapping between on-chain games and live
// sessions.
package registry

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound  = errors.New("game record not found")
	ErrDuplicate = errors.New("game record already exists")
)

// Record is one registered game.
type Record struct {
	ContractGameID  uint64
	ContractAddress string
	DisplayID       string
	Player1         string
	Player2         string
	Creator         string
	CreatedAt       time.Time
}

type Repository interface {
	Insert(ctx context.Context, rec *Record) error
	// ByContractGameID looks a game up under the given games contract.
	ByContractGameID(ctx context.Context, contractAddress string, id uint64) (*Record, error)
	ByDisplayID(ctx context.Context, displayID string) (*Record, error)
	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, contractAddress string, id uint64) error
	Close() error
}

// Addresses are compared case-insensitively.
func normalizeAddress(a string) string { return strings.ToLower(strings.TrimSpace(a)) }
