package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryRepository is a development and test implementation.
type MemoryRepository struct {
	mu          sync.RWMutex
	byContract  map[string]*Record
	byDisplayID map[string]*Record
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		byContract:  make(map[string]*Record),
		byDisplayID: make(map[string]*Record),
	}
}

func contractKey(address string, id uint64) string {
	return fmt.Sprintf("%s|%d", normalizeAddress(address), id)
}

func (m *MemoryRepository) Insert(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errors.New("nil record")
	}
	cp := *rec
	cp.ContractAddress = normalizeAddress(cp.ContractAddress)
	cp.Player1 = normalizeAddress(cp.Player1)
	cp.Player2 = normalizeAddress(cp.Player2)
	cp.Creator = normalizeAddress(cp.Creator)
	cp.DisplayID = strings.TrimSpace(cp.DisplayID)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	key := contractKey(cp.ContractAddress, cp.ContractGameID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byContract[key]; ok {
		return ErrDuplicate
	}
	if _, ok := m.byDisplayID[cp.DisplayID]; ok {
		return ErrDuplicate
	}
	m.byContract[key] = &cp
	m.byDisplayID[cp.DisplayID] = &cp
	return nil
}

func (m *MemoryRepository) ByContractGameID(ctx context.Context, contractAddress string, id uint64) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byContract[contractKey(contractAddress, id)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryRepository) ByDisplayID(ctx context.Context, displayID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byDisplayID[strings.TrimSpace(displayID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryRepository) Delete(ctx context.Context, contractAddress string, id uint64) error {
	key := contractKey(contractAddress, id)
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.byContract[key]; ok {
		delete(m.byDisplayID, rec.DisplayID)
		delete(m.byContract, key)
	}
	return nil
}

func (m *MemoryRepository) Close() error { return nil }
