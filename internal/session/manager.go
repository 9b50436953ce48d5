// Package session runs one actor per game: a goroutine that owns the
// game's rules engine, attestations and observers, and applies every
// mutation in mailbox order.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/basedchess/internal/gameerr"
	"github.com/park285/basedchess/internal/rules"
	"github.com/park285/basedchess/internal/store"
)

const (
	defaultMailbox        = 64
	defaultPersistTimeout = 5 * time.Second
)

// Manager creates session actors lazily and keeps them for the process
// lifetime.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	store  store.Store
	load   rules.Loader
	logger *zap.Logger

	venue          string
	mailbox        int
	persistTimeout time.Duration
	now            func() time.Time
}

type Option func(*Manager)

// WithVenue sets the Site tag written into new histories.
func WithVenue(v string) Option { return func(m *Manager) { m.venue = strings.TrimSpace(v) } }

func WithMailbox(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.mailbox = n
		}
	}
}

func WithPersistTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.persistTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func NewManager(st store.Store, load rules.Loader, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if load == nil {
		load = rules.LoadChess
	}
	m := &Manager{
		sessions:       make(map[string]*Session),
		store:          st,
		load:           load,
		logger:         logger,
		venue:          "basedchess.xyz",
		mailbox:        defaultMailbox,
		persistTimeout: defaultPersistTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Session returns the actor for gameID, restoring it from the store on
// first use.
func (m *Manager) Session(ctx context.Context, gameID string) (*Session, error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return nil, gameerr.Validation("game id is required")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	s, ok := m.sessions[gameID]
	if !ok {
		s = newSession(m, gameID)
		m.sessions[gameID] = s
		go s.run()
	}
	m.mu.Unlock()

	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if s.loadErr != nil {
		m.mu.Lock()
		if m.sessions[gameID] == s {
			delete(m.sessions, gameID)
		}
		m.mu.Unlock()
		return nil, gameerr.Internal("restore game "+gameID, s.loadErr)
	}
	return s, nil
}

// Active returns the number of live actors.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops every actor. Pending operations fail with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for _, s := range m.sessions {
		close(s.quit)
	}
}
