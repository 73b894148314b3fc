// Package session holds in-memory, TTL-bounded multi-turn dialogue
// state. Sessions never survive a process restart.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rayied/cora/pkg/observability"
)

// Roles of a turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a session.
type Turn struct {
	Role    string
	Content string
	At      time.Time
}

type record struct {
	turns     []Turn
	createdAt time.Time
	lastSeen  time.Time
}

// Manager guards the session map with a single mutex. Critical
// sections are minimal: lookups, inserts, appends, and snapshots.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*record
	ttl      time.Duration
	now      func() time.Time
}

// NewManager builds a Manager with the given TTL.
func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Manager{
		sessions: make(map[string]*record),
		ttl:      ttl,
		now:      time.Now,
	}
}

// GetOrCreate resolves a session id. A missing, empty, or expired id
// allocates a fresh UUID; the caller learns about the replacement
// through isNew.
func (m *Manager) GetOrCreate(id string) (sessionID string, isNew bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked()

	if id != "" {
		if rec, ok := m.sessions[id]; ok && !m.expiredLocked(rec) {
			rec.lastSeen = m.now()
			return id, false
		}
		delete(m.sessions, id)
	}

	fresh := uuid.NewString()
	m.sessions[fresh] = &record{
		createdAt: m.now(),
		lastSeen:  m.now(),
	}

	observability.ActiveSessions.Set(float64(len(m.sessions)))
	return fresh, true
}

// AppendExchange commits a full user/assistant exchange under one
// lock. Half-turns never become visible, so a concurrent request on
// the same session observes either no effect or both turns.
func (m *Manager) AppendExchange(id, userContent, assistantContent string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[id]
	if !ok {
		rec = &record{createdAt: m.now()}
		m.sessions[id] = rec
	}

	now := m.now()
	rec.turns = append(rec.turns,
		Turn{Role: RoleUser, Content: userContent, At: now},
		Turn{Role: RoleAssistant, Content: assistantContent, At: now},
	)
	rec.lastSeen = now
}

// History returns a snapshot of the last maxTurns user/assistant
// pairs in chronological order. The snapshot is taken under the lock;
// prompt assembly happens outside it.
func (m *Manager) History(id string, maxTurns int) []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[id]
	if !ok || m.expiredLocked(rec) {
		return nil
	}

	turns := rec.turns
	if maxTurns > 0 && len(turns) > 2*maxTurns {
		turns = turns[len(turns)-2*maxTurns:]
	}

	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Len reports the number of turns stored for a session.
func (m *Manager) Len(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[id]
	if !ok {
		return 0
	}
	return len(rec.turns)
}

// Count reports live (unexpired) sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked()
	return len(m.sessions)
}

// Sweep removes expired sessions.
func (m *Manager) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
}

// StartSweeper runs periodic sweeps until ctx is done.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

func (m *Manager) expiredLocked(rec *record) bool {
	return m.now().Sub(rec.lastSeen) > m.ttl
}

func (m *Manager) sweepLocked() {
	for id, rec := range m.sessions {
		if m.expiredLocked(rec) {
			delete(m.sessions, id)
			slog.Debug("Expired session removed", "session_id", id)
		}
	}
	observability.ActiveSessions.Set(float64(len(m.sessions)))
}
