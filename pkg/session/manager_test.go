package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(ttl time.Duration) (*Manager, *time.Time) {
	m := NewManager(ttl)
	now := time.Now()
	m.now = func() time.Time { return now }
	return m, &now
}

func TestGetOrCreateAllocatesFreshID(t *testing.T) {
	m, _ := newTestManager(time.Minute)

	id, isNew := m.GetOrCreate("")
	require.True(t, isNew)
	require.NotEmpty(t, id)

	again, isNew := m.GetOrCreate(id)
	assert.False(t, isNew)
	assert.Equal(t, id, again)
}

func TestGetOrCreateUnknownIDReplaced(t *testing.T) {
	m, _ := newTestManager(time.Minute)

	id, isNew := m.GetOrCreate("never-seen-before")
	assert.True(t, isNew)
	assert.NotEqual(t, "never-seen-before", id)
}

func TestExpiredSessionReplaced(t *testing.T) {
	m, now := newTestManager(time.Minute)

	id, _ := m.GetOrCreate("")
	m.AppendExchange(id, "hello", "hi there")

	*now = now.Add(2 * time.Minute)

	fresh, isNew := m.GetOrCreate(id)
	assert.True(t, isNew)
	assert.NotEqual(t, id, fresh)
	assert.Empty(t, m.History(fresh, 10))
}

func TestAppendExchangeIsAtomic(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	id, _ := m.GetOrCreate("")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.AppendExchange(id, "question", "answer")
		}()
	}
	wg.Wait()

	turns := m.History(id, 0)
	require.Len(t, turns, 40)

	// Turns must alternate user/assistant with no interleaving.
	for i, turn := range turns {
		if i%2 == 0 {
			assert.Equal(t, RoleUser, turn.Role)
		} else {
			assert.Equal(t, RoleAssistant, turn.Role)
		}
	}
}

func TestHistoryTruncatesToMaxTurns(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	id, _ := m.GetOrCreate("")

	for i := 0; i < 30; i++ {
		m.AppendExchange(id, "q", "a")
	}

	turns := m.History(id, 20)
	assert.Len(t, turns, 40)

	turns = m.History(id, 0)
	assert.Len(t, turns, 60)
}

func TestHistorySnapshotIsIndependent(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	id, _ := m.GetOrCreate("")
	m.AppendExchange(id, "q1", "a1")

	snap := m.History(id, 10)
	m.AppendExchange(id, "q2", "a2")

	assert.Len(t, snap, 2)
	assert.Len(t, m.History(id, 10), 4)
}

func TestSweepRemovesExpired(t *testing.T) {
	m, now := newTestManager(time.Minute)

	a, _ := m.GetOrCreate("")
	m.GetOrCreate("")
	require.Equal(t, 2, m.Count())

	*now = now.Add(30 * time.Second)
	m.AppendExchange(a, "still", "alive")

	*now = now.Add(45 * time.Second)
	m.Sweep()

	assert.Equal(t, 1, m.Count())
	assert.NotEmpty(t, m.History(a, 10))
}
