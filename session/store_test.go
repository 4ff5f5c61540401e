package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

var (
	_ core.SessionStore = (*InMemoryStore)(nil)
	_ core.SessionStore = (*SQLiteStore)(nil)
	_ core.SessionStore = (*PostgresStore)(nil)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type storeFactory func(t *testing.T, clock *fakeClock) core.SessionStore

// runStoreSuite checks the SessionStore contract against any implementation.
func runStoreSuite(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("CreateStartsEmpty", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		id, err := s.Create(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		turns, err := s.History(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, turns)
	})

	t.Run("AppendAssignsIndexes", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		id, err := s.Create(ctx)
		require.NoError(t, err)

		first, err := s.Append(ctx, id, core.Turn{Speaker: core.SpeakerUser, Content: "hi"})
		require.NoError(t, err)
		assert.Equal(t, 0, first.Index)
		assert.NotEmpty(t, first.ID)
		assert.False(t, first.Timestamp.IsZero())

		second, err := s.Append(ctx, id, core.Turn{ID: "fixed", Speaker: "alpha", Content: "hello",
			Metadata: map[string]string{core.MetaLatencyMS: "12"}})
		require.NoError(t, err)
		assert.Equal(t, 1, second.Index)
		assert.Equal(t, "fixed", second.ID)

		turns, err := s.History(ctx, id)
		require.NoError(t, err)
		require.Len(t, turns, 2)
		assert.Equal(t, "hi", turns[0].Content)
		assert.Equal(t, core.SpeakerUser, turns[0].Speaker)
		assert.Equal(t, "alpha", turns[1].Speaker)
		assert.Equal(t, "12", turns[1].Metadata[core.MetaLatencyMS])
		assert.WithinDuration(t, second.Timestamp, turns[1].Timestamp, time.Millisecond)
	})

	t.Run("AppendCreatesUnknownSession", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		_, err := s.Append(ctx, "client-chosen", core.NewTurn(core.SpeakerUser, "hi"))
		require.NoError(t, err)

		turns, err := s.History(ctx, "client-chosen")
		require.NoError(t, err)
		assert.Len(t, turns, 1)
	})

	t.Run("UnknownSession", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		_, err := s.History(ctx, "nope")
		assert.ErrorIs(t, err, core.ErrSessionNotFound)
		assert.ErrorIs(t, s.Delete(ctx, "nope"), core.ErrSessionNotFound)
	})

	t.Run("HistoryIsACopy", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		id, _ := s.Create(ctx)
		_, err := s.Append(ctx, id, core.NewTurn("alpha", "x").WithMeta("k", "v"))
		require.NoError(t, err)

		turns, _ := s.History(ctx, id)
		turns[0].Content = "changed"
		turns[0].Metadata["k"] = "changed"

		again, _ := s.History(ctx, id)
		assert.Equal(t, "x", again[0].Content)
		assert.Equal(t, "v", again[0].Metadata["k"])
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		id, _ := s.Create(ctx)
		_, err := s.Append(ctx, id, core.NewTurn(core.SpeakerUser, "x"))
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, id))
		_, err = s.History(ctx, id)
		assert.ErrorIs(t, err, core.ErrSessionNotFound)
	})

	t.Run("ExpireUsesLastAccess", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)
		stale, _ := s.Create(ctx)
		touched, _ := s.Create(ctx)

		clock.Advance(2 * time.Hour)
		_, err := s.History(ctx, touched)
		require.NoError(t, err)
		fresh, _ := s.Create(ctx)

		n, err := s.Expire(ctx, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = s.History(ctx, stale)
		assert.ErrorIs(t, err, core.ErrSessionNotFound)
		_, err = s.History(ctx, touched)
		assert.NoError(t, err)
		_, err = s.History(ctx, fresh)
		assert.NoError(t, err)
	})

	t.Run("List", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)
		older, _ := s.Create(ctx)
		clock.Advance(time.Minute)
		newer, _ := s.Create(ctx)
		_, err := s.Append(ctx, newer, core.NewTurn(core.SpeakerUser, "a"))
		require.NoError(t, err)
		_, err = s.Append(ctx, newer, core.NewTurn("alpha", "b"))
		require.NoError(t, err)

		infos, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, infos, 2)
		assert.Equal(t, newer, infos[0].ID)
		assert.Equal(t, 2, infos[0].TurnCount)
		assert.Equal(t, older, infos[1].ID)
		assert.Equal(t, 0, infos[1].TurnCount)
	})

	t.Run("ConcurrentAppendsGetDistinctIndexes", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		id, _ := s.Create(ctx)

		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.Append(ctx, id, core.NewTurn("agent", fmt.Sprintf("m%d", i)))
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		turns, err := s.History(ctx, id)
		require.NoError(t, err)
		require.Len(t, turns, n)
		idx := make([]int, n)
		for i, turn := range turns {
			idx[i] = turn.Index
		}
		assert.True(t, sort.IntsAreSorted(idx))
		for i := range idx {
			assert.Equal(t, i, idx[i])
		}
	})
}

func TestInMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T, clock *fakeClock) core.SessionStore {
		return NewInMemoryStore(func(o *Options) { o.Now = clock.Now })
	})
}
