package sessions_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/becomeliminal/chat-gateway/logging"
	"github.com/becomeliminal/chat-gateway/sessions"
)

type agent struct{ id string }

type clock struct{ now time.Time }

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newAgent(ctx context.Context, id string) (*agent, error) {
	return &agent{id: id}, nil
}

func TestTouchCreatesOnce(t *testing.T) {
	ctx := context.Background()
	m := sessions.NewManager[*agent]()

	var calls atomic.Int32
	factory := func(ctx context.Context, id string) (*agent, error) {
		calls.Add(1)
		return &agent{id: id}, nil
	}

	var wg sync.WaitGroup
	handles := make([]*sessions.Handle[*agent], 20)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := m.Touch(ctx, "s1", factory)
			if err == nil {
				handles[i] = h
			}
		}(i)
	}
	wg.Wait()

	gt.Equal(t, calls.Load(), int32(1))
	gt.Equal(t, m.Len(), 1)
	for _, h := range handles {
		gt.True(t, h == handles[0])
	}
}

func TestTouchRefreshesLastAccess(t *testing.T) {
	c := newClock()
	m := sessions.NewManager(sessions.WithClock[*agent](c.Now))

	h, err := m.Touch(context.Background(), "s1", newAgent)
	gt.NoError(t, err)
	created := h.CreatedAt

	c.Advance(10 * time.Minute)
	h, err = m.Touch(context.Background(), "s1", newAgent)
	gt.NoError(t, err)
	gt.True(t, h.CreatedAt.Equal(created))
	gt.True(t, h.LastAccess.Equal(c.now))
}

func TestFactoryErrorStoresNothing(t *testing.T) {
	m := sessions.NewManager[*agent]()
	_, err := m.Touch(context.Background(), "s1", func(ctx context.Context, id string) (*agent, error) {
		return nil, errors.New("missing api key")
	})
	gt.Error(t, err)
	gt.Equal(t, m.Len(), 0)

	_, ok := m.Get("s1")
	gt.False(t, ok)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	c := newClock()

	var evicted []string
	m := sessions.NewManager(
		sessions.WithClock[*agent](c.Now),
		sessions.OnEvict(func(id string, a *agent) { evicted = append(evicted, id) }),
	)

	_, err := m.Touch(ctx, "A", newAgent)
	gt.NoError(t, err)
	c.Advance(50 * time.Minute)
	_, err = m.Touch(ctx, "B", newAgent)
	gt.NoError(t, err)
	c.Advance(20 * time.Minute)

	gt.Equal(t, m.Sweep(time.Hour), 1)
	gt.Equal(t, evicted, []string{"A"})
	_, ok := m.Get("B")
	gt.True(t, ok)

	// Exactly maxIdle is not yet expired.
	c.Advance(40 * time.Minute)
	gt.Equal(t, m.Sweep(time.Hour), 0)
	c.Advance(time.Second)
	gt.Equal(t, m.Sweep(time.Hour), 1)
	gt.Equal(t, m.Len(), 0)
}

func TestSweepSkipsInFlight(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	m := sessions.NewManager(sessions.WithClock[*agent](c.Now))

	_, release, err := m.Acquire(ctx, "s1", newAgent)
	gt.NoError(t, err)

	c.Advance(2 * time.Hour)
	gt.Equal(t, m.Sweep(time.Hour), 0)

	release()
	release()
	gt.Equal(t, m.Sweep(time.Hour), 0)

	c.Advance(61 * time.Minute)
	gt.Equal(t, m.Sweep(time.Hour), 1)
}

func TestRemove(t *testing.T) {
	var evicted int
	m := sessions.NewManager(sessions.OnEvict(func(string, *agent) { evicted++ }))
	_, err := m.Touch(context.Background(), "s1", newAgent)
	gt.NoError(t, err)

	gt.True(t, m.Remove("s1"))
	gt.False(t, m.Remove("s1"))
	gt.Equal(t, evicted, 1)
	gt.Equal(t, m.Len(), 0)
}

func TestSessionCreatedLoggedOnceWithID(t *testing.T) {
	var buf bytes.Buffer
	prev := logging.Default()
	logging.SetDefault(logging.New("info", &buf))
	t.Cleanup(func() { logging.SetDefault(prev) })

	// Callers usually tag their context logger with the session already.
	ctx := logging.With(context.Background(), logging.Default().With("session_id", "A"))
	m := sessions.NewManager[*agent]()
	_, err := m.Touch(ctx, "A", newAgent)
	gt.NoError(t, err)

	out := buf.String()
	gt.S(t, out).Contains("session created")
	gt.Equal(t, strings.Count(out, "session_id"), 1)
}
