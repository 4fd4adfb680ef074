/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package captions

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// manualClock never fires on its own; tests fire timers explicitly.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	d       time.Duration
	f       func()
	stopped bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &manualTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

// pending returns the most recently armed timer that is still active.
func (c *manualClock) pending() *manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.timers) - 1; i >= 0; i-- {
		if !c.timers[i].stopped {
			return c.timers[i]
		}
	}
	return nil
}

func (c *manualClock) last() *manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

// Fire runs the pending timer as if its duration elapsed.
func (c *manualClock) Fire(t *testing.T) time.Duration {
	t.Helper()

	timer := c.pending()
	require.NotNil(t, timer, "no pending timer")

	timer.Stop()
	timer.f()
	return timer.d
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(code string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) lastOf(typ string) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == typ {
			return r.events[i], true
		}
	}
	return Event{}, false
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = nil
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

type fixture struct {
	registry *Registry
	clock    *manualClock
	events   *recorder
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{clock: newManualClock(), events: &recorder{}}
	base := []Option{
		WithClock(f.clock),
		WithPublisher(f.events),
		WithIDGenerator(sequentialIDs()),
	}
	f.registry = NewRegistry(append(base, opts...)...)
	return f
}

// lobbyWith creates a lobby hosted by the first name, joined by the rest.
// Player ids are the lowercased names.
func (f *fixture) lobbyWith(t *testing.T, names ...string) *Lobby {
	t.Helper()

	l, err := f.registry.Create(idOf(names[0]), names[0])
	require.NoError(t, err)

	for _, name := range names[1:] {
		_, err := l.Join(idOf(name), name)
		require.NoError(t, err)
	}
	return l
}

func idOf(name string) string {
	return "conn-" + name
}

func captionBy(t *testing.T, captions []Caption, playerID string) Caption {
	t.Helper()

	for _, c := range captions {
		if c.PlayerID == playerID {
			return c
		}
	}
	t.Fatalf("no caption by %s", playerID)
	return Caption{}
}

func playerNamed(t *testing.T, players []Player, name string) Player {
	t.Helper()

	for _, p := range players {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("no player named %s", name)
	return Player{}
}

// votingCaptions reads the caption set from the last votingStarted event.
func (f *fixture) votingCaptions(t *testing.T) []Caption {
	t.Helper()

	ev, ok := f.events.lastOf(EventVotingStarted)
	require.True(t, ok, "voting never started")
	return ev.Payload.(VotingStarted).Captions
}
