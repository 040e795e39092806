package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlow/chatsync/outbox"
	"github.com/nlow/chatsync/remote"
)

// fakeProbe lets tests drive reachability samples by hand.
type fakeProbe struct {
	mu        sync.Mutex
	st        remote.Status
	fetchErr  error
	listeners map[int]func(remote.Status)
	nextId    int
}

func newFakeProbe(online bool) *fakeProbe {
	return &fakeProbe{
		st:        remote.Status{Connected: online, Reachable: online, Transport: "wifi"},
		listeners: make(map[int]func(remote.Status)),
	}
}

func (p *fakeProbe) FetchCurrent(ctx context.Context) (remote.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fetchErr != nil {
		return remote.Status{}, p.fetchErr
	}
	return p.st, nil
}

func (p *fakeProbe) AddListener(cb func(remote.Status)) func() {
	p.mu.Lock()
	id := p.nextId
	p.nextId++
	p.listeners[id] = cb
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *fakeProbe) push(online bool) {
	p.mu.Lock()
	p.st = remote.Status{Connected: online, Reachable: online, Transport: "wifi"}
	cbs := make([]func(remote.Status), 0, len(p.listeners))
	for _, cb := range p.listeners {
		cbs = append(cbs, cb)
	}
	st := p.st
	p.mu.Unlock()
	for _, cb := range cbs {
		cb(st)
	}
}

// fakeFlusher counts ProcessQueue calls and signals each one.
type fakeFlusher struct {
	mu    sync.Mutex
	calls int
	fired chan struct{}
}

func newFakeFlusher() *fakeFlusher {
	return &fakeFlusher{fired: make(chan struct{}, 16)}
}

func (f *fakeFlusher) ProcessQueue(ctx context.Context) outbox.Result {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	f.fired <- struct{}{}
	return outbox.Result{}
}

func (f *fakeFlusher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFlusher) waitFire(t *testing.T) {
	t.Helper()
	select {
	case <-f.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a flush")
	}
}

func (f *fakeFlusher) expectQuiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case <-f.fired:
		t.Fatal("unexpected flush")
	case <-time.After(d):
	}
}

func TestFlushOncePerOnlineEdge(t *testing.T) {
	probe := newFakeProbe(false)
	flusher := newFakeFlusher()
	m := New(probe, flusher, Config{SettleDelay: 10 * time.Millisecond})

	m.Start(context.Background())
	defer m.Stop()
	assert.False(t, m.IsOnline())

	probe.push(true)
	flusher.waitFire(t)
	assert.Equal(t, 1, flusher.count())
	assert.True(t, m.IsOnline())

	// Still online: repeated polls are not edges.
	probe.push(true)
	probe.push(true)
	flusher.expectQuiet(t, 50*time.Millisecond)

	// A full offline/online cycle triggers exactly one more flush.
	probe.push(false)
	probe.push(true)
	flusher.waitFire(t)
	assert.Equal(t, 2, flusher.count())
}

func TestNoFlushWhenStartingOnline(t *testing.T) {
	probe := newFakeProbe(true)
	flusher := newFakeFlusher()
	m := New(probe, flusher, Config{SettleDelay: 10 * time.Millisecond})

	m.Start(context.Background())
	defer m.Stop()

	assert.True(t, m.IsOnline())
	assert.Equal(t, "wifi", m.Transport())
	assert.False(t, m.HasBeenOffline())

	probe.push(true)
	flusher.expectQuiet(t, 50*time.Millisecond)
}

func TestOfflineDuringSettleCancelsFlush(t *testing.T) {
	probe := newFakeProbe(false)
	flusher := newFakeFlusher()
	m := New(probe, flusher, Config{SettleDelay: 100 * time.Millisecond})

	m.Start(context.Background())
	defer m.Stop()

	// The link flaps before the settle delay runs out: no flush.
	probe.push(true)
	probe.push(false)
	flusher.expectQuiet(t, 300*time.Millisecond)

	probe.push(true)
	flusher.waitFire(t)
	assert.Equal(t, 1, flusher.count())
}

func TestRefresh(t *testing.T) {
	probe := newFakeProbe(false)
	flusher := newFakeFlusher()
	m := New(probe, flusher, Config{SettleDelay: 10 * time.Millisecond})

	m.Start(context.Background())
	defer m.Stop()

	// Pull-to-refresh after the link came back but before any poll.
	probe.mu.Lock()
	probe.st = remote.Status{Connected: true, Reachable: true, Transport: "cellular"}
	probe.mu.Unlock()

	st, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Online())
	assert.True(t, m.IsOnline())
	assert.Equal(t, "cellular", m.Transport())

	// Refresh observed an offline->online edge: it still flushes once.
	flusher.waitFire(t)
}

func TestHasBeenOffline(t *testing.T) {
	probe := newFakeProbe(true)
	flusher := newFakeFlusher()
	m := New(probe, flusher, Config{SettleDelay: 10 * time.Millisecond})

	m.Start(context.Background())
	defer m.Stop()
	assert.False(t, m.HasBeenOffline())

	probe.push(false)
	assert.True(t, m.HasBeenOffline())

	// The flag is sticky across reconnects; the UI uses it to decide on
	// the "reconnected" banner.
	probe.push(true)
	flusher.waitFire(t)
	assert.True(t, m.HasBeenOffline())
}

func TestStartFetchErrorIsNotAnOfflineObservation(t *testing.T) {
	probe := newFakeProbe(true)
	probe.fetchErr = errors.New("probe down")
	flusher := newFakeFlusher()
	m := New(probe, flusher, Config{SettleDelay: 10 * time.Millisecond})

	m.Start(context.Background())
	defer m.Stop()

	// The failed read primes the monitor as offline without counting as
	// an observed offline state.
	assert.False(t, m.IsOnline())
	assert.False(t, m.HasBeenOffline())

	// The first real sample corrects it; still no offline observation.
	probe.mu.Lock()
	probe.fetchErr = nil
	probe.mu.Unlock()
	probe.push(true)
	flusher.waitFire(t)
	assert.True(t, m.IsOnline())
	assert.False(t, m.HasBeenOffline())

	probe.push(false)
	assert.True(t, m.HasBeenOffline())
}

func TestSubscribeSeesSamples(t *testing.T) {
	probe := newFakeProbe(false)
	flusher := newFakeFlusher()
	m := New(probe, flusher, Config{SettleDelay: 10 * time.Millisecond})

	ch, unsub := m.Subscribe()
	defer unsub()

	m.Start(context.Background())
	defer m.Stop()

	select {
	case st := <-ch:
		assert.False(t, st.Online())
	case <-time.After(time.Second):
		t.Fatal("no status sample")
	}
}
