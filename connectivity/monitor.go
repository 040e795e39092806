// Package connectivity watches the device reachability signal and kicks
// the outbox exactly once per offline->online transition.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/nlow/chatsync/outbox"
	"github.com/nlow/chatsync/remote"
)

const defaultSettleDelay = 1500 * time.Millisecond

// Flusher is the slice of the outbox the monitor drives.
type Flusher interface {
	ProcessQueue(ctx context.Context) outbox.Result
}

// Config tunes the monitor.
type Config struct {
	// SettleDelay holds the flush back after an online edge so the link
	// gets a moment to stabilize before the first send burst.
	SettleDelay time.Duration
}

// Monitor keeps previous-online-state so it reacts to edges, not to
// every poll while already online.
type Monitor struct {
	mu sync.Mutex

	probe   remote.ConnectivityProbe
	flusher Flusher
	conf    Config

	primed      bool // first sample seen
	online      bool
	transport   string
	everOffline bool

	settleTimer    *time.Timer
	removeListener func()

	subs   map[int]chan remote.Status
	nextId int
}

func New(probe remote.ConnectivityProbe, flusher Flusher, conf Config) *Monitor {
	if conf.SettleDelay <= 0 {
		conf.SettleDelay = defaultSettleDelay
	}
	return &Monitor{
		probe:   probe,
		flusher: flusher,
		conf:    conf,
		subs:    make(map[int]chan remote.Status),
	}
}

// Start primes the state from a fresh sample and registers for updates.
// An initial fetch error is treated as offline, not fatal: the listener
// stream corrects it.
func (m *Monitor) Start(ctx context.Context) {
	st, err := m.probe.FetchCurrent(ctx)
	if err != nil {
		// Prime as offline, but a failed probe read is not an observed
		// offline state: it must not stick in HasBeenOffline.
		glog.Errorf("connectivity: initial fetch: %v", err)
		m.mu.Lock()
		m.primed = true
		m.online = false
		m.mu.Unlock()
	} else {
		m.apply(ctx, st)
	}

	remove := m.probe.AddListener(func(st remote.Status) {
		m.apply(ctx, st)
	})

	m.mu.Lock()
	m.removeListener = remove
	m.mu.Unlock()
}

// Stop deregisters from the probe and cancels any pending flush.
func (m *Monitor) Stop() {
	m.mu.Lock()
	remove := m.removeListener
	m.removeListener = nil
	if m.settleTimer != nil {
		m.settleTimer.Stop()
		m.settleTimer = nil
	}
	m.mu.Unlock()

	if remove != nil {
		remove()
	}
}

func (m *Monitor) apply(ctx context.Context, st remote.Status) {
	m.mu.Lock()

	wasOnline := m.online
	primed := m.primed
	m.primed = true
	m.online = st.Online()
	m.transport = st.Transport

	if !m.online {
		m.everOffline = true
		// Going dark cancels a not-yet-fired flush; the next online edge
		// schedules a new one.
		if m.settleTimer != nil {
			m.settleTimer.Stop()
			m.settleTimer = nil
		}
	}

	edge := primed && !wasOnline && m.online
	if edge {
		glog.Infof("connectivity: back online (%s), flush in %s", st.Transport, m.conf.SettleDelay)
		m.settleTimer = time.AfterFunc(m.conf.SettleDelay, func() {
			m.mu.Lock()
			m.settleTimer = nil
			still := m.online
			m.mu.Unlock()
			if !still || ctx.Err() != nil {
				return
			}
			res := m.flusher.ProcessQueue(ctx)
			glog.Infof("connectivity: reconnect flush, total: %d, success: %d, failed: %d",
				res.Total, res.Success, res.Failed)
		})
	}
	m.mu.Unlock()

	m.publish(st)
}

// Refresh polls the probe once (pull-to-refresh UX) and applies the
// sample like any listener update.
func (m *Monitor) Refresh(ctx context.Context) (remote.Status, error) {
	st, err := m.probe.FetchCurrent(ctx)
	if err != nil {
		return remote.Status{}, err
	}
	m.apply(ctx, st)
	return st, nil
}

// IsOnline reports the last observed state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Transport reports the last observed transport type.
func (m *Monitor) Transport() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport
}

// HasBeenOffline reports whether this session ever observed an offline
// state; the UI uses it to decide on a "reconnected" banner.
func (m *Monitor) HasBeenOffline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.everOffline
}

// Subscribe returns a channel of status samples. Slow subscribers miss
// samples instead of stalling the monitor.
func (m *Monitor) Subscribe() (<-chan remote.Status, func()) {
	ch := make(chan remote.Status, 1)

	m.mu.Lock()
	id := m.nextId
	m.nextId++
	m.subs[id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Monitor) publish(st remote.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- st:
		default:
		}
	}
}
