// Package outbox drains syncStatus=pending messages to the remote
// service, at most one processing pass in flight per process.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/nlow/chatsync/localstore"
	"github.com/nlow/chatsync/msg"
)

// Sender is the slice of the remote message service the queue needs.
type Sender interface {
	Send(ctx context.Context, chatId, messageId, senderId string, content msg.Content) (string, error)
}

// Result tallies one processing pass. The zero Result is also the
// single-flight sentinel: a concurrent caller gets {0,0,0,0} and must
// read it as "a pass is already running, try again later", never as
// "queue was empty".
type Result struct {
	Total    int `json:"total"`
	Success  int `json:"success"`
	Failed   int `json:"failed"`
	Deferred int `json:"deferred"` // skipped, backoff window not over yet
}

// Config tunes send timeouts and per-message retry backoff.
type Config struct {
	// SendTimeout bounds each individual send attempt.
	SendTimeout time.Duration

	// MaxAttempts flips a message to syncStatus=failed after that many
	// consecutive send failures; 0 retries forever.
	MaxAttempts int32

	BackoffMin        time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64
}

// DefaultConfig mirrors what the interactive client ships with.
func DefaultConfig() Config {
	return Config{
		SendTimeout:       10 * time.Second,
		MaxAttempts:       8,
		BackoffMin:        time.Second,
		BackoffMax:        60 * time.Second,
		BackoffMultiplier: 1.5,
	}
}

type queueState int

const (
	stateIdle queueState = iota
	stateRunning
)

// Queue owns the single-flight state token; nothing else in the
// subsystem mutates it.
type Queue struct {
	mu    sync.Mutex
	state queueState

	store  *localstore.Store
	sender Sender
	conf   Config

	subs   map[int]chan Result
	nextId int
}

func New(store *localstore.Store, sender Sender, conf Config) *Queue {
	if conf.SendTimeout <= 0 {
		conf.SendTimeout = DefaultConfig().SendTimeout
	}
	if conf.BackoffMin <= 0 {
		conf.BackoffMin = DefaultConfig().BackoffMin
	}
	if conf.BackoffMax < conf.BackoffMin {
		conf.BackoffMax = DefaultConfig().BackoffMax
	}
	if conf.BackoffMultiplier <= 1 {
		conf.BackoffMultiplier = DefaultConfig().BackoffMultiplier
	}
	return &Queue{
		store:  store,
		sender: sender,
		conf:   conf,
		subs:   make(map[int]chan Result),
	}
}

// begin is the read-test-and-set entry of the single-flight guard.
func (q *Queue) begin() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == stateRunning {
		return false
	}
	q.state = stateRunning
	return true
}

func (q *Queue) end() {
	q.mu.Lock()
	q.state = stateIdle
	q.mu.Unlock()
}

// ProcessQueue sends every due pending message, oldest first. One
// message's failure never aborts the rest of the pass. Connectivity
// changes do not cancel a running pass; the single-flight guard is the
// concurrency-safety mechanism.
func (q *Queue) ProcessQueue(ctx context.Context) Result {
	var res Result
	if !q.begin() {
		glog.V(5).Info("outbox: pass already running")
		return res
	}
	defer q.end()

	pending, err := q.store.GetPendingMessages(ctx)
	if err != nil {
		glog.Errorf("outbox: fetch pending: %v", err)
		return res
	}

	now := msg.Now()
	for i := range pending {
		m := &pending[i]
		res.Total++

		if m.NextAttemptAt > now {
			res.Deferred++
			continue
		}

		if err := q.sendOne(ctx, m); err != nil {
			res.Failed++
			q.recordFailure(ctx, m, err)
		} else {
			res.Success++
			sendsTotal.WithLabelValues("success").Inc()
			if err := q.store.MarkMessageSynced(ctx, m.ChatId, m.Id); err != nil {
				glog.Errorf("outbox: mark synced %s: %v", m.Id, err)
			}
		}
	}

	q.updateGauges(ctx)
	q.publish(res)

	glog.V(5).Infof("outbox: pass done, total: %d, success: %d, failed: %d, deferred: %d",
		res.Total, res.Success, res.Failed, res.Deferred)
	return res
}

func (q *Queue) sendOne(ctx context.Context, m *msg.Message) error {
	ctx, cancel := context.WithTimeout(ctx, q.conf.SendTimeout)
	defer cancel()
	_, err := q.sender.Send(ctx, m.ChatId, m.Id, m.SenderId, m.Content)
	return err
}

func (q *Queue) recordFailure(ctx context.Context, m *msg.Message, cause error) {
	sendsTotal.WithLabelValues("failure").Inc()

	attempt := m.RetryCount + 1
	terminal := q.conf.MaxAttempts > 0 && attempt >= q.conf.MaxAttempts
	next := msg.Now() + q.backoff(attempt).Milliseconds()

	glog.Errorf("outbox: send %s failed (attempt %d, terminal: %t): %v", m.Id, attempt, terminal, cause)

	if err := q.store.RecordSendFailure(ctx, m.ChatId, m.Id, next, terminal); err != nil {
		glog.Errorf("outbox: record failure %s: %v", m.Id, err)
	}
}

// backoff grows the retry delay multiplicatively with the attempt count,
// capped at BackoffMax.
func (q *Queue) backoff(attempt int32) time.Duration {
	d := q.conf.BackoffMin
	for i := int32(1); i < attempt; i++ {
		d = time.Duration(float64(d) * q.conf.BackoffMultiplier)
		if d >= q.conf.BackoffMax {
			return q.conf.BackoffMax
		}
	}
	return d
}

// RetryMessage re-attempts one message regardless of its current
// delivery status. Returns false when the row does not exist. The send
// error itself is logged, not returned: the caller's UI interaction must
// not block on it, and the row's failed state is the durable signal.
func (q *Queue) RetryMessage(ctx context.Context, chatId, id string) (bool, error) {
	m, err := q.store.GetMessageById(ctx, chatId, id)
	if err == localstore.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := q.store.UpdateMessageStatus(ctx, chatId, id, msg.DeliverySending); err != nil {
		return false, err
	}

	if err := q.sendOne(ctx, m); err != nil {
		sendsTotal.WithLabelValues("failure").Inc()
		glog.Errorf("outbox: retry %s failed: %v", id, err)
		if err := q.store.RecordSendFailure(ctx, chatId, id, 0, true); err != nil {
			glog.Errorf("outbox: record retry failure %s: %v", id, err)
		}
	} else {
		sendsTotal.WithLabelValues("success").Inc()
		if err := q.store.MarkMessageSynced(ctx, chatId, id); err != nil {
			glog.Errorf("outbox: mark synced %s: %v", id, err)
		}
	}

	q.updateGauges(ctx)
	return true, nil
}

// PendingCount feeds a passive UI badge: on store error it degrades to 0
// rather than propagating.
func (q *Queue) PendingCount(ctx context.Context) int {
	n, err := q.store.CountPending(ctx)
	if err != nil {
		glog.Errorf("outbox: count pending: %v", err)
		return 0
	}
	return n
}

// FailedCount feeds a passive UI badge: on store error it degrades to 0.
func (q *Queue) FailedCount(ctx context.Context) int {
	n, err := q.store.CountFailed(ctx)
	if err != nil {
		glog.Errorf("outbox: count failed: %v", err)
		return 0
	}
	return n
}

// ClearFailedMessages is best-effort housekeeping; errors are logged,
// never thrown at the caller.
func (q *Queue) ClearFailedMessages(ctx context.Context) {
	n, err := q.store.DeleteFailedMessages(ctx)
	if err != nil {
		glog.Errorf("outbox: clear failed messages: %v", err)
		return
	}
	q.updateGauges(ctx)
	glog.V(5).Infof("outbox: cleared %d failed messages", n)
}

func (q *Queue) updateGauges(ctx context.Context) {
	if n, err := q.store.CountPending(ctx); err == nil {
		pendingGauge.Set(float64(n))
	}
	if n, err := q.store.CountFailed(ctx); err == nil {
		failedGauge.Set(float64(n))
	}
}

// Subscribe returns a channel carrying the Result of each completed
// pass. Slow subscribers miss results instead of stalling the queue.
func (q *Queue) Subscribe() (<-chan Result, func()) {
	ch := make(chan Result, 1)

	q.mu.Lock()
	id := q.nextId
	q.nextId++
	q.subs[id] = ch
	q.mu.Unlock()

	return ch, func() {
		q.mu.Lock()
		delete(q.subs, id)
		q.mu.Unlock()
	}
}

func (q *Queue) publish(res Result) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ch := range q.subs {
		select {
		case ch <- res:
		default:
		}
	}
}
