package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlow/chatsync/localstore"
	"github.com/nlow/chatsync/msg"
	"github.com/nlow/chatsync/remote/mock"
)

func newTestStore(t *testing.T) *localstore.Store {
	t.Helper()
	s, err := localstore.Open(filepath.Join(t.TempDir(), "chatsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func pendingMsg(chatId, id string, createTime int64) *msg.Message {
	return &msg.Message{
		Id:             id,
		ChatId:         chatId,
		SenderId:       "u1",
		Content:        msg.TextContent("hi"),
		CreateTime:     createTime,
		DeliveryStatus: msg.DeliverySending,
		SyncStatus:     msg.SyncPending,
	}
}

func TestProcessQueueEmpty(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// No Send expectations: an empty pending set must not attempt any.
	sender := mock.NewMockMessageService(ctrl)
	q := New(newTestStore(t), sender, DefaultConfig())

	res := q.ProcessQueue(context.Background())
	assert.Equal(t, Result{}, res)
}

func TestProcessQueueSendsOldestFirst(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveMessage(ctx, pendingMsg("c1", "m2", 20)))
	require.NoError(t, store.SaveMessage(ctx, pendingMsg("c1", "m1", 10)))

	var order []string
	sender := mock.NewMockMessageService(ctrl)
	sender.EXPECT().
		Send(gomock.Any(), "c1", gomock.Any(), "u1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _, messageId, _ string, _ msg.Content) (string, error) {
			order = append(order, messageId)
			return messageId, nil
		}).Times(2)

	q := New(store, sender, DefaultConfig())
	res := q.ProcessQueue(ctx)

	assert.Equal(t, Result{Total: 2, Success: 2}, res)
	assert.Equal(t, []string{"m1", "m2"}, order)

	got, err := store.GetMessageById(ctx, "c1", "m1")
	require.NoError(t, err)
	assert.Equal(t, msg.SyncSynced, got.SyncStatus)
	assert.Equal(t, msg.DeliverySent, got.DeliveryStatus)

	assert.Equal(t, 0, q.PendingCount(ctx))
}

func TestProcessQueueFailureKeepsRowPending(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveMessage(ctx, pendingMsg("c1", "m1", 10)))
	require.NoError(t, store.SaveMessage(ctx, pendingMsg("c1", "m2", 20)))

	sender := mock.NewMockMessageService(ctrl)
	// m1 fails, m2 succeeds: one failure never aborts the rest.
	sender.EXPECT().
		Send(gomock.Any(), "c1", "m1", "u1", gomock.Any()).
		Return("", errors.New("network down"))
	sender.EXPECT().
		Send(gomock.Any(), "c1", "m2", "u1", gomock.Any()).
		Return("m2", nil)

	conf := DefaultConfig()
	conf.BackoffMin = time.Minute
	q := New(store, sender, conf)

	res := q.ProcessQueue(ctx)
	assert.Equal(t, Result{Total: 2, Success: 1, Failed: 1}, res)

	got, err := store.GetMessageById(ctx, "c1", "m1")
	require.NoError(t, err)
	assert.Equal(t, msg.SyncPending, got.SyncStatus)
	assert.Equal(t, int32(1), got.RetryCount)
	assert.Greater(t, got.NextAttemptAt, msg.Now())

	// The immediate next pass defers the backed-off row; no Send happens.
	res = q.ProcessQueue(ctx)
	assert.Equal(t, Result{Total: 1, Deferred: 1}, res)
}

func TestProcessQueueSingleFlight(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveMessage(ctx, pendingMsg("c1", "m1", 10)))

	started := make(chan struct{})
	release := make(chan struct{})

	sender := mock.NewMockMessageService(ctrl)
	sender.EXPECT().
		Send(gomock.Any(), "c1", "m1", "u1", gomock.Any()).
		DoAndReturn(func(context.Context, string, string, string, msg.Content) (string, error) {
			close(started)
			<-release
			return "m1", nil
		})

	q := New(store, sender, DefaultConfig())

	first := make(chan Result, 1)
	go func() { first <- q.ProcessQueue(ctx) }()

	<-started

	// A concurrent call returns the zero sentinel immediately even though
	// a pending message exists; it means "pass in progress", not "empty".
	res := q.ProcessQueue(ctx)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, 1, q.PendingCount(ctx))

	close(release)
	assert.Equal(t, Result{Total: 1, Success: 1}, <-first)
}

func TestMaxAttemptsFlipsToFailed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveMessage(ctx, pendingMsg("c1", "m1", 10)))

	sender := mock.NewMockMessageService(ctrl)
	sender.EXPECT().
		Send(gomock.Any(), "c1", "m1", "u1", gomock.Any()).
		Return("", errors.New("still down"))

	conf := DefaultConfig()
	conf.MaxAttempts = 1
	q := New(store, sender, conf)

	res := q.ProcessQueue(ctx)
	assert.Equal(t, Result{Total: 1, Failed: 1}, res)

	assert.Equal(t, 0, q.PendingCount(ctx))
	assert.Equal(t, 1, q.FailedCount(ctx))

	got, err := store.GetMessageById(ctx, "c1", "m1")
	require.NoError(t, err)
	assert.Equal(t, msg.SyncFailed, got.SyncStatus)
	assert.Equal(t, msg.DeliveryFailed, got.DeliveryStatus)
}

func TestRetryMessageNonexistent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// No Send expectation: nothing to retry means no attempt.
	sender := mock.NewMockMessageService(ctrl)
	q := New(newTestStore(t), sender, DefaultConfig())

	ok, err := q.RetryMessage(context.Background(), "c1", "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRetryMessageSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newTestStore(t)
	ctx := context.Background()
	m := pendingMsg("c1", "m1", 10)
	require.NoError(t, store.SaveMessage(ctx, m))
	require.NoError(t, store.RecordSendFailure(ctx, "c1", "m1", 0, true))

	sender := mock.NewMockMessageService(ctrl)
	sender.EXPECT().
		Send(gomock.Any(), "c1", "m1", "u1", gomock.Any()).
		Return("m1", nil)

	q := New(store, sender, DefaultConfig())
	ok, err := q.RetryMessage(ctx, "c1", "m1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetMessageById(ctx, "c1", "m1")
	require.NoError(t, err)
	assert.Equal(t, msg.DeliverySent, got.DeliveryStatus)
	assert.Equal(t, msg.SyncSynced, got.SyncStatus)
}

func TestRetryMessageFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveMessage(ctx, pendingMsg("c1", "m1", 10)))

	sender := mock.NewMockMessageService(ctrl)
	sender.EXPECT().
		Send(gomock.Any(), "c1", "m1", "u1", gomock.Any()).
		Return("", errors.New("nope"))

	q := New(store, sender, DefaultConfig())
	ok, err := q.RetryMessage(ctx, "c1", "m1")
	// The send error is logged, not returned; the row carries the state.
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetMessageById(ctx, "c1", "m1")
	require.NoError(t, err)
	// Never left at `sending` once the call returns.
	assert.Equal(t, msg.DeliveryFailed, got.DeliveryStatus)
	assert.Equal(t, msg.SyncFailed, got.SyncStatus)
}

func TestCountsDegradeToZero(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newTestStore(t)
	sender := mock.NewMockMessageService(ctrl)
	q := New(store, sender, DefaultConfig())

	require.NoError(t, store.Close())

	ctx := context.Background()
	assert.Equal(t, 0, q.PendingCount(ctx))
	assert.Equal(t, 0, q.FailedCount(ctx))
	q.ClearFailedMessages(ctx) // must not panic or propagate
}

func TestSubscribeDeliversPassResults(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveMessage(ctx, pendingMsg("c1", "m1", 10)))

	sender := mock.NewMockMessageService(ctrl)
	sender.EXPECT().
		Send(gomock.Any(), "c1", "m1", "u1", gomock.Any()).
		Return("m1", nil)

	q := New(store, sender, DefaultConfig())
	results, unsub := q.Subscribe()
	defer unsub()

	q.ProcessQueue(ctx)

	select {
	case res := <-results:
		assert.Equal(t, Result{Total: 1, Success: 1}, res)
	case <-time.After(time.Second):
		t.Fatal("no pass result published")
	}
}
