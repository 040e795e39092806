// Package chatsync is an offline-first synchronization engine for a
// messaging client: a durable local cache the UI reads and writes
// instantly, an outbox that drains locally-created messages to the
// remote backend, and a reconciler that merges server snapshots with
// optimistic local state.
package chatsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/nlow/chatsync/connectivity"
	"github.com/nlow/chatsync/localstore"
	"github.com/nlow/chatsync/msg"
	"github.com/nlow/chatsync/outbox"
	"github.com/nlow/chatsync/reconcile"
	"github.com/nlow/chatsync/remote"
)

// Config wires an Engine. Messages, Probe and SelfId are required;
// Chats is optional (no chat-list sync without it).
type Config struct {
	// StorePath is the on-device database file.
	StorePath string

	// SelfId is the authenticated user (auth itself is out of scope).
	SelfId string

	Messages remote.MessageService
	Chats    remote.ChatService
	Probe    remote.ConnectivityProbe

	Outbox      outbox.Config
	SettleDelay time.Duration

	// ResetOnInitError recreates a corrupt database file instead of
	// failing Open. The UI path that cannot decide for the user leaves
	// this false and prompts before retrying with it set.
	ResetOnInitError bool
}

// Engine owns the subsystem components and their lifecycle.
type Engine struct {
	conf Config

	store   *localstore.Store
	queue   *outbox.Queue
	monitor *connectivity.Monitor
	view    *reconcile.Store

	mu           sync.Mutex
	started      bool
	cancel       context.CancelFunc
	unsubChat    func()
	unsubChats   func()
	unsubResults func()
	wg           sync.WaitGroup
}

// Open initializes the durable store and builds the components. It does
// not start background work; call Start.
func Open(conf Config) (*Engine, error) {
	if conf.StorePath == "" || conf.SelfId == "" {
		return nil, fmt.Errorf("chatsync: store path and self id are required")
	}
	if conf.Messages == nil || conf.Probe == nil {
		return nil, fmt.Errorf("chatsync: message service and connectivity probe are required")
	}

	store, err := localstore.Open(conf.StorePath)
	if err != nil {
		if _, ok := err.(*localstore.InitError); !ok || !conf.ResetOnInitError {
			return nil, err
		}
		glog.Errorf("chatsync: store init failed, resetting local data: %v", err)
		if err := localstore.Destroy(conf.StorePath); err != nil {
			return nil, err
		}
		store, err = localstore.Open(conf.StorePath)
		if err != nil {
			return nil, err
		}
	}

	queue := outbox.New(store, conf.Messages, conf.Outbox)
	monitor := connectivity.New(conf.Probe, queue, connectivity.Config{SettleDelay: conf.SettleDelay})
	view := reconcile.New(store, conf.Messages, conf.SelfId)

	return &Engine{
		conf:    conf,
		store:   store,
		queue:   queue,
		monitor: monitor,
		view:    view,
	}, nil
}

// Start brings up the connectivity monitor and begins refreshing the
// live view after each outbox pass. Idempotent.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	ctx, e.cancel = context.WithCancel(ctx)
	e.monitor.Start(ctx)

	if e.conf.Chats != nil {
		unsub, err := e.conf.Chats.SubscribeToChats(ctx,
			func(chats []msg.Chat) {
				e.saveChats(context.Background(), chats)
			},
			func(err error) {
				glog.Errorf("chatsync: chat stream: %v", err)
			})
		if err != nil {
			// Offline is fine here too; the cached chat list keeps serving.
			glog.Errorf("chatsync: subscribe chats: %v", err)
		} else {
			e.unsubChats = unsub
		}
	}

	results, unsub := e.queue.Subscribe()
	e.unsubResults = unsub
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case res := <-results:
				if res.Success == 0 && res.Failed == 0 {
					continue
				}
				if err := e.view.Refresh(ctx); err != nil && ctx.Err() == nil {
					glog.Errorf("chatsync: refresh after outbox pass: %v", err)
				}
				if res.Success > 0 {
					e.pushLastMessage(ctx)
				}
			}
		}
	}()
}

// saveChats persists a server-pushed chat snapshot in one transaction.
func (e *Engine) saveChats(ctx context.Context, chats []msg.Chat) {
	ops := make([]func(*localstore.Tx) error, 0, len(chats))
	for i := range chats {
		c := chats[i]
		ops = append(ops, func(tx *localstore.Tx) error {
			return tx.SaveChat(&c)
		})
	}
	if err := e.store.Transaction(ctx, ops...); err != nil {
		glog.Errorf("chatsync: save chat snapshot: %v", err)
	}
}

// pushLastMessage pushes the current chat's denormalized preview to the
// backend after an outbox ack, so other participants' chat lists update
// without loading history.
func (e *Engine) pushLastMessage(ctx context.Context) {
	if e.conf.Chats == nil {
		return
	}
	list := e.view.Messages()
	if len(list) == 0 {
		return
	}
	last := list[len(list)-1]
	if last.SyncStatus != msg.SyncSynced || last.SenderId != e.conf.SelfId {
		return
	}
	if err := e.conf.Chats.UpdateLastMessage(ctx, last.ChatId, &last); err != nil {
		glog.Errorf("chatsync: update last message for %s: %v", last.ChatId, err)
	}
}

// SelectChat switches the live view to chatId and (re)subscribes to its
// remote snapshot stream.
func (e *Engine) SelectChat(ctx context.Context, chatId string) error {
	if err := e.view.SelectChat(ctx, chatId); err != nil {
		return err
	}

	unsub, err := e.conf.Messages.Subscribe(ctx, chatId,
		func(snapshot []msg.Message) {
			if err := e.view.ApplySnapshot(context.Background(), chatId, snapshot); err != nil {
				glog.Errorf("chatsync: apply snapshot for %s: %v", chatId, err)
			}
		},
		func(err error) {
			glog.Errorf("chatsync: snapshot stream for %s: %v", chatId, err)
		})
	if err != nil {
		// Offline is fine: the local history is already showing; the
		// next SelectChat after reconnect re-subscribes.
		glog.Errorf("chatsync: subscribe %s: %v", chatId, err)
		unsub = nil
	}

	e.mu.Lock()
	old := e.unsubChat
	e.unsubChat = unsub
	e.mu.Unlock()
	if old != nil {
		old()
	}
	return nil
}

// SendMessage performs the optimistic insert and, when the device looks
// online, kicks an immediate outbox pass in the background.
func (e *Engine) SendMessage(ctx context.Context, content msg.Content) (msg.Message, error) {
	m, err := e.view.SendMessage(ctx, content)
	if err != nil {
		return msg.Message{}, err
	}

	if e.monitor.IsOnline() {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.queue.ProcessQueue(context.Background())
		}()
	}
	return m, nil
}

// CreateChat persists the chat locally and registers it with the
// backend. The local row sticks even when the remote call fails; the
// next chat snapshot reconverges.
func (e *Engine) CreateChat(ctx context.Context, c *msg.Chat) error {
	if c.Id == "" {
		c.Id = msg.NewId()
	}
	if err := e.store.SaveChat(ctx, c); err != nil {
		return err
	}
	if e.conf.Chats == nil {
		return nil
	}
	return e.conf.Chats.CreateChat(ctx, c)
}

// Chats returns the cached chat list, most recently active first.
func (e *Engine) Chats(ctx context.Context) ([]msg.Chat, error) {
	return e.store.GetChats(ctx)
}

// Messages returns the merged, deduplicated view of the current chat.
func (e *Engine) Messages() []msg.Message { return e.view.Messages() }

// CurrentChatId returns the selected chat id, empty when none.
func (e *Engine) CurrentChatId() string { return e.view.CurrentChatId() }

// Changed ticks when the live view mutates.
func (e *Engine) Changed() <-chan struct{} { return e.view.Changed() }

// DeleteMessageForMe hides the message for this user only.
func (e *Engine) DeleteMessageForMe(ctx context.Context, id string) error {
	return e.view.DeleteMessageForMe(ctx, id)
}

// DeleteMessageForEveryone tombstones the message for all participants.
func (e *Engine) DeleteMessageForEveryone(ctx context.Context, id string) error {
	return e.view.DeleteMessageForEveryone(ctx, id)
}

// AddReaction / RemoveReaction mutate the reactions map optimistically.
func (e *Engine) AddReaction(ctx context.Context, id, emoji string) error {
	return e.view.AddReaction(ctx, id, emoji)
}

func (e *Engine) RemoveReaction(ctx context.Context, id, emoji string) error {
	return e.view.RemoveReaction(ctx, id, emoji)
}

// ProcessQueue runs one outbox pass (manual retry affordance).
func (e *Engine) ProcessQueue(ctx context.Context) outbox.Result {
	return e.queue.ProcessQueue(ctx)
}

// RetryMessage re-attempts one message; false when it does not exist.
func (e *Engine) RetryMessage(ctx context.Context, chatId, id string) (bool, error) {
	ok, err := e.queue.RetryMessage(ctx, chatId, id)
	if ok {
		if rerr := e.view.Refresh(ctx); rerr != nil {
			glog.Errorf("chatsync: refresh after retry: %v", rerr)
		}
	}
	return ok, err
}

// PendingCount / FailedCount back passive UI badges.
func (e *Engine) PendingCount(ctx context.Context) int { return e.queue.PendingCount(ctx) }
func (e *Engine) FailedCount(ctx context.Context) int  { return e.queue.FailedCount(ctx) }

// ClearFailedMessages is best-effort housekeeping.
func (e *Engine) ClearFailedMessages(ctx context.Context) {
	e.queue.ClearFailedMessages(ctx)
}

// Monitor exposes connectivity state for the UI (online flag, transport,
// reconnected banner).
func (e *Engine) Monitor() *connectivity.Monitor { return e.monitor }

// Store exposes the local store to the surrounding service layer.
func (e *Engine) Store() *localstore.Store { return e.store }

// Logout clears all local data without dropping the schema.
func (e *Engine) Logout(ctx context.Context) error {
	e.mu.Lock()
	unsub := e.unsubChat
	e.unsubChat = nil
	e.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	return e.store.ClearAll(ctx)
}

// Close stops background work and releases the store.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	unsubChat := e.unsubChat
	e.unsubChat = nil
	unsubChats := e.unsubChats
	e.unsubChats = nil
	unsubResults := e.unsubResults
	e.unsubResults = nil
	e.mu.Unlock()

	if unsubChat != nil {
		unsubChat()
	}
	if unsubChats != nil {
		unsubChats()
	}
	if unsubResults != nil {
		unsubResults()
	}
	e.monitor.Stop()
	e.wg.Wait()
	return e.store.Close()
}
