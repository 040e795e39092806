// Package reconcile owns the single in-memory message list the UI
// observes, merged from locally-optimistic writes and server-pushed
// snapshots. Mutating actions are serialized; no two entries ever share
// an id.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/golang/glog"

	"github.com/nlow/chatsync/localstore"
	"github.com/nlow/chatsync/msg"
	"github.com/nlow/chatsync/remote"
)

// Store is the reactive state layer for the currently selected chat.
//
// Two locks: `actions` is a semaphore serializing whole mutating actions
// (they suspend on Local Store and remote I/O and must stay cancelable),
// `stateMu` guards the in-memory list for the brief moments it is read
// or rewritten.
type Store struct {
	local  *localstore.Store
	svc    remote.MessageService
	selfId string

	actions chan struct{}

	stateMu sync.Mutex
	chatId  string
	list    []*msg.Message // sorted by msg.Less
	byId    map[string]*msg.Message

	changed chan struct{}
}

func New(local *localstore.Store, svc remote.MessageService, selfId string) *Store {
	s := &Store{
		local:   local,
		svc:     svc,
		selfId:  selfId,
		actions: make(chan struct{}, 1),
		byId:    make(map[string]*msg.Message),
		changed: make(chan struct{}, 1),
	}
	s.actions <- struct{}{}
	return s
}

func (s *Store) acquire(ctx context.Context) error {
	select {
	case <-s.actions:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release() {
	s.actions <- struct{}{}
}

// Changed delivers a coalesced tick after every visible mutation.
func (s *Store) Changed() <-chan struct{} {
	return s.changed
}

func (s *Store) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// SelectChat loads the chat's durable history into the live view.
func (s *Store) SelectChat(ctx context.Context, chatId string) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return s.reloadChat(ctx, chatId)
}

// reloadChat requires the action lock.
func (s *Store) reloadChat(ctx context.Context, chatId string) error {
	msgs, err := s.local.GetMessagesByChat(ctx, chatId)
	if err != nil {
		return err
	}

	s.stateMu.Lock()
	s.chatId = chatId
	s.list = s.list[:0]
	s.byId = make(map[string]*msg.Message, len(msgs))
	for i := range msgs {
		m := msgs[i]
		s.list = append(s.list, &m)
		s.byId[m.Id] = &m
	}
	s.stateMu.Unlock()

	s.notify()
	return nil
}

// Refresh re-reads the current chat from the Local Store, picking up
// status changes written by the outbox.
func (s *Store) Refresh(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	chatId := s.CurrentChatId()
	if chatId == "" {
		return nil
	}
	return s.reloadChat(ctx, chatId)
}

// CurrentChatId returns the selected chat, empty when none.
func (s *Store) CurrentChatId() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.chatId
}

// Messages returns the acting user's view: render order, no duplicates,
// "deleted for me" rows filtered out. Tombstoned (deleted for everyone)
// rows stay so the thread keeps its shape.
func (s *Store) Messages() []msg.Message {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	out := make([]msg.Message, 0, len(s.list))
	for _, m := range s.list {
		if m.HiddenFor(s.selfId) {
			continue
		}
		out = append(out, m.Clone())
	}
	return out
}

// insertLocked places m at its sorted position, replacing any entry with
// the same id first. Caller holds stateMu.
func (s *Store) insertLocked(m *msg.Message) {
	if _, ok := s.byId[m.Id]; ok {
		s.removeLocked(m.Id)
	}
	i := sort.Search(len(s.list), func(i int) bool {
		return !msg.Less(s.list[i], m)
	})
	s.list = append(s.list, nil)
	copy(s.list[i+1:], s.list[i:])
	s.list[i] = m
	s.byId[m.Id] = m
}

// removeLocked drops the entry with the given id. Caller holds stateMu.
func (s *Store) removeLocked(id string) {
	if _, ok := s.byId[id]; !ok {
		return
	}
	delete(s.byId, id)
	for i, m := range s.list {
		if m.Id == id {
			s.list = append(s.list[:i], s.list[i+1:]...)
			return
		}
	}
}

// SendMessage is the optimistic insert: the message shows up in memory
// and durably in one logical step, before any network attempt. If the
// durable write fails, the optimistic entry is rolled back and the error
// surfaces: the UI must never show a message the device cannot guarantee
// it will retry.
func (s *Store) SendMessage(ctx context.Context, content msg.Content) (msg.Message, error) {
	if err := s.acquire(ctx); err != nil {
		return msg.Message{}, err
	}
	defer s.release()

	chatId := s.CurrentChatId()
	if chatId == "" {
		return msg.Message{}, fmt.Errorf("reconcile: no chat selected")
	}

	m := &msg.Message{
		Id:             msg.NewId(),
		ChatId:         chatId,
		SenderId:       s.selfId,
		Content:        content,
		CreateTime:     msg.Now(),
		DeliveryStatus: msg.DeliverySending,
		SyncStatus:     msg.SyncPending,
	}

	s.stateMu.Lock()
	s.insertLocked(m)
	s.stateMu.Unlock()

	saved := m.Clone()
	if err := s.local.SaveMessage(ctx, &saved); err != nil {
		s.stateMu.Lock()
		s.removeLocked(m.Id)
		s.stateMu.Unlock()
		return msg.Message{}, err
	}

	// Preview update is best-effort; the chat row may not be cached yet.
	if err := s.local.UpdateChatLastMessage(ctx, &saved); err != nil && err != localstore.ErrNotFound {
		glog.Errorf("reconcile: update chat preview: %v", err)
	}

	s.notify()
	return m.Clone(), nil
}

// ApplySnapshot merges a server-pushed ordered message set. Merge key is
// the id: remote state wins for every field except the purely-local
// outbox bookkeeping (syncStatus, retry counters), which the Outbox
// Queue manages independently. Local pending rows missing from the
// snapshot are retained; they are sends the snapshot has not caught up
// to yet.
func (s *Store) ApplySnapshot(ctx context.Context, chatId string, incoming []msg.Message) error {
	if len(incoming) == 0 {
		return nil
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	current := s.CurrentChatId() == chatId

	merged := make([]*msg.Message, 0, len(incoming))
	for i := range incoming {
		in := incoming[i].Clone()
		in.ChatId = chatId

		var prev *msg.Message
		if current {
			s.stateMu.Lock()
			if p, ok := s.byId[in.Id]; ok {
				c := p.Clone()
				prev = &c
			}
			s.stateMu.Unlock()
		}
		if prev == nil {
			row, err := s.local.GetMessageById(ctx, chatId, in.Id)
			if err == nil {
				prev = row
			} else if err != localstore.ErrNotFound {
				return err
			}
		}

		if prev != nil {
			in.SyncStatus = prev.SyncStatus
			in.RetryCount = prev.RetryCount
			in.NextAttemptAt = prev.NextAttemptAt
		} else {
			// Fresh from the server; nothing left to sync.
			in.SyncStatus = msg.SyncSynced
		}
		merged = append(merged, &in)
	}

	// One transaction: the durable cache never holds half a snapshot.
	ops := make([]func(*localstore.Tx) error, 0, len(merged))
	for _, m := range merged {
		m := m
		ops = append(ops, func(tx *localstore.Tx) error {
			return tx.SaveMessage(m)
		})
	}
	if err := s.local.Transaction(ctx, ops...); err != nil {
		return err
	}

	if current {
		s.stateMu.Lock()
		for _, m := range merged {
			s.insertLocked(m)
		}
		s.stateMu.Unlock()
		s.notify()
	}
	return nil
}

// findClone returns a private copy of the live entry with the given id.
func (s *Store) findClone(id string) (msg.Message, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	m, ok := s.byId[id]
	if !ok {
		return msg.Message{}, localstore.ErrNotFound
	}
	return m.Clone(), nil
}

// commit persists m and swaps it into the live view.
func (s *Store) commit(ctx context.Context, m *msg.Message) error {
	if err := s.local.SaveMessage(ctx, m); err != nil {
		return err
	}
	s.stateMu.Lock()
	s.insertLocked(m)
	s.stateMu.Unlock()
	s.notify()
	return nil
}

// DeleteMessageForMe tombstones the message for the acting user, locally
// and remotely. The row is retained; Messages() stops returning it. The
// local hide sticks even when the remote call fails (last-writer-wins on
// the next sync), but the error still propagates.
func (s *Store) DeleteMessageForMe(ctx context.Context, id string) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	m, err := s.findClone(id)
	if err != nil {
		return err
	}
	if !m.HiddenFor(s.selfId) {
		m.DeletedFor = append(m.DeletedFor, s.selfId)
	}
	if err := s.commit(ctx, &m); err != nil {
		return err
	}

	return s.svc.DeleteForMe(ctx, m.ChatId, id, s.selfId)
}

// DeleteMessageForEveryone sets the tombstone flag. Only the sender may
// do this; render logic substitutes a placeholder so other participants
// keep a thread-shape cue.
func (s *Store) DeleteMessageForEveryone(ctx context.Context, id string) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	m, err := s.findClone(id)
	if err != nil {
		return err
	}
	if m.SenderId != s.selfId {
		return remote.ErrUnauthorized
	}
	m.DeletedForEveryone = true
	if err := s.commit(ctx, &m); err != nil {
		return err
	}

	return s.svc.DeleteForEveryone(ctx, m.ChatId, id, s.selfId)
}

// AddReaction applies the reaction optimistically and pushes it to the
// remote service. A remote failure propagates without rolling the
// optimistic change back; callers re-fetch or roll back themselves.
func (s *Store) AddReaction(ctx context.Context, id, emoji string) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	m, err := s.findClone(id)
	if err != nil {
		return err
	}
	if !m.AddReaction(emoji, s.selfId) {
		return nil
	}
	if err := s.commit(ctx, &m); err != nil {
		return err
	}

	return s.svc.AddReaction(ctx, m.ChatId, id, emoji, s.selfId)
}

// RemoveReaction is the inverse of AddReaction, same failure contract.
func (s *Store) RemoveReaction(ctx context.Context, id, emoji string) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	m, err := s.findClone(id)
	if err != nil {
		return err
	}
	if !m.RemoveReaction(emoji, s.selfId) {
		return nil
	}
	if err := s.commit(ctx, &m); err != nil {
		return err
	}

	return s.svc.RemoveReaction(ctx, m.ChatId, id, emoji, s.selfId)
}
