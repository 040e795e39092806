package localstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/golang/glog"
	bolt "go.etcd.io/bbolt"

	"github.com/nlow/chatsync/msg"
)

// putMessage upserts by id and keeps the outbox index in step: a row is
// indexed iff its sync status is pending.
func putMessage(tx *bolt.Tx, m *msg.Message) error {
	if m.Id == "" || m.ChatId == "" {
		return fmt.Errorf("message id and chat id are required")
	}

	key := msgKey(m.ChatId, m.Id)
	msgs := tx.Bucket(bucketMessages)
	outbox := tx.Bucket(bucketOutbox)

	// Drop the old index entry first: the create time never changes, but
	// a status flip must not leave a stale pending key behind.
	if old := msgs.Get(key); old != nil {
		var prev msg.Message
		if err := json.Unmarshal(old, &prev); err == nil && prev.SyncStatus == msg.SyncPending {
			if err := outbox.Delete(outboxKey(prev.CreateTime, prev.Id)); err != nil {
				return err
			}
		}
	}

	value, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := msgs.Put(key, value); err != nil {
		return err
	}
	if m.SyncStatus == msg.SyncPending {
		return outbox.Put(outboxKey(m.CreateTime, m.Id), key)
	}
	return nil
}

func getMessage(tx *bolt.Tx, chatId, id string) (*msg.Message, error) {
	value := tx.Bucket(bucketMessages).Get(msgKey(chatId, id))
	if value == nil {
		return nil, ErrNotFound
	}
	var m msg.Message
	if err := json.Unmarshal(value, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveMessage upserts the message by id. Readers never observe a
// half-written row: bbolt serializes the write and readers run on
// consistent snapshots.
func (s *Store) SaveMessage(ctx context.Context, m *msg.Message) error {
	if err := s.update(ctx, func(tx *bolt.Tx) error {
		return putMessage(tx, m)
	}); err != nil {
		return &WriteError{Op: "save message", Err: err}
	}
	return nil
}

// GetMessageById returns the row or ErrNotFound.
func (s *Store) GetMessageById(ctx context.Context, chatId, id string) (*msg.Message, error) {
	var out *msg.Message
	err := s.view(ctx, func(tx *bolt.Tx) error {
		m, err := getMessage(tx, chatId, id)
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetMessagesByChat returns the chat's messages ordered by create time
// ascending, id tiebreak.
func (s *Store) GetMessagesByChat(ctx context.Context, chatId string) ([]msg.Message, error) {
	var out []msg.Message
	err := s.view(ctx, func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketMessages).Cursor()
		prefix := msgKey(chatId, "")
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var m msg.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	msg.Sort(out)
	return out, nil
}

// GetPendingMessages returns all syncStatus=pending rows, oldest first.
func (s *Store) GetPendingMessages(ctx context.Context) ([]msg.Message, error) {
	var out []msg.Message
	err := s.view(ctx, func(tx *bolt.Tx) error {
		msgs := tx.Bucket(bucketMessages)
		c := tx.Bucket(bucketOutbox).Cursor()
		for k, ref := c.First(); k != nil; k, ref = c.Next() {
			value := msgs.Get(ref)
			if value == nil {
				// Dangling index entry; skip, a later write pass fixes it.
				glog.Errorf("localstore: outbox index points at missing row %q", ref)
				continue
			}
			var m msg.Message
			if err := json.Unmarshal(value, &m); err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func setDeliveryStatus(tx *bolt.Tx, chatId, id string, status msg.DeliveryStatus) error {
	m, err := getMessage(tx, chatId, id)
	if err != nil {
		return err
	}
	m.DeliveryStatus = status
	return putMessage(tx, m)
}

// UpdateMessageStatus sets the delivery status of one row. Returns
// ErrNotFound when the row does not exist and *WriteError when the
// underlying write fails.
func (s *Store) UpdateMessageStatus(ctx context.Context, chatId, id string, status msg.DeliveryStatus) error {
	err := s.update(ctx, func(tx *bolt.Tx) error {
		return setDeliveryStatus(tx, chatId, id, status)
	})
	if err == ErrNotFound || err == nil {
		return err
	}
	return &WriteError{Op: "update message status", Err: err}
}

// MarkMessageSynced records a remote ack: syncStatus=synced,
// deliveryStatus=sent, retry bookkeeping cleared. The row is never marked
// synced speculatively; callers invoke this only after the send returned.
func (s *Store) MarkMessageSynced(ctx context.Context, chatId, id string) error {
	err := s.update(ctx, func(tx *bolt.Tx) error {
		m, err := getMessage(tx, chatId, id)
		if err != nil {
			return err
		}
		m.SyncStatus = msg.SyncSynced
		m.DeliveryStatus = msg.DeliverySent
		m.RetryCount = 0
		m.NextAttemptAt = 0
		return putMessage(tx, m)
	})
	if err == ErrNotFound || err == nil {
		return err
	}
	return &WriteError{Op: "mark synced", Err: err}
}

// RecordSendFailure bumps the retry counter and schedules the next
// attempt. A terminal failure flips the row to syncStatus=failed /
// deliveryStatus=failed, out of the pending set until a manual retry.
func (s *Store) RecordSendFailure(ctx context.Context, chatId, id string, nextAttemptAt int64, terminal bool) error {
	err := s.update(ctx, func(tx *bolt.Tx) error {
		m, err := getMessage(tx, chatId, id)
		if err != nil {
			return err
		}
		m.RetryCount++
		m.NextAttemptAt = nextAttemptAt
		if terminal {
			m.SyncStatus = msg.SyncFailed
			m.DeliveryStatus = msg.DeliveryFailed
			m.NextAttemptAt = 0
		}
		return putMessage(tx, m)
	})
	if err == ErrNotFound || err == nil {
		return err
	}
	return &WriteError{Op: "record send failure", Err: err}
}

// CountPending counts rows in the outbox index.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.view(ctx, func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketOutbox).Stats().KeyN
		return nil
	})
	return n, err
}

// CountFailed counts rows stuck at syncStatus=failed.
func (s *Store) CountFailed(ctx context.Context) (int, error) {
	var n int
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMessages).ForEach(func(k, v []byte) error {
			var m msg.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.SyncStatus == msg.SyncFailed {
				n++
			}
			return nil
		})
	})
	return n, err
}

// DeleteFailedMessages physically removes syncStatus=failed rows.
func (s *Store) DeleteFailedMessages(ctx context.Context) (int, error) {
	var n int
	err := s.update(ctx, func(tx *bolt.Tx) error {
		msgs := tx.Bucket(bucketMessages)
		var keys [][]byte
		if err := msgs.ForEach(func(k, v []byte) error {
			var m msg.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.SyncStatus == msg.SyncFailed {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if err := msgs.Delete(k); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// SaveMessage is the transactional variant of Store.SaveMessage.
func (t *Tx) SaveMessage(m *msg.Message) error {
	return putMessage(t.tx, m)
}

// UpdateMessageStatus is the transactional variant of
// Store.UpdateMessageStatus.
func (t *Tx) UpdateMessageStatus(chatId, id string, status msg.DeliveryStatus) error {
	return setDeliveryStatus(t.tx, chatId, id, status)
}
