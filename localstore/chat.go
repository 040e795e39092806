package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/nlow/chatsync/msg"
)

func putChat(tx *bolt.Tx, c *msg.Chat) error {
	if c.Id == "" {
		return fmt.Errorf("chat id is required")
	}
	value, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketChats).Put([]byte(c.Id), value)
}

// SaveChat upserts the chat row by id.
func (s *Store) SaveChat(ctx context.Context, c *msg.Chat) error {
	if err := s.update(ctx, func(tx *bolt.Tx) error {
		return putChat(tx, c)
	}); err != nil {
		return &WriteError{Op: "save chat", Err: err}
	}
	return nil
}

// GetChat returns the chat row or ErrNotFound.
func (s *Store) GetChat(ctx context.Context, id string) (*msg.Chat, error) {
	var out *msg.Chat
	err := s.view(ctx, func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketChats).Get([]byte(id))
		if value == nil {
			return ErrNotFound
		}
		var c msg.Chat
		if err := json.Unmarshal(value, &c); err != nil {
			return err
		}
		out = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetChats returns all chat rows, most recently active first.
func (s *Store) GetChats(ctx context.Context) ([]msg.Chat, error) {
	var out []msg.Chat
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChats).ForEach(func(k, v []byte) error {
			var c msg.Chat
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageTime != out[j].LastMessageTime {
			return out[i].LastMessageTime > out[j].LastMessageTime
		}
		return out[i].Id < out[j].Id
	})
	return out, nil
}

// UpdateChatLastMessage refreshes the denormalized preview fields from m.
func (s *Store) UpdateChatLastMessage(ctx context.Context, m *msg.Message) error {
	err := s.update(ctx, func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketChats).Get([]byte(m.ChatId))
		if value == nil {
			return ErrNotFound
		}
		var c msg.Chat
		if err := json.Unmarshal(value, &c); err != nil {
			return err
		}
		c.LastMessageText = m.Preview()
		c.LastMessageTime = m.CreateTime
		c.LastMessageSenderId = m.SenderId
		c.LastMessageStatus = m.DeliveryStatus
		return putChat(tx, &c)
	})
	if err == ErrNotFound || err == nil {
		return err
	}
	return &WriteError{Op: "update chat last message", Err: err}
}

// SaveUser upserts a cached remote profile row.
func (s *Store) SaveUser(ctx context.Context, u *msg.User) error {
	if u.Id == "" {
		return &WriteError{Op: "save user", Err: fmt.Errorf("user id is required")}
	}
	if err := s.update(ctx, func(tx *bolt.Tx) error {
		value, err := json.Marshal(u)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketUsers).Put([]byte(u.Id), value)
	}); err != nil {
		return &WriteError{Op: "save user", Err: err}
	}
	return nil
}

// GetUser returns the cached profile row or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (*msg.User, error) {
	var out *msg.User
	err := s.view(ctx, func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketUsers).Get([]byte(id))
		if value == nil {
			return ErrNotFound
		}
		var u msg.User
		if err := json.Unmarshal(value, &u); err != nil {
			return err
		}
		out = &u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveChat is the transactional variant of Store.SaveChat.
func (t *Tx) SaveChat(c *msg.Chat) error {
	return putChat(t.tx, c)
}
