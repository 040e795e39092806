package msg

import (
	"sort"
	"strings"
	"time"

	"github.com/pborman/uuid"
)

type ChatKind string

const (
	ChatKind_Two   ChatKind = "two" // one-on-one, two-party
	ChatKind_Group ChatKind = "group"
)

type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
)

// Content is the type-tagged message payload.
type Content struct {
	Type         ContentType `json:"type"`
	Text         string      `json:"text,omitempty"`
	Caption      string      `json:"caption,omitempty"`
	ImageURL     string      `json:"image_url,omitempty"`
	ThumbnailURL string      `json:"thumbnail_url,omitempty"`
}

func TextContent(text string) Content {
	return Content{Type: ContentText, Text: text}
}

// DeliveryStatus is the server-side message lifecycle. It moves forward
// only, except `failed` which may go back to `sending` on retry.
type DeliveryStatus string

const (
	DeliverySending   DeliveryStatus = "sending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

// SyncStatus is the local outbox state, orthogonal to DeliveryStatus.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// Message is the central entity. `Id` is assigned client-side at creation
// time so the same id is used locally and remotely; it is the merge key
// between optimistic and snapshot records.
type Message struct {
	Id       string `json:"id"`
	ChatId   string `json:"chat_id"`
	SenderId string `json:"sender_id"`

	Content Content `json:"content"`

	// CreateTime is epoch millis, assigned once, never mutated.
	CreateTime int64 `json:"create_time"`

	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	SyncStatus     SyncStatus     `json:"sync_status"`

	// Reactions maps emoji token -> reacting user ids.
	Reactions map[string][]string `json:"reactions,omitempty"`

	// DeletedFor lists users who hid this message locally.
	DeletedFor         []string `json:"deleted_for,omitempty"`
	DeletedForEveryone bool     `json:"deleted_for_everyone,omitempty"`

	// Translations is inert cached data, passed through as-is.
	Translations map[string]string `json:"translations,omitempty"`

	// Outbox retry bookkeeping, purely local.
	RetryCount    int32 `json:"retry_count,omitempty"`
	NextAttemptAt int64 `json:"next_attempt_at,omitempty"`
}

// Chat carries denormalized last-message preview fields so chat lists
// render without loading full message history.
type Chat struct {
	Id           string   `json:"id"`
	Kind         ChatKind `json:"kind"`
	Participants []string `json:"participants"`

	LastMessageText     string         `json:"last_message_text,omitempty"`
	LastMessageTime     int64          `json:"last_message_time,omitempty"`
	LastMessageSenderId string         `json:"last_message_sender_id,omitempty"`
	LastMessageStatus   DeliveryStatus `json:"last_message_status,omitempty"`
}

// User is a cached remote profile row.
type User struct {
	Id        string `json:"id"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
}

// NewId returns a fresh client-side message/chat id.
func NewId() string {
	return strings.ReplaceAll(uuid.New(), "-", "")
}

// Now returns the current time in epoch millis.
func Now() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// Less orders messages ascending by create time, ties broken by id for
// determinism.
func Less(a, b *Message) bool {
	if a.CreateTime != b.CreateTime {
		return a.CreateTime < b.CreateTime
	}
	return a.Id < b.Id
}

// Sort sorts messages in render order.
func Sort(slice []Message) {
	sort.Slice(slice, func(i, j int) bool {
		return Less(&slice[i], &slice[j])
	})
}

// HiddenFor reports whether the message was "deleted for me" by uid.
func (m *Message) HiddenFor(uid string) bool {
	for _, v := range m.DeletedFor {
		if v == uid {
			return true
		}
	}
	return false
}

// Clone deep-copies the message so in-memory views never alias rows held
// by other components.
func (m *Message) Clone() Message {
	out := *m
	if m.Reactions != nil {
		out.Reactions = make(map[string][]string, len(m.Reactions))
		for k, v := range m.Reactions {
			out.Reactions[k] = append([]string(nil), v...)
		}
	}
	out.DeletedFor = append([]string(nil), m.DeletedFor...)
	if m.Translations != nil {
		out.Translations = make(map[string]string, len(m.Translations))
		for k, v := range m.Translations {
			out.Translations[k] = v
		}
	}
	return out
}

// AddReaction records uid under the emoji token. Returns false if uid
// already reacted with that emoji.
func (m *Message) AddReaction(emoji, uid string) bool {
	for _, v := range m.Reactions[emoji] {
		if v == uid {
			return false
		}
	}
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	m.Reactions[emoji] = append(m.Reactions[emoji], uid)
	return true
}

// RemoveReaction drops uid from the emoji token. Returns false if there
// was no such reaction.
func (m *Message) RemoveReaction(emoji, uid string) bool {
	slice := m.Reactions[emoji]
	for i, v := range slice {
		if v == uid {
			slice = append(slice[:i], slice[i+1:]...)
			if len(slice) == 0 {
				delete(m.Reactions, emoji)
			} else {
				m.Reactions[emoji] = slice
			}
			return true
		}
	}
	return false
}

// Preview returns the text used for chat-list last-message previews.
func (m *Message) Preview() string {
	if m.DeletedForEveryone {
		return ""
	}
	switch m.Content.Type {
	case ContentImage:
		if m.Content.Caption != "" {
			return m.Content.Caption
		}
		return "[image]"
	default:
		return m.Content.Text
	}
}
