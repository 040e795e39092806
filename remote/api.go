// Package remote declares the capabilities the sync engine consumes from
// the real-time backend, plus concrete websocket/HTTP implementations.
// The backend itself is an external collaborator; everything here is
// client plumbing.
package remote

import (
	"context"

	"github.com/nlow/chatsync/msg"
)

// MessageService is the message-level surface of the remote backend.
//
// The message id travels with every call: ids are assigned client-side
// and the backend stores records under them, which is what makes
// local/remote deduplication possible.
type MessageService interface {
	// Send delivers one message and returns the id the backend stored it
	// under (the client-assigned id echoed back).
	Send(ctx context.Context, chatId, messageId, senderId string, content msg.Content) (string, error)

	// Subscribe streams ordered message snapshots for one chat. Each
	// callback delivers the full updated set. The returned func cancels
	// the subscription.
	Subscribe(ctx context.Context, chatId string, onSnapshot func([]msg.Message), onError func(error)) (func(), error)

	UpdateStatus(ctx context.Context, chatId, messageId string, status msg.DeliveryStatus) error

	AddReaction(ctx context.Context, chatId, messageId, emoji, userId string) error
	RemoveReaction(ctx context.Context, chatId, messageId, emoji, userId string) error

	DeleteForMe(ctx context.Context, chatId, messageId, userId string) error
	DeleteForEveryone(ctx context.Context, chatId, messageId, userId string) error
}

// ChatService is the chat-level surface of the remote backend.
type ChatService interface {
	CreateChat(ctx context.Context, chat *msg.Chat) error
	UpdateLastMessage(ctx context.Context, chatId string, m *msg.Message) error
	SubscribeToChats(ctx context.Context, onSnapshot func([]msg.Chat), onError func(error)) (func(), error)
}

// Status is one reachability sample.
type Status struct {
	Connected bool   `json:"connected"`
	Reachable bool   `json:"reachable"`
	Transport string `json:"transport,omitempty"` // e.g. "wifi", "cellular"
}

// Online reports whether the device can actually reach the backend, not
// just that a link is up.
func (s Status) Online() bool {
	return s.Connected && s.Reachable
}

// ConnectivityProbe observes the device's reachability signal.
type ConnectivityProbe interface {
	FetchCurrent(ctx context.Context) (Status, error)

	// AddListener registers cb for status samples; the returned func
	// removes it.
	AddListener(cb func(Status)) func()
}
