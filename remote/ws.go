package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/nlow/chatsync/msg"
)

const (
	// Time allowed to write a message to the backend.
	writeWait = 3 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong/data message from the backend.
	pongWait = 25 * time.Second

	// Snapshot frames carry whole chats; allow generously more than one
	// message payload.
	readLimit = 1 << 20

	defaultDialTimeout = 10 * time.Second
)

// Request/response and server-push operations of the wire protocol. All
// frames are JSON text messages.
const (
	opSend              = "send"
	opUpdateStatus      = "update_status"
	opAddReaction       = "add_reaction"
	opRemoveReaction    = "remove_reaction"
	opDeleteForMe       = "delete_for_me"
	opDeleteForEveryone = "delete_for_everyone"
	opSubscribe         = "subscribe"
	opUnsubscribe       = "unsubscribe"
	opCreateChat        = "create_chat"
	opUpdateLastMessage = "update_last_message"
	opSubscribeChats    = "subscribe_chats"
	opUnsubscribeChats  = "unsubscribe_chats"

	// Server push.
	opSnapshot     = "snapshot"
	opChatSnapshot = "chat_snapshot"
)

const wireErrUnauthorized = "unauthorized"

// frame is the single wire envelope; unused fields are omitted.
type frame struct {
	Id        string             `json:"id,omitempty"`
	Op        string             `json:"op,omitempty"`
	ChatId    string             `json:"chat_id,omitempty"`
	MessageId string             `json:"message_id,omitempty"`
	SenderId  string             `json:"sender_id,omitempty"`
	UserId    string             `json:"user_id,omitempty"`
	Emoji     string             `json:"emoji,omitempty"`
	Status    msg.DeliveryStatus `json:"status,omitempty"`
	Content   *msg.Content       `json:"content,omitempty"`
	Chat      *msg.Chat          `json:"chat,omitempty"`
	Message   *msg.Message       `json:"message,omitempty"`
	Messages  []msg.Message      `json:"messages,omitempty"`
	Chats     []msg.Chat         `json:"chats,omitempty"`
	Error     *wireError         `json:"error,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// WSConfig configures the websocket backend client.
type WSConfig struct {
	URL string

	// Token is an opaque bearer credential obtained by the (out of
	// scope) auth flow; sent once in the dial headers.
	Token string

	DialTimeout time.Duration
}

type msgSub struct {
	onSnapshot func([]msg.Message)
	onError    func(error)
}

type chatSub struct {
	onSnapshot func([]msg.Chat)
	onError    func(error)
}

// WSClient implements MessageService and ChatService over one
// long-lived websocket connection. Requests are correlated to replies by
// frame id; server-push snapshot frames are routed to subscriptions.
// Reconnecting is the caller's business.
type WSClient struct {
	mu sync.Mutex

	conn    *websocket.Conn
	sendC   chan *frame
	done    chan struct{}
	closing bool

	calls    map[string]chan *frame
	msgSubs  map[string]map[string]*msgSub // chatId -> subId -> sub
	chatSubs map[string]*chatSub           // subId -> sub
}

var (
	_ MessageService = (*WSClient)(nil)
	_ ChatService    = (*WSClient)(nil)
)

// DialWS connects and starts the read/write loops.
func DialWS(ctx context.Context, conf WSConfig) (*WSClient, error) {
	timeout := conf.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	dialer := &websocket.Dialer{
		HandshakeTimeout: timeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  1024,
	}

	header := http.Header{}
	if conf.Token != "" {
		header.Set("Authorization", "Bearer "+conf.Token)
	}

	conn, _, err := dialer.DialContext(ctx, conf.URL, header)
	if err != nil {
		return nil, &SendError{Op: "dial", Err: err}
	}

	c := &WSClient{
		conn:     conn,
		sendC:    make(chan *frame, 16),
		done:     make(chan struct{}),
		calls:    make(map[string]chan *frame),
		msgSubs:  make(map[string]map[string]*msgSub),
		chatSubs: make(map[string]*chatSub),
	}

	go c.recvLoop()
	go c.sendLoop()
	return c, nil
}

// Close shuts the connection down and fails all in-flight calls.
func (c *WSClient) Close() error {
	c.teardown(fmt.Errorf("client closed"))
	return nil
}

func (c *WSClient) teardown(cause error) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	close(c.done)

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
	_ = c.conn.Close()

	var errCbs []func(error)
	for _, subs := range c.msgSubs {
		for _, sub := range subs {
			if sub.onError != nil {
				errCbs = append(errCbs, sub.onError)
			}
		}
	}
	for _, sub := range c.chatSubs {
		if sub.onError != nil {
			errCbs = append(errCbs, sub.onError)
		}
	}
	c.mu.Unlock()

	glog.V(5).Infof("ws: teardown: %v", cause)
	for _, cb := range errCbs {
		cb(cause)
	}
}

func (c *WSClient) recvLoop() {
	defer glog.V(5).Info("ws: recvLoop exited")

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.teardown(err)
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			glog.Errorf("ws: bad frame: %v", err)
			continue
		}
		c.dispatch(&f)
	}
}

func (c *WSClient) dispatch(f *frame) {
	// Reply to an in-flight call.
	if f.Id != "" {
		c.mu.Lock()
		ch, ok := c.calls[f.Id]
		if ok {
			delete(c.calls, f.Id)
		}
		c.mu.Unlock()
		if ok {
			ch <- f
			return
		}
	}

	switch f.Op {
	case opSnapshot:
		c.mu.Lock()
		var cbs []func([]msg.Message)
		for _, sub := range c.msgSubs[f.ChatId] {
			cbs = append(cbs, sub.onSnapshot)
		}
		c.mu.Unlock()
		for _, cb := range cbs {
			cb(f.Messages)
		}
	case opChatSnapshot:
		c.mu.Lock()
		var cbs []func([]msg.Chat)
		for _, sub := range c.chatSubs {
			cbs = append(cbs, sub.onSnapshot)
		}
		c.mu.Unlock()
		for _, cb := range cbs {
			cb(f.Chats)
		}
	default:
		glog.Errorf("ws: unexpected frame, id: %q, op: %q", f.Id, f.Op)
	}
}

func (c *WSClient) sendLoop() {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Info("ws: sendLoop exited")
	}()

	for {
		select {
		case <-c.done:
			return
		case f := <-c.sendC:
			data, err := json.Marshal(f)
			if err != nil {
				glog.Errorf("ws: marshal frame: %v", err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.teardown(err)
				return
			}
		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.teardown(err)
				return
			}
		}
	}
}

// call sends f and waits for the matching reply. The ctx deadline is the
// caller-enforced timeout every network-bound operation must carry.
func (c *WSClient) call(ctx context.Context, f *frame) (*frame, error) {
	f.Id = msg.NewId()
	ch := make(chan *frame, 1)

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil, fmt.Errorf("connection closed")
	}
	c.calls[f.Id] = ch
	c.mu.Unlock()

	abandon := func() {
		c.mu.Lock()
		delete(c.calls, f.Id)
		c.mu.Unlock()
	}

	select {
	case c.sendC <- f:
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	case <-c.done:
		abandon()
		return nil, fmt.Errorf("connection closed")
	}

	select {
	case reply := <-ch:
		if reply.Error != nil {
			if reply.Error.Code == wireErrUnauthorized {
				return nil, ErrUnauthorized
			}
			return nil, fmt.Errorf("%s: %s", reply.Error.Code, reply.Error.Message)
		}
		return reply, nil
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	case <-c.done:
		abandon()
		return nil, fmt.Errorf("connection closed")
	}
}

// do wraps call for operations whose result is only success/failure.
func (c *WSClient) do(ctx context.Context, f *frame) error {
	_, err := c.call(ctx, f)
	if err == nil || err == ErrUnauthorized {
		return err
	}
	return &SendError{Op: f.Op, Err: err}
}

func (c *WSClient) Send(ctx context.Context, chatId, messageId, senderId string, content msg.Content) (string, error) {
	reply, err := c.call(ctx, &frame{
		Op:        opSend,
		ChatId:    chatId,
		MessageId: messageId,
		SenderId:  senderId,
		Content:   &content,
	})
	if err != nil {
		if err == ErrUnauthorized {
			return "", err
		}
		return "", &SendError{Op: opSend, Err: err}
	}
	if reply.MessageId != "" {
		return reply.MessageId, nil
	}
	return messageId, nil
}

func (c *WSClient) UpdateStatus(ctx context.Context, chatId, messageId string, status msg.DeliveryStatus) error {
	return c.do(ctx, &frame{Op: opUpdateStatus, ChatId: chatId, MessageId: messageId, Status: status})
}

func (c *WSClient) AddReaction(ctx context.Context, chatId, messageId, emoji, userId string) error {
	return c.do(ctx, &frame{Op: opAddReaction, ChatId: chatId, MessageId: messageId, Emoji: emoji, UserId: userId})
}

func (c *WSClient) RemoveReaction(ctx context.Context, chatId, messageId, emoji, userId string) error {
	return c.do(ctx, &frame{Op: opRemoveReaction, ChatId: chatId, MessageId: messageId, Emoji: emoji, UserId: userId})
}

func (c *WSClient) DeleteForMe(ctx context.Context, chatId, messageId, userId string) error {
	return c.do(ctx, &frame{Op: opDeleteForMe, ChatId: chatId, MessageId: messageId, UserId: userId})
}

func (c *WSClient) DeleteForEveryone(ctx context.Context, chatId, messageId, userId string) error {
	return c.do(ctx, &frame{Op: opDeleteForEveryone, ChatId: chatId, MessageId: messageId, UserId: userId})
}

func (c *WSClient) Subscribe(ctx context.Context, chatId string, onSnapshot func([]msg.Message), onError func(error)) (func(), error) {
	subId := msg.NewId()

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil, fmt.Errorf("connection closed")
	}
	subs, ok := c.msgSubs[chatId]
	if !ok {
		subs = make(map[string]*msgSub)
		c.msgSubs[chatId] = subs
	}
	// The backend refcounts per connection: tell it only when the first
	// subscriber for the chat shows up, mirroring the last-one-out
	// unsubscribe in dropMsgSub.
	first := len(subs) == 0
	subs[subId] = &msgSub{onSnapshot: onSnapshot, onError: onError}
	c.mu.Unlock()

	if first {
		if err := c.do(ctx, &frame{Op: opSubscribe, ChatId: chatId}); err != nil {
			c.dropMsgSub(chatId, subId, false)
			return nil, err
		}
	}

	return func() { c.dropMsgSub(chatId, subId, true) }, nil
}

// dropMsgSub deregisters the subscription; when it was the last one for
// the chat and notify is set, tells the backend to stop pushing.
func (c *WSClient) dropMsgSub(chatId, subId string, notify bool) {
	c.mu.Lock()
	subs := c.msgSubs[chatId]
	delete(subs, subId)
	last := len(subs) == 0
	if last {
		delete(c.msgSubs, chatId)
	}
	c.mu.Unlock()

	if notify && last {
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if err := c.do(ctx, &frame{Op: opUnsubscribe, ChatId: chatId}); err != nil {
			glog.Errorf("ws: unsubscribe %s: %v", chatId, err)
		}
	}
}

func (c *WSClient) CreateChat(ctx context.Context, chat *msg.Chat) error {
	return c.do(ctx, &frame{Op: opCreateChat, ChatId: chat.Id, Chat: chat})
}

func (c *WSClient) UpdateLastMessage(ctx context.Context, chatId string, m *msg.Message) error {
	return c.do(ctx, &frame{Op: opUpdateLastMessage, ChatId: chatId, Message: m})
}

func (c *WSClient) SubscribeToChats(ctx context.Context, onSnapshot func([]msg.Chat), onError func(error)) (func(), error) {
	subId := msg.NewId()

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil, fmt.Errorf("connection closed")
	}
	first := len(c.chatSubs) == 0
	c.chatSubs[subId] = &chatSub{onSnapshot: onSnapshot, onError: onError}
	c.mu.Unlock()

	if first {
		if err := c.do(ctx, &frame{Op: opSubscribeChats}); err != nil {
			c.mu.Lock()
			delete(c.chatSubs, subId)
			c.mu.Unlock()
			return nil, err
		}
	}

	return func() {
		c.mu.Lock()
		delete(c.chatSubs, subId)
		last := len(c.chatSubs) == 0
		c.mu.Unlock()
		if last {
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			defer cancel()
			if err := c.do(ctx, &frame{Op: opUnsubscribeChats}); err != nil {
				glog.Errorf("ws: unsubscribe chats: %v", err)
			}
		}
	}, nil
}
