package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlow/chatsync/msg"
)

// testBackend is a minimal websocket peer: it records every operation the
// client sends and acks each call frame.
type testBackend struct {
	mu   sync.Mutex
	conn *websocket.Conn
	ops  []string
}

func (b *testBackend) handler(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			return
		}
		b.mu.Lock()
		b.ops = append(b.ops, f.Op)
		b.mu.Unlock()
		if f.Id != "" {
			b.write(&frame{Id: f.Id})
		}
	}
}

func (b *testBackend) write(f *frame) {
	data, _ := json.Marshal(f)
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.conn.WriteMessage(websocket.TextMessage, data)
}

func (b *testBackend) count(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, v := range b.ops {
		if v == op {
			n++
		}
	}
	return n
}

func newTestClient(t *testing.T) (*WSClient, *testBackend) {
	t.Helper()
	b := &testBackend{}
	srv := httptest.NewServer(http.HandlerFunc(b.handler))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := DialWS(ctx, WSConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, b
}

func TestSubscribeSendsWireOpsOncePerChat(t *testing.T) {
	c, b := newTestClient(t)
	ctx := context.Background()

	unsub1, err := c.Subscribe(ctx, "c1", func([]msg.Message) {}, nil)
	require.NoError(t, err)
	unsub2, err := c.Subscribe(ctx, "c1", func([]msg.Message) {}, nil)
	require.NoError(t, err)

	// One wire subscription per chat, however many local subscribers; the
	// backend refcounts per connection.
	assert.Equal(t, 1, b.count(opSubscribe))

	unsub1()
	assert.Equal(t, 0, b.count(opUnsubscribe))
	unsub2()
	assert.Equal(t, 1, b.count(opUnsubscribe))

	// A different chat is a fresh wire subscription.
	_, err = c.Subscribe(ctx, "c2", func([]msg.Message) {}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, b.count(opSubscribe))
}

func TestSnapshotPushReachesAllSubscribers(t *testing.T) {
	c, b := newTestClient(t)
	ctx := context.Background()

	got := make(chan string, 2)
	onSnap := func(msgs []msg.Message) {
		if len(msgs) == 1 {
			got <- msgs[0].Id
		}
	}
	_, err := c.Subscribe(ctx, "c1", onSnap, nil)
	require.NoError(t, err)
	_, err = c.Subscribe(ctx, "c1", onSnap, nil)
	require.NoError(t, err)

	b.write(&frame{Op: opSnapshot, ChatId: "c1", Messages: []msg.Message{{Id: "srv1", ChatId: "c1"}}})

	for i := 0; i < 2; i++ {
		select {
		case id := <-got:
			assert.Equal(t, "srv1", id)
		case <-time.After(2 * time.Second):
			t.Fatal("snapshot did not reach all subscribers")
		}
	}
}
