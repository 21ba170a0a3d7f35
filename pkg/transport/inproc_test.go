package transport

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector gathers delivered frames behind a mutex.
type collector struct {
	mu     sync.Mutex
	topics []string
	frames [][]byte
}

func (c *collector) subHandler(topic string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.frames = append(c.frames, payload)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *collector) snapshot() ([]string, [][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.topics...), append([][]byte(nil), c.frames...)
}

// eventually polls cond for up to a second.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 2*time.Millisecond, msg)
}

func TestInproc_PubSub_PrefixFilter(t *testing.T) {
	hub := NewInprocHub()

	pub, err := hub.NewPublisher("inproc://events")
	require.NoError(t, err)

	sub, err := hub.NewSubscriber("inproc://events", "response.")
	require.NoError(t, err)

	col := &collector{}
	require.NoError(t, sub.Start(col.subHandler))

	require.NoError(t, pub.Send("response.chunk", []byte("one")))
	require.NoError(t, pub.Send("message.inbound", []byte("filtered out")))
	require.NoError(t, pub.Send("response.end", []byte("two")))

	eventually(t, func() bool { return col.count() == 2 }, "two matching frames")
	topics, frames := col.snapshot()
	assert.Equal(t, []string{"response.chunk", "response.end"}, topics)
	assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, frames)
}

func TestInproc_PubSub_SubscribeAfterStart(t *testing.T) {
	hub := NewInprocHub()

	pub, err := hub.NewPublisher("inproc://events")
	require.NoError(t, err)
	sub, err := hub.NewSubscriber("inproc://events")
	require.NoError(t, err)

	col := &collector{}
	require.NoError(t, sub.Start(col.subHandler))

	require.NoError(t, pub.Send("a.b", []byte("dropped, no prefix yet")))
	require.NoError(t, sub.Subscribe("a."))
	require.NoError(t, pub.Send("a.b", []byte("kept")))

	eventually(t, func() bool { return col.count() == 1 }, "one frame after subscribing")
}

func TestInproc_MultipleSubscribers(t *testing.T) {
	hub := NewInprocHub()

	pub, err := hub.NewPublisher("inproc://events")
	require.NoError(t, err)

	cols := make([]*collector, 3)
	for i := range cols {
		cols[i] = &collector{}
		sub, err := hub.NewSubscriber("inproc://events", "t.")
		require.NoError(t, err)
		require.NoError(t, sub.Start(cols[i].subHandler))
	}

	require.NoError(t, pub.Send("t.x", []byte("fanout")))

	for i, col := range cols {
		eventually(t, func() bool { return col.count() == 1 }, fmt.Sprintf("subscriber %d got the frame", i))
	}
}

func TestInproc_RouterDealer_RoundTrip(t *testing.T) {
	hub := NewInprocHub()

	router, err := hub.NewRouter("inproc://req")
	require.NoError(t, err)
	dealer, err := hub.NewDealer("inproc://req", "ctr-1")
	require.NoError(t, err)

	// Echo server: send each payload back to its sender.
	require.NoError(t, router.Start(func(identity string, payload []byte) {
		assert.Equal(t, "ctr-1", identity)
		require.NoError(t, router.Send(identity, append([]byte("re:"), payload...)))
	}))

	got := make(chan []byte, 1)
	require.NoError(t, dealer.Start(func(payload []byte) { got <- payload }))

	require.NoError(t, dealer.Send([]byte("ping")))

	select {
	case payload := <-got:
		assert.Equal(t, []byte("re:ping"), payload)
	case <-time.After(time.Second):
		t.Fatal("no response")
	}
}

func TestInproc_Router_SendToUnknownIdentity(t *testing.T) {
	hub := NewInprocHub()
	router, err := hub.NewRouter("inproc://req")
	require.NoError(t, err)

	assert.Error(t, router.Send("ghost", []byte("x")))
}

func TestInproc_DuplicateDealerIdentityFails(t *testing.T) {
	hub := NewInprocHub()
	_, err := hub.NewDealer("inproc://req", "ctr-1")
	require.NoError(t, err)

	_, err = hub.NewDealer("inproc://req", "ctr-1")
	assert.Error(t, err)
}

func TestInproc_SecondRouterOnAddressFails(t *testing.T) {
	hub := NewInprocHub()
	_, err := hub.NewRouter("inproc://req")
	require.NoError(t, err)

	_, err = hub.NewRouter("inproc://req")
	assert.Error(t, err)
}

func TestInproc_DealerSendWithoutRouter(t *testing.T) {
	hub := NewInprocHub()
	dealer, err := hub.NewDealer("inproc://nowhere", "ctr-1")
	require.NoError(t, err)

	assert.Error(t, dealer.Send([]byte("x")))
}

func TestInproc_CloseIsIdempotent(t *testing.T) {
	hub := NewInprocHub()

	pub, _ := hub.NewPublisher("inproc://a")
	sub, _ := hub.NewSubscriber("inproc://a")
	router, _ := hub.NewRouter("inproc://b")
	dealer, _ := hub.NewDealer("inproc://b", "d1")

	for i := 0; i < 2; i++ {
		assert.NoError(t, pub.Close())
		assert.NoError(t, sub.Close())
		assert.NoError(t, router.Close())
		assert.NoError(t, dealer.Close())
	}
}

func TestInproc_SendAfterCloseDiscards(t *testing.T) {
	hub := NewInprocHub()

	pub, err := hub.NewPublisher("inproc://a")
	require.NoError(t, err)
	sub, err := hub.NewSubscriber("inproc://a", "")
	require.NoError(t, err)

	col := &collector{}
	require.NoError(t, sub.Start(col.subHandler))
	require.NoError(t, sub.Close())

	// Linger is zero: frames to a closed peer vanish, no error.
	assert.NoError(t, pub.Send("t", []byte("gone")))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, col.count())
}

func TestInproc_DealerIdentityFreedOnClose(t *testing.T) {
	hub := NewInprocHub()

	d1, err := hub.NewDealer("inproc://req", "ctr-1")
	require.NoError(t, err)
	require.NoError(t, d1.Close())

	_, err = hub.NewDealer("inproc://req", "ctr-1")
	assert.NoError(t, err, "identity is reusable after close")
}

func TestInproc_OrderPreservedPerSubscriber(t *testing.T) {
	hub := NewInprocHub()

	pub, err := hub.NewPublisher("inproc://events")
	require.NoError(t, err)
	sub, err := hub.NewSubscriber("inproc://events", "s.")
	require.NoError(t, err)

	col := &collector{}
	require.NoError(t, sub.Start(col.subHandler))

	for i := 0; i < 50; i++ {
		require.NoError(t, pub.Send("s.n", []byte(fmt.Sprintf("%03d", i))))
	}

	eventually(t, func() bool { return col.count() == 50 }, "all frames delivered")
	_, frames := col.snapshot()
	for i, f := range frames {
		assert.Equal(t, fmt.Sprintf("%03d", i), string(f))
	}
}
