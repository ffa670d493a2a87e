package ws

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errSend = errors.New("send failed")

type captureClient struct {
	mu       sync.Mutex
	payloads [][]byte
	sendErr  error
	closed   bool
}

func (c *captureClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *captureClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *captureClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestBroadcastReachesTopicAndWildcard(t *testing.T) {
	hub := NewHub()
	teams := &captureClient{}
	all := &captureClient{}
	other := &captureClient{}
	hub.Register("teams", teams)
	hub.Register(TopicAll, all)
	hub.Register("activities", other)

	hub.Broadcast("teams", []byte(`{"op":"update"}`))

	waitFor(t, func() bool { return teams.count() == 1 && all.count() == 1 })
	if other.count() != 0 {
		t.Fatalf("unrelated topic received %d payloads", other.count())
	}
}

func TestFailedClientIsDropped(t *testing.T) {
	hub := NewHub()
	bad := &captureClient{sendErr: errSend}
	good := &captureClient{}
	hub.Register("teams", bad)
	hub.Register("teams", good)

	hub.Broadcast("teams", []byte("a"))
	waitFor(t, func() bool { return good.count() == 1 })
	hub.Broadcast("teams", []byte("b"))
	waitFor(t, func() bool { return good.count() == 2 })

	bad.mu.Lock()
	closed := bad.closed
	bad.mu.Unlock()
	if !closed {
		t.Fatal("failing client should have been closed")
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	hub := NewHub()
	c := &captureClient{}
	hub.Register("participants", c)
	hub.Broadcast("participants", []byte("a"))
	waitFor(t, func() bool { return c.count() == 1 })

	hub.Unregister("participants", c)
	hub.Broadcast("participants", []byte("b"))
	time.Sleep(50 * time.Millisecond)
	if c.count() != 1 {
		t.Fatalf("expected no delivery after unregister, got %d", c.count())
	}
}
