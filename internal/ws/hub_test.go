package ws

import (
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/mailpulse/internal/event"
	"go.uber.org/zap"
)

func newTestClient(subject string, filter event.Filter) *Client {
	// conn is not needed for hub tests.
	return newClient(nil, subject, filter, zap.NewNop())
}

func codeFound(account string) event.Event {
	return event.Event{Type: event.TypeCodeFound, AccountID: account, SessionID: "s-" + account, Timestamp: time.Now()}
}

func drain(c *Client) []Message {
	var out []Message
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(zap.NewNop())
	a := newTestClient("a", event.Filter{})
	b := newTestClient("b", event.Filter{})

	hub.Register(a)
	hub.Register(b)
	if n := hub.ClientCount(); n != 2 {
		t.Fatalf("ClientCount = %d, want 2", n)
	}

	hub.Unregister(a)
	hub.Unregister(a) // second call is a no-op
	if n := hub.ClientCount(); n != 1 {
		t.Errorf("ClientCount = %d, want 1", n)
	}
	if _, ok := <-a.send; ok {
		t.Error("send channel of unregistered client still open")
	}

	// Never-registered clients are ignored.
	hub.Unregister(newTestClient("ghost", event.Filter{}))
	if n := hub.ClientCount(); n != 1 {
		t.Errorf("ClientCount = %d, want 1", n)
	}
}

func TestHub_BroadcastFilters(t *testing.T) {
	hub := NewHub(zap.NewNop())
	all := newTestClient("all", event.Filter{})
	alice := newTestClient("alice", event.Filter{AccountID: "alice"})
	stops := newTestClient("stops", event.Filter{Types: []event.Type{event.TypeSessionStopped}})
	for _, c := range []*Client{all, alice, stops} {
		hub.Register(c)
	}

	hub.Broadcast(codeFound("alice"))
	hub.Broadcast(codeFound("bob"))
	hub.Broadcast(event.Event{Type: event.TypeSessionStopped, AccountID: "bob"})

	tests := []struct {
		client *Client
		want   int
	}{
		{all, 3},
		{alice, 1},
		{stops, 1},
	}
	for _, tc := range tests {
		if got := len(drain(tc.client)); got != tc.want {
			t.Errorf("%s received %d messages, want %d", tc.client.subject, got, tc.want)
		}
	}
}

func TestHub_BroadcastCarriesEvent(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := newTestClient("x", event.Filter{})
	hub.Register(c)

	e := codeFound("alice")
	e.Payload = map[string]string{"code": "482913"}
	hub.Broadcast(e)

	msgs := drain(c)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	m := msgs[0]
	if m.Type != event.TypeCodeFound || m.AccountID != "alice" || m.SessionID != "s-alice" || !m.Timestamp.Equal(e.Timestamp) {
		t.Errorf("message = %+v", m)
	}
	if data, ok := m.Data.(map[string]string); !ok || data["code"] != "482913" {
		t.Errorf("Data = %#v", m.Data)
	}
}

func TestHub_DropsWhenBufferFull(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := newTestClient("slow", event.Filter{})
	hub.Register(c)

	for i := 0; i < sendBuffer+10; i++ {
		hub.Broadcast(codeFound("alice"))
	}
	if got := len(c.send); got != sendBuffer {
		t.Errorf("buffered = %d, want %d", got, sendBuffer)
	}
}

func TestHub_Concurrent(t *testing.T) {
	hub := NewHub(zap.NewNop())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := newTestClient("c", event.Filter{})
			hub.Register(c)
			hub.Broadcast(codeFound("alice"))
			hub.Unregister(c)
		}()
		go func() {
			defer wg.Done()
			hub.Broadcast(codeFound("bob"))
			_ = hub.ClientCount()
		}()
	}
	wg.Wait()

	if n := hub.ClientCount(); n != 0 {
		t.Errorf("ClientCount = %d, want 0", n)
	}
}
