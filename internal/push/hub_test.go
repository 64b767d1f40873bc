package push

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, hub *Hub, userID, campusID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, userID, campusID)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.Connections(userID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func TestSendToUser(t *testing.T) {
	hub := NewHub(nil)
	alice := dial(t, hub, "alice", "c1")
	bob := dial(t, hub, "bob", "c1")

	if err := hub.SendToUser("alice", "notification", map[string]string{"title": "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	msg := readMessage(t, alice)
	if msg.Event != "notification" || msg.Data.(map[string]any)["title"] != "hi" {
		t.Errorf("unexpected message %+v", msg)
	}

	_ = bob.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := bob.ReadMessage(); err == nil {
		t.Error("bob should not receive alice's message")
	}
}

func TestBroadcastCampus(t *testing.T) {
	hub := NewHub(nil)
	a := dial(t, hub, "a", "north")
	b := dial(t, hub, "b", "north")
	c := dial(t, hub, "c", "south")

	if err := hub.BroadcastCampus("north", "request:new", map[string]string{"id": "r1"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	for _, conn := range []*websocket.Conn{a, b} {
		if msg := readMessage(t, conn); msg.Event != "request:new" {
			t.Errorf("unexpected event %q", msg.Event)
		}
	}
	_ = c.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := c.ReadMessage(); err == nil {
		t.Error("other campus should not receive the broadcast")
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	hub := NewHub(nil)
	conn := dial(t, hub, "u", "")
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Connections("u") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("closed connection still registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := hub.SendToUser("u", "x", nil); err != nil {
		t.Errorf("send to absent user should be a no-op, got %v", err)
	}
}

func TestUnmarshalablePayload(t *testing.T) {
	hub := NewHub(nil)
	if err := hub.SendToUser("u", "x", make(chan int)); err == nil {
		t.Error("expected marshal error")
	}
}
