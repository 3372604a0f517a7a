package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/praisedesk/settlement/internal/ledger"
	"github.com/praisedesk/settlement/internal/reviewtask"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func runHub(t *testing.T) *Hub {
	t.Helper()
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func addClient(h *Hub, sub Subscription) *Client {
	client := &Client{hub: h, send: make(chan []byte, 256), sub: sub}
	h.register <- client
	return client
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case msg := <-c.send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected event: %s", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscription_Matches(t *testing.T) {
	paid := &Event{Type: "task.pay", TaskID: "t1", AccountIDs: []string{"m1", "b1"}}
	record := &Event{Type: EventLedgerRecord, TaskID: "t1", AccountIDs: []string{"m1"}}
	other := &Event{Type: "task.confirm", TaskID: "t2", AccountIDs: []string{"m2", "b2"}}

	tests := []struct {
		name string
		sub  Subscription
		ev   *Event
		want bool
	}{
		{"all events", Subscription{AllEvents: true}, other, true},
		{"empty subscription", Subscription{}, paid, true},
		{"exact type", Subscription{EventTypes: []string{"task.pay"}}, paid, true},
		{"exact type miss", Subscription{EventTypes: []string{"task.pay"}}, other, false},
		{"prefix", Subscription{EventTypes: []string{"task.*"}}, other, true},
		{"prefix miss", Subscription{EventTypes: []string{"task.*"}}, record, false},
		{"ledger prefix", Subscription{EventTypes: []string{"ledger.*"}}, record, true},
		{"task filter", Subscription{TaskIDs: []string{"t1"}}, record, true},
		{"task filter miss", Subscription{TaskIDs: []string{"t1"}}, other, false},
		{"buyer account", Subscription{AccountIDs: []string{"b1"}}, paid, true},
		{"account miss", Subscription{AccountIDs: []string{"b1"}}, record, false},
		{"combined", Subscription{EventTypes: []string{"ledger.*"}, AccountIDs: []string{"m1"}}, paid, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.Matches(tt.ev); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := runHub(t)

	client := addClient(h, Subscription{AllEvents: true})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_EmitTaskEvent(t *testing.T) {
	h := runHub(t)
	merchantFeed := addClient(h, Subscription{AccountIDs: []string{"m1"}})
	otherFeed := addClient(h, Subscription{AccountIDs: []string{"m9"}})

	h.EmitTaskEvent(&reviewtask.TaskEvent{
		Type:  "task.pay",
		Event: reviewtask.EventPay,
		From:  reviewtask.StateUnpaid,
		To:    reviewtask.StatePaid,
		Task:  &reviewtask.Task{ID: "rt_1", MerchantID: "m1", BuyerID: "b1"},
		At:    time.Now(),
	})

	ev := receive(t, merchantFeed)
	if ev.Type != "task.pay" || ev.TaskID != "rt_1" {
		t.Errorf("unexpected event: %+v", ev)
	}
	expectNothing(t, otherFeed)
}

func TestHub_EmitFinanceRecord(t *testing.T) {
	h := runHub(t)
	feed := addClient(h, Subscription{EventTypes: []string{"ledger.*"}})

	h.EmitTaskEvent(&reviewtask.TaskEvent{Type: "task.created", Task: &reviewtask.Task{ID: "rt_1"}})
	h.EmitFinanceRecord(&ledger.FinanceRecord{
		ID:            "fr_1",
		AccountID:     "m1",
		Currency:      ledger.Deposit,
		Delta:         decimal.NewFromInt(-16),
		ReasonCode:    "task_pay",
		RelatedTaskID: "rt_1",
		CreatedAt:     time.Now(),
	})

	ev := receive(t, feed)
	if ev.Type != EventLedgerRecord || ev.TaskID != "rt_1" {
		t.Errorf("unexpected event: %+v", ev)
	}
	data, _ := ev.Data.(map[string]any)
	if data["delta"] != "-16" {
		t.Errorf("Expected delta to serialize as a decimal string, got %v", data["delta"])
	}
	expectNothing(t, feed)
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	h := runHub(t)
	slow := &Client{hub: h, send: make(chan []byte), sub: Subscription{AllEvents: true}}
	h.register <- slow

	h.Broadcast(&Event{Type: "task.pay", Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	if n := h.Stats()["connectedClients"].(int); n != 0 {
		t.Errorf("Expected slow client to be dropped, got %d clients", n)
	}
	if _, ok := <-slow.send; ok {
		t.Error("Expected the slow client's channel to be closed")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	if !h.Running() {
		t.Fatal("Expected hub to report running")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Hub did not stop after context cancellation")
	}
	if h.Running() {
		t.Error("Expected hub to report stopped")
	}
}

func TestHub_WebSocketRoundTrip(t *testing.T) {
	h := runHub(t)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteJSON(Subscription{TaskIDs: []string{"rt_2"}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	h.EmitTaskEvent(&reviewtask.TaskEvent{Type: "task.pay", Task: &reviewtask.Task{ID: "rt_1"}, At: time.Now()})
	h.EmitTaskEvent(&reviewtask.TaskEvent{Type: "task.confirm", Task: &reviewtask.Task{ID: "rt_2"}, At: time.Now()})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != "task.confirm" || ev.TaskID != "rt_2" {
		t.Errorf("Expected only the subscribed task's event, got %+v", ev)
	}
}

func TestHub_RejectsUpgradeAfterStop(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest("GET", "/ws", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 after stop, got %d", w.Code)
	}
}
