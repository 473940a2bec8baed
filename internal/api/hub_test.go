package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"linkwatch/internal/events"
	"linkwatch/internal/store"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestStreamBroadcastsStatusEvents(t *testing.T) {
	source := make(chan events.StatusEvent)
	hub := NewHub(zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx, source)

	a := New(store.NewMemoryStore(), &fakeEnqueuer{}, hub, "", zap.NewNop().Sugar())
	srv := httptest.NewServer(a.Routes())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/monitors/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Wait for the hub loop to pick up the registration.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	want := events.StatusEvent{LinkID: "m1", Status: "up", StatusCode: 200, LatencyMS: 40, IsHealthy: true}
	source <- want

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.StatusEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("event = %+v, want %+v", got, want)
	}
}

func TestStreamDisabledWithoutHub(t *testing.T) {
	a, _, _ := newTestAPI("")

	rec := doRequest(t, a, "GET", "/monitors/stream", "", "")
	if rec.Code != 501 {
		t.Fatalf("status = %d, want 501 when hub is nil", rec.Code)
	}
}

func TestHubShutdownDropsClients(t *testing.T) {
	source := make(chan events.StatusEvent)
	hub := NewHub(zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx, source)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop on cancel")
	}
	if hub.ClientCount() != 0 {
		t.Fatalf("clients = %d after shutdown", hub.ClientCount())
	}
}
