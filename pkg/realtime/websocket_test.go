package realtime

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDecodeServerFrame(t *testing.T) {
	audio := []byte{1, 0, 2, 0}
	audioB64 := base64.StdEncoding.EncodeToString(audio)

	tests := []struct {
		name    string
		frame   string
		want    Event
		wantErr bool
	}{
		{
			name:  "item updated with text",
			frame: `{"type":"conversation.item.updated","item_id":"resp-1","text":"Hi"}`,
			want:  ItemUpdatedEvent{ItemID: "resp-1", Delta: Delta{Text: "Hi"}},
		},
		{
			name:  "item updated with audio",
			frame: `{"type":"conversation.item.updated","item_id":"resp-1","audio":"` + audioB64 + `"}`,
			want:  ItemUpdatedEvent{ItemID: "resp-1", Delta: Delta{Audio: audio}},
		},
		{
			name:  "item completed",
			frame: `{"type":"conversation.item.completed","item_id":"resp-1"}`,
			want:  ItemCompletedEvent{ItemID: "resp-1"},
		},
		{
			name:  "interrupted",
			frame: `{"type":"conversation.interrupted"}`,
			want:  InterruptedEvent{},
		},
		{
			name:  "error",
			frame: `{"type":"error","code":"rate_limited","message":"slow down"}`,
			want:  ErrorEvent{Code: "rate_limited", Message: "slow down"},
		},
		{
			name:  "unknown type skipped",
			frame: `{"type":"session.created"}`,
			want:  nil,
		},
		{
			name:    "missing type",
			frame:   `{"item_id":"resp-1"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			frame:   `not json`,
			wantErr: true,
		},
		{
			name:    "bad audio encoding",
			frame:   `{"type":"conversation.item.updated","item_id":"resp-1","audio":"%%%"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeServerFrame([]byte(tt.frame))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want == nil {
				if got != nil {
					t.Fatalf("expected frame to be skipped, got %+v", got)
				}
				return
			}
			switch want := tt.want.(type) {
			case ItemUpdatedEvent:
				event, ok := got.(ItemUpdatedEvent)
				if !ok {
					t.Fatalf("expected ItemUpdatedEvent, got %T", got)
				}
				if event.ItemID != want.ItemID || event.Delta.Text != want.Delta.Text {
					t.Errorf("expected %+v, got %+v", want, event)
				}
				if string(event.Delta.Audio) != string(want.Delta.Audio) {
					t.Errorf("audio mismatch")
				}
			default:
				if got != tt.want {
					t.Errorf("expected %+v, got %+v", tt.want, got)
				}
			}
		})
	}
}

// echoServer upgrades and replays canned frames after recording each
// client frame it receives.
func wsTestServer(t *testing.T, handle func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handle(conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebsocketClientRoundTrip(t *testing.T) {
	received := make(chan map[string]any, 16)
	server := wsTestServer(t, func(conn *websocket.Conn) {
		// First client frame must be the session configuration; answer
		// with a delta, a completion, and an interruption.
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		received <- frame

		replies := []string{
			`{"type":"conversation.item.updated","item_id":"resp-1","text":"Hi"}`,
			`{"type":"conversation.item.completed","item_id":"resp-1"}`,
			`{"type":"conversation.interrupted"}`,
		}
		for _, reply := range replies {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return
			}
		}
		for {
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			received <- frame
		}
	})
	defer server.Close()

	client := NewWebsocketClient(wsURL(server))
	if err := client.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer client.Close()

	if err := client.ConfigureSession(SessionSettings{
		Instructions:  "Be brief.",
		TurnDetection: TurnDetectionServerVAD,
		SampleRate:    24000,
	}); err != nil {
		t.Fatalf("configure: %v", err)
	}

	select {
	case frame := <-received:
		if frame["type"] != "session.update" {
			t.Errorf("expected session.update first, got %v", frame["type"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the configuration")
	}

	wantTypes := []string{"item.updated", "item.completed", "interrupted"}
	for _, want := range wantTypes {
		select {
		case event := <-client.Events():
			if event.EventType() != want {
				t.Errorf("expected %s, got %s", want, event.EventType())
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	if err := client.CancelResponse("resp-1", 4800); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	select {
	case frame := <-received:
		if frame["type"] != "response.cancel" {
			t.Fatalf("expected response.cancel, got %v", frame["type"])
		}
		if frame["track_id"] != "resp-1" {
			t.Errorf("expected track resp-1, got %v", frame["track_id"])
		}
		if offset, ok := frame["sample_offset"].(float64); !ok || int(offset) != 4800 {
			t.Errorf("expected sample offset 4800, got %v", frame["sample_offset"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the cancellation")
	}
}

func TestWebsocketClientReopenAfterClose(t *testing.T) {
	received := make(chan map[string]any, 16)
	server := wsTestServer(t, func(conn *websocket.Conn) {
		for {
			var frame map[string]any
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			received <- frame
			reply := `{"type":"conversation.item.updated","item_id":"resp-1","text":"ok"}`
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := NewWebsocketClient(wsURL(server))

	// First session: open, exchange one frame, close.
	if err := client.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := client.SendUserText("first"); err != nil {
		t.Fatalf("send on first session: %v", err)
	}
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the first message")
	}
	firstEvents := client.Events()
	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Second session: the same client redials with a fresh event stream.
	if err := client.Open(); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer client.Close()

	if client.Events() == firstEvents {
		t.Error("expected a fresh event channel after reopen")
	}
	if err := client.SendUserText("second"); err != nil {
		t.Fatalf("send on second session: %v", err)
	}
	select {
	case frame := <-received:
		if frame["text"] != "second" {
			t.Errorf("expected the second message, got %v", frame["text"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the second message")
	}
	select {
	case event, ok := <-client.Events():
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		if event.EventType() != "item.updated" {
			t.Errorf("expected item.updated, got %s", event.EventType())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event on the second session")
	}
}

func TestWebsocketClientSendBeforeOpen(t *testing.T) {
	client := NewWebsocketClient("ws://unused")
	if err := client.SendUserText("hello"); err == nil {
		t.Error("expected error sending before open")
	}
}

func TestWebsocketClientCloseIdempotent(t *testing.T) {
	server := wsTestServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := NewWebsocketClient(wsURL(server))
	if err := client.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := client.SendUserText("late"); err == nil {
		t.Error("expected error sending after close")
	}

	// The event channel drains and closes.
	select {
	case _, ok := <-client.Events():
		if ok {
			t.Error("expected no events, channel should be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event channel never closed")
	}
}
