package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// eventBuffer is the capacity of the client-side event channel. The read
// loop never blocks on a slow consumer; overflow drops with a counter.
const eventBuffer = 256

// WebsocketClient implements Client over a JSON-envelope websocket.
// Every frame in both directions is a JSON object with a "type" field.
// A closed client may be reopened; Open redials and starts a fresh
// event stream.
type WebsocketClient struct {
	url    string
	header http.Header
	dialer *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}
	closed bool

	writeMu sync.Mutex
	dropped atomic.Int64

	errMu sync.Mutex
	err   error
}

// WebsocketOption customizes a WebsocketClient.
type WebsocketOption func(*WebsocketClient)

// WithHeader sets extra handshake headers (e.g. Authorization).
func WithHeader(header http.Header) WebsocketOption {
	return func(c *WebsocketClient) { c.header = header }
}

// WithDialer replaces the default websocket dialer.
func WithDialer(dialer *websocket.Dialer) WebsocketOption {
	return func(c *WebsocketClient) { c.dialer = dialer }
}

// NewWebsocketClient creates a client for the given session URL.
// The connection is not established until Open.
func NewWebsocketClient(url string, opts ...WebsocketOption) *WebsocketClient {
	c := &WebsocketClient{
		url:    url,
		dialer: websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open dials the session endpoint and starts the read loop. Opening
// after Close starts a fresh session with a fresh Events stream.
func (c *WebsocketClient) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.closed {
		return fmt.Errorf("session already open")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.errMu.Lock()
	c.err = nil
	c.errMu.Unlock()

	c.conn = conn
	c.closed = false
	c.events = make(chan Event, eventBuffer)
	c.done = make(chan struct{})
	go c.readLoop(conn, c.events, c.done)
	return nil
}

// Close shuts the session down. Idempotent; the client may be reopened
// afterwards.
func (c *WebsocketClient) Close() error {
	c.mu.Lock()
	if c.closed {
		done := c.done
		c.mu.Unlock()
		if done != nil {
			<-done
		}
		return nil
	}
	c.closed = true
	conn, done := c.conn, c.done
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(2*time.Second))
	c.writeMu.Unlock()
	_ = conn.Close()
	<-done
	return nil
}

// Err returns the terminal session error, if any. Blocks until the
// session has ended.
func (c *WebsocketClient) Err() error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Dropped reports how many events were discarded because the consumer
// fell behind.
func (c *WebsocketClient) Dropped() int64 {
	return c.dropped.Load()
}

// Events yields decoded service events in arrival order. Each Open
// produces a fresh channel, closed when that session ends.
func (c *WebsocketClient) Events() <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// ConfigureSession pushes session settings.
func (c *WebsocketClient) ConfigureSession(settings SessionSettings) error {
	return c.sendJSON(clientSessionUpdate{Type: "session.update", Session: settings})
}

// SendUserText submits a complete user text message.
func (c *WebsocketClient) SendUserText(text string) error {
	return c.sendJSON(clientInputText{Type: "input_text", Text: text})
}

// SendAudioFrame streams one captured PCM frame, base64 in the envelope.
func (c *WebsocketClient) SendAudioFrame(pcm []byte) error {
	return c.sendJSON(clientInputAudio{
		Type:    "input_audio",
		DataB64: base64.StdEncoding.EncodeToString(pcm),
	})
}

// CancelResponse reports the exact playback offset at interruption.
func (c *WebsocketClient) CancelResponse(trackID string, sampleOffset int) error {
	return c.sendJSON(clientResponseCancel{
		Type:         "response.cancel",
		TrackID:      trackID,
		SampleOffset: sampleOffset,
	})
}

func (c *WebsocketClient) sendJSON(v any) error {
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("session is closed")
	}
	if conn == nil {
		return fmt.Errorf("session is not open")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (c *WebsocketClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *WebsocketClient) setErr(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *WebsocketClient) readLoop(conn *websocket.Conn, events chan Event, done chan struct{}) {
	defer close(done)
	defer close(events)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || c.isClosed() {
				return
			}
			c.setErr(err)
			c.emit(events, ErrorEvent{Code: "transport_error", Message: err.Error()})
			return
		}
		event, err := decodeServerFrame(data)
		if err != nil {
			c.setErr(err)
			c.emit(events, ErrorEvent{Code: "decode_error", Message: err.Error()})
			return
		}
		if event != nil {
			c.emit(events, event)
		}
	}
}

func (c *WebsocketClient) emit(events chan Event, event Event) {
	select {
	case events <- event:
	default:
		// Avoid deadlocking the read loop if the caller stops consuming.
		c.dropped.Add(1)
	}
}

// Client → server frames.

type clientSessionUpdate struct {
	Type    string          `json:"type"`
	Session SessionSettings `json:"session"`
}

type clientInputText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type clientInputAudio struct {
	Type    string `json:"type"`
	DataB64 string `json:"data"`
}

type clientResponseCancel struct {
	Type         string `json:"type"`
	TrackID      string `json:"track_id"`
	SampleOffset int    `json:"sample_offset"`
}

// Server → client frames.

type serverItemUpdated struct {
	ItemID   string `json:"item_id"`
	Text     string `json:"text,omitempty"`
	AudioB64 string `json:"audio,omitempty"`
}

type serverItemCompleted struct {
	ItemID string `json:"item_id"`
}

type serverError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decodeServerFrame(data []byte) (Event, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}
	if envelope.Type == "" {
		return nil, fmt.Errorf("frame missing type")
	}

	switch envelope.Type {
	case "conversation.item.updated":
		var frame serverItemUpdated
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode item.updated: %w", err)
		}
		delta := Delta{Text: frame.Text}
		if frame.AudioB64 != "" {
			audio, err := base64.StdEncoding.DecodeString(frame.AudioB64)
			if err != nil {
				return nil, fmt.Errorf("decode item.updated audio: %w", err)
			}
			delta.Audio = audio
		}
		return ItemUpdatedEvent{ItemID: frame.ItemID, Delta: delta}, nil
	case "conversation.item.completed":
		var frame serverItemCompleted
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode item.completed: %w", err)
		}
		return ItemCompletedEvent{ItemID: frame.ItemID}, nil
	case "conversation.interrupted":
		return InterruptedEvent{}, nil
	case "error":
		var frame serverError
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode error frame: %w", err)
		}
		return ErrorEvent{Code: frame.Code, Message: frame.Message}, nil
	default:
		// Unknown frames are skipped so the contract can grow.
		return nil, nil
	}
}
