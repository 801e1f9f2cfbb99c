// Package gemini implements the realtime.Client contract on top of the
// Gemini Live API via google.golang.org/genai.
//
// The Live API differs from the JSON-envelope websocket contract in two
// ways the adapter has to paper over: session settings are part of the
// connect handshake rather than a separate update frame, and responses
// arrive as anonymous turns rather than addressable items. The adapter
// defers the actual connect until ConfigureSession and assigns a fresh
// item id per model turn.
package gemini

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/quantum-box/ai-talk/pkg/realtime"
)

const eventBuffer = 256

// Client is a realtime.Client backed by a Gemini Live session. A closed
// client may be reopened; Open builds a fresh API client and a fresh
// event stream.
type Client struct {
	apiKey string
	model  string

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	genai   *genai.Client
	session *genai.Session
	events  chan realtime.Event
	done    chan struct{}
	closed  bool

	sendMu  sync.Mutex
	dropped atomic.Int64

	errMu sync.Mutex
	err   error

	sampleRate int
}

// Option customizes a Client.
type Option func(*Client)

// WithModel overrides the default live model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// NewClient creates a Gemini-backed client. The connection is not
// established until Open and ConfigureSession have both been called.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		model:      "gemini-2.0-flash-live-001",
		sampleRate: 24000,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open creates the API client. The live session itself is established by
// ConfigureSession, because the Live API takes settings at connect time.
// Opening after Close starts over with a fresh Events stream.
func (c *Client) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.genai != nil && !c.closed {
		return fmt.Errorf("session already open")
	}

	ctx, cancel := context.WithCancel(context.Background())
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		cancel()
		return fmt.Errorf("create gemini client: %w", err)
	}

	c.errMu.Lock()
	c.err = nil
	c.errMu.Unlock()

	c.ctx, c.cancel = ctx, cancel
	c.genai = client
	c.session = nil
	c.closed = false
	c.events = make(chan realtime.Event, eventBuffer)
	c.done = make(chan struct{})
	return nil
}

// ConfigureSession connects the live session with the given settings and
// starts the receive loop.
func (c *Client) ConfigureSession(settings realtime.SessionSettings) error {
	c.mu.Lock()
	if c.genai == nil || c.closed {
		c.mu.Unlock()
		return fmt.Errorf("session is not open")
	}
	if c.session != nil {
		c.mu.Unlock()
		return fmt.Errorf("session already configured")
	}
	client, ctx := c.genai, c.ctx
	c.mu.Unlock()

	if settings.SampleRate > 0 {
		c.sampleRate = settings.SampleRate
	}

	config := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
	}
	if settings.Instructions != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: settings.Instructions}},
		}
	}
	if settings.Voice != "" {
		config.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: settings.Voice},
			},
		}
	}
	if settings.TurnDetection == realtime.TurnDetectionManual {
		config.RealtimeInputConfig = &genai.RealtimeInputConfig{
			AutomaticActivityDetection: &genai.AutomaticActivityDetection{Disabled: true},
		}
	}

	session, err := client.Live.Connect(ctx, c.model, config)
	if err != nil {
		return fmt.Errorf("connect live session: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		session.Close()
		return fmt.Errorf("session is closed")
	}
	c.session = session
	events, done := c.events, c.done
	c.mu.Unlock()

	go c.recvLoop(ctx, session, events, done)
	return nil
}

// Close tears the session down. Idempotent; the client may be reopened
// afterwards.
func (c *Client) Close() error {
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
	cancel, session, events, done := c.cancel, c.session, c.events, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if session != nil {
		session.Close()
		<-done
		return nil
	}
	// Opened but never configured: no receive loop owns the channels.
	if done != nil {
		close(done)
		close(events)
	}
	return nil
}

// Err returns the terminal session error, if any. Blocks until the
// session has ended.
func (c *Client) Err() error {
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
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// Events yields service events in arrival order. Each Open produces a
// fresh channel, closed when that session ends.
func (c *Client) Events() <-chan realtime.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// SendUserText submits a complete user turn.
func (c *Client) SendUserText(text string) error {
	session, err := c.liveSession()
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return session.SendClientContent(genai.LiveClientContentInput{
		Turns:        []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		TurnComplete: genai.Ptr(true),
	})
}

// SendAudioFrame streams one captured PCM frame.
func (c *Client) SendAudioFrame(pcm []byte) error {
	session, err := c.liveSession()
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			MIMEType: fmt.Sprintf("audio/pcm;rate=%d", c.sampleRate),
			Data:     pcm,
		},
	})
}

// CancelResponse is a no-op for Gemini: the service truncates its own
// record of the interrupted response when its VAD fires, and the playback
// offset has no wire representation in the Live API.
func (c *Client) CancelResponse(trackID string, sampleOffset int) error {
	_, err := c.liveSession()
	return err
}

func (c *Client) liveSession() (*genai.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("session is closed")
	}
	if c.session == nil {
		return nil, fmt.Errorf("session is not configured")
	}
	return c.session, nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) setErr(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// recvLoop maps LiveServerMessage traffic onto the realtime event model.
// Each model turn gets a synthetic item id, carried until TurnComplete;
// user speech transcripts get their own per-turn item the same way.
func (c *Client) recvLoop(ctx context.Context, session *genai.Session, events chan realtime.Event, done chan struct{}) {
	defer close(done)
	defer close(events)

	var assistantItem, userItem string

	for {
		msg, err := session.Receive()
		if err != nil {
			if c.isClosed() || ctx.Err() != nil {
				return
			}
			c.setErr(err)
			c.emit(events, realtime.ErrorEvent{Code: "transport_error", Message: err.Error()})
			return
		}
		content := msg.ServerContent
		if content == nil {
			continue
		}

		if content.Interrupted {
			c.emit(events, realtime.InterruptedEvent{})
			if assistantItem != "" {
				c.emit(events, realtime.ItemCompletedEvent{ItemID: assistantItem})
				assistantItem = ""
			}
			continue
		}

		if t := content.InputTranscription; t != nil && t.Text != "" {
			if userItem == "" {
				userItem = "user_" + uuid.NewString()
			}
			c.emit(events, realtime.ItemUpdatedEvent{
				ItemID: userItem,
				Delta:  realtime.Delta{Text: t.Text},
			})
			if t.Finished {
				c.emit(events, realtime.ItemCompletedEvent{ItemID: userItem})
				userItem = ""
			}
		}

		if content.ModelTurn != nil || content.OutputTranscription != nil {
			if assistantItem == "" {
				assistantItem = "resp_" + uuid.NewString()
			}
		}
		if t := content.OutputTranscription; t != nil && t.Text != "" {
			c.emit(events, realtime.ItemUpdatedEvent{
				ItemID: assistantItem,
				Delta:  realtime.Delta{Text: t.Text},
			})
		}
		if content.ModelTurn != nil {
			for _, part := range content.ModelTurn.Parts {
				if part == nil {
					continue
				}
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					c.emit(events, realtime.ItemUpdatedEvent{
						ItemID: assistantItem,
						Delta:  realtime.Delta{Audio: part.InlineData.Data},
					})
				}
				if part.Text != "" {
					c.emit(events, realtime.ItemUpdatedEvent{
						ItemID: assistantItem,
						Delta:  realtime.Delta{Text: part.Text},
					})
				}
			}
		}

		if content.TurnComplete && assistantItem != "" {
			c.emit(events, realtime.ItemCompletedEvent{ItemID: assistantItem})
			assistantItem = ""
		}
	}
}

func (c *Client) emit(events chan realtime.Event, event realtime.Event) {
	select {
	case events <- event:
	default:
		// Avoid deadlocking the receive loop if the caller stops consuming.
		c.dropped.Add(1)
	}
}
