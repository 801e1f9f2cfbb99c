package voice

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quantum-box/ai-talk/pkg/realtime"
)

// sendQueueDepth bounds frames waiting for the network between the
// capture path and the remote client.
const sendQueueDepth = 64

// Session wires capture, the remote conversation service, playback, and
// the conversation store together for one conversation. All owned state
// is constructed on Connect and destroyed together on Disconnect; a new
// Connect starts from a clean slate.
//
// Connect, Disconnect, and the remote event loop are serialized: only one
// state transition is in flight at a time, and remote events are
// processed in arrival order by a single consumer.
type Session struct {
	cfg       SessionConfig
	client    realtime.Client
	inputDev  InputDevice
	outputDev OutputDevice

	transMu sync.Mutex // serializes state transitions
	state   atomic.Int32

	// Per-connection resources, rebuilt on every Connect.
	capture   *CaptureStream
	playback  *PlaybackQueue
	store     *ConversationStore
	sendQ     chan AudioFrame
	frameSink func(AudioFrame)
	stop      chan struct{}
	loopDone  chan struct{}

	lastCancel *TrackOffset // dedupes repeated interruption reports

	events chan Event
}

// NewSession creates a session over the given remote client and audio
// devices. Nothing is acquired until Connect.
func NewSession(cfg SessionConfig, client realtime.Client, input InputDevice, output OutputDevice) *Session {
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio = DefaultAudioConfig()
	}
	if cfg.FrameDurationMs <= 0 {
		cfg.FrameDurationMs = 20
	}
	if cfg.TurnDetection == "" {
		cfg.TurnDetection = realtime.TurnDetectionServerVAD
	}
	return &Session{
		cfg:       cfg,
		client:    client,
		inputDev:  input,
		outputDev: output,
		events:    make(chan Event, 100),
	}
}

// State returns the current session state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// IsConnected reports whether the session is fully connected.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// ServerVAD reports whether server-side turn detection is active, i.e.
// whether captured frames stream continuously to the remote service.
func (s *Session) ServerVAD() bool {
	return s.cfg.TurnDetection == realtime.TurnDetectionServerVAD
}

// Events yields session events. The channel is never closed; consumers
// stop reading when they are done with the session.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Items returns the current conversation snapshot in arrival order.
func (s *Session) Items() []Item {
	s.transMu.Lock()
	store := s.store
	s.transMu.Unlock()
	if store == nil {
		return nil
	}
	return store.Items()
}

// Connect brings the session up: acquire the capture device, acquire the
// playback device, open the remote session, configure it, and send the
// greeting. Each step must succeed before the next begins; any failure
// rolls back everything already acquired and returns to Disconnected.
func (s *Session) Connect() error {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	if s.State() != StateDisconnected {
		return NewInvalidStateError(fmt.Sprintf("connect from %s", s.State()))
	}
	s.setState(StateConnecting)

	capture := NewCaptureStream(s.inputDev, s.cfg.FrameDurationMs)
	playback := NewPlaybackQueue(s.outputDev, s.cfg.Audio)
	store := NewConversationStore(s.cfg.Audio, playback)

	if err := capture.Begin(s.cfg.Audio.SampleRate); err != nil {
		s.setState(StateDisconnected)
		return err
	}
	if err := playback.Connect(); err != nil {
		_ = capture.End()
		s.setState(StateDisconnected)
		return err
	}
	if err := s.client.Open(); err != nil {
		_ = playback.Close()
		_ = capture.End()
		s.setState(StateDisconnected)
		return NewTransportError(fmt.Sprintf("open remote session: %v", err))
	}
	if err := s.client.ConfigureSession(realtime.SessionSettings{
		Instructions:       s.cfg.Instructions,
		TranscriptionModel: s.cfg.TranscriptionModel,
		TurnDetection:      s.cfg.TurnDetection,
		Voice:              s.cfg.Voice,
		SampleRate:         s.cfg.Audio.SampleRate,
	}); err != nil {
		_ = s.client.Close()
		_ = playback.Close()
		_ = capture.End()
		s.setState(StateDisconnected)
		return NewTransportError(fmt.Sprintf("configure session: %v", err))
	}

	s.capture = capture
	s.playback = playback
	s.store = store
	s.sendQ = make(chan AudioFrame, sendQueueDepth)
	s.frameSink = s.frameSinkFor(s.sendQ)
	s.stop = make(chan struct{})
	s.loopDone = make(chan struct{})
	s.lastCancel = nil

	go s.eventLoop(s.loopDone)
	go s.sendLoop(s.sendQ, s.stop)
	go s.forwardErrors(capture.Errors(), playback.Errors(), s.stop)

	if s.cfg.Greeting != "" {
		if err := s.sendUserTextLocked(s.cfg.Greeting); err != nil {
			s.teardownLocked()
			return err
		}
	}

	// With server VAD every frame streams continuously; under manual
	// turn detection the caller gates capture via StartTurn/EndTurn.
	if s.ServerVAD() {
		if err := capture.Record(s.frameSink); err != nil {
			s.teardownLocked()
			return err
		}
	}

	s.setState(StateConnected)
	s.debug("SESSION", "connected")
	return nil
}

// Disconnect tears the session down: close the remote session first so
// no further deltas arrive, then stop capture, then stop and flush
// playback, then clear the store. Idempotent.
func (s *Session) Disconnect() error {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	if s.State() == StateDisconnected {
		return nil
	}
	s.teardownLocked()
	s.debug("SESSION", "disconnected")
	return nil
}

// SendUserText submits a complete user text message to the conversation.
func (s *Session) SendUserText(text string) error {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	if s.State() != StateConnected {
		return NewInvalidStateError(fmt.Sprintf("send text from %s", s.State()))
	}
	return s.sendUserTextLocked(text)
}

// StartTurn begins streaming captured frames under manual turn
// detection (push-to-talk pressed).
func (s *Session) StartTurn() error {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	if s.State() != StateConnected {
		return NewInvalidStateError(fmt.Sprintf("start turn from %s", s.State()))
	}
	if s.ServerVAD() {
		return NewInvalidStateError("turn control is server-side")
	}
	return s.capture.Record(s.frameSink)
}

// EndTurn stops streaming captured frames under manual turn detection
// (push-to-talk released).
func (s *Session) EndTurn() error {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	if s.State() != StateConnected {
		return NewInvalidStateError(fmt.Sprintf("end turn from %s", s.State()))
	}
	if s.ServerVAD() {
		return NewInvalidStateError("turn control is server-side")
	}
	s.capture.Pause()
	return nil
}

// CaptureWaveform returns a width-bucket amplitude view of the most
// recently captured audio for visualization.
func (s *Session) CaptureWaveform(width int) []float64 {
	s.transMu.Lock()
	capture := s.capture
	s.transMu.Unlock()
	if capture == nil {
		return make([]float64, width)
	}
	return capture.Waveform(width)
}

// PlaybackWaveform returns a width-bucket amplitude view of the most
// recently played audio for visualization.
func (s *Session) PlaybackWaveform(width int) []float64 {
	s.transMu.Lock()
	playback := s.playback
	s.transMu.Unlock()
	if playback == nil {
		return make([]float64, width)
	}
	return playback.Waveform(width)
}

// CaptureLevel reports the RMS energy and peak amplitude of the most
// recently captured audio, both in [0, 1].
func (s *Session) CaptureLevel() (rms, peak float64) {
	s.transMu.Lock()
	capture := s.capture
	s.transMu.Unlock()
	if capture == nil {
		return 0, 0
	}
	return capture.Level()
}

// PlaybackLevel reports the RMS energy and peak amplitude of the most
// recently played audio, both in [0, 1].
func (s *Session) PlaybackLevel() (rms, peak float64) {
	s.transMu.Lock()
	playback := s.playback
	s.transMu.Unlock()
	if playback == nil {
		return 0, 0
	}
	return playback.Level()
}

func (s *Session) sendUserTextLocked(text string) error {
	id := "item_" + uuid.NewString()
	if err := s.store.Add(id, RoleUser); err != nil {
		return err
	}
	if err := s.store.SetTranscript(id, text); err != nil {
		return err
	}
	if err := s.store.MarkCompleted(id); err != nil {
		return err
	}
	s.emit(ItemsUpdatedEvent{ItemID: id})

	if err := s.client.SendUserText(text); err != nil {
		return NewTransportError(fmt.Sprintf("send user text: %v", err))
	}
	return nil
}

// teardownLocked releases everything in dependency order: remote session
// first so no further deltas arrive, then capture, then playback, then
// the store. Callers hold transMu.
func (s *Session) teardownLocked() {
	_ = s.client.Close()
	if s.loopDone != nil {
		<-s.loopDone // event loop drains remaining events, then exits
	}
	if s.capture != nil {
		_ = s.capture.End()
	}
	if s.playback != nil {
		s.playback.Interrupt()
		_ = s.playback.Close()
	}
	if s.store != nil {
		s.store.Reset()
	}
	if s.stop != nil {
		close(s.stop)
	}

	s.capture = nil
	s.playback = nil
	s.store = nil
	s.frameSink = nil
	s.stop = nil
	s.loopDone = nil
	s.setState(StateDisconnected)
}

// frameSinkFor builds the capture callback for one connection. It runs on
// the capture dispatch goroutine and must not block on the network: frames
// hop to the send loop through a bounded queue. Capturing the queue keeps
// a late frame from a dying capture away from the next connection's state.
func (s *Session) frameSinkFor(sendQ chan<- AudioFrame) func(AudioFrame) {
	return func(frame AudioFrame) {
		select {
		case sendQ <- frame:
		default:
			s.emit(ErrorEvent{Type: ErrBackpressureExceeded, Message: "network send queue full, frame not sent"})
		}
	}
}

func (s *Session) sendLoop(sendQ <-chan AudioFrame, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case frame := <-sendQ:
			if err := s.client.SendAudioFrame(frame.Data); err != nil {
				s.emit(ErrorEvent{Type: ErrTransport, Message: fmt.Sprintf("send audio frame: %v", err)})
			}
		}
	}
}

// eventLoop is the single consumer of remote events. Processing them on
// one goroutine in arrival order preserves the append-only ordering of
// per-item deltas.
func (s *Session) eventLoop(done chan<- struct{}) {
	defer close(done)

	for event := range s.client.Events() {
		switch e := event.(type) {
		case realtime.ItemUpdatedEvent:
			s.handleItemUpdated(e)
		case realtime.ItemCompletedEvent:
			s.handleItemCompleted(e)
		case realtime.InterruptedEvent:
			s.handleInterrupted()
		case realtime.ErrorEvent:
			s.emit(ErrorEvent{Type: ErrTransport, Message: fmt.Sprintf("%s: %s", e.Code, e.Message)})
		}
	}
}

func (s *Session) handleItemUpdated(e realtime.ItemUpdatedEvent) {
	if err := s.store.ApplyDelta(e.ItemID, e.Delta); err != nil {
		s.emit(ErrorEvent{Type: errType(err), Message: err.Error()})
		return
	}
	s.emit(ItemsUpdatedEvent{ItemID: e.ItemID})
}

func (s *Session) handleItemCompleted(e realtime.ItemCompletedEvent) {
	if err := s.store.MarkCompleted(e.ItemID); err != nil {
		// Decode failures leave the item's audio unattached; the
		// transcript is already final.
		s.emit(ErrorEvent{Type: errType(err), Message: err.Error()})
	}
	s.emit(ItemsUpdatedEvent{ItemID: e.ItemID})
}

// handleInterrupted implements barge-in: truncate playback and report the
// exact audible offset so the remote service can trim its record. When
// nothing was audible there is nothing to cancel.
func (s *Session) handleInterrupted() {
	offset := s.playback.Interrupt()
	s.emit(InterruptedEvent{Offset: offset})
	if offset == nil {
		return
	}
	if s.lastCancel != nil && *s.lastCancel == *offset {
		// Repeated report of the same frozen offset; already cancelled.
		return
	}
	s.lastCancel = offset
	s.debug("INTERRUPT", fmt.Sprintf("cancelling track %s at sample %d", offset.TrackID, offset.SampleOffset))
	if err := s.client.CancelResponse(offset.TrackID, offset.SampleOffset); err != nil {
		s.emit(ErrorEvent{Type: ErrTransport, Message: fmt.Sprintf("cancel response: %v", err)})
	}
}

func (s *Session) forwardErrors(capture, playback <-chan error, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case err := <-capture:
			s.emit(ErrorEvent{Type: errType(err), Message: err.Error()})
		case err := <-playback:
			s.emit(ErrorEvent{Type: errType(err), Message: err.Error()})
		}
	}
}

func (s *Session) setState(state SessionState) {
	old := SessionState(s.state.Swap(int32(state)))
	if old != state {
		s.emit(StateChangedEvent{From: old, To: state})
	}
}

func (s *Session) emit(event Event) {
	select {
	case s.events <- event:
	default:
		// Channel full, drop event rather than stall the engine.
	}
}

func (s *Session) debug(category, message string) {
	if !s.cfg.Debug {
		return
	}
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(os.Stderr, "%s [%-9s] %s\n", timestamp, category, message)
	s.emit(DebugEvent{Category: category, Message: message})
}

func errType(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrTransport
}
