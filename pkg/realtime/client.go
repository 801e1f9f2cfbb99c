// Package realtime defines the contract between the voice engine and a
// remote conversational AI service, plus concrete client implementations.
//
// The engine treats the service as a narrow collaborator: it opens a
// session, streams user audio and text up, and consumes an ordered stream
// of events (transcript/audio deltas, item completions, interruptions,
// errors) coming back. Wire formats and model behavior are the service's
// business, not the engine's.
package realtime

// TurnDetectionMode selects who decides when a user turn ends.
type TurnDetectionMode string

const (
	// TurnDetectionServerVAD lets the service detect turn boundaries from
	// the continuous audio stream. The engine streams every captured frame.
	TurnDetectionServerVAD TurnDetectionMode = "server_vad"

	// TurnDetectionManual leaves turn boundaries to the caller
	// (push-to-talk). The engine does not auto-stream captured audio.
	TurnDetectionManual TurnDetectionMode = "manual"
)

// SessionSettings is the configuration pushed to the service on connect.
type SessionSettings struct {
	// Instructions is the system prompt for the assistant.
	Instructions string `json:"instructions,omitempty"`

	// TranscriptionModel transcribes user audio server-side, e.g. "whisper-1".
	TranscriptionModel string `json:"transcription_model,omitempty"`

	// TurnDetection selects server VAD or manual turn control.
	TurnDetection TurnDetectionMode `json:"turn_detection,omitempty"`

	// Voice is the synthesized output voice, e.g. "alloy".
	Voice string `json:"voice,omitempty"`

	// SampleRate is the PCM rate for both directions in Hz. Default: 24000.
	SampleRate int `json:"sample_rate,omitempty"`
}

// Delta is an incremental update to one conversation item. Either field
// may be empty; audio deltas leave the transcript untouched and vice versa.
type Delta struct {
	Text  string
	Audio []byte // raw 16-bit LE mono PCM at the session sample rate
}

// Event is a notification from the remote service. Events are delivered
// on a single channel in arrival order; consumers must not reorder them.
type Event interface {
	EventType() string
}

// ItemUpdatedEvent carries a transcript or audio delta for an item.
type ItemUpdatedEvent struct {
	ItemID string
	Delta  Delta
}

func (e ItemUpdatedEvent) EventType() string { return "item.updated" }

// ItemCompletedEvent signals that an item will receive no further deltas.
type ItemCompletedEvent struct {
	ItemID string
}

func (e ItemCompletedEvent) EventType() string { return "item.completed" }

// InterruptedEvent signals that new user speech was detected while
// assistant audio was still being delivered.
type InterruptedEvent struct{}

func (e InterruptedEvent) EventType() string { return "interrupted" }

// ErrorEvent reports a transport-level or service-level error. It is
// informational: the session stays open unless the caller closes it.
type ErrorEvent struct {
	Code    string
	Message string
}

func (e ErrorEvent) EventType() string { return "error" }

// Client is a connection to a remote conversation service.
//
// Open must be called before any send; Close is idempotent and causes the
// Events channel to be closed once the read side drains. A closed client
// may be reopened, starting a fresh session and a fresh Events channel.
type Client interface {
	// Open establishes the session. Reopens after Close.
	Open() error

	// Close tears the session down. Safe to call more than once.
	Close() error

	// ConfigureSession pushes session settings. Call after Open.
	ConfigureSession(settings SessionSettings) error

	// SendUserText submits a complete user text message.
	SendUserText(text string) error

	// SendAudioFrame streams one frame of captured user audio
	// (16-bit LE mono PCM at the configured sample rate).
	SendAudioFrame(pcm []byte) error

	// CancelResponse tells the service how much of an in-flight audio
	// response the user actually heard, so it can truncate its record.
	CancelResponse(trackID string, sampleOffset int) error

	// Events yields service events in arrival order. The channel is
	// closed when the session ends.
	Events() <-chan Event
}
