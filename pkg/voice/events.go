package voice

// Event is the interface for all session events.
type Event interface {
	EventType() string
}

// StateChangedEvent is emitted when the session state changes.
type StateChangedEvent struct {
	From SessionState `json:"from"`
	To   SessionState `json:"to"`
}

func (e StateChangedEvent) EventType() string { return "state.changed" }

// ItemsUpdatedEvent is emitted whenever the conversation log changes.
// Consumers re-read Session.Items for the current snapshot.
type ItemsUpdatedEvent struct {
	ItemID string `json:"item_id,omitempty"`
}

func (e ItemsUpdatedEvent) EventType() string { return "items.updated" }

// InterruptedEvent is emitted when a barge-in truncated playback.
// Offset is nil when nothing was audible and no cancellation was sent.
type InterruptedEvent struct {
	Offset *TrackOffset `json:"offset,omitempty"`
}

func (e InterruptedEvent) EventType() string { return "conversation.interrupted" }

// ErrorEvent surfaces a non-fatal engine or transport error.
type ErrorEvent struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

func (e ErrorEvent) EventType() string { return "error" }

// DebugEvent carries diagnostic information when debug mode is on.
type DebugEvent struct {
	Category string `json:"category"` // SESSION, CAPTURE, PLAYBACK, STORE, REMOTE, INTERRUPT
	Message  string `json:"message"`
}

func (e DebugEvent) EventType() string { return "debug" }
