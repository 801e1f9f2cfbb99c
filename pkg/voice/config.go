package voice

import (
	"github.com/quantum-box/ai-talk/pkg/realtime"
)

// SessionState represents the connection state of a Session.
type SessionState int32

const (
	// StateDisconnected is the initial and final state. No devices are
	// held and no remote session exists.
	StateDisconnected SessionState = iota
	// StateConnecting is the transient state while Connect acquires
	// devices and opens the remote session.
	StateConnecting
	// StateConnected is the fully wired state: capture streams up,
	// deltas stream down, playback renders.
	StateConnected
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// SessionConfig holds all configuration for a conversation session.
type SessionConfig struct {
	// Instructions is the system prompt pushed to the remote service.
	Instructions string `json:"instructions,omitempty"`

	// TranscriptionModel transcribes user audio server-side.
	TranscriptionModel string `json:"transcription_model,omitempty"`

	// TurnDetection selects server VAD (continuous frame streaming) or
	// manual push-to-talk gating. Default: server VAD.
	TurnDetection realtime.TurnDetectionMode `json:"turn_detection,omitempty"`

	// Voice is the synthesized output voice.
	Voice string `json:"voice,omitempty"`

	// Greeting, when non-empty, is sent as a user text message right
	// after the remote session opens.
	Greeting string `json:"greeting,omitempty"`

	// Audio is the shared PCM format for capture and playback.
	Audio AudioConfig `json:"audio"`

	// FrameDurationMs is the capture frame length. Default: 20ms.
	FrameDurationMs int `json:"frame_duration_ms,omitempty"`

	// Debug mirrors debug events to stderr.
	Debug bool `json:"debug,omitempty"`
}

// DefaultSessionConfig returns a SessionConfig with the reference settings.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Instructions:       "You are a helpful AI assistant.",
		TranscriptionModel: "whisper-1",
		TurnDetection:      realtime.TurnDetectionServerVAD,
		Voice:              "alloy",
		Audio:              DefaultAudioConfig(),
		FrameDurationMs:    20,
	}
}

// AudioConfig specifies PCM format parameters.
type AudioConfig struct {
	// SampleRate in Hz. The reference configuration uses 24000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono. The engine is mono end to end.
	Channels int `json:"channels"`

	// BitsPerSample: 16 for PCM16.
	BitsPerSample int `json:"bits_per_sample"`
}

// DefaultAudioConfig returns the standard audio configuration.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		SampleRate:    24000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the audio byte rate.
func (c AudioConfig) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// BytesPerSample returns the size of one sample across all channels.
func (c AudioConfig) BytesPerSample() int {
	return c.Channels * (c.BitsPerSample / 8)
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (c AudioConfig) DurationMs(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}

// BytesForDurationMs returns the byte count for the given duration.
func (c AudioConfig) BytesForDurationMs(ms int) int {
	return (c.BytesPerSecond() * ms) / 1000
}
