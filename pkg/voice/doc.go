// Package voice implements a real-time duplex voice conversation engine.
//
// It captures live microphone audio, streams it to a remote conversation
// service, receives interleaved transcript and audio deltas back, plays
// the audio, and keeps the conversation log consistent with what was
// actually heard — including sample-accurate truncation on barge-in.
//
// # Architecture
//
// The package provides four cooperating components plus a visualization
// helper:
//
//   - CaptureStream: owns the microphone, produces fixed-size PCM frames
//   - PlaybackQueue: owns the speaker, plays per-item tracks FIFO and
//     reports the exact rendered sample offset on interruption
//   - ConversationStore: the ordered item log, updated delta by delta
//   - Session: the state machine wiring everything together
//   - DownsampleWaveform: deterministic amplitude reduction for display
//
// # Data Flow
//
//	Mic → CaptureStream → frame queue → remote service
//	                                         │
//	Speaker ← PlaybackQueue ← audio deltas ──┤
//	          ConversationStore ← transcript deltas
//
// On barge-in the remote service reports new user speech, the playback
// queue is interrupted, and the rendered (trackID, sampleOffset) pair is
// sent back so the service can truncate its record of what was "said" to
// match what was actually heard.
//
// # State Machine
//
//	DISCONNECTED → CONNECTING → CONNECTED → DISCONNECTED
//
// Transitions are serialized; remote events are consumed by a single
// goroutine in arrival order.
package voice
