package voice

import (
	"bytes"
	"fmt"
	"sync"
	"time"
)

// TrackOffset identifies how much of one item's audio was actually
// rendered to the output device at the moment of interruption.
type TrackOffset struct {
	TrackID      string
	SampleOffset int
}

// OutputDevice is the narrow contract to a physical speaker. Write
// appends PCM to the device buffer; Flush discards anything buffered but
// not yet audible.
type OutputDevice interface {
	Open(sampleRate int) error
	Write(pcm []byte) error
	Flush()
	Close() error
}

// playbackTick is how often buffered audio is drained to the device.
const playbackTick = 20 * time.Millisecond

// playbackTapMs is how much recently played audio the visualization tap
// retains.
const playbackTapMs = 500

// playbackTrack is the unit of interruption bookkeeping for one item.
type playbackTrack struct {
	id       string
	buffer   bytes.Buffer
	enqueued int64 // bytes accepted for this track
	played   int64 // bytes written to the device
	queued   bool  // present in the arrival-order queue
}

// PlaybackQueue owns the output device. Chunks are keyed by conversation
// item id; each id gets its own track, tracks play in arrival order, and
// each track's chunks play strictly FIFO. Interrupt stops everything and
// reports the exact sample offset the audible track reached.
type PlaybackQueue struct {
	dev OutputDevice
	cfg AudioConfig

	mu        sync.Mutex
	connected bool
	order     []string
	tracks    map[string]*playbackTrack
	current   *playbackTrack
	last      *TrackOffset // frozen offset from the previous interruption
	stop      chan struct{}
	tap       *AudioBuffer
	errs      chan error
}

// NewPlaybackQueue creates a playback queue over the given device.
func NewPlaybackQueue(dev OutputDevice, cfg AudioConfig) *PlaybackQueue {
	return &PlaybackQueue{
		dev:    dev,
		cfg:    cfg,
		tracks: make(map[string]*playbackTrack),
		tap:    NewAudioBuffer(cfg, playbackTapMs),
		errs:   make(chan error, 1),
	}
}

// Connect acquires the output device and starts the drain loop.
func (q *PlaybackQueue) Connect() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.connected {
		return NewInvalidStateError("playback already connected")
	}
	if err := q.dev.Open(q.cfg.SampleRate); err != nil {
		return NewDeviceUnavailableError(fmt.Sprintf("open output device: %v", err))
	}
	q.connected = true
	q.stop = make(chan struct{})
	go q.run(q.stop)
	return nil
}

// Enqueue appends a PCM chunk to the track for itemID, creating the
// track on first use. Chunks for one track play in arrival order.
func (q *PlaybackQueue) Enqueue(chunk []byte, itemID string) error {
	if len(chunk) == 0 {
		return nil
	}
	if len(chunk)%2 != 0 {
		return NewDecodeError(fmt.Sprintf("odd PCM16 chunk length %d", len(chunk)))
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	track, ok := q.tracks[itemID]
	if !ok {
		track = &playbackTrack{id: itemID}
		q.tracks[itemID] = track
	}
	if !track.queued {
		track.queued = true
		q.order = append(q.order, itemID)
	}
	track.buffer.Write(chunk)
	track.enqueued += int64(len(chunk))
	return nil
}

// Interrupt stops all current and queued playback immediately and returns
// the identity and exact sample count already rendered for the track that
// was audible, or nil if nothing was ever audible. Calling it again
// without further enqueues repeats the frozen offset.
func (q *PlaybackQueue) Interrupt() *TrackOffset {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current != nil && q.current.played > 0 {
		q.last = &TrackOffset{
			TrackID:      q.current.id,
			SampleOffset: int(q.current.played) / q.cfg.BytesPerSample(),
		}
	}

	q.current = nil
	q.order = nil
	q.tracks = make(map[string]*playbackTrack)
	q.tap.Clear()
	if q.connected {
		q.dev.Flush()
	}
	return q.last
}

// Close stops the drain loop, discards pending audio, and releases the
// device. Idempotent.
func (q *PlaybackQueue) Close() error {
	q.mu.Lock()
	if !q.connected {
		q.mu.Unlock()
		return nil
	}
	q.connected = false
	close(q.stop)
	q.order = nil
	q.tracks = make(map[string]*playbackTrack)
	q.current = nil
	q.mu.Unlock()

	q.dev.Flush()
	if err := q.dev.Close(); err != nil {
		return fmt.Errorf("close output device: %w", err)
	}
	return nil
}

// Decode converts raw delta bytes into a playable waveform, resampling if
// the rates differ. Pure and stateless.
func (q *PlaybackQueue) Decode(raw []byte, sourceRate, targetRate int) (*Waveform, error) {
	return DecodePCM16(raw, sourceRate, targetRate)
}

// Errors surfaces device write faults.
func (q *PlaybackQueue) Errors() <-chan error {
	return q.errs
}

// Waveform returns a downsampled view of the most recently played audio,
// normalized to [0, 1].
func (q *PlaybackQueue) Waveform(width int) []float64 {
	return DownsamplePCM(q.tap.Read(), width)
}

// Level reports the RMS energy and peak amplitude of the most recently
// played audio, both in [0, 1]. Interrupt resets it to silence.
func (q *PlaybackQueue) Level() (rms, peak float64) {
	return q.tap.RMSEnergy(), CalculatePeakAmplitude(q.tap.Read())
}

func (q *PlaybackQueue) run(stop <-chan struct{}) {
	ticker := time.NewTicker(playbackTick)
	defer ticker.Stop()

	bytesPerTick := q.cfg.BytesForDurationMs(int(playbackTick / time.Millisecond))
	bytesPerTick -= bytesPerTick % q.cfg.BytesPerSample()
	if bytesPerTick <= 0 {
		bytesPerTick = q.cfg.BytesPerSample()
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			q.advance(bytesPerTick)
		}
	}
}

// advance drains up to maxBytes of the current track to the device. The
// lock is held across the device write so that Interrupt is atomic with
// respect to it: once an offset is computed, no earlier chunk can reach
// the device afterwards.
func (q *PlaybackQueue) advance(maxBytes int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current == nil || q.current.buffer.Len() == 0 {
		q.advanceTrackLocked()
	}
	if q.current == nil || q.current.buffer.Len() == 0 {
		return
	}

	n := maxBytes
	if n > q.current.buffer.Len() {
		n = q.current.buffer.Len()
	}
	chunk := q.current.buffer.Next(n)
	q.current.played += int64(n)
	q.tap.Write(chunk)

	if q.connected {
		if err := q.dev.Write(chunk); err != nil {
			q.emitErr(fmt.Errorf("write output device: %w", err))
		}
	}
}

// advanceTrackLocked selects the next track with buffered audio, in
// arrival order. A finished current track stays selected until a
// successor has data, so its frozen offset remains reportable.
func (q *PlaybackQueue) advanceTrackLocked() {
	for len(q.order) > 0 {
		id := q.order[0]
		track := q.tracks[id]
		if track == nil {
			q.order = q.order[1:]
			continue
		}
		if q.current != nil && q.current.id == id && track.buffer.Len() == 0 {
			// Current track drained; only move past it when another
			// track actually has audio.
			if len(q.order) > 1 {
				q.order = q.order[1:]
				track.queued = false
				continue
			}
			return
		}
		q.current = track
		return
	}
}

func (q *PlaybackQueue) emitErr(err error) {
	select {
	case q.errs <- err:
	default:
	}
}
