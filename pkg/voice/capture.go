package voice

import (
	"fmt"
	"sync"
)

// AudioFrame is one fixed-length block of mono 16-bit PCM plus the rate
// it was captured at. Immutable once produced.
type AudioFrame struct {
	Data       []byte
	SampleRate int
}

// SampleCount returns the number of samples in the frame.
func (f AudioFrame) SampleCount() int {
	return len(f.Data) / 2
}

// InputDevice is the narrow contract to a physical microphone. Open
// acquires the device exclusively and starts delivering raw PCM to onData
// from the device's own thread; Close stops delivery and releases it.
type InputDevice interface {
	Open(sampleRate int, onData func(pcm []byte)) error
	Close() error
}

// frameQueueDepth bounds how many frames may sit between the device
// callback and the consumer before capture reports backpressure.
const frameQueueDepth = 64

// captureTapMs is how much recent audio the visualization tap retains.
const captureTapMs = 500

// CaptureStream owns the microphone and produces a continuous sequence of
// fixed-size PCM frames. Frames are delivered to the Record callback in
// capture order from a single dispatch goroutine; the device callback
// never blocks on the consumer.
type CaptureStream struct {
	dev InputDevice

	mu        sync.Mutex
	cfg       AudioConfig
	frameMs   int
	frameSize int // bytes per frame, fixed at Begin
	began     bool
	recording bool
	onFrame   func(AudioFrame)
	pending   []byte
	stop      chan struct{}

	frames chan AudioFrame
	tap    *AudioBuffer
	errs   chan error
}

// NewCaptureStream creates a capture stream over the given device.
// frameDurationMs controls the frame size; 20ms is typical.
func NewCaptureStream(dev InputDevice, frameDurationMs int) *CaptureStream {
	if frameDurationMs <= 0 {
		frameDurationMs = 20
	}
	return &CaptureStream{
		dev:     dev,
		cfg:     AudioConfig{Channels: 1, BitsPerSample: 16},
		frameMs: frameDurationMs,
		errs:    make(chan error, 1),
	}
}

// Begin acquires the input device at the given sample rate. The device is
// held exclusively until End.
func (c *CaptureStream) Begin(sampleRate int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.began {
		return NewInvalidStateError("capture already began")
	}
	if sampleRate <= 0 {
		return NewInvalidStateError(fmt.Sprintf("invalid sample rate %d", sampleRate))
	}

	c.cfg.SampleRate = sampleRate
	c.frameSize = c.cfg.BytesForDurationMs(c.frameMs)
	c.tap = NewAudioBuffer(c.cfg, captureTapMs)
	c.frames = make(chan AudioFrame, frameQueueDepth)
	c.stop = make(chan struct{})
	c.pending = c.pending[:0]

	if err := c.dev.Open(sampleRate, c.onData); err != nil {
		return NewDeviceUnavailableError(fmt.Sprintf("open input device: %v", err))
	}
	c.began = true

	go c.dispatch(c.frames, c.stop)
	return nil
}

// Record starts continuous frame delivery. onFrame is invoked once per
// frame, in order, from the single dispatch goroutine started at Begin,
// for as long as recording is active. Frames queue when the consumer
// lags; exceeding the bounded queue surfaces BackpressureExceeded on
// Errors.
func (c *CaptureStream) Record(onFrame func(frame AudioFrame)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.began {
		return NewInvalidStateError("capture has not begun")
	}
	if c.recording {
		return NewInvalidStateError("already recording")
	}
	c.recording = true
	c.onFrame = onFrame
	return nil
}

// Pause stops frame delivery without releasing the device. Used for
// push-to-talk gating; Record resumes delivery.
func (c *CaptureStream) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recording = false
	c.onFrame = nil
}

// End stops capture and releases the device. Idempotent.
func (c *CaptureStream) End() error {
	c.mu.Lock()
	if !c.began {
		c.mu.Unlock()
		return nil
	}
	c.began = false
	c.recording = false
	c.onFrame = nil
	stop := c.stop
	c.mu.Unlock()

	err := c.dev.Close()
	close(stop)
	if err != nil {
		return fmt.Errorf("close input device: %w", err)
	}
	return nil
}

// Errors surfaces capture faults (backpressure) without blocking the
// audio path.
func (c *CaptureStream) Errors() <-chan error {
	return c.errs
}

// Waveform returns a downsampled view of the most recently captured
// audio, normalized to [0, 1].
func (c *CaptureStream) Waveform(width int) []float64 {
	c.mu.Lock()
	tap := c.tap
	c.mu.Unlock()
	if tap == nil {
		return make([]float64, width)
	}
	return DownsamplePCM(tap.Read(), width)
}

// Level reports the RMS energy and peak amplitude of the most recently
// captured audio, both in [0, 1].
func (c *CaptureStream) Level() (rms, peak float64) {
	c.mu.Lock()
	tap := c.tap
	c.mu.Unlock()
	if tap == nil {
		return 0, 0
	}
	return tap.RMSEnergy(), CalculatePeakAmplitude(tap.Read())
}

// onData runs on the device thread: assemble fixed-size frames and hand
// them to the queue without blocking.
func (c *CaptureStream) onData(pcm []byte) {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return
	}
	c.pending = append(c.pending, pcm...)

	var ready []AudioFrame
	for len(c.pending) >= c.frameSize {
		frame := make([]byte, c.frameSize)
		copy(frame, c.pending[:c.frameSize])
		c.pending = c.pending[c.frameSize:]
		ready = append(ready, AudioFrame{Data: frame, SampleRate: c.cfg.SampleRate})
	}
	frames, tap := c.frames, c.tap
	c.mu.Unlock()

	for _, frame := range ready {
		tap.Write(frame.Data)
		select {
		case frames <- frame:
		default:
			c.emitErr(NewBackpressureError(
				fmt.Sprintf("frame queue full (%d frames pending)", frameQueueDepth)))
		}
	}
}

func (c *CaptureStream) dispatch(frames <-chan AudioFrame, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case frame := <-frames:
			c.mu.Lock()
			onFrame := c.onFrame
			c.mu.Unlock()
			if onFrame != nil {
				onFrame(frame)
			}
		}
	}
}

func (c *CaptureStream) emitErr(err error) {
	select {
	case c.errs <- err:
	default:
	}
}
