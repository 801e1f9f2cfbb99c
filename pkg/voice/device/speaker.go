package device

import (
	"fmt"
	"io"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// Speaker is an oto-backed implementation of voice.OutputDevice. Audio
// written to it is buffered and pulled by oto's player; Flush discards
// anything not yet rendered so interruption is immediate.
type Speaker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	ctx     *oto.Context
	player  *oto.Player
	buf     []byte
	gen     int
	playing bool
	closed  bool
}

// speakerReader feeds one player generation. Flush and Close bump the
// speaker's generation, so a reader belonging to a discarded player sees
// EOF instead of consuming audio meant for its successor.
type speakerReader struct {
	s   *Speaker
	gen int
}

func (r *speakerReader) Read(p []byte) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed && s.gen == r.gen {
		s.cond.Wait()
	}
	// Close and Flush both retire the generation, so a stale reader ends
	// its player instead of stealing audio written afterwards.
	if s.gen != r.gen || (s.closed && len(s.buf) == 0) {
		return 0, io.EOF
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Open acquires the default output device at the given rate, S16LE mono.
func (s *Speaker) Open(sampleRate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// oto allows a single context per process, so reopening after Close
	// resumes the suspended context instead of creating a new one.
	if s.ctx != nil {
		if !s.closed {
			return fmt.Errorf("speaker already open")
		}
		s.buf = nil
		s.closed = false
		return s.ctx.Resume()
	}
	s.cond = sync.NewCond(&s.mu)

	opts := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		// ~100ms device buffer keeps latency low without glitching.
		BufferSize: sampleRate * 2 / 10,
	}
	ctx, ready, err := oto.NewContext(opts)
	if err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}
	<-ready

	s.ctx = ctx
	s.closed = false
	return nil
}

// Write appends PCM to the playback buffer, starting the player on the
// first write.
func (s *Speaker) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil || s.closed {
		return fmt.Errorf("speaker is not open")
	}
	s.buf = append(s.buf, pcm...)

	if !s.playing {
		s.playing = true
		s.player = s.ctx.NewPlayer(&speakerReader{s: s, gen: s.gen})
		s.player.Play()
	}
	s.cond.Signal()
	return nil
}

// Flush discards all pending audio and retires the current player so
// nothing buffered after the cut is ever heard. A reader blocked on the
// old player wakes up and sees EOF rather than the next track's audio.
func (s *Speaker) Flush() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	s.gen++
	player := s.player
	playing := s.playing
	s.player = nil
	s.playing = false
	if s.cond != nil {
		s.cond.Broadcast()
	}
	s.mu.Unlock()

	if player != nil && playing {
		player.Pause()
		_ = player.Close()
	}
}

// Close releases the output device. Safe to call when not open.
func (s *Speaker) Close() error {
	s.mu.Lock()
	s.closed = true
	s.gen++
	player := s.player
	s.player = nil
	s.playing = false
	if s.cond != nil {
		s.cond.Broadcast()
	}
	s.mu.Unlock()

	if player != nil {
		_ = player.Close()
	}
	// oto contexts cannot be torn down; suspend output instead.
	if s.ctx != nil {
		_ = s.ctx.Suspend()
	}
	return nil
}
