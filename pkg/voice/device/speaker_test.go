package device

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"
)

// testSpeaker builds a Speaker without touching the real output device.
// The reader path only needs the lock and the condition variable.
func testSpeaker() *Speaker {
	s := &Speaker{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func TestSpeakerFlushStopsStaleReader(t *testing.T) {
	s := testSpeaker()
	stale := &speakerReader{s: s, gen: s.gen}

	readErr := make(chan error, 1)
	go func() {
		_, err := stale.Read(make([]byte, 4))
		readErr <- err
	}()

	// Let the reader park on the empty buffer, then cut playback.
	time.Sleep(20 * time.Millisecond)
	s.Flush()

	select {
	case err := <-readErr:
		if err != io.EOF {
			t.Fatalf("expected EOF from the retired reader, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("flush did not wake the blocked reader")
	}

	// Audio arriving after the flush belongs to the next player: the
	// retired reader must refuse it and leave it for the current one.
	s.mu.Lock()
	s.buf = append(s.buf, 1, 2, 3, 4)
	gen := s.gen
	s.mu.Unlock()

	if n, err := stale.Read(make([]byte, 4)); err != io.EOF || n != 0 {
		t.Fatalf("expected the retired reader to refuse the audio, got n=%d err=%v", n, err)
	}

	fresh := &speakerReader{s: s, gen: gen}
	buf := make([]byte, 4)
	n, err := fresh.Read(buf)
	if err != nil || n != 4 {
		t.Fatalf("expected the current reader to get the audio, got n=%d err=%v", n, err)
	}
	if !bytes.Equal(buf, []byte{1, 2, 3, 4}) {
		t.Fatalf("unexpected audio: %v", buf)
	}
}

func TestSpeakerCloseUnblocksReader(t *testing.T) {
	s := testSpeaker()
	reader := &speakerReader{s: s, gen: s.gen}

	readErr := make(chan error, 1)
	go func() {
		_, err := reader.Read(make([]byte, 4))
		readErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-readErr:
		if err != io.EOF {
			t.Fatalf("expected EOF after close, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("close did not wake the blocked reader")
	}
}
