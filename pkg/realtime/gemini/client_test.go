package gemini

import (
	"testing"

	"github.com/quantum-box/ai-talk/pkg/realtime"
)

func TestClientOpenLifecycle(t *testing.T) {
	c := NewClient("test-key")

	if err := c.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := c.Open(); err == nil {
		t.Error("expected error opening an already open client")
	}

	firstEvents := c.Events()
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	// A closed but never-configured session drains its event channel.
	if _, ok := <-firstEvents; ok {
		t.Error("expected the event channel to be closed")
	}

	// Reopen starts over with a fresh stream.
	if err := c.Open(); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c.Close()
	if c.Events() == firstEvents {
		t.Error("expected a fresh event channel after reopen")
	}
}

func TestClientSendBeforeConfigure(t *testing.T) {
	c := NewClient("test-key")
	if err := c.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	if err := c.SendUserText("hello"); err == nil {
		t.Error("expected error sending before the session is configured")
	}
	if err := c.SendAudioFrame([]byte{0, 0}); err == nil {
		t.Error("expected error streaming before the session is configured")
	}
	if err := c.CancelResponse("resp-1", 0); err == nil {
		t.Error("expected error cancelling before the session is configured")
	}
}

func TestClientConfigureBeforeOpen(t *testing.T) {
	c := NewClient("test-key")
	if err := c.ConfigureSession(realtime.SessionSettings{}); err == nil {
		t.Error("expected error configuring before open")
	}
}

func TestClientSendAfterClose(t *testing.T) {
	c := NewClient("test-key")
	if err := c.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.SendUserText("late"); err == nil {
		t.Error("expected error sending after close")
	}
}
