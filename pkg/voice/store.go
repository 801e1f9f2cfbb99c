package voice

import (
	"fmt"
	"sync"

	"github.com/quantum-box/ai-talk/pkg/realtime"
)

// Role identifies who produced a conversation item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ItemStatus is the lifecycle state of a conversation item. Items move
// pending → completed exactly once and never back.
type ItemStatus string

const (
	StatusPending   ItemStatus = "pending"
	StatusCompleted ItemStatus = "completed"
)

// Item is one entry in the conversation log. Transcript grows append-only
// while pending and freezes at completion; Audio is attached only at
// completion and only for items that carried audio deltas.
type Item struct {
	ID         string
	Role       Role
	Status     ItemStatus
	Transcript string
	Audio      *Waveform

	pendingAudio []byte // raw PCM accumulated from deltas, decoded at completion
}

// AudioSink receives audio deltas keyed by item id. Satisfied by
// *PlaybackQueue.
type AudioSink interface {
	Enqueue(chunk []byte, itemID string) error
}

// ConversationStore is the ordered, mutable log of conversation items for
// one session, updated incrementally as deltas arrive. Items are owned
// exclusively by the store; Items returns snapshot copies.
type ConversationStore struct {
	cfg  AudioConfig
	sink AudioSink

	mu    sync.RWMutex
	order []string
	items map[string]*Item
}

// NewConversationStore creates an empty store. Audio deltas applied to
// the store are forwarded to sink for playback.
func NewConversationStore(cfg AudioConfig, sink AudioSink) *ConversationStore {
	return &ConversationStore{
		cfg:   cfg,
		sink:  sink,
		items: make(map[string]*Item),
	}
}

// Add creates a pending item with the given id and role. Adding an id
// twice is an error: ids are unique within a session.
func (s *ConversationStore) Add(id string, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; ok {
		return NewInvalidStateError(fmt.Sprintf("duplicate item id %q", id))
	}
	s.items[id] = &Item{ID: id, Role: role, Status: StatusPending}
	s.order = append(s.order, id)
	return nil
}

// SetTranscript replaces the transcript of a pending item. Used for
// locally created user items whose text is known up front.
func (s *ConversationStore) SetTranscript(id, transcript string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return NewInvalidStateError(fmt.Sprintf("unknown item id %q", id))
	}
	if item.Status == StatusCompleted {
		return NewInvalidStateError(fmt.Sprintf("item %q already completed", id))
	}
	item.Transcript = transcript
	return nil
}

// ApplyDelta merges a partial update into the item. Text appends to the
// transcript; audio accumulates for completion-time decoding and is
// forwarded to the playback sink. Deltas are consumed exactly once — the
// store performs no deduplication.
//
// A delta for an unknown id creates a pending assistant item: the remote
// service announces items through their first delta.
func (s *ConversationStore) ApplyDelta(itemID string, delta realtime.Delta) error {
	s.mu.Lock()
	item, ok := s.items[itemID]
	if !ok {
		item = &Item{ID: itemID, Role: RoleAssistant, Status: StatusPending}
		s.items[itemID] = item
		s.order = append(s.order, itemID)
	}
	if item.Status == StatusCompleted {
		s.mu.Unlock()
		return NewInvalidStateError(fmt.Sprintf("delta for completed item %q", itemID))
	}
	item.Transcript += delta.Text
	if len(delta.Audio) > 0 {
		item.pendingAudio = append(item.pendingAudio, delta.Audio...)
	}
	s.mu.Unlock()

	// Forward audio outside the lock: playback must not serialize
	// against transcript reads.
	if len(delta.Audio) > 0 && s.sink != nil {
		if err := s.sink.Enqueue(delta.Audio, itemID); err != nil {
			return err
		}
	}
	return nil
}

// MarkCompleted flips the item to completed and, when audio deltas were
// accumulated, decodes and attaches the final waveform. A decode failure
// leaves Audio unset and is returned as a non-fatal error; the transcript
// is unaffected.
func (s *ConversationStore) MarkCompleted(itemID string) error {
	s.mu.Lock()
	item, ok := s.items[itemID]
	if !ok {
		s.mu.Unlock()
		return NewInvalidStateError(fmt.Sprintf("unknown item id %q", itemID))
	}
	item.Status = StatusCompleted
	raw := item.pendingAudio
	item.pendingAudio = nil
	s.mu.Unlock()

	if len(raw) == 0 {
		return nil
	}

	waveform, err := DecodePCM16(raw, s.cfg.SampleRate, s.cfg.SampleRate)
	if err != nil {
		return err
	}

	s.mu.Lock()
	item.Audio = waveform
	s.mu.Unlock()
	return nil
}

// Items returns the current full log in arrival order. The returned
// items are snapshot copies; callers must not mutate the shared Audio
// sample slices.
func (s *ConversationStore) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Item, 0, len(s.order))
	for _, id := range s.order {
		item := s.items[id]
		out = append(out, Item{
			ID:         item.ID,
			Role:       item.Role,
			Status:     item.Status,
			Transcript: item.Transcript,
			Audio:      item.Audio,
		})
	}
	return out
}

// Len returns the number of items in the log.
func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Reset clears the log entirely. Used on disconnect; nothing survives.
func (s *ConversationStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.items = make(map[string]*Item)
}
