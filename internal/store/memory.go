package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/models"
	lru "github.com/hashicorp/golang-lru/v2"
)

// stateMap is the subset of lru.Cache used by InMemoryStore, so a plain map can stand in for it.
type stateMap interface {
	Get(key string) (models.ConversationState, bool)
	Add(key string, value models.ConversationState) bool
	Remove(key string) bool
	Len() int
}

type unboundedStateMap map[string]models.ConversationState

func (m unboundedStateMap) Get(key string) (models.ConversationState, bool) {
	v, ok := m[key]
	return v, ok
}

func (m unboundedStateMap) Add(key string, value models.ConversationState) bool {
	m[key] = value
	return false
}

func (m unboundedStateMap) Remove(key string) bool {
	_, ok := m[key]
	delete(m, key)
	return ok
}

func (m unboundedStateMap) Len() int {
	return len(m)
}

// InMemoryStore keeps conversation state, feedback, and dedup records for the process lifetime.
type InMemoryStore struct {
	mu       sync.RWMutex
	states   stateMap
	feedback []models.Feedback
	inbound  map[string]*DedupRecord
	closed   bool
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an in-memory store. With WithMaxConversations the
// least recently used conversations are evicted; otherwise state is never evicted.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	var states stateMap = unboundedStateMap{}
	if cfg.MaxConversations > 0 {
		cache, err := lru.NewWithEvict[string, models.ConversationState](cfg.MaxConversations, func(id string, _ models.ConversationState) {
			slog.Debug("InMemoryStore evicted conversation", "conversationID", id)
		})
		if err != nil {
			slog.Warn("InMemoryStore failed to create bounded cache, falling back to unbounded map", "error", err, "max", cfg.MaxConversations)
		} else {
			states = cache
		}
	}
	slog.Debug("InMemoryStore created", "max_conversations", cfg.MaxConversations)

	return &InMemoryStore{
		states:  states,
		inbound: make(map[string]*DedupRecord),
	}
}

// GetState returns the stored state or idle.
func (s *InMemoryStore) GetState(ctx context.Context, conversationID string) (models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return models.ConversationState{}, ErrStoreClosed
	}
	state, ok := s.states.Get(conversationID)
	if !ok {
		return models.Idle(), nil
	}
	state.Options = append([]string(nil), state.Options...)
	return state, nil
}

// SaveState overwrites the state of a conversation.
func (s *InMemoryStore) SaveState(ctx context.Context, conversationID string, state models.ConversationState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}
	state.Options = append([]string(nil), state.Options...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.states.Add(conversationID, state)
	return nil
}

// DeleteState forgets a conversation.
func (s *InMemoryStore) DeleteState(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.states.Remove(conversationID)
	return nil
}

// ConversationCount returns the number of conversations currently held.
func (s *InMemoryStore) ConversationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states.Len()
}

// AddFeedback appends a feedback record.
func (s *InMemoryStore) AddFeedback(ctx context.Context, fb models.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.feedback = append(s.feedback, fb)
	return nil
}

// ListFeedback returns feedback records, newest first.
func (s *InMemoryStore) ListFeedback(ctx context.Context, limit int) ([]models.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]models.Feedback, len(s.feedback))
	copy(out, s.feedback)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// IsDuplicate checks if a message ID has already been recorded.
func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.inbound[messageID]
	return ok, nil
}

// RecordInbound records a message ID. Returns false if it was already recorded.
func (s *InMemoryStore) RecordInbound(messageID, conversationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[messageID]; ok {
		return false, nil
	}
	s.inbound[messageID] = &DedupRecord{MessageID: messageID, ConversationID: conversationID, ReceivedAt: time.Now()}
	return true, nil
}

// MarkProcessed sets the processed timestamp of a recorded message.
func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.inbound[messageID]; ok {
		now := time.Now()
		rec.ProcessedAt = &now
	}
	return nil
}

// PruneInbound forgets dedup records received before the cutoff.
func (s *InMemoryStore) PruneInbound(before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.inbound {
		if rec.ReceivedAt.Before(before) {
			delete(s.inbound, id)
			n++
		}
	}
	return n, nil
}

// Close marks the store closed.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
