// Package chat holds the persisted conversation of the chat client.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/studio-relay/internal/domain"
	"github.com/ashureev/studio-relay/internal/store"
)

const (
	// StorageKey is the KV key holding the persisted session.
	StorageKey = "chat-history"

	// Appends matching one of the last dedupLookback messages by role and
	// content within dedupWindow are dropped.
	dedupLookback = 3
	dedupWindow   = time.Second
)

type session struct {
	Messages []domain.ChatMessage `json:"messages"`
}

// Store is the append-only conversation. All methods are safe for concurrent
// use; appends are serialized together with their persistence.
type Store struct {
	kv  store.KV
	now func() time.Time

	mu       sync.Mutex
	messages []domain.ChatMessage
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp messages.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty Store persisting to kv. Call Hydrate to load the
// previous session.
func NewStore(kv store.KV, opts ...Option) *Store {
	s := &Store{kv: kv, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hydrate replaces the in-memory session with the persisted one, dropping
// exact duplicates and unknown roles. Read or parse failures leave an empty session.
func (s *Store) Hydrate(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	raw, err := s.kv.Get(ctx, StorageKey)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		slog.Error("Failed to read chat history", "error", err)
		return
	}

	var saved session
	if err := json.Unmarshal(raw, &saved); err != nil {
		slog.Error("Failed to parse chat history", "error", err)
		return
	}
	s.messages = sanitize(saved.Messages)
	slog.Debug("Chat history loaded", "messages", len(s.messages), "dropped", len(saved.Messages)-len(s.messages))
}

// Append stamps msg with the current time and stores it, unless one of the
// most recent messages has the same role and content and was stamped less than
// a second apart. Messages with an unknown role are dropped.
func (s *Store) Append(ctx context.Context, msg domain.StoredMessage) {
	if !msg.Role.Valid() {
		slog.Warn("Dropping chat message with unknown role", "role", msg.Role)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := domain.ChatMessage{
		Role:      msg.Role,
		Content:   msg.Content,
		Timestamp: s.now().UnixMilli(),
	}
	if s.isRecentDuplicate(next) {
		slog.Debug("Skipping duplicate chat message", "role", next.Role)
		return
	}

	s.messages = append(s.messages, next)
	s.persist(ctx)
}

// Clear empties the session and persists the empty state.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.persist(ctx)
}

// Messages returns a snapshot of the conversation in insertion order.
func (s *Store) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *Store) isRecentDuplicate(next domain.ChatMessage) bool {
	start := max(len(s.messages)-dedupLookback, 0)
	for _, m := range s.messages[start:] {
		delta := next.Timestamp - m.Timestamp
		if delta < 0 {
			delta = -delta
		}
		if m.Role == next.Role && m.Content == next.Content && delta < dedupWindow.Milliseconds() {
			return true
		}
	}
	return false
}

// persist writes the full session. Failures are logged; memory stays authoritative.
func (s *Store) persist(ctx context.Context) {
	messages := s.messages
	if messages == nil {
		messages = []domain.ChatMessage{}
	}
	data, err := json.Marshal(session{Messages: messages})
	if err == nil {
		err = s.kv.Set(ctx, StorageKey, data)
	}
	if err != nil {
		slog.Error("Failed to save chat history", "error", fmt.Errorf("persist %d messages: %w", len(messages), err))
	}
}

type messageKey struct {
	role      domain.Role
	content   string
	timestamp int64
}

// sanitize drops exact duplicates and messages with an unknown role.
func sanitize(messages []domain.ChatMessage) []domain.ChatMessage {
	seen := make(map[messageKey]struct{}, len(messages))
	out := make([]domain.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if !m.Role.Valid() {
			continue
		}
		k := messageKey{m.Role, m.Content, m.Timestamp}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, m)
	}
	return out
}
