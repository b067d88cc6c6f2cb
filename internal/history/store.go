// Package history keeps the capped, most-recent-first record of generated
// images and persists it through a quota-limited KV with a degrade ladder.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/studio-relay/internal/domain"
	"github.com/ashureev/studio-relay/internal/store"
)

// StorageKey is the KV key holding the persisted entries.
const StorageKey = "image-gen-history"

// tier picks the subset of entries attempted at one step of the ladder.
type tier struct {
	name string
	pick func([]domain.HistoryEntry) []domain.HistoryEntry
}

// ladder is tried in order until one write succeeds.
var ladder = []tier{
	{name: "full", pick: func(e []domain.HistoryEntry) []domain.HistoryEntry { return e }},
	{name: "half", pick: func(e []domain.HistoryEntry) []domain.HistoryEntry { return e[:max(1, len(e)/2)] }},
	{name: "latest", pick: func(e []domain.HistoryEntry) []domain.HistoryEntry { return e[:1] }},
}

// Store owns the in-memory history and its persistence. Record and Remove are
// serialized so concurrent completions never lose an entry.
type Store struct {
	kv  store.KV
	now func() time.Time

	mu      sync.Mutex
	entries []domain.HistoryEntry
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp entries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty Store over kv.
func NewStore(kv store.KV, opts ...Option) *Store {
	s := &Store{kv: kv, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the persisted entries into memory, keeping the first entry for
// each id and capping to MaxHistory, and returns them. Read or parse failures
// yield an empty history.
func (s *Store) Load(ctx context.Context) []domain.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	raw, err := s.kv.Get(ctx, StorageKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("Failed to read image history", "error", err)
		}
		return nil
	}

	var saved []domain.HistoryEntry
	if err := json.Unmarshal(raw, &saved); err != nil {
		slog.Error("Failed to parse image history", "error", err)
		return nil
	}
	saved = uniqueIDs(saved)
	if len(saved) > domain.MaxHistory {
		saved = saved[:domain.MaxHistory]
	}
	s.entries = saved
	return clone(s.entries)
}

// Record stamps a new entry for a finished generation, prepends it and
// persists the capped collection. imageURI must already be compressed.
func (s *Store) Record(ctx context.Context, prompt, imageURI string, steps int) domain.HistoryEntry {
	entry := domain.HistoryEntry{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		ImageURI:  imageURI,
		Steps:     steps,
		Timestamp: s.now().UnixMilli(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updated := make([]domain.HistoryEntry, 0, min(len(s.entries)+1, domain.MaxHistory))
	updated = append(updated, entry)
	updated = append(updated, s.entries...)
	if len(updated) > domain.MaxHistory {
		updated = updated[:domain.MaxHistory]
	}
	s.commit(ctx, updated)
	return entry
}

// Remove deletes the entry with id and persists the result. It reports
// whether an entry was removed.
func (s *Store) Remove(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := make([]domain.HistoryEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.ID != id {
			updated = append(updated, e)
		}
	}
	if len(updated) == len(s.entries) {
		return false
	}
	s.commit(ctx, updated)
	return true
}

// Clear empties the history and persists the empty collection.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	s.Save(ctx, nil)
}

// Entries returns a snapshot of the history, newest first.
func (s *Store) Entries() []domain.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.entries)
}

// commit persists updated and adopts what was stored. When nothing could be
// stored the in-memory copy stays authoritative.
func (s *Store) commit(ctx context.Context, updated []domain.HistoryEntry) {
	saved := s.Save(ctx, updated)
	if len(saved) == 0 {
		s.entries = updated
		return
	}
	s.entries = saved
}

// Save persists entries, falling back to smaller subsets when the write is
// rejected. It returns the subset that was stored, or an empty slice after
// clearing the persisted history when every tier failed.
func (s *Store) Save(ctx context.Context, entries []domain.HistoryEntry) []domain.HistoryEntry {
	if len(entries) == 0 {
		if err := s.write(ctx, []domain.HistoryEntry{}); err != nil {
			slog.Warn("Failed to save empty image history", "error", err)
			s.clearPersisted(ctx)
		}
		return []domain.HistoryEntry{}
	}

	for _, t := range ladder {
		subset := t.pick(entries)
		err := s.write(ctx, subset)
		if err == nil {
			if t.name != "full" {
				slog.Warn("Image history saved with reduced entries", "tier", t.name, "entries", len(subset), "requested", len(entries))
			}
			return clone(subset)
		}
		slog.Warn("Failed to save image history", "tier", t.name, "entries", len(subset), "error", err)
	}

	s.clearPersisted(ctx)
	return []domain.HistoryEntry{}
}

func (s *Store) write(ctx context.Context, entries []domain.HistoryEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, StorageKey, data)
}

func (s *Store) clearPersisted(ctx context.Context) {
	if err := s.kv.Delete(ctx, StorageKey); err != nil {
		slog.Error("Failed to clear image history", "error", err)
		return
	}
	slog.Error("Image history cleared after every save attempt failed")
}

func clone(entries []domain.HistoryEntry) []domain.HistoryEntry {
	out := make([]domain.HistoryEntry, len(entries))
	copy(out, entries)
	return out
}

func uniqueIDs(entries []domain.HistoryEntry) []domain.HistoryEntry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]domain.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}
