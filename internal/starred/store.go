// Package starred keeps the user's starred stops and the starred-only map
// filter, persisted after every change.
package starred

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/cerdanyolabus/busmap/internal/models"
	"github.com/cerdanyolabus/busmap/internal/storage"
)

const (
	// StorageKey is the storage key of the persisted state
	StorageKey = "starred-bus-stops"
	// schemaVersion is written in the envelope; other versions are discarded
	schemaVersion = 0
)

// envelope is the persisted document
type envelope struct {
	State   models.StarredStopsState `json:"state"`
	Version int                      `json:"version"`
}

// Metrics receives starred stop changes
type Metrics interface {
	StarToggled()
	SetStarredStops(n int)
}

// Store is the starred stops state container
type Store struct {
	mu      sync.RWMutex
	storage storage.Storage
	metrics Metrics
	state   models.StarredStopsState
}

// New creates a store rehydrated from s. Unreadable or foreign-version
// documents start empty.
func New(s storage.Storage, m Metrics) (*Store, error) {
	st := &Store{
		storage: s,
		metrics: m,
		state:   models.StarredStopsState{StarredStopIDs: []int{}},
	}

	raw, ok, err := s.Get(StorageKey)
	if err != nil {
		return nil, fmt.Errorf("read starred stops: %w", err)
	}
	if ok {
		var env envelope
		switch err := json.Unmarshal([]byte(raw), &env); {
		case err != nil:
			slog.Warn("Discarding unreadable starred stops", "error", err)
		case env.Version != schemaVersion:
			slog.Warn("Discarding starred stops with unknown version", "version", env.Version)
		default:
			st.state = models.StarredStopsState{
				StarredStopIDs:  dedupe(env.State.StarredStopIDs),
				ShowOnlyStarred: env.State.ShowOnlyStarred,
			}
		}
	}

	st.observe()
	return st, nil
}

// ToggleStar adds id if absent and removes it otherwise
func (s *Store) ToggleStar(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := slices.Clone(s.state.StarredStopIDs)
	if i := slices.Index(ids, id); i >= 0 {
		ids = slices.Delete(ids, i, i+1)
	} else {
		ids = append(ids, id)
	}

	next := models.StarredStopsState{
		StarredStopIDs:  ids,
		ShowOnlyStarred: s.state.ShowOnlyStarred,
	}
	if err := s.set(next); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.StarToggled()
	}
	return nil
}

// IsStarred reports whether id is starred
func (s *Store) IsStarred(id int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.state.StarredStopIDs, id)
}

// SetShowOnlyStarred sets the starred-only filter
func (s *Store) SetShowOnlyStarred(show bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.set(models.StarredStopsState{
		StarredStopIDs:  s.state.StarredStopIDs,
		ShowOnlyStarred: show,
	})
}

// State returns a copy of the current state
func (s *Store) State() models.StarredStopsState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return models.StarredStopsState{
		StarredStopIDs:  slices.Clone(s.state.StarredStopIDs),
		ShowOnlyStarred: s.state.ShowOnlyStarred,
	}
}

// set replaces the state and persists it in full. Callers hold s.mu.
func (s *Store) set(next models.StarredStopsState) error {
	s.state = next
	s.observe()

	data, err := json.Marshal(envelope{State: next, Version: schemaVersion})
	if err != nil {
		return fmt.Errorf("encode starred stops: %w", err)
	}
	if err := s.storage.Set(StorageKey, string(data)); err != nil {
		return fmt.Errorf("persist starred stops: %w", err)
	}
	return nil
}

func (s *Store) observe() {
	if s.metrics != nil {
		s.metrics.SetStarredStops(len(s.state.StarredStopIDs))
	}
}

func dedupe(ids []int) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
