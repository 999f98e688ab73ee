// Package timetable fetches stop timetables from the provider and keeps the
// selected stop's normalized timetable.
package timetable

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cerdanyolabus/busmap/internal/models"
)

// Store holds the selected stop's timetable and its loading flags
type Store struct {
	mu      sync.RWMutex
	fetcher Fetcher
	metrics Metrics
	state   models.TimetableState
}

// NewStore creates an empty, not yet loaded store
func NewStore(f Fetcher, m Metrics) *Store {
	return &Store{
		fetcher: f,
		metrics: m,
		state: models.TimetableState{
			Timetable: []models.NormalizedLineTimetable{},
		},
	}
}

// Load replaces the timetable with the stop's upcoming buses. Provider
// failures leave the timetable empty. Overlapping calls are not sequenced:
// whichever finishes last wins.
func (s *Store) Load(ctx context.Context, stopID, lineID, zoneID int) {
	s.mu.Lock()
	s.state = models.TimetableState{
		Timetable: []models.NormalizedLineTimetable{},
		IsLoading: true,
		IsLoaded:  false,
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.state = models.TimetableState{
			Timetable: s.state.Timetable,
			IsLoading: false,
			IsLoaded:  true,
		}
		s.mu.Unlock()
	}()

	raw, err := s.fetcher.FetchTimetable(ctx, stopID, lineID, zoneID)
	if err != nil {
		slog.Warn("Failed to load timetable", "stop", stopID, "error", err)
		s.observe(0)
		return
	}

	lines := WithBuses(Normalize(raw))

	s.mu.Lock()
	s.state = models.TimetableState{
		Timetable: lines,
		IsLoading: s.state.IsLoading,
		IsLoaded:  s.state.IsLoaded,
	}
	s.mu.Unlock()

	s.observe(len(lines))
}

// Clear empties the timetable without touching the loading flags
func (s *Store) Clear() {
	s.mu.Lock()
	s.state = models.TimetableState{
		Timetable: []models.NormalizedLineTimetable{},
		IsLoading: s.state.IsLoading,
		IsLoaded:  s.state.IsLoaded,
	}
	s.mu.Unlock()

	s.observe(0)
}

// State returns the current snapshot
func (s *Store) State() models.TimetableState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Store) observe(lines int) {
	if s.metrics != nil {
		s.metrics.SetLinesShown(lines)
	}
}
