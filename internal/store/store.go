package store

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cerdanyolabus/busmap/internal/models"
)

// ErrStopNotFound is returned for unknown stop ids
var ErrStopNotFound = errors.New("stop not found")

// Store manages the in-memory stop catalog
type Store struct {
	mu          sync.RWMutex
	stops       []models.BusStop
	stopsByID   map[int]int
	stopsByLine map[string][]int
	lastUpdate  time.Time
	lines       []string
}

// NewStore creates a new store instance
func NewStore() *Store {
	return &Store{
		stopsByID:   make(map[int]int),
		stopsByLine: make(map[string][]int),
	}
}

// UpdateStops replaces the catalog
func (s *Store) UpdateStops(stops []models.BusStop) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stops = make([]models.BusStop, len(stops))
	copy(s.stops, stops)
	s.lastUpdate = time.Now()

	// Rebuild indices
	s.stopsByID = make(map[int]int, len(stops))
	s.stopsByLine = make(map[string][]int)

	for i, stop := range s.stops {
		s.stopsByID[stop.ID] = i
		for _, line := range stop.Buses {
			key := strings.ToUpper(line)
			s.stopsByLine[key] = append(s.stopsByLine[key], i)
		}
	}

	// Sort stops by name for each line
	for line := range s.stopsByLine {
		idx := s.stopsByLine[line]
		sort.Slice(idx, func(i, j int) bool {
			return s.stops[idx[i]].Name < s.stops[idx[j]].Name
		})
	}

	s.lines = make([]string, 0, len(s.stopsByLine))
	for line := range s.stopsByLine {
		s.lines = append(s.lines, line)
	}
	sort.Strings(s.lines)
}

// GetStops returns the whole catalog in load order
func (s *Store) GetStops() []models.BusStop {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.BusStop, len(s.stops))
	copy(result, s.stops)
	return result
}

// GetStop returns one stop by id
func (s *Store) GetStop(id int) (models.BusStop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.stopsByID[id]
	if !ok {
		return models.BusStop{}, fmt.Errorf("%w: %d", ErrStopNotFound, id)
	}
	return s.stops[i], nil
}

// GetStopsByLocation returns the stops nearest to a location
func (s *Store) GetStopsByLocation(lat, lon float64, limit int) []models.BusStop {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type stopDist struct {
		stop     models.BusStop
		distance float64
	}

	stops := make([]stopDist, 0, len(s.stops))
	for _, stop := range s.stops {
		dist := distance(lat, lon, stop.Lat, stop.Lon)
		stops = append(stops, stopDist{stop, dist})
	}

	sort.SliceStable(stops, func(i, j int) bool {
		return stops[i].distance < stops[j].distance
	})

	result := make([]models.BusStop, 0, limit)
	for i := 0; i < limit && i < len(stops); i++ {
		result = append(result, stops[i].stop)
	}

	return result
}

// GetStopsByLine returns all stops served by a line label
func (s *Store) GetStopsByLine(line string) ([]models.BusStop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	line = strings.ToUpper(line)
	idx, ok := s.stopsByLine[line]
	if !ok {
		return nil, fmt.Errorf("line %s not found", line)
	}

	result := make([]models.BusStop, len(idx))
	for i, j := range idx {
		result[i] = s.stops[j]
	}

	return result, nil
}

// GetStopsByIDs returns the known stops among ids, in the order given
func (s *Store) GetStopsByIDs(ids []int) []models.BusStop {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.BusStop, 0, len(ids))
	for _, id := range ids {
		if i, ok := s.stopsByID[id]; ok {
			result = append(result, s.stops[i])
		}
	}
	return result
}

// GetLines returns all line labels
func (s *Store) GetLines() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]string, len(s.lines))
	copy(result, s.lines)
	return result
}

// GetLastUpdate returns the last update time
func (s *Store) GetLastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// distance calculates the distance between two points using the Haversine formula
func distance(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371 // Earth's radius in kilometers

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return R * c
}
