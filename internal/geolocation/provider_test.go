package geolocation

import (
	"fmt"
	"testing"
	"time"

	"github.com/cerdanyolabus/busmap/internal/locationcache"
	"github.com/cerdanyolabus/busmap/internal/models"
	"github.com/cerdanyolabus/busmap/internal/storage"
)

// mockPlatform records requests and lets tests fire callbacks by hand
type mockPlatform struct {
	oneShots []callbacks
	watches  map[WatchID]callbacks
	options  []PositionOptions
	cleared  []WatchID
}

func newMockPlatform() *mockPlatform {
	return &mockPlatform{watches: make(map[WatchID]callbacks)}
}

func (m *mockPlatform) GetCurrentPosition(success SuccessFunc, fail ErrorFunc, opts PositionOptions) {
	m.oneShots = append(m.oneShots, callbacks{success, fail})
	m.options = append(m.options, opts)
}

func (m *mockPlatform) WatchPosition(success SuccessFunc, fail ErrorFunc, opts PositionOptions) WatchID {
	id := WatchID(len(m.watches) + 1)
	m.watches[id] = callbacks{success, fail}
	m.options = append(m.options, opts)
	return id
}

func (m *mockPlatform) ClearWatch(id WatchID) {
	m.cleared = append(m.cleared, id)
	delete(m.watches, id)
}

func (m *mockPlatform) watch() callbacks {
	for _, cb := range m.watches {
		return cb
	}
	return callbacks{}
}

func cacheWith(t *testing.T, loc *models.UserLocation, age time.Duration) (*locationcache.Cache, storage.Storage) {
	t.Helper()
	s := storage.NewMemory(4)
	if loc != nil {
		record := fmt.Sprintf(`{"lat":%v,"lng":%v,"timestamp":%d}`, loc.Lat, loc.Lng, time.Now().Add(-age).UnixMilli())
		if err := s.Set(locationcache.Key, record); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	return locationcache.New(s, nil), s
}

func TestUnsupported(t *testing.T) {
	cache, _ := cacheWith(t, nil, 0)
	p := NewProvider(nil, cache, nil)
	p.Start()

	state := p.State()
	if state.Location != models.DefaultLocation {
		t.Errorf("Expected default location, got %+v", state.Location)
	}
	if state.Error != UnsupportedMessage {
		t.Errorf("Expected %q, got %q", UnsupportedMessage, state.Error)
	}
	if state.IsLoading {
		t.Error("Expected loading to be false")
	}
	if state.Status != "unsupported" {
		t.Errorf("Expected unsupported status, got %s", state.Status)
	}

	// further requests are no-ops
	p.RequestLocation()
	p.Close()
	if p.State().Status != "unsupported" {
		t.Error("Expected unsupported to be terminal")
	}
}

func TestStartIssuesOneShotAndWatch(t *testing.T) {
	platform := newMockPlatform()
	cache, _ := cacheWith(t, nil, 0)
	p := NewProvider(platform, cache, nil)

	state := p.State()
	if !state.IsLoading || state.Location != models.DefaultLocation {
		t.Errorf("Expected loading default location before start, got %+v", state)
	}

	p.Start()

	if len(platform.oneShots) != 1 {
		t.Errorf("Expected 1 one-shot request, got %d", len(platform.oneShots))
	}
	if len(platform.watches) != 1 {
		t.Errorf("Expected 1 watch, got %d", len(platform.watches))
	}
	for _, opts := range platform.options {
		if opts != DefaultOptions {
			t.Errorf("Expected default options, got %+v", opts)
		}
	}
	if DefaultOptions.EnableHighAccuracy || DefaultOptions.Timeout != 3*time.Second || DefaultOptions.MaximumAge != 10*time.Minute {
		t.Errorf("Unexpected default options %+v", DefaultOptions)
	}
}

func TestCachedLocationWarmStart(t *testing.T) {
	cached := models.UserLocation{Lat: 41.5, Lng: 2.15}
	cache, _ := cacheWith(t, &cached, time.Hour)

	p := NewProvider(newMockPlatform(), cache, nil)
	p.Start()

	state := p.State()
	if state.Location != cached {
		t.Errorf("Expected cached location, got %+v", state.Location)
	}
	if state.IsLoading {
		t.Error("Expected loading to be false with a cached location")
	}
}

func TestExpiredCacheIgnored(t *testing.T) {
	cached := models.UserLocation{Lat: 41.5, Lng: 2.15}
	cache, s := cacheWith(t, &cached, 25*time.Hour)

	p := NewProvider(newMockPlatform(), cache, nil)
	if p.Location() != models.DefaultLocation {
		t.Errorf("Expected default location, got %+v", p.Location())
	}
	if _, ok, _ := s.Get(locationcache.Key); ok {
		t.Error("Expected expired record to be deleted")
	}
}

func TestSuccessUpdatesAndCaches(t *testing.T) {
	platform := newMockPlatform()
	cache, s := cacheWith(t, nil, 0)
	p := NewProvider(platform, cache, nil)
	p.Start()

	platform.oneShots[0].success(Position{Lat: 41.5, Lng: 2.15})
	platform.watch().success(Position{Lat: 41.6, Lng: 2.16})

	state := p.State()
	if state.Location != (models.UserLocation{Lat: 41.6, Lng: 2.16}) {
		t.Errorf("Expected last callback to win, got %+v", state.Location)
	}
	if state.IsLoading || state.Error != "" || state.Status != "tracking" {
		t.Errorf("Unexpected state %+v", state)
	}

	if _, ok, _ := s.Get(locationcache.Key); !ok {
		t.Error("Expected location to be cached")
	}
	loc, ok := cache.Load()
	if !ok || loc.Lat != 41.6 {
		t.Errorf("Expected cached 41.6, got %+v ok=%v", loc, ok)
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected string
	}{
		{CodePermissionDenied, "Location access denied by user"},
		{CodePositionUnavailable, "Location information unavailable"},
		{CodeTimeout, "Location request timed out"},
		{CodeUnknown, "Unable to retrieve your location"},
		{ErrorCode(42), "Unable to retrieve your location"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			platform := newMockPlatform()
			cache, _ := cacheWith(t, nil, 0)
			p := NewProvider(platform, cache, nil)
			p.Start()

			platform.oneShots[0].success(Position{Lat: 41.7, Lng: 2.2})
			platform.watch().fail(&PositionError{Code: tt.code})

			state := p.State()
			if state.Error != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, state.Error)
			}
			if state.IsLoading {
				t.Error("Expected loading to be false")
			}
			if state.Location != (models.UserLocation{Lat: 41.7, Lng: 2.2}) {
				t.Errorf("Expected last known location to be kept, got %+v", state.Location)
			}
			if state.Status != "error" {
				t.Errorf("Expected error status, got %s", state.Status)
			}
		})
	}
}

func TestSuccessClearsError(t *testing.T) {
	platform := newMockPlatform()
	cache, _ := cacheWith(t, nil, 0)
	p := NewProvider(platform, cache, nil)
	p.Start()

	platform.oneShots[0].fail(&PositionError{Code: CodeTimeout})
	platform.watch().success(Position{Lat: 41.5, Lng: 2.1})

	if state := p.State(); state.Error != "" || state.Status != "tracking" {
		t.Errorf("Expected error cleared, got %+v", state)
	}
}

func TestCloseReleasesWatch(t *testing.T) {
	platform := newMockPlatform()
	cache, _ := cacheWith(t, nil, 0)
	p := NewProvider(platform, cache, nil)
	p.Start()
	p.Close()

	if len(platform.cleared) != 1 {
		t.Fatalf("Expected watch to be cleared once, got %d", len(platform.cleared))
	}
	if len(platform.watches) != 0 {
		t.Error("Expected no active watches")
	}

	// the one-shot has no cancellation and still applies
	platform.oneShots[0].success(Position{Lat: 1, Lng: 2})
	if p.Location() != (models.UserLocation{Lat: 1, Lng: 2}) {
		t.Errorf("Expected late one-shot to apply, got %+v", p.Location())
	}

	p.Close()
	if len(platform.cleared) != 1 {
		t.Error("Expected second close to be a no-op")
	}
}

func TestStartTwiceKeepsOneWatch(t *testing.T) {
	platform := newMockPlatform()
	cache, _ := cacheWith(t, nil, 0)
	p := NewProvider(platform, cache, nil)
	p.Start()
	p.Start()

	if len(platform.watches) != 1 || len(platform.oneShots) != 1 {
		t.Fatalf("Expected 1 watch and 1 one-shot, got %d and %d", len(platform.watches), len(platform.oneShots))
	}

	p.Close()
	if len(platform.watches) != 0 {
		t.Errorf("Expected every watch released, %d left", len(platform.watches))
	}
}

func TestRequestLocation(t *testing.T) {
	platform := newMockPlatform()
	cache, _ := cacheWith(t, nil, 0)
	p := NewProvider(platform, cache, nil)
	p.Start()

	platform.oneShots[0].fail(&PositionError{Code: CodePermissionDenied})
	p.RequestLocation()

	state := p.State()
	if !state.IsLoading || state.Error != "" {
		t.Errorf("Expected fresh request to reset error and loading, got %+v", state)
	}
	if len(platform.oneShots) != 2 {
		t.Fatalf("Expected a second one-shot, got %d", len(platform.oneShots))
	}

	platform.oneShots[1].success(Position{Lat: 3, Lng: 4})
	if p.State().IsLoading {
		t.Error("Expected loading to be false after fix")
	}
}
