// Package locationcache persists the last known user location for 24 hours.
package locationcache

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cerdanyolabus/busmap/internal/models"
	"github.com/cerdanyolabus/busmap/internal/storage"
)

const (
	// Key is the storage key holding the cached location
	Key = "bus-map-last-location"
	// MaxAge is how long a cached location stays usable
	MaxAge = 24 * time.Hour
)

// Metrics receives cache lookup results
type Metrics interface {
	CacheLookup(result string)
}

// Cache reads and writes the cached location record
type Cache struct {
	storage storage.Storage
	now     func() time.Time
	metrics Metrics
}

// New creates a cache over s. A nil metrics disables instrumentation.
func New(s storage.Storage, m Metrics) *Cache {
	return &Cache{storage: s, now: time.Now, metrics: m}
}

// Load returns the cached location if present and younger than MaxAge.
// Stale or malformed records are deleted.
func (c *Cache) Load() (models.UserLocation, bool) {
	raw, ok, err := c.storage.Get(Key)
	if err != nil {
		slog.Warn("Failed to read cached location", "error", err)
		c.observe("miss")
		return models.UserLocation{}, false
	}
	if !ok {
		c.observe("miss")
		return models.UserLocation{}, false
	}

	var cached models.CachedLocation
	if err := json.Unmarshal([]byte(raw), &cached); err != nil || cached.Lat == nil || cached.Lng == nil {
		c.remove()
		c.observe("malformed")
		return models.UserLocation{}, false
	}

	age := c.now().Sub(time.UnixMilli(cached.Timestamp))
	if age >= MaxAge {
		c.remove()
		c.observe("stale")
		return models.UserLocation{}, false
	}

	c.observe("hit")
	return models.UserLocation{Lat: *cached.Lat, Lng: *cached.Lng}, true
}

// Save stores loc with the current time. Failures are logged and dropped.
func (c *Cache) Save(loc models.UserLocation) {
	lat, lng := loc.Lat, loc.Lng
	data, err := json.Marshal(models.CachedLocation{
		Lat:       &lat,
		Lng:       &lng,
		Timestamp: c.now().UnixMilli(),
	})
	if err != nil {
		slog.Warn("Failed to encode location", "error", err)
		return
	}
	if err := c.storage.Set(Key, string(data)); err != nil {
		slog.Warn("Failed to cache location", "error", err)
	}
}

func (c *Cache) remove() {
	if err := c.storage.Delete(Key); err != nil {
		slog.Warn("Failed to delete cached location", "error", err)
	}
}

func (c *Cache) observe(result string) {
	if c.metrics != nil {
		c.metrics.CacheLookup(result)
	}
}
