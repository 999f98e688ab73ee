package busmap

import (
	"context"
	"time"

	"github.com/cerdanyolabus/busmap/internal/config"
	"github.com/cerdanyolabus/busmap/internal/geolocation"
	"github.com/cerdanyolabus/busmap/internal/models"
	"github.com/cerdanyolabus/busmap/internal/timetable"
)

// Client defines the interface the map UI uses to drive busmap.
// Abstracts the composed core behind one surface.
type Client interface {
	GetStops() []models.BusStop
	GetStop(id int) (models.BusStop, error)
	GetStopsByLocation(lat, lon float64, limit int) []models.BusStop
	GetStopsByLine(line string) ([]models.BusStop, error)
	GetLines() []string

	SelectStop(ctx context.Context, id int) (models.SelectionState, error)
	ClearSelection() models.SelectionState
	GetSelection() models.SelectionState

	ToggleStar(id int) (models.StarredStopsState, error)
	SetShowOnlyStarred(show bool) (models.StarredStopsState, error)
	GetStarred() models.StarredStopsState
	GetStarredTimetables(ctx context.Context) []models.StopTimetable

	GetLocation() models.LocationState
	ReportPosition(lat, lng, accuracy float64) error
	ReportPositionError(code int) error
	RequestLocation()

	GetLastUpdate() time.Time
}

// Config holds configuration for the local client
type Config struct {
	// StopsSource is a path or URL of the stop catalog (JSON, optionally gzipped)
	StopsSource string
	// TimetableBaseURL is the provider's API root
	TimetableBaseURL string
	TimetableTimeout time.Duration

	// StoragePath is the SQLite file for client-side persistence; empty keeps
	// everything in memory
	StoragePath string

	// GeolocationDisabled runs without any position platform
	GeolocationDisabled bool
	// NATSURL, when set, takes positions from NATS instead of ReportPosition
	NATSURL     string
	NATSSubject string

	// Metrics receives instrumentation; nil disables it
	Metrics Metrics
}

// Metrics is the union of the core packages' instrumentation hooks
type Metrics interface {
	timetable.Metrics
	geolocation.Metrics
	CacheLookup(result string)
	StarToggled()
	SetStarredStops(n int)
}

// ConfigFrom maps loaded settings onto a client configuration
func ConfigFrom(c config.Config) Config {
	cfg := Config{
		StopsSource:         c.Catalog.Source,
		TimetableBaseURL:    c.Timetable.BaseURL,
		TimetableTimeout:    c.Timetable.Timeout(),
		GeolocationDisabled: c.Geolocation.Disabled,
		NATSURL:             c.Geolocation.NATSURL,
		NATSSubject:         c.Geolocation.NATSSubject,
	}
	if c.Storage.Driver == "sqlite" {
		cfg.StoragePath = c.Storage.Path
	}
	return cfg
}
