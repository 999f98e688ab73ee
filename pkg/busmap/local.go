package busmap

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cerdanyolabus/busmap/internal/feed"
	"github.com/cerdanyolabus/busmap/internal/geolocation"
	"github.com/cerdanyolabus/busmap/internal/locationcache"
	"github.com/cerdanyolabus/busmap/internal/models"
	"github.com/cerdanyolabus/busmap/internal/selection"
	"github.com/cerdanyolabus/busmap/internal/starred"
	"github.com/cerdanyolabus/busmap/internal/storage"
	"github.com/cerdanyolabus/busmap/internal/store"
	"github.com/cerdanyolabus/busmap/internal/timetable"
)

// ErrNoReporter is returned when positions cannot be pushed into the client
var ErrNoReporter = errors.New("positions are not reported through this client")

// ErrStopNotFound is returned for unknown stop ids
var ErrStopNotFound = store.ErrStopNotFound

// LocalClient implements the Client interface in-process.
// Owns the state containers of one user session.
type LocalClient struct {
	stops       *store.Store
	fetcher     timetable.Fetcher
	timetables  *timetable.Store
	coordinator *selection.Coordinator
	starred     *starred.Store
	provider    *geolocation.Provider
	reporter    *geolocation.ReportingPlatform

	closers []func()
}

// NewLocal creates a new local client.
// Loads the stop catalog and starts position tracking.
func NewLocal(ctx context.Context, config Config) (*LocalClient, error) {
	c := &LocalClient{}

	var kv storage.Storage
	if config.StoragePath != "" {
		db, err := storage.OpenSQLite(config.StoragePath)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() { db.Close() })
		kv = db
	} else {
		kv = storage.NewMemory(64)
	}

	m := config.Metrics
	c.stops = store.NewStore()
	n := feed.NewLoader().LoadInto(ctx, config.StopsSource, c.stops)
	slog.Info("Loaded bus stops", "count", n, "source", config.StopsSource)

	client := timetable.NewClient(config.TimetableBaseURL, config.TimetableTimeout, m)
	c.fetcher = client
	c.timetables = timetable.NewStore(client, m)
	c.coordinator = selection.NewCoordinator(c.timetables)

	st, err := starred.New(kv, m)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.starred = st

	platform, err := c.platform(config)
	if err != nil {
		c.Close()
		return nil, err
	}
	cache := locationcache.New(kv, m)
	c.provider = geolocation.NewProvider(platform, cache, m)
	c.provider.Start()

	return c, nil
}

func (c *LocalClient) platform(config Config) (geolocation.Platform, error) {
	switch {
	case config.GeolocationDisabled:
		return nil, nil
	case config.NATSURL != "":
		p, err := geolocation.NewNATSPlatform(config.NATSURL, config.NATSSubject)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, p.Close)
		return p, nil
	}
	c.reporter = geolocation.NewReportingPlatform()
	return c.reporter, nil
}

// Close gracefully shuts down the local client
// Must be called to release the position watch and the storage
func (c *LocalClient) Close() {
	if c.provider != nil {
		c.provider.Close()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// GetStops returns the stops to show on the map, honouring the starred-only filter
func (c *LocalClient) GetStops() []models.BusStop {
	state := c.starred.State()
	if !state.ShowOnlyStarred {
		return c.stops.GetStops()
	}

	starredSet := make(map[int]bool, len(state.StarredStopIDs))
	for _, id := range state.StarredStopIDs {
		starredSet[id] = true
	}

	all := c.stops.GetStops()
	result := make([]models.BusStop, 0, len(starredSet))
	for _, stop := range all {
		if starredSet[stop.ID] {
			result = append(result, stop)
		}
	}
	return result
}

func (c *LocalClient) GetStop(id int) (models.BusStop, error) {
	return c.stops.GetStop(id)
}

func (c *LocalClient) GetStopsByLocation(lat, lon float64, limit int) []models.BusStop {
	return c.stops.GetStopsByLocation(lat, lon, limit)
}

func (c *LocalClient) GetStopsByLine(line string) ([]models.BusStop, error) {
	return c.stops.GetStopsByLine(line)
}

func (c *LocalClient) GetLines() []string {
	return c.stops.GetLines()
}

// SelectStop selects a catalog stop and waits for its timetable. The load is
// detached from ctx: once started it runs to completion and its result
// applies even if the caller has gone away.
func (c *LocalClient) SelectStop(ctx context.Context, id int) (models.SelectionState, error) {
	stop, err := c.stops.GetStop(id)
	if err != nil {
		return c.GetSelection(), err
	}
	c.coordinator.SelectStop(context.WithoutCancel(ctx), stop)
	return c.GetSelection(), nil
}

func (c *LocalClient) ClearSelection() models.SelectionState {
	c.coordinator.ClearSelection()
	return c.GetSelection()
}

// GetSelection combines the selected stop id with the timetable state
func (c *LocalClient) GetSelection() models.SelectionState {
	state := c.timetables.State()
	sel := models.SelectionState{
		Timetable: state.Timetable,
		IsLoading: state.IsLoading,
		IsLoaded:  state.IsLoaded,
	}
	if id, ok := c.coordinator.SelectedStopID(); ok {
		sel.SelectedStopID = &id
	}
	return sel
}

func (c *LocalClient) ToggleStar(id int) (models.StarredStopsState, error) {
	err := c.starred.ToggleStar(id)
	return c.starred.State(), err
}

func (c *LocalClient) SetShowOnlyStarred(show bool) (models.StarredStopsState, error) {
	err := c.starred.SetShowOnlyStarred(show)
	return c.starred.State(), err
}

func (c *LocalClient) GetStarred() models.StarredStopsState {
	return c.starred.State()
}

// GetStarredTimetables loads the timetable of every starred catalog stop
// without touching the selection
func (c *LocalClient) GetStarredTimetables(ctx context.Context) []models.StopTimetable {
	stops := c.stops.GetStopsByIDs(c.starred.State().StarredStopIDs)
	return timetable.LoadBoard(ctx, c.fetcher, stops)
}

func (c *LocalClient) GetLocation() models.LocationState {
	return c.provider.State()
}

// ReportPosition pushes a fix from the browser
func (c *LocalClient) ReportPosition(lat, lng, accuracy float64) error {
	if c.reporter == nil {
		return ErrNoReporter
	}
	c.reporter.Report(geolocation.Position{Lat: lat, Lng: lng, Accuracy: accuracy, Timestamp: time.Now()})
	return nil
}

// ReportPositionError pushes a position failure from the browser
func (c *LocalClient) ReportPositionError(code int) error {
	if c.reporter == nil {
		return ErrNoReporter
	}
	c.reporter.ReportError(geolocation.ErrorCode(code), "")
	return nil
}

func (c *LocalClient) RequestLocation() {
	c.provider.RequestLocation()
}

// GetLastUpdate returns when the stop catalog was loaded
func (c *LocalClient) GetLastUpdate() time.Time {
	return c.stops.GetLastUpdate()
}
