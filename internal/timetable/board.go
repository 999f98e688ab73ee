package timetable

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cerdanyolabus/busmap/internal/models"
)

// boardConcurrency bounds provider requests in flight for one board
const boardConcurrency = 4

// LoadBoard fetches the timetables of several stops concurrently, keeping
// the input order. A failed stop gets an empty timetable.
func LoadBoard(ctx context.Context, f Fetcher, stops []models.BusStop) []models.StopTimetable {
	out := make([]models.StopTimetable, len(stops))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(boardConcurrency)

	for i, stop := range stops {
		g.Go(func() error {
			lines := []models.NormalizedLineTimetable{}
			raw, err := f.FetchTimetable(ctx, stop.ID, stop.LineID, stop.ZoneID)
			if err != nil {
				slog.Warn("Failed to load board timetable", "stop", stop.ID, "error", err)
			} else {
				lines = WithBuses(Normalize(raw))
			}
			out[i] = models.StopTimetable{
				Stop:      stop,
				Timetable: lines,
				FetchedAt: time.Now(),
			}
			return nil
		})
	}

	// per-stop failures are absorbed above
	_ = g.Wait()
	return out
}
