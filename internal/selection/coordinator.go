// Package selection ties stop selection events to the timetable store.
package selection

import (
	"context"
	"sync"

	"github.com/cerdanyolabus/busmap/internal/models"
)

// Timetables is the part of the timetable store the coordinator drives
type Timetables interface {
	Load(ctx context.Context, stopID, lineID, zoneID int)
	Clear()
}

// Coordinator owns the selected stop id
type Coordinator struct {
	mu         sync.RWMutex
	timetables Timetables
	selected   *int
}

func NewCoordinator(t Timetables) *Coordinator {
	return &Coordinator{timetables: t}
}

// SelectStop records stop as selected and loads its timetable. The id is set
// before the load resolves. Selecting the same stop again reloads it.
func (c *Coordinator) SelectStop(ctx context.Context, stop models.BusStop) {
	c.timetables.Clear()

	id := stop.ID
	c.mu.Lock()
	c.selected = &id
	c.mu.Unlock()

	c.timetables.Load(ctx, stop.ID, stop.LineID, stop.ZoneID)
}

// ClearSelection drops the selected stop and its timetable
func (c *Coordinator) ClearSelection() {
	c.mu.Lock()
	c.selected = nil
	c.mu.Unlock()

	c.timetables.Clear()
}

// SelectedStopID returns the selected stop id, if any
func (c *Coordinator) SelectedStopID() (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.selected == nil {
		return 0, false
	}
	return *c.selected, true
}
