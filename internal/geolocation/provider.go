// Package geolocation tracks the user's position with a cached warm start.
package geolocation

import (
	"log/slog"
	"sync"

	"github.com/cerdanyolabus/busmap/internal/locationcache"
	"github.com/cerdanyolabus/busmap/internal/models"
)

// UnsupportedMessage is reported when no platform is available
const UnsupportedMessage = "Geolocation is not supported by this browser"

// Status is the provider's lifecycle state
type Status int

const (
	StatusInitializing Status = iota
	StatusTracking
	StatusError
	StatusUnsupported
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusTracking:
		return "tracking"
	case StatusError:
		return "error"
	case StatusUnsupported:
		return "unsupported"
	}
	return "unknown"
}

// ErrorMessage maps a platform error code to the message shown to the user
func ErrorMessage(code ErrorCode) string {
	switch code {
	case CodePermissionDenied:
		return "Location access denied by user"
	case CodePositionUnavailable:
		return "Location information unavailable"
	case CodeTimeout:
		return "Location request timed out"
	}
	return "Unable to retrieve your location"
}

func errorReason(code ErrorCode) string {
	switch code {
	case CodePermissionDenied:
		return "permission_denied"
	case CodePositionUnavailable:
		return "position_unavailable"
	case CodeTimeout:
		return "timeout"
	}
	return "unknown"
}

// Metrics receives position outcomes
type Metrics interface {
	FixReceived()
	FixFailed(reason string)
}

// Provider owns the position subscriptions and the resulting location state
type Provider struct {
	mu       sync.Mutex
	platform Platform
	cache    *locationcache.Cache
	options  PositionOptions
	metrics  Metrics

	location models.UserLocation
	errMsg   string
	loading  bool
	status   Status

	watchID  WatchID
	watching bool
	started  bool
	closed   bool
}

// NewProvider creates a provider starting from the cached location, or the
// default one. A nil platform means geolocation is unsupported.
func NewProvider(platform Platform, cache *locationcache.Cache, m Metrics) *Provider {
	p := &Provider{
		platform: platform,
		cache:    cache,
		options:  DefaultOptions,
		metrics:  m,
		location: models.DefaultLocation,
		loading:  true,
		status:   StatusInitializing,
	}

	if cache != nil {
		if loc, ok := cache.Load(); ok {
			p.location = loc
			p.loading = false
		}
	}
	return p
}

// Start issues a one-shot request and a continuous watch. Only the first
// call has an effect.
func (p *Provider) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	if p.platform == nil {
		p.mu.Lock()
		p.status = StatusUnsupported
		p.errMsg = UnsupportedMessage
		p.loading = false
		p.mu.Unlock()
		return
	}

	p.platform.GetCurrentPosition(p.handleSuccess, p.handleError, p.options)
	id := p.platform.WatchPosition(p.handleSuccess, p.handleError, p.options)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.platform.ClearWatch(id)
		return
	}
	p.watchID = id
	p.watching = true
	p.mu.Unlock()
}

// RequestLocation asks the platform for a fresh one-shot fix
func (p *Provider) RequestLocation() {
	if p.platform == nil {
		return
	}

	p.mu.Lock()
	p.loading = true
	p.errMsg = ""
	if p.status == StatusError {
		p.status = StatusInitializing
	}
	p.mu.Unlock()

	p.platform.GetCurrentPosition(p.handleSuccess, p.handleError, p.options)
}

// Close releases the continuous watch. A pending one-shot request may still
// deliver afterwards.
func (p *Provider) Close() {
	p.mu.Lock()
	p.closed = true
	id, watching := p.watchID, p.watching
	p.watching = false
	p.mu.Unlock()

	if watching {
		p.platform.ClearWatch(id)
	}
}

// State returns a snapshot of the current location state
func (p *Provider) State() models.LocationState {
	p.mu.Lock()
	defer p.mu.Unlock()

	return models.LocationState{
		Location:  p.location,
		Error:     p.errMsg,
		IsLoading: p.loading,
		Status:    p.status.String(),
	}
}

// Location returns the current location
func (p *Provider) Location() models.UserLocation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location
}

func (p *Provider) handleSuccess(pos Position) {
	loc := models.UserLocation{Lat: pos.Lat, Lng: pos.Lng}

	p.mu.Lock()
	p.location = loc
	p.errMsg = ""
	p.loading = false
	p.status = StatusTracking
	p.mu.Unlock()

	if p.cache != nil {
		p.cache.Save(loc)
	}
	if p.metrics != nil {
		p.metrics.FixReceived()
	}
}

func (p *Provider) handleError(perr *PositionError) {
	code := CodeUnknown
	if perr != nil {
		code = perr.Code
	}
	msg := ErrorMessage(code)

	p.mu.Lock()
	p.errMsg = msg
	p.loading = false
	p.status = StatusError
	p.mu.Unlock()

	slog.Warn("Geolocation error", "error", msg, "code", int(code))
	if p.metrics != nil {
		p.metrics.FixFailed(errorReason(code))
	}
}
