package geolocation

import (
	"sync"
	"time"
)

// ErrorCode mirrors the platform's position error codes
type ErrorCode int

const (
	CodeUnknown             ErrorCode = 0
	CodePermissionDenied    ErrorCode = 1
	CodePositionUnavailable ErrorCode = 2
	CodeTimeout             ErrorCode = 3
)

// Position is a fix reported by the platform
type Position struct {
	Lat       float64
	Lng       float64
	Accuracy  float64
	Timestamp time.Time
}

// PositionError is a failed position request
type PositionError struct {
	Code    ErrorCode
	Message string
}

func (e *PositionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return ErrorMessage(e.Code)
}

// PositionOptions controls accuracy and freshness of position requests
type PositionOptions struct {
	EnableHighAccuracy bool
	Timeout            time.Duration
	MaximumAge         time.Duration
}

// DefaultOptions favours a fast, coarse first fix
var DefaultOptions = PositionOptions{
	EnableHighAccuracy: false,
	Timeout:            3 * time.Second,
	MaximumAge:         10 * time.Minute,
}

type (
	SuccessFunc func(Position)
	ErrorFunc   func(*PositionError)
	WatchID     int
)

// Platform is the position API the provider runs on
type Platform interface {
	GetCurrentPosition(success SuccessFunc, fail ErrorFunc, opts PositionOptions)
	WatchPosition(success SuccessFunc, fail ErrorFunc, opts PositionOptions) WatchID
	ClearWatch(id WatchID)
}

type callbacks struct {
	success SuccessFunc
	fail    ErrorFunc
}

type pendingRequest struct {
	callbacks
	timer *time.Timer
}

// ReportingPlatform is a Platform fed by positions pushed from outside the
// process, typically the browser posting its own fixes.
type ReportingPlatform struct {
	mu       sync.Mutex
	watchers map[WatchID]callbacks
	pending  map[int]*pendingRequest
	nextID   WatchID
	nextReq  int
	last     *Position
	now      func() time.Time
}

func NewReportingPlatform() *ReportingPlatform {
	return &ReportingPlatform{
		watchers: make(map[WatchID]callbacks),
		pending:  make(map[int]*pendingRequest),
		now:      time.Now,
	}
}

// GetCurrentPosition answers from the last fix when it is within
// opts.MaximumAge, otherwise waits for the next report or opts.Timeout.
func (p *ReportingPlatform) GetCurrentPosition(success SuccessFunc, fail ErrorFunc, opts PositionOptions) {
	p.mu.Lock()
	if p.last != nil && p.now().Sub(p.last.Timestamp) <= opts.MaximumAge {
		pos := *p.last
		p.mu.Unlock()
		success(pos)
		return
	}

	id := p.nextReq
	p.nextReq++
	req := &pendingRequest{callbacks: callbacks{success: success, fail: fail}}
	if opts.Timeout > 0 {
		req.timer = time.AfterFunc(opts.Timeout, func() { p.expire(id) })
	}
	p.pending[id] = req
	p.mu.Unlock()
}

func (p *ReportingPlatform) WatchPosition(success SuccessFunc, fail ErrorFunc, opts PositionOptions) WatchID {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	p.watchers[p.nextID] = callbacks{success: success, fail: fail}
	return p.nextID
}

func (p *ReportingPlatform) ClearWatch(id WatchID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.watchers, id)
}

// Watchers returns the number of active watches
func (p *ReportingPlatform) Watchers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.watchers)
}

// Report delivers pos to every watch and pending request
func (p *ReportingPlatform) Report(pos Position) {
	if pos.Timestamp.IsZero() {
		pos.Timestamp = p.now()
	}

	p.mu.Lock()
	p.last = &pos
	targets := p.drain()
	p.mu.Unlock()

	for _, cb := range targets {
		cb.success(pos)
	}
}

// ReportError delivers a position error to every watch and pending request
func (p *ReportingPlatform) ReportError(code ErrorCode, message string) {
	perr := &PositionError{Code: code, Message: message}

	p.mu.Lock()
	targets := p.drain()
	p.mu.Unlock()

	for _, cb := range targets {
		cb.fail(perr)
	}
}

// drain collects watchers and pending requests, clearing the latter.
// Callers hold p.mu.
func (p *ReportingPlatform) drain() []callbacks {
	targets := make([]callbacks, 0, len(p.watchers)+len(p.pending))
	for _, cb := range p.watchers {
		targets = append(targets, cb)
	}
	for id, req := range p.pending {
		if req.timer != nil {
			req.timer.Stop()
		}
		targets = append(targets, req.callbacks)
		delete(p.pending, id)
	}
	return targets
}

func (p *ReportingPlatform) expire(id int) {
	p.mu.Lock()
	req, ok := p.pending[id]
	delete(p.pending, id)
	p.mu.Unlock()

	if ok {
		req.fail(&PositionError{Code: CodeTimeout, Message: "Timeout expired"})
	}
}
