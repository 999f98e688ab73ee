package geolocation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// PositionMessage is the wire format of fixes exchanged over NATS. A non-zero
// ErrorCode marks a failed fix.
type PositionMessage struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	ErrorCode int       `json:"errorCode,omitempty"`
}

// PositionRequest is sent on the request subject for one-shot fixes
type PositionRequest struct {
	EnableHighAccuracy bool  `json:"enableHighAccuracy"`
	TimeoutMS          int64 `json:"timeout"`
	MaximumAgeMS       int64 `json:"maximumAge"`
}

// NATSPlatform receives fixes from a position source publishing on
// <subject>.fix and answering requests on <subject>.request.
type NATSPlatform struct {
	nc      *nats.Conn
	subject string

	mu     sync.Mutex
	subs   map[WatchID]*nats.Subscription
	nextID WatchID
	last   *Position
	now    func() time.Time
}

func NewNATSPlatform(url, subject string) (*NATSPlatform, error) {
	nc, err := nats.Connect(url,
		nats.Name("busmap"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			slog.Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			slog.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSPlatform{
		nc:      nc,
		subject: subject,
		subs:    make(map[WatchID]*nats.Subscription),
		now:     time.Now,
	}, nil
}

func (p *NATSPlatform) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

func (p *NATSPlatform) fixSubject() string     { return p.subject + ".fix" }
func (p *NATSPlatform) requestSubject() string { return p.subject + ".request" }

func (p *NATSPlatform) GetCurrentPosition(success SuccessFunc, fail ErrorFunc, opts PositionOptions) {
	if pos, ok := p.fresh(opts.MaximumAge); ok {
		success(pos)
		return
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultOptions.Timeout
	}
	payload, err := json.Marshal(PositionRequest{
		EnableHighAccuracy: opts.EnableHighAccuracy,
		TimeoutMS:          timeout.Milliseconds(),
		MaximumAgeMS:       opts.MaximumAge.Milliseconds(),
	})
	if err != nil {
		fail(&PositionError{Code: CodeUnknown, Message: err.Error()})
		return
	}

	go func() {
		msg, err := p.nc.Request(p.requestSubject(), payload, timeout)
		if err != nil {
			fail(requestError(err))
			return
		}
		pos, perr := p.decodeFix(msg.Data)
		if perr != nil {
			fail(perr)
			return
		}
		p.remember(pos)
		success(pos)
	}()
}

func (p *NATSPlatform) WatchPosition(success SuccessFunc, fail ErrorFunc, opts PositionOptions) WatchID {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	sub, err := p.nc.Subscribe(p.fixSubject(), func(m *nats.Msg) {
		pos, perr := p.decodeFix(m.Data)
		if perr != nil {
			fail(perr)
			return
		}
		p.remember(pos)
		success(pos)
	})
	if err != nil {
		go fail(&PositionError{Code: CodePositionUnavailable, Message: err.Error()})
		return id
	}

	p.mu.Lock()
	p.subs[id] = sub
	p.mu.Unlock()
	return id
}

func (p *NATSPlatform) ClearWatch(id WatchID) {
	p.mu.Lock()
	sub, ok := p.subs[id]
	delete(p.subs, id)
	p.mu.Unlock()

	if ok {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn("Failed to release position watch", "error", err)
		}
	}
}

func (p *NATSPlatform) fresh(maxAge time.Duration) (Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil || p.now().Sub(p.last.Timestamp) > maxAge {
		return Position{}, false
	}
	return *p.last, true
}

func (p *NATSPlatform) remember(pos Position) {
	p.mu.Lock()
	p.last = &pos
	p.mu.Unlock()
}

func (p *NATSPlatform) decodeFix(data []byte) (Position, *PositionError) {
	return decodeFix(data, p.now)
}

func decodeFix(data []byte, now func() time.Time) (Position, *PositionError) {
	var msg PositionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Position{}, &PositionError{Code: CodePositionUnavailable, Message: "malformed position message"}
	}
	if msg.ErrorCode != 0 {
		return Position{}, &PositionError{Code: ErrorCode(msg.ErrorCode)}
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = now()
	}
	return Position{Lat: msg.Lat, Lng: msg.Lon, Accuracy: msg.Accuracy, Timestamp: ts}, nil
}

func requestError(err error) *PositionError {
	switch {
	case errors.Is(err, nats.ErrTimeout):
		return &PositionError{Code: CodeTimeout}
	case errors.Is(err, nats.ErrNoResponders):
		return &PositionError{Code: CodePositionUnavailable}
	}
	return &PositionError{Code: CodeUnknown, Message: err.Error()}
}
