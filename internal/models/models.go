package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultLocation is the map center used until a real position is known
// (Cerdanyola del Vallès).
var DefaultLocation = UserLocation{Lat: 41.4912314, Lng: 2.1403111}

// BusStop represents a physical stop from the static catalog
type BusStop struct {
	ID     int      `json:"id"`
	Name   string   `json:"name"`
	Lat    float64  `json:"lat"`
	Lon    float64  `json:"lon"`
	Buses  []string `json:"buses"`
	LineID int      `json:"lineId"`
	ZoneID int      `json:"zoneId"`
}

// UserLocation is a coordinate in degrees
type UserLocation struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// CachedLocation is the persisted form of the last known location.
// Timestamp is in milliseconds since the Unix epoch.
type CachedLocation struct {
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	Timestamp int64    `json:"timestamp"`
}

// Prediction is one upcoming arrival as reported by the timetable provider
type Prediction struct {
	Minutos string `json:"minutos"`
	Real    string `json:"real,omitempty"`
}

// Journey holds the predictions for one destination of a line
type Journey struct {
	Destination string
	Predictions []*Prediction
}

// Journeys is the provider's "trayectos" object. It decodes into a slice so
// that the provider's key order survives.
type Journeys []Journey

// UnmarshalJSON reads a JSON object keyed by destination. Values that are not
// arrays are skipped.
func (j *Journeys) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*j = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("trayectos: expected object, got %v", tok)
	}

	out := Journeys{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("trayectos: unexpected key %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("trayectos %q: %w", name, err)
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '[' {
			continue
		}

		var predictions []*Prediction
		if err := json.Unmarshal(raw, &predictions); err != nil {
			return fmt.Errorf("trayectos %q: %w", name, err)
		}
		out = append(out, Journey{Destination: name, Predictions: predictions})
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	*j = out
	return nil
}

// MarshalJSON writes the journeys back as an object in slice order
func (j Journeys) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, journey := range j {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(journey.Destination)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		predictions := journey.Predictions
		if predictions == nil {
			predictions = []*Prediction{}
		}
		value, err := json.Marshal(predictions)
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// RawLineTimetable is one line entry of the provider's GetTiemposParada response
type RawLineTimetable struct {
	IDLinea   int      `json:"idLinea"`
	DescLinea string   `json:"desc_linea"`
	Trayectos Journeys `json:"trayectos"`
}

// NormalizedJourney is one upcoming bus as shown to the user
type NormalizedJourney struct {
	Name        string `json:"name"`
	Real        bool   `json:"real"`
	MinutesLeft string `json:"minutesLeft"`
}

// NormalizedLineTimetable groups the upcoming buses of one line
type NormalizedLineTimetable struct {
	LineID    int                 `json:"lineId"`
	LineName  string              `json:"lineName"`
	NextBuses []NormalizedJourney `json:"nextBuses"`
}

// TimetableState is a snapshot of the selected stop's timetable
type TimetableState struct {
	Timetable []NormalizedLineTimetable `json:"selectedStopTimetable"`
	IsLoading bool                      `json:"isLoading"`
	IsLoaded  bool                      `json:"isLoaded"`
}

// SelectionState combines the selected stop with its timetable state
type SelectionState struct {
	SelectedStopID *int                      `json:"selectedStopId"`
	Timetable      []NormalizedLineTimetable `json:"selectedStopTimetable"`
	IsLoading      bool                      `json:"isLoading"`
	IsLoaded       bool                      `json:"isLoaded"`
}

// StarredStopsState is the persisted starred stops state
type StarredStopsState struct {
	StarredStopIDs  []int `json:"starredStopIdsArray"`
	ShowOnlyStarred bool  `json:"showOnlyStarred"`
}

// LocationState is a snapshot of the geolocation provider
type LocationState struct {
	Location  UserLocation `json:"location"`
	Error     string       `json:"error,omitempty"`
	IsLoading bool         `json:"isLoading"`
	Status    string       `json:"status"`
}

// StopTimetable pairs a stop with its normalized timetable
type StopTimetable struct {
	Stop      BusStop                   `json:"stop"`
	Timetable []NormalizedLineTimetable `json:"timetable"`
	FetchedAt time.Time                 `json:"fetchedAt"`
}
