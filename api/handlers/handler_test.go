package handlers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cerdanyolabus/busmap/internal/models"
	"github.com/cerdanyolabus/busmap/internal/store"
	"github.com/cerdanyolabus/busmap/pkg/busmap"
	"github.com/gorilla/mux"
)

// MockClient implements busmap.Client for testing
type MockClient struct {
	stops       []models.BusStop
	starred     models.StarredStopsState
	selected    *int
	location    models.LocationState
	reportErr   error
	requested   int
	lastNearby  [3]float64
	lastUpdated time.Time
}

func newMockClient() *MockClient {
	return &MockClient{
		stops: []models.BusStop{
			{ID: 101, Name: "Pl. Abat Oliba", Lat: 41.4910, Lon: 2.1405, Buses: []string{"C1"}, LineID: 1, ZoneID: 1},
			{ID: 103, Name: "UAB", Lat: 41.5005, Lon: 2.1110, Buses: []string{"C3"}, LineID: 3, ZoneID: 2},
		},
		location:    models.LocationState{Location: models.DefaultLocation, IsLoading: true, Status: "initializing"},
		lastUpdated: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (m *MockClient) GetStops() []models.BusStop { return m.stops }

func (m *MockClient) GetStop(id int) (models.BusStop, error) {
	for _, s := range m.stops {
		if s.ID == id {
			return s, nil
		}
	}
	return models.BusStop{}, store.ErrStopNotFound
}

func (m *MockClient) GetStopsByLocation(lat, lon float64, limit int) []models.BusStop {
	m.lastNearby = [3]float64{lat, lon, float64(limit)}
	return m.stops[:1]
}

func (m *MockClient) GetStopsByLine(line string) ([]models.BusStop, error) {
	if line != "C1" {
		return nil, store.ErrStopNotFound
	}
	return m.stops[:1], nil
}

func (m *MockClient) GetLines() []string { return []string{"C1", "C3"} }

func (m *MockClient) SelectStop(ctx context.Context, id int) (models.SelectionState, error) {
	if _, err := m.GetStop(id); err != nil {
		return m.GetSelection(), err
	}
	m.selected = &id
	return m.GetSelection(), nil
}

func (m *MockClient) ClearSelection() models.SelectionState {
	m.selected = nil
	return m.GetSelection()
}

func (m *MockClient) GetSelection() models.SelectionState {
	return models.SelectionState{SelectedStopID: m.selected, Timetable: []models.NormalizedLineTimetable{}, IsLoaded: m.selected != nil}
}

func (m *MockClient) ToggleStar(id int) (models.StarredStopsState, error) {
	m.starred.StarredStopIDs = append(m.starred.StarredStopIDs, id)
	return m.starred, nil
}

func (m *MockClient) SetShowOnlyStarred(show bool) (models.StarredStopsState, error) {
	m.starred.ShowOnlyStarred = show
	return m.starred, nil
}

func (m *MockClient) GetStarred() models.StarredStopsState { return m.starred }

func (m *MockClient) GetStarredTimetables(ctx context.Context) []models.StopTimetable {
	return []models.StopTimetable{{Stop: m.stops[0], Timetable: []models.NormalizedLineTimetable{}, FetchedAt: m.lastUpdated}}
}

func (m *MockClient) GetLocation() models.LocationState { return m.location }

func (m *MockClient) ReportPosition(lat, lng, accuracy float64) error {
	if m.reportErr != nil {
		return m.reportErr
	}
	m.location.Location = models.UserLocation{Lat: lat, Lng: lng}
	m.location.Status = "tracking"
	return nil
}

func (m *MockClient) ReportPositionError(code int) error {
	if m.reportErr != nil {
		return m.reportErr
	}
	m.location.Error = "denied"
	m.location.Status = "error"
	return nil
}

func (m *MockClient) RequestLocation() { m.requested++ }

func (m *MockClient) GetLastUpdate() time.Time { return m.lastUpdated }

func serve(t *testing.T, client busmap.Client, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	r := mux.NewRouter()
	NewHandler(client).RegisterRoutes(r)

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) Response {
	t.Helper()

	resp := Response{Data: out}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestStopsRoutes(t *testing.T) {
	tests := []struct {
		name   string
		target string
		status int
	}{
		{"all stops", "/stops", http.StatusOK},
		{"one stop", "/stops/101", http.StatusOK},
		{"unknown stop", "/stops/999", http.StatusNotFound},
		{"non numeric id", "/stops/abc", http.StatusNotFound},
		{"line stops", "/lines/C1/stops", http.StatusOK},
		{"unknown line", "/lines/X9/stops", http.StatusNotFound},
		{"lines", "/lines", http.StatusOK},
		{"index", "/", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, newMockClient(), "GET", tt.target, "")
			if rec.Code != tt.status {
				t.Errorf("Expected status %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if tt.status == http.StatusOK {
				if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
					t.Errorf("Expected JSON content type, got %q", ct)
				}
			}
		})
	}
}

func TestLinesIncludeUpdated(t *testing.T) {
	rec := serve(t, newMockClient(), "GET", "/lines", "")

	var lines []string
	resp := decodeData(t, rec, &lines)
	if len(lines) != 2 {
		t.Errorf("Expected 2 lines, got %v", lines)
	}
	if resp.Updated != "2024-05-01T10:00:00Z" {
		t.Errorf("Unexpected updated timestamp: %q", resp.Updated)
	}
}

func TestNearby(t *testing.T) {
	t.Run("explicit coordinates", func(t *testing.T) {
		client := newMockClient()
		rec := serve(t, client, "GET", "/stops/nearby?lat=41.49&lon=2.14&limit=3", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		if client.lastNearby != [3]float64{41.49, 2.14, 3} {
			t.Errorf("Unexpected query: %v", client.lastNearby)
		}
	})

	t.Run("defaults to user location", func(t *testing.T) {
		client := newMockClient()
		rec := serve(t, client, "GET", "/stops/nearby", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		want := [3]float64{models.DefaultLocation.Lat, models.DefaultLocation.Lng, defaultNearbyLimit}
		if client.lastNearby != want {
			t.Errorf("Expected %v, got %v", want, client.lastNearby)
		}
	})

	bad := []string{
		"/stops/nearby?lat=41.49",
		"/stops/nearby?lat=abc&lon=2.14",
		"/stops/nearby?lat=41.49&lon=abc",
		"/stops/nearby?lat=41.49&lon=2.14&limit=0",
	}
	for _, target := range bad {
		rec := serve(t, newMockClient(), "GET", target, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestSelection(t *testing.T) {
	client := newMockClient()

	rec := serve(t, client, "POST", "/stops/101/select", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var state models.SelectionState
	decodeData(t, rec, &state)
	if state.SelectedStopID == nil || *state.SelectedStopID != 101 {
		t.Errorf("Expected stop 101 selected, got %v", state.SelectedStopID)
	}

	if rec := serve(t, client, "POST", "/stops/999/select", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown stop, got %d", rec.Code)
	}

	rec = serve(t, client, "DELETE", "/selection", "")
	state = models.SelectionState{}
	decodeData(t, rec, &state)
	if state.SelectedStopID != nil {
		t.Errorf("Expected cleared selection, got %v", *state.SelectedStopID)
	}

	if rec := serve(t, client, "GET", "/selection", ""); !strings.Contains(rec.Body.String(), `"selectedStopId":null`) {
		t.Errorf("Expected null selectedStopId, got %s", rec.Body.String())
	}
}

func TestStarred(t *testing.T) {
	client := newMockClient()

	rec := serve(t, client, "POST", "/starred/101/toggle", "")
	var state models.StarredStopsState
	decodeData(t, rec, &state)
	if len(state.StarredStopIDs) != 1 || state.StarredStopIDs[0] != 101 {
		t.Errorf("Unexpected starred ids: %v", state.StarredStopIDs)
	}

	rec = serve(t, client, "PUT", "/starred/show-only", `{"showOnlyStarred": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !client.starred.ShowOnlyStarred {
		t.Error("Expected showOnlyStarred to be set")
	}

	for _, body := range []string{`{}`, `not json`} {
		if rec := serve(t, client, "PUT", "/starred/show-only", body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, rec.Code)
		}
	}

	rec = serve(t, client, "GET", "/starred/timetables", "")
	var board []models.StopTimetable
	resp := decodeData(t, rec, &board)
	if len(board) != 1 || board[0].Stop.ID != 101 {
		t.Errorf("Unexpected board: %+v", board)
	}
	if resp.Updated == "" {
		t.Error("Expected updated timestamp on board")
	}
}

func TestReportLocation(t *testing.T) {
	client := newMockClient()

	rec := serve(t, client, "POST", "/location", `{"lat": 41.5, "lng": 2.12, "accuracy": 8}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var state models.LocationState
	decodeData(t, rec, &state)
	if state.Status != "tracking" || state.Location.Lat != 41.5 {
		t.Errorf("Unexpected location state: %+v", state)
	}

	rec = serve(t, client, "POST", "/location", `{"errorCode": 1}`)
	if rec.Code != http.StatusOK || client.location.Status != "error" {
		t.Errorf("Expected error to be reported, got %d %+v", rec.Code, client.location)
	}

	if rec := serve(t, client, "POST", "/location", `{"lat": 41.5}`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for partial fix, got %d", rec.Code)
	}

	client.reportErr = busmap.ErrNoReporter
	if rec := serve(t, client, "POST", "/location", `{"lat": 41.5, "lng": 2.12}`); rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 without reporter, got %d", rec.Code)
	}

	if rec := serve(t, client, "POST", "/location/request", ""); rec.Code != http.StatusOK || client.requested != 1 {
		t.Errorf("Expected location request, got %d (%d requests)", rec.Code, client.requested)
	}
}

func TestWriteJSONEncodeFailure(t *testing.T) {
	h := NewHandler(newMockClient())
	rec := httptest.NewRecorder()

	h.writeJSON(rec, Response{Data: math.NaN()})

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Expected a single JSON error body: %v", err)
	}
	if resp.Error != "Failed to encode response" {
		t.Errorf("Unexpected error message: %q", resp.Error)
	}
}
