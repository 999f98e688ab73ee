package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cerdanyolabus/busmap/internal/models"
	"github.com/cerdanyolabus/busmap/pkg/busmap"
	"github.com/gorilla/mux"
)

const defaultNearbyLimit = 5

// Handler handles HTTP requests
type Handler struct {
	client busmap.Client
}

// NewHandler creates a new HTTP handler
func NewHandler(client busmap.Client) *Handler {
	return &Handler{client: client}
}

// RegisterRoutes registers all routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/", h.handleIndex).Methods("GET")

	r.HandleFunc("/stops", h.handleStops).Methods("GET")
	r.HandleFunc("/stops/nearby", h.handleNearby).Methods("GET")
	r.HandleFunc("/stops/{id:[0-9]+}", h.handleStop).Methods("GET")
	r.HandleFunc("/stops/{id:[0-9]+}/select", h.handleSelect).Methods("POST")
	r.HandleFunc("/lines", h.handleLines).Methods("GET")
	r.HandleFunc("/lines/{line}/stops", h.handleLineStops).Methods("GET")

	r.HandleFunc("/selection", h.handleSelection).Methods("GET")
	r.HandleFunc("/selection", h.handleClearSelection).Methods("DELETE")

	r.HandleFunc("/starred", h.handleStarred).Methods("GET")
	r.HandleFunc("/starred/timetables", h.handleStarredTimetables).Methods("GET")
	r.HandleFunc("/starred/show-only", h.handleShowOnly).Methods("PUT")
	r.HandleFunc("/starred/{id:[0-9]+}/toggle", h.handleToggleStar).Methods("POST")

	r.HandleFunc("/location", h.handleLocation).Methods("GET")
	r.HandleFunc("/location", h.handleReportLocation).Methods("POST")
	r.HandleFunc("/location/request", h.handleRequestLocation).Methods("POST")
}

// Response wraps API responses
type Response struct {
	Data    interface{} `json:"data"`
	Updated string      `json:"updated,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// ShowOnlyRequest is the body of PUT /starred/show-only
type ShowOnlyRequest struct {
	ShowOnlyStarred *bool `json:"showOnlyStarred"`
}

// PositionReport is the body of POST /location. Either a fix or an error
// code is expected.
type PositionReport struct {
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	Accuracy  float64  `json:"accuracy"`
	ErrorCode *int     `json:"errorCode"`
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"title":  "busmap",
		"readme": "Bus arrival times for Cerdanyola del Vallès",
	}
	h.writeJSON(w, response)
}

func (h *Handler) handleStops(w http.ResponseWriter, r *http.Request) {
	h.writeStopsResponse(w, h.client.GetStops())
}

func (h *Handler) handleNearby(w http.ResponseWriter, r *http.Request) {
	latStr := r.URL.Query().Get("lat")
	lonStr := r.URL.Query().Get("lon")

	if (latStr == "") != (lonStr == "") {
		h.writeError(w, "Missing lat/lon parameter", http.StatusBadRequest)
		return
	}

	loc := h.client.GetLocation().Location
	lat, lon := loc.Lat, loc.Lng
	if latStr != "" {
		var err error
		lat, err = strconv.ParseFloat(latStr, 64)
		if err != nil {
			h.writeError(w, "Invalid lat parameter", http.StatusBadRequest)
			return
		}

		lon, err = strconv.ParseFloat(lonStr, 64)
		if err != nil {
			h.writeError(w, "Invalid lon parameter", http.StatusBadRequest)
			return
		}
	}

	limit := defaultNearbyLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			h.writeError(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = n
	}

	h.writeStopsResponse(w, h.client.GetStopsByLocation(lat, lon, limit))
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	id, ok := h.stopID(w, r)
	if !ok {
		return
	}

	stop, err := h.client.GetStop(id)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	h.writeJSON(w, Response{Data: stop})
}

func (h *Handler) handleLines(w http.ResponseWriter, r *http.Request) {
	response := Response{
		Data:    h.client.GetLines(),
		Updated: formatUpdated(h.client.GetLastUpdate()),
	}
	h.writeJSON(w, response)
}

func (h *Handler) handleLineStops(w http.ResponseWriter, r *http.Request) {
	line := mux.Vars(r)["line"]

	stops, err := h.client.GetStopsByLine(line)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusNotFound)
		return
	}

	h.writeStopsResponse(w, stops)
}

func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	id, ok := h.stopID(w, r)
	if !ok {
		return
	}

	state, err := h.client.SelectStop(r.Context(), id)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	h.writeJSON(w, Response{Data: state})
}

func (h *Handler) handleSelection(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, Response{Data: h.client.GetSelection()})
}

func (h *Handler) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, Response{Data: h.client.ClearSelection()})
}

func (h *Handler) handleStarred(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, Response{Data: h.client.GetStarred()})
}

func (h *Handler) handleToggleStar(w http.ResponseWriter, r *http.Request) {
	id, ok := h.stopID(w, r)
	if !ok {
		return
	}

	state, err := h.client.ToggleStar(id)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, Response{Data: state})
}

func (h *Handler) handleShowOnly(w http.ResponseWriter, r *http.Request) {
	var req ShowOnlyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ShowOnlyStarred == nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	state, err := h.client.SetShowOnlyStarred(*req.ShowOnlyStarred)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, Response{Data: state})
}

func (h *Handler) handleStarredTimetables(w http.ResponseWriter, r *http.Request) {
	board := h.client.GetStarredTimetables(r.Context())

	var lastUpdate time.Time
	for _, entry := range board {
		if entry.FetchedAt.After(lastUpdate) {
			lastUpdate = entry.FetchedAt
		}
	}

	h.writeJSON(w, Response{Data: board, Updated: formatUpdated(lastUpdate)})
}

func (h *Handler) handleLocation(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, Response{Data: h.client.GetLocation()})
}

func (h *Handler) handleReportLocation(w http.ResponseWriter, r *http.Request) {
	var req PositionReport
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var err error
	switch {
	case req.ErrorCode != nil:
		err = h.client.ReportPositionError(*req.ErrorCode)
	case req.Lat != nil && req.Lng != nil:
		err = h.client.ReportPosition(*req.Lat, *req.Lng, req.Accuracy)
	default:
		h.writeError(w, "Expected lat/lng or errorCode", http.StatusBadRequest)
		return
	}

	if errors.Is(err, busmap.ErrNoReporter) {
		h.writeError(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, Response{Data: h.client.GetLocation()})
}

func (h *Handler) handleRequestLocation(w http.ResponseWriter, r *http.Request) {
	h.client.RequestLocation()
	h.writeJSON(w, Response{Data: h.client.GetLocation()})
}

func (h *Handler) stopID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, "Invalid stop id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *Handler) writeStopsResponse(w http.ResponseWriter, stops []models.BusStop) {
	response := Response{
		Data:    stops,
		Updated: formatUpdated(h.client.GetLastUpdate()),
	}
	h.writeJSON(w, response)
}

func formatUpdated(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		h.writeError(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(buf.Bytes())
}

func (h *Handler) writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
