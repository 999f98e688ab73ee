package timetable

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cerdanyolabus/busmap/internal/models"
)

// DefaultBaseURL is the provider's JSON API root
const DefaultBaseURL = "https://glo6ir56yyjdlmdtig4ztnqu7q0dcwlz.lambda-url.eu-central-1.on.aws/api/json"

// Fetcher retrieves the raw timetable of a stop
type Fetcher interface {
	FetchTimetable(ctx context.Context, stopID, lineID, zoneID int) ([]models.RawLineTimetable, error)
}

// Metrics receives provider request outcomes and the size of the shown timetable
type Metrics interface {
	ObserveFetch(d time.Duration, err error)
	SetLinesShown(n int)
}

// NetworkError is a transport failure or a non-2xx provider response
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Client talks to the GetTiemposParada endpoint
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    Metrics
}

// NewClient creates a provider client. An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL string, timeout time.Duration, m Metrics) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: m,
	}
}

// URL returns the request URL for a stop
func (c *Client) URL(stopID, lineID, zoneID int) string {
	return fmt.Sprintf("%s/GetTiemposParada/es/%d/%d/%d", c.baseURL, stopID, lineID, zoneID)
}

func (c *Client) FetchTimetable(ctx context.Context, stopID, lineID, zoneID int) ([]models.RawLineTimetable, error) {
	start := time.Now()
	data, err := c.fetch(ctx, c.URL(stopID, lineID, zoneID))
	if c.metrics != nil {
		c.metrics.ObserveFetch(time.Since(start), err)
	}
	return data, err
}

func (c *Client) fetch(ctx context.Context, url string) ([]models.RawLineTimetable, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &NetworkError{URL: url, StatusCode: resp.StatusCode}
	}

	var lines []models.RawLineTimetable
	if err := json.NewDecoder(resp.Body).Decode(&lines); err != nil {
		return nil, fmt.Errorf("decode timetable: %w", err)
	}
	return lines, nil
}
