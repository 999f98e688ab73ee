package feed

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cerdanyolabus/busmap/internal/models"
	"github.com/cerdanyolabus/busmap/internal/store"
)

// DefaultSource is where the stop catalog lives in a checkout
const DefaultSource = "public/stops/all.json.gz"

var gzipMagic = []byte{0x1f, 0x8b}

// Loader reads the static stop catalog from a file or an HTTP(S) URL.
// Gzip-compressed catalogs are detected and decompressed.
type Loader struct {
	httpClient *http.Client
}

// NewLoader creates a new catalog loader
func NewLoader() *Loader {
	return &Loader{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Load reads and decodes the catalog at source
func (l *Loader) Load(ctx context.Context, source string) ([]models.BusStop, error) {
	var r io.ReadCloser
	var err error
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		r, err = l.fetchFeed(ctx, source)
	} else {
		r, err = os.Open(source)
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return decode(r)
}

// LoadInto loads the catalog into s. A failed load leaves an empty catalog.
func (l *Loader) LoadInto(ctx context.Context, source string, s *store.Store) int {
	stops, err := l.Load(ctx, source)
	if err != nil {
		slog.Error("Failed to load bus stops", "source", source, "error", err)
		stops = nil
	}
	s.UpdateStops(stops)
	return len(stops)
}

func (l *Loader) fetchFeed(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return resp.Body, nil
}

func decode(r io.Reader) ([]models.BusStop, error) {
	br := bufio.NewReader(r)

	head, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}

	var src io.Reader = br
	if bytes.Equal(head, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	var stops []models.BusStop
	if err := json.NewDecoder(src).Decode(&stops); err != nil {
		return nil, fmt.Errorf("decode stops: %w", err)
	}
	return stops, nil
}
