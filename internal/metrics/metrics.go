package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	TimetableFetches       *prometheus.CounterVec // result label: ok|error
	TimetableFetchDuration prometheus.Histogram
	TimetableLines         prometheus.Gauge

	StarToggles  prometheus.Counter
	StarredStops prometheus.Gauge

	GeolocationFixes  prometheus.Counter
	GeolocationErrors *prometheus.CounterVec // reason label

	LocationCacheLookups *prometheus.CounterVec // result label: hit|miss|stale|malformed
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		TimetableFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busmap_timetable_fetches_total",
			Help: "Timetable provider requests by result.",
		}, []string{"result"}),
		TimetableFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "busmap_timetable_fetch_duration_seconds",
			Help:    "Duration of timetable provider requests.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		TimetableLines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busmap_timetable_lines",
			Help: "Lines with upcoming buses in the selected stop timetable.",
		}),
		StarToggles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busmap_star_toggles_total",
			Help: "Total star toggles.",
		}),
		StarredStops: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busmap_starred_stops",
			Help: "Number of starred stops.",
		}),
		GeolocationFixes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busmap_geolocation_fixes_total",
			Help: "Positions received from the platform.",
		}),
		GeolocationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busmap_geolocation_errors_total",
			Help: "Geolocation errors by reason.",
		}, []string{"reason"}),
		LocationCacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busmap_location_cache_lookups_total",
			Help: "Cached location reads by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.TimetableFetches, c.TimetableFetchDuration, c.TimetableLines,
		c.StarToggles, c.StarredStops,
		c.GeolocationFixes, c.GeolocationErrors,
		c.LocationCacheLookups,
	)

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// ObserveFetch records one timetable provider request
func (c *Collector) ObserveFetch(d time.Duration, err error) {
	c.TimetableFetchDuration.Observe(d.Seconds())
	if err != nil {
		c.TimetableFetches.WithLabelValues("error").Inc()
		return
	}
	c.TimetableFetches.WithLabelValues("ok").Inc()
}

func (c *Collector) SetLinesShown(n int) { c.TimetableLines.Set(float64(n)) }

func (c *Collector) StarToggled() { c.StarToggles.Inc() }

func (c *Collector) SetStarredStops(n int) { c.StarredStops.Set(float64(n)) }

func (c *Collector) FixReceived() { c.GeolocationFixes.Inc() }

func (c *Collector) FixFailed(reason string) { c.GeolocationErrors.WithLabelValues(reason).Inc() }

func (c *Collector) CacheLookup(result string) { c.LocationCacheLookups.WithLabelValues(result).Inc() }
