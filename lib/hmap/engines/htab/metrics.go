package htab

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Counters
// --------------------------------------------------------------------------

// stats holds the hot path counters of a table
type stats struct {
	hits      *xsync.Counter
	misses    *xsync.Counter
	updates   *xsync.Counter
	deletes   *xsync.Counter
	evictions *xsync.Counter
	busy      *xsync.Counter
	restarts  *xsync.Counter
}

func newStats() stats {
	return stats{
		hits:      xsync.NewCounter(),
		misses:    xsync.NewCounter(),
		updates:   xsync.NewCounter(),
		deletes:   xsync.NewCounter(),
		evictions: xsync.NewCounter(),
		busy:      xsync.NewCounter(),
		restarts:  xsync.NewCounter(),
	}
}

// Counters is a snapshot of the operation counters of a table
type Counters struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Updates   int64 `json:"updates"`
	Deletes   int64 `json:"deletes"`
	Evictions int64 `json:"evictions"`
	Busy      int64 `json:"busy"`
	Restarts  int64 `json:"restarts"`
}

func (s stats) snapshot() Counters {
	return Counters{
		Hits:      s.hits.Value(),
		Misses:    s.misses.Value(),
		Updates:   s.updates.Value(),
		Deletes:   s.deletes.Value(),
		Evictions: s.evictions.Value(),
		Busy:      s.busy.Value(),
		Restarts:  s.restarts.Value(),
	}
}

// --------------------------------------------------------------------------
// Prometheus Exposition
// --------------------------------------------------------------------------

// newMetricSet exposes the counters and the live count of t as gauges
func newMetricSet(t *Table) *metrics.Set {
	set := metrics.NewSet()
	name := t.name

	counter := func(metric, labels string, c *xsync.Counter) {
		set.NewGauge(fmt.Sprintf(`%s{map=%q%s}`, metric, name, labels), func() float64 {
			return float64(c.Value())
		})
	}

	counter("htab_lookups_total", `,result="hit"`, t.stats.hits)
	counter("htab_lookups_total", `,result="miss"`, t.stats.misses)
	counter("htab_updates_total", "", t.stats.updates)
	counter("htab_deletes_total", "", t.stats.deletes)
	counter("htab_evictions_total", "", t.stats.evictions)
	counter("htab_busy_total", "", t.stats.busy)
	counter("htab_read_restarts_total", "", t.stats.restarts)

	set.NewGauge(fmt.Sprintf(`htab_live_entries{map=%q}`, name), func() float64 {
		return float64(t.count.Load())
	})
	set.NewGauge(fmt.Sprintf(`htab_max_entries{map=%q}`, name), func() float64 {
		return float64(t.maxEntries)
	})
	return set
}

// Metrics returns the metric set of the table, e.g. for metrics.RegisterSet
func (t *Table) Metrics() *metrics.Set {
	return t.metrics
}

// WritePrometheus writes the metrics of the table in Prometheus text format
func (t *Table) WritePrometheus(w io.Writer) {
	t.metrics.WritePrometheus(w)
}
