// Package metrics aggregates run counters on a private Prometheus registry.
// A migration is a one-shot batch, so the counters are not scraped; they are
// gathered once at the end of the run into the summary log.
package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run holds the counters for a single migration run.
type Run struct {
	registry *prometheus.Registry

	RowsDeleted       *prometheus.CounterVec
	RecordsLoaded     *prometheus.CounterVec
	RecordsInserted   *prometheus.CounterVec
	RecordsDropped    *prometheus.CounterVec
	Violations        prometheus.Counter
	AssetsTransferred prometheus.Counter
	AssetsSkipped     prometheus.Counter
}

// NewRun constructs a run-scoped metrics set backed by its own registry so
// repeated runs in one process (tests) never collide.
func NewRun() *Run {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Run{
		registry: registry,
		RowsDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_rows_deleted_total",
			Help: "Rows deleted from destination tables during cleanup.",
		}, []string{"table"}),
		RecordsLoaded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_records_loaded_total",
			Help: "Records loaded from the source store per entity kind.",
		}, []string{"kind"}),
		RecordsInserted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_records_inserted_total",
			Help: "Records inserted into destination tables.",
		}, []string{"table"}),
		RecordsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_records_dropped_total",
			Help: "Records excluded from insertion due to integrity violations.",
		}, []string{"table"}),
		Violations: factory.NewCounter(prometheus.CounterOpts{
			Name: "migration_integrity_violations_total",
			Help: "Integrity violations reported by the checker.",
		}),
		AssetsTransferred: factory.NewCounter(prometheus.CounterOpts{
			Name: "migration_assets_transferred_total",
			Help: "Template assets transferred to the object store.",
		}),
		AssetsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "migration_assets_skipped_total",
			Help: "Template assets skipped because the source held no payload.",
		}),
	}
}

// Summary flattens the current counter values into a deterministic
// name{labels} -> value map for the end-of-run log line.
func (r *Run) Summary() (map[string]float64, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			key := family.GetName()
			if labels := metric.GetLabel(); len(labels) > 0 {
				parts := make([]string, 0, len(labels))
				for _, label := range labels {
					parts = append(parts, fmt.Sprintf("%s=%s", label.GetName(), label.GetValue()))
				}
				sort.Strings(parts)
				key = fmt.Sprintf("%s{%s}", key, strings.Join(parts, ","))
			}
			out[key] = metric.GetCounter().GetValue()
		}
	}
	return out, nil
}
