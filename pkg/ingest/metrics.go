package ingest

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/otherjamesbrown/dealbook/pkg/entities"
)

// Outcome labels for dealbook_import_records_total.
const (
	OutcomeCreated   = "created"
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeSkipped   = "skipped"
	OutcomeErrored   = "errored"
)

// Metrics holds the Prometheus metrics of the importer. A nil *Metrics
// records nothing.
type Metrics struct {
	RecordsTotal         *prometheus.CounterVec
	ResolutionsTotal     *prometheus.CounterVec
	RegionsNotFoundTotal *prometheus.CounterVec
	SourceSeconds        *prometheus.HistogramVec
}

// NewMetrics registers the importer metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealbook_import_records_total",
				Help: "Rows imported by dataset and outcome",
			},
			[]string{"dataset", "outcome"},
		),
		ResolutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealbook_entity_resolutions_total",
				Help: "Entity name resolutions by kind and how they resolved",
			},
			[]string{"kind", "source"},
		),
		RegionsNotFoundTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealbook_import_regions_not_found_total",
				Help: "Sources skipped because no header row matched",
			},
			[]string{"dataset"},
		),
		SourceSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dealbook_import_source_seconds",
				Help:    "Time spent importing one source",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
			[]string{"dataset"},
		),
	}
}

// RecordRow counts one row outcome.
func (m *Metrics) RecordRow(dataset, outcome string) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(dataset, outcome).Inc()
}

// RecordResolution counts one entity resolution.
func (m *Metrics) RecordResolution(ref entities.Ref) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(string(ref.Kind), string(ref.Source)).Inc()
}

// RecordRegionNotFound counts a skipped source.
func (m *Metrics) RecordRegionNotFound(dataset string) {
	if m == nil {
		return
	}
	m.RegionsNotFoundTotal.WithLabelValues(dataset).Inc()
}

// ObserveSource records how long a source took.
func (m *Metrics) ObserveSource(dataset string, seconds float64) {
	if m == nil {
		return
	}
	m.SourceSeconds.WithLabelValues(dataset).Observe(seconds)
}

// WriteTextfile writes everything g gathers to path in the text exposition
// format, for the node exporter textfile collector.
func WriteTextfile(g prometheus.Gatherer, path string) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
