// Package metrics collects Prometheus telemetry for the submission store:
// loads, persists and deletions, repeat-group integrity anomalies and blob
// traffic. A nil *Collector is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Anomaly kinds.
const (
	AnomalyDuplicateOrdinal = "duplicate_ordinal"
	AnomalyOrdinalMismatch  = "ordinal_mismatch"
)

type Collector struct {
	registry *prometheus.Registry

	submissionsLoaded    prometheus.Counter
	submissionsPersisted prometheus.Counter
	rowsDeleted          *prometheus.CounterVec
	repeatRows           *prometheus.CounterVec
	anomalies            *prometheus.CounterVec
	blobBytesWritten     prometheus.Counter
	blobBytesRead        prometheus.Counter
}

func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "formstore"
	}
	c := &Collector{
		registry: prometheus.NewRegistry(),
	}

	c.submissionsLoaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "submission",
		Name:      "loaded_total",
		Help:      "Submission trees loaded from storage",
	})
	c.submissionsPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "submission",
		Name:      "persisted_total",
		Help:      "Submission trees written to storage",
	})
	c.rowsDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "submission",
		Name:      "rows_deleted_total",
		Help:      "Rows removed by the deletion manager",
	}, []string{"relation"})
	c.repeatRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "repeat",
		Name:      "rows_read_total",
		Help:      "Repeat-group rows read during tree assembly",
	}, []string{"relation"})
	c.anomalies = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "repeat",
		Name:      "integrity_anomalies_total",
		Help:      "Duplicate or missing ordinals found while assembling repeat groups",
	}, []string{"relation", "kind"})
	c.blobBytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "blob",
		Name:      "bytes_written_total",
		Help:      "Bytes written to the blob chunk store",
	})
	c.blobBytesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "blob",
		Name:      "bytes_read_total",
		Help:      "Bytes read from the blob chunk store",
	})

	c.registry.MustRegister(
		c.submissionsLoaded,
		c.submissionsPersisted,
		c.rowsDeleted,
		c.repeatRows,
		c.anomalies,
		c.blobBytesWritten,
		c.blobBytesRead,
	)
	return c
}

// Registry returns the registry holding all collectors, for exposition.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) SubmissionLoaded() {
	if c == nil {
		return
	}
	c.submissionsLoaded.Inc()
}

func (c *Collector) SubmissionPersisted() {
	if c == nil {
		return
	}
	c.submissionsPersisted.Inc()
}

func (c *Collector) RowDeleted(relation string) {
	if c == nil {
		return
	}
	c.rowsDeleted.WithLabelValues(relation).Inc()
}

func (c *Collector) RepeatRowsRead(relation string, n int) {
	if c == nil {
		return
	}
	c.repeatRows.WithLabelValues(relation).Add(float64(n))
}

func (c *Collector) Anomaly(relation, kind string) {
	if c == nil {
		return
	}
	c.anomalies.WithLabelValues(relation, kind).Inc()
}

func (c *Collector) BlobBytesWritten(n int) {
	if c == nil {
		return
	}
	c.blobBytesWritten.Add(float64(n))
}

func (c *Collector) BlobBytesRead(n int) {
	if c == nil {
		return
	}
	c.blobBytesRead.Add(float64(n))
}
