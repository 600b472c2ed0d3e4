package telemetry

import (
	"context"
	"time"
)

// SeriesWriter receives numeric readings for time-series storage.
// *influxdb.Client implements it.
type SeriesWriter interface {
	WriteTelemetry(nodeID, nodeType string, data map[string]any, receivedAt time.Time)
	WriteNodeHealth(nodeID string, diagnostics map[string]any, at time.Time)
}

// Recorder saves telemetry to the Store and mirrors it to an optional
// SeriesWriter.
type Recorder struct {
	store  Store
	series SeriesWriter
}

// NewRecorder creates a Recorder. series may be nil.
func NewRecorder(store Store, series SeriesWriter) *Recorder {
	return &Recorder{store: store, series: series}
}

// Record persists rec. The series write happens only after the store accepted it.
func (r *Recorder) Record(ctx context.Context, rec *Record) error {
	if err := r.store.Save(ctx, rec); err != nil {
		return err
	}
	if r.series != nil {
		r.series.WriteTelemetry(rec.NodeID, rec.NodeType, rec.Data, rec.ReceivedAt)
	}
	return nil
}

// RecordHealth forwards heartbeat diagnostics to the series writer.
// Diagnostics are not kept in SQLite; node metadata holds the latest values.
func (r *Recorder) RecordHealth(nodeID string, diagnostics map[string]any, at time.Time) {
	if r.series == nil || len(diagnostics) == 0 {
		return
	}
	r.series.WriteNodeHealth(nodeID, diagnostics, at)
}
