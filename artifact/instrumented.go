package artifact

import (
	"context"

	"github.com/pithecene-io/psdweb/metrics"
)

// InstrumentedWriter wraps a Writer and counts storage writes.
type InstrumentedWriter struct {
	inner     Writer
	collector *metrics.Collector
}

// NewInstrumentedWriter wraps a writer with metrics instrumentation.
func NewInstrumentedWriter(inner Writer, collector *metrics.Collector) *InstrumentedWriter {
	return &InstrumentedWriter{inner: inner, collector: collector}
}

// WriteBundle delegates to the inner writer and records success or failure.
func (w *InstrumentedWriter) WriteBundle(ctx context.Context, p Partition, b Bundle) ([]string, error) {
	paths, err := w.inner.WriteBundle(ctx, p, b)
	if err != nil {
		w.collector.IncStorageWriteFailure()
	} else {
		w.collector.IncStorageWriteSuccess()
	}
	return paths, err
}

// Verify InstrumentedWriter implements Writer.
var _ Writer = (*InstrumentedWriter)(nil)
