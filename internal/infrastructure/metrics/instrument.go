package metrics

import (
	"time"
)

// Instrument records metrics for a single engine operation.
// Call it at the start of an operation and invoke the returned
// function with the operation's error when it finishes:
//
//	done := metrics.Instrument(collector, exporter, "entity.create")
//	err := doCreate(ctx)
//	done(err)
func Instrument(collector *Collector, exporter *PrometheusExporter, operation string) func(error) {
	start := time.Now()

	collector.RecordOperation(operation)
	if exporter != nil {
		exporter.RecordOperation(operation)
	}

	return func(err error) {
		duration := time.Since(start).Seconds()
		collector.RecordDuration(operation, duration)
		if exporter != nil {
			exporter.RecordDuration(operation, duration)
		}

		if err != nil {
			collector.RecordError(operation)
			if exporter != nil {
				exporter.RecordError(operation)
			}
		}
	}
}
