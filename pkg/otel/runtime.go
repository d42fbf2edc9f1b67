package otel

import (
	"time"

	hostmetrics "go.opentelemetry.io/contrib/instrumentation/host"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
)

// StartRuntimeMetrics reports Go runtime statistics (memory, GC, goroutines)
// and, when includeHost is set, host CPU/memory/network metrics through the
// configured meter provider.
func StartRuntimeMetrics(includeHost bool) error {
	mp := GetMeterProvider()

	if err := runtime.Start(
		runtime.WithMeterProvider(mp),
		runtime.WithMinimumReadMemStatsInterval(30*time.Second),
	); err != nil {
		return err
	}

	if !includeHost {
		return nil
	}
	return hostmetrics.Start(hostmetrics.WithMeterProvider(mp))
}
