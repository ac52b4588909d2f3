package metrics

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/zap"
)

const systemMetricsInterval = 10 * time.Second

// StartSystemMetricsCollector samples goroutine and memory gauges until ctx is done
func StartSystemMetricsCollector(ctx context.Context, logger *zap.Logger) {
	if logger == nil || Get() == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(systemMetricsInterval)
		defer ticker.Stop()

		collectSystemMetrics()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collectSystemMetrics()
			}
		}
	}()

	logger.Info("System metrics collector started", zap.Duration("interval", systemMetricsInterval))
}

func collectSystemMetrics() {
	m := Get()
	if m == nil {
		return
	}

	m.ProcessGoroutines.Set(float64(runtime.NumGoroutine()))

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	m.ProcessMemoryBytes.WithLabelValues("heap").Set(float64(stats.HeapAlloc))
	m.ProcessMemoryBytes.WithLabelValues("stack").Set(float64(stats.StackInuse))
	m.ProcessMemoryBytes.WithLabelValues("sys").Set(float64(stats.Sys))
}
