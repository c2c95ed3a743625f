package monitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Snapshot is one reading of the Go runtime
type Snapshot struct {
	Goroutines  int
	HeapObjects uint64
	HeapAlloc   uint64
	GCPause     time.Duration
	NumGC       uint32
}

// ProcessMonitor samples runtime statistics into gauges on a registry
type ProcessMonitor struct {
	cancel context.CancelFunc
	logger *zap.Logger
	wg     sync.WaitGroup

	goroutines  prometheus.Gauge
	heapObjects prometheus.Gauge
	heapAlloc   prometheus.Gauge
	gcPause     prometheus.Gauge
}

// NewProcessMonitor registers the process gauges on reg and, when interval is
// positive, refreshes them until ctx is cancelled or Stop is called.
func NewProcessMonitor(ctx context.Context, reg prometheus.Registerer, interval time.Duration, logger *zap.Logger) *ProcessMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	ctx, cancel := context.WithCancel(ctx)
	m := &ProcessMonitor{
		cancel: cancel,
		logger: logger,
		goroutines: f.NewGauge(prometheus.GaugeOpts{
			Name: "flasharb_process_goroutines",
			Help: "Current number of goroutines",
		}),
		heapObjects: f.NewGauge(prometheus.GaugeOpts{
			Name: "flasharb_process_heap_objects",
			Help: "Current number of heap objects",
		}),
		heapAlloc: f.NewGauge(prometheus.GaugeOpts{
			Name: "flasharb_process_heap_alloc_bytes",
			Help: "Current heap allocation in bytes",
		}),
		gcPause: f.NewGauge(prometheus.GaugeOpts{
			Name: "flasharb_process_last_gc_pause_seconds",
			Help: "Duration of the most recent GC pause",
		}),
	}
	m.Collect()

	if interval > 0 {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.run(ctx, interval)
		}()
	}
	return m
}

func (m *ProcessMonitor) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := m.Collect()
			m.logger.Debug("Process stats",
				zap.Int("goroutines", s.Goroutines),
				zap.Uint64("heapAlloc", s.HeapAlloc),
				zap.Duration("gcPause", s.GCPause))
		}
	}
}

// Collect reads the runtime once and updates the gauges
func (m *ProcessMonitor) Collect() Snapshot {
	s := Read()
	m.goroutines.Set(float64(s.Goroutines))
	m.heapObjects.Set(float64(s.HeapObjects))
	m.heapAlloc.Set(float64(s.HeapAlloc))
	m.gcPause.Set(s.GCPause.Seconds())
	return s
}

// Stop ends background sampling
func (m *ProcessMonitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Read returns the current runtime statistics
func Read() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s := Snapshot{
		Goroutines:  runtime.NumGoroutine(),
		HeapObjects: memStats.HeapObjects,
		HeapAlloc:   memStats.HeapAlloc,
		NumGC:       memStats.NumGC,
	}
	if memStats.NumGC > 0 {
		s.GCPause = time.Duration(memStats.PauseNs[(memStats.NumGC+255)%256])
	}
	return s
}
