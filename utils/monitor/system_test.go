package monitor

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestProcessMonitor(t *testing.T) {
	reg := prometheus.NewRegistry()
	mon := NewProcessMonitor(context.Background(), reg, 10*time.Millisecond, zaptest.NewLogger(t))
	defer mon.Stop()

	assert.Greater(t, testutil.ToFloat64(mon.goroutines), 0.0)
	assert.Greater(t, testutil.ToFloat64(mon.heapAlloc), 0.0)

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	runtime.GC()
	s := mon.Collect()
	assert.Positive(t, s.NumGC)
	assert.Equal(t, s.GCPause.Seconds(), testutil.ToFloat64(mon.gcPause))
}

func TestProcessMonitorStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mon := NewProcessMonitor(ctx, nil, time.Millisecond, nil)
	cancel()

	done := make(chan struct{})
	go func() {
		mon.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func BenchmarkCollect(b *testing.B) {
	mon := NewProcessMonitor(context.Background(), nil, 0, nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = mon.Collect()
	}
}
