package metrics

import (
	"testing"

	"imgbatch/internal/transformer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(Options{Labels: prometheus.Labels{"instance": "test"}})
	m.Register(reg)

	done := m.StartRun()

	finish := m.StartItem()
	if got := testutil.ToFloat64(m.currentItems); got != 1 {
		t.Fatalf("current items = %v", got)
	}
	finish(transformer.Outcome{Status: transformer.StatusSucceeded, InputSize: 300, OutputSize: 100})

	m.StartItem()(transformer.Outcome{Status: transformer.StatusFailed, InputSize: 999})
	m.StartItem()(transformer.Outcome{Status: transformer.StatusSkipped})
	done()

	if got := testutil.ToFloat64(m.currentItems); got != 0 {
		t.Fatalf("current items after finish = %v", got)
	}
	if got := testutil.ToFloat64(m.totalItems.WithLabelValues("succeeded")); got != 1 {
		t.Fatalf("succeeded = %v", got)
	}
	if got := testutil.ToFloat64(m.totalItems.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed = %v", got)
	}
	if got := testutil.ToFloat64(m.totalBytesRead); got != 300 {
		t.Fatalf("bytes read = %v", got)
	}
	if got := testutil.ToFloat64(m.totalBytesWritten); got != 100 {
		t.Fatalf("bytes written = %v", got)
	}
	if got := testutil.ToFloat64(m.totalRuns); got != 1 {
		t.Fatalf("runs = %v", got)
	}

	if n, err := testutil.GatherAndCount(reg, "imgbatch_total_bytes"); err != nil || n != 2 {
		t.Fatalf("total_bytes series = %d, %v", n, err)
	}
}
