package metrics

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString_RendersEveryCounter(t *testing.T) {
	m := New()
	m.RunsTotal = 3
	m.DocsIndexedTotal = 1500
	m.HTTPRequestsRejectedQueueFullTotal = 2

	out := m.String()
	assert.Contains(t, out, "runs_total=3\n")
	assert.Contains(t, out, "docs_indexed_total=1500\n")
	assert.Contains(t, out, "http_requests_rejected_queue_full_total=2\n")
	assert.Equal(t, 19, strings.Count(out, "\n"))
}

func TestCountersAreSafeForConcurrentRuns(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			atomic.AddInt64(&m.RunsTotal, 1)
			_ = m.String()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), atomic.LoadInt64(&m.RunsTotal))
}
