package utils

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMetricsCollectorConcurrentCounters(t *testing.T) {
	m := NewMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter("hits")
			m.AddCounter("bytes", 10)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), m.GetCounterValue("hits"))
	assert.Equal(t, int64(500), m.GetCounterValue("bytes"))
	assert.Equal(t, int64(0), m.GetCounterValue("missing"))
}

func TestMetricsCollectorGaugesAndHistograms(t *testing.T) {
	m := NewMetricsCollector()
	m.IncGauge("in_flight")
	m.IncGauge("in_flight")
	m.DecGauge("in_flight")
	assert.Equal(t, int64(1), m.GetGauge("in_flight"))

	m.RecordHistogram("latency", 30)
	m.RecordHistogram("latency", 10)
	m.RecordHistogram("latency", 20)

	snapshot := m.GetMetrics()
	hist := snapshot["histograms"].(map[string]map[string]int64)["latency"]
	assert.Equal(t, int64(3), hist["count"])
	assert.Equal(t, int64(60), hist["sum"])
	assert.Equal(t, int64(10), hist["min"])
	assert.Equal(t, int64(30), hist["max"])
}

func TestAnalysisMetrics(t *testing.T) {
	core, _ := observer.New(zapcore.DebugLevel)
	m := NewMetricsCollector()
	am := NewAnalysisMetricsWith(m, NewLogger(zap.New(core)))

	am.RecordAnalysis("static", 12, 5*time.Millisecond, nil)
	am.RecordAnalysis("google", 0, time.Millisecond, errors.New("down"))
	am.RecordIntakeRejection("type")
	am.RecordAPIRequest("/api/analyze", "POST", 502, time.Millisecond)

	assert.Equal(t, int64(2), m.GetCounterValue("analysis_requests_total"))
	assert.Equal(t, int64(1), m.GetCounterValue("analysis_failures_total"))
	assert.Equal(t, int64(12), m.GetCounterValue("segments_emitted_total"))
	assert.Equal(t, int64(1), m.GetCounterValue("intake_rejections_type"))
	assert.Equal(t, int64(1), m.GetCounterValue("api_responses_5xx"))
}
