package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrometheusRecorderRecordsWithoutPanicking(t *testing.T) {
	rec := NewPrometheusRecorder()
	assert.NotPanics(t, func() {
		rec.IncCounter("settled", map[string]string{"network": "base-sepolia"})
		rec.ObserveLatency("verify", 50*time.Millisecond, map[string]string{"network": "base-sepolia"})
	})
}

func TestNoopRecorderDiscardsEverything(t *testing.T) {
	var rec Recorder = NoopRecorder{}
	assert.NotPanics(t, func() {
		rec.IncCounter("anything", nil)
		rec.ObserveLatency("anything", time.Second, nil)
	})
}
