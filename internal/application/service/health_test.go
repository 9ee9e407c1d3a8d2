package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"quotehub/internal/domain/model"
)

func TestHealthTracker(t *testing.T) {
	h := NewHealthTracker(map[string]float64{"tushare": 0.9})
	assert.Equal(t, 0.9, h.Reliability("tushare"))
	assert.Equal(t, 0.5, h.Reliability("unknown"))

	h.RecordSuccess("tushare", 10*time.Millisecond)
	h.RecordFailure("tushare", errors.New("timeout"), 30*time.Millisecond)
	h.RecordFailure("tushare", errors.New("reset"), 20*time.Millisecond)

	assert.InDelta(t, 0.3, h.Reliability("tushare"), 1e-9)

	var st model.ProviderStatus
	h.Fill("tushare", &st)
	assert.Equal(t, int64(1), st.Successes)
	assert.Equal(t, int64(2), st.Failures)
	assert.Equal(t, int64(2), st.ConsecutiveFailures)
	assert.Equal(t, "reset", st.LastError)
	assert.Equal(t, 20.0, st.AvgLatencyMs)
	assert.False(t, st.LastSuccess.IsZero())

	h.RecordSuccess("tushare", 0)
	h.Fill("tushare", &st)
	assert.Equal(t, int64(0), st.ConsecutiveFailures)
}

func TestHealthTracker_RecentWindowForgets(t *testing.T) {
	h := NewHealthTracker(map[string]float64{"akshare": 1})
	for range recentWindow {
		h.RecordFailure("akshare", errors.New("down"), 0)
	}
	assert.Equal(t, 0.0, h.Reliability("akshare"))
	for range recentWindow / 2 {
		h.RecordSuccess("akshare", 0)
	}
	assert.InDelta(t, 0.5, h.Reliability("akshare"), 1e-9)
}
