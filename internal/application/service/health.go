package service

import (
	"sync"
	"time"

	"quotehub/internal/domain/model"
)

// recentWindow is how many outcomes feed the reliability ratio.
const recentWindow = 100

type providerStats struct {
	successes    int64
	failures     int64
	consecutive  int64
	lastErr      string
	lastSuccess  time.Time
	totalLatency time.Duration
	calls        int64

	recent []bool
	next   int
}

func (s *providerStats) push(ok bool) {
	if len(s.recent) < recentWindow {
		s.recent = append(s.recent, ok)
		return
	}
	s.recent[s.next] = ok
	s.next = (s.next + 1) % recentWindow
}

func (s *providerStats) recentRatio() float64 {
	if len(s.recent) == 0 {
		return 1
	}
	var ok int
	for _, r := range s.recent {
		if r {
			ok++
		}
	}
	return float64(ok) / float64(len(s.recent))
}

// HealthTracker keeps per-provider call outcomes.
type HealthTracker struct {
	mu      sync.RWMutex
	stats   map[string]*providerStats
	weights map[string]float64
	now     func() time.Time
}

// NewHealthTracker takes the static reliability weight per provider. Unknown providers weigh 0.5.
func NewHealthTracker(weights map[string]float64) *HealthTracker {
	return &HealthTracker{
		stats:   make(map[string]*providerStats),
		weights: weights,
		now:     time.Now,
	}
}

func (h *HealthTracker) get(name string) *providerStats {
	s, ok := h.stats[name]
	if !ok {
		s = &providerStats{}
		h.stats[name] = s
	}
	return s
}

func (h *HealthTracker) RecordSuccess(name string, took time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.get(name)
	s.successes++
	s.consecutive = 0
	s.lastSuccess = h.now()
	s.totalLatency += took
	s.calls++
	s.push(true)
}

func (h *HealthTracker) RecordFailure(name string, err error, took time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.get(name)
	s.failures++
	s.consecutive++
	if err != nil {
		s.lastErr = err.Error()
	}
	s.totalLatency += took
	s.calls++
	s.push(false)
}

// Reliability is the configured weight scaled by the recent success ratio.
func (h *HealthTracker) Reliability(name string) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	w, ok := h.weights[name]
	if !ok {
		w = 0.5
	}
	if s, ok := h.stats[name]; ok {
		return w * s.recentRatio()
	}
	return w
}

// Fill copies the counters for name into st.
func (h *HealthTracker) Fill(name string, st *model.ProviderStatus) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.stats[name]
	if !ok {
		return
	}
	st.Successes = s.successes
	st.Failures = s.failures
	st.ConsecutiveFailures = s.consecutive
	st.LastError = s.lastErr
	st.LastSuccess = s.lastSuccess
	if s.calls > 0 {
		st.AvgLatencyMs = float64(s.totalLatency.Milliseconds()) / float64(s.calls)
	}
}
