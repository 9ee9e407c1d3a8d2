package model

import "time"

// Capability is a bit set of what a provider can serve.
type Capability uint8

const (
	CapRealtime Capability = 1 << iota
	CapHistory
)

func (c Capability) Has(o Capability) bool { return c&o == o }

func (c Capability) Strings() []string {
	var out []string
	if c.Has(CapRealtime) {
		out = append(out, "realtime")
	}
	if c.Has(CapHistory) {
		out = append(out, "history")
	}
	return out
}

// ProviderStatus is the runtime view of one provider.
type ProviderStatus struct {
	Name                string    `json:"name"`
	Enabled             bool      `json:"enabled"`
	Markets             []Market  `json:"markets"`
	Capabilities        []string  `json:"capabilities"`
	BreakerState        string    `json:"breaker_state"`
	Successes           int64     `json:"successes"`
	Failures            int64     `json:"failures"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
	AvgLatencyMs        float64   `json:"avg_latency_ms"`
}

// SuccessRatio falls back to 1 for providers that have not been called yet.
func (s ProviderStatus) SuccessRatio() float64 {
	total := s.Successes + s.Failures
	if total == 0 {
		return 1
	}
	return float64(s.Successes) / float64(total)
}
