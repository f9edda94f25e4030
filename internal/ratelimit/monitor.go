package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultTickInterval is how often a Monitor re-evaluates its limiter.
const DefaultTickInterval = time.Second

// Monitor re-evaluates a Limiter on a fixed tick and keeps the advisory
// message current. The message is set while the limit is reached and cleared
// as soon as a request would be admitted again.
type Monitor struct {
	limiter  *Limiter
	interval time.Duration
	onChange func(message string)

	mu      sync.RWMutex
	message string
}

// NewMonitor creates a monitor for limiter. onChange, when non-nil, is called
// from the tick goroutine whenever the message changes.
func NewMonitor(limiter *Limiter, interval time.Duration, onChange func(message string)) *Monitor {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Monitor{
		limiter:  limiter,
		interval: interval,
		onChange: onChange,
	}
}

// Run ticks until ctx is done. The owner cancels ctx when the session ends.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evaluate()
		}
	}
}

// Evaluate runs a single tick and returns the resulting message.
func (m *Monitor) Evaluate() string {
	st := m.limiter.Status()

	m.mu.Lock()
	changed := st.Message != m.message
	m.message = st.Message
	m.mu.Unlock()

	if changed && m.onChange != nil {
		m.onChange(st.Message)
	}
	return st.Message
}

// Message returns the advisory from the last tick, or "" when admissible.
func (m *Monitor) Message() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.message
}
