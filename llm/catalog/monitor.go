package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/duochat/llm"
	"go.uber.org/zap"
)

// ProbeResult is the outcome of the most recent health probe.
type ProbeResult struct {
	Provider    string        `json:"provider"`
	Healthy     bool          `json:"healthy"`
	Latency     time.Duration `json:"latency"`
	LastError   string        `json:"last_error,omitempty"`
	LastCheckAt time.Time     `json:"last_check_at"`
	Failures    int           `json:"consecutive_failures"`
}

// ProbeHook is called after every probe, e.g. to export metrics.
type ProbeHook func(result ProbeResult)

// Monitor probes a backend periodically and keeps the latest result.
type Monitor struct {
	provider llm.Provider
	interval time.Duration
	timeout  time.Duration
	hook     ProbeHook
	logger   *zap.Logger

	mu     sync.RWMutex
	result ProbeResult

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor. interval <= 0 defaults to 30s.
func NewMonitor(provider llm.Provider, interval time.Duration, hook ProbeHook, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		provider: provider,
		interval: interval,
		timeout:  10 * time.Second,
		hook:     hook,
		logger:   logger.With(zap.String("component", "backend_monitor")),
		result:   ProbeResult{Provider: provider.Name()},
	}
}

// Start probes once synchronously and then in the background until Stop.
func (m *Monitor) Start(ctx context.Context) {
	m.Probe(ctx)

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// Stop ends the background loop and waits for it.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe runs one health check and records the result.
func (m *Monitor) Probe(ctx context.Context) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	st, err := m.provider.HealthCheck(ctx)

	m.mu.Lock()
	prev := m.result
	res := ProbeResult{Provider: m.provider.Name(), LastCheckAt: time.Now(), Latency: time.Since(start)}
	if st != nil {
		res.Healthy = st.Healthy
		res.Latency = st.Latency
		if !st.Healthy {
			res.LastError = st.Message
		}
	}
	if err != nil {
		res.Healthy = false
		res.LastError = err.Error()
	}
	if res.Healthy {
		res.Failures = 0
	} else {
		res.Failures = prev.Failures + 1
	}
	m.result = res
	m.mu.Unlock()

	if res.Healthy != prev.Healthy || prev.LastCheckAt.IsZero() {
		if res.Healthy {
			m.logger.Info("backend healthy", zap.String("provider", res.Provider), zap.Duration("latency", res.Latency))
		} else {
			m.logger.Warn("backend unhealthy", zap.String("provider", res.Provider), zap.String("error", res.LastError))
		}
	}
	if m.hook != nil {
		m.hook(res)
	}
	return res
}

// Result returns the latest probe result. It is zero-valued before the first probe.
func (m *Monitor) Result() ProbeResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.result
}
