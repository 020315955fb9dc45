// Package connectivity tracks whether the external registry is
// reachable. A background probe loop flips the state and notifies
// subscribers on every transition; sync is triggered off those
// transitions rather than by polling.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/clinsync/patient-registry/pkg/logger"
)

// Prober answers whether the external registry is currently reachable
type Prober interface {
	Healthy(ctx context.Context) bool
}

// Monitor watches external registry reachability
type Monitor struct {
	prober   Prober
	interval time.Duration
	logger   *logger.Logger

	mu          sync.RWMutex
	online      bool
	subscribers []func(online bool)

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMonitor creates a monitor that probes at the given interval.
// The monitor starts offline until the first successful probe.
func NewMonitor(prober Prober, interval time.Duration, log *logger.Logger) *Monitor {
	return &Monitor{
		prober:   prober,
		interval: interval,
		logger:   log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the probe loop. It probes once immediately, then on
// every tick until Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		defer close(m.done)

		m.probe(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.probe(ctx)
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the probe loop and waits for it to exit
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	<-m.done
}

// Online reports the last observed connectivity state
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe registers a callback invoked on every state transition.
// Callbacks run on the probe goroutine and must not block.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// SetState forces the connectivity state, notifying subscribers on
// transition. Used by tests and the manual override endpoint.
func (m *Monitor) SetState(online bool) {
	m.transition(online)
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	m.transition(m.prober.Healthy(probeCtx))
}

func (m *Monitor) transition(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	subscribers := make([]func(bool), len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.mu.Unlock()

	if !changed {
		return
	}

	if online {
		m.logger.WithComponent("connectivity").Info("External registry reachable")
	} else {
		m.logger.WithComponent("connectivity").Warn("External registry unreachable")
	}

	for _, fn := range subscribers {
		fn(online)
	}
}
