// Package connectivity watches backend reachability and triggers a sync
// when the link comes back. The trigger is debounced so a flapping link
// fires one sync after it stabilizes, not one per flap.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/plataformas-interjato/super-app-evos-sub001/internal/logging"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/remote"
)

// SyncFunc is invoked when a debounced reconnection settles.
type SyncFunc func(ctx context.Context)

// Monitor polls a Prober and also accepts pushed state changes from the
// host platform. Only the offline-to-online edge schedules a sync.
type Monitor struct {
	prober        remote.Prober
	trigger       SyncFunc
	probeInterval time.Duration
	debounce      time.Duration

	mu      sync.Mutex
	online  bool
	timer   *time.Timer
	stopped bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Monitor. The trigger runs on its own goroutine when the
// debounce window elapses.
func New(prober remote.Prober, trigger SyncFunc, probeInterval, debounce time.Duration) *Monitor {
	return &Monitor{
		prober:        prober,
		trigger:       trigger,
		probeInterval: probeInterval,
		debounce:      debounce,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the probe loop. The first probe runs immediately so the
// initial state does not wait a full interval.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.observe(m.probe())

		ticker := time.NewTicker(m.probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.observe(m.probe())
			}
		}
	}()
}

// Stop halts the probe loop and cancels any pending debounced sync.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
}

// Notify feeds an externally observed state change, e.g. from the host
// platform's network callbacks. It obeys the same edge and debounce rules
// as the poller.
func (m *Monitor) Notify(online bool) {
	m.observe(online)
}

// Online reports the last observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// TriggerNow bypasses the debounce and runs the sync immediately, for
// explicit user-initiated refreshes.
func (m *Monitor) TriggerNow(ctx context.Context) {
	m.trigger(ctx)
}

func (m *Monitor) probe() bool {
	ctx, cancel := context.WithTimeout(context.Background(), m.probeInterval)
	defer cancel()
	return m.prober.Online(ctx)
}

// observe applies one reachability sample. A reconnection edge arms the
// debounce timer; a repeat edge inside the window re-arms it rather than
// stacking a second fire. Going offline cancels any pending fire.
func (m *Monitor) observe(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}

	wasOnline := m.online
	m.online = online

	switch {
	case online && !wasOnline:
		logging.Info("backend reachable again, scheduling sync", logging.Fields{
			"debounce": m.debounce.String(),
		})
		if m.timer != nil {
			m.timer.Stop()
		}
		m.timer = time.AfterFunc(m.debounce, m.fire)

	case !online && wasOnline:
		logging.Info("backend unreachable", nil)
		if m.timer != nil {
			m.timer.Stop()
			m.timer = nil
		}
	}
}

func (m *Monitor) fire() {
	m.mu.Lock()
	if m.stopped || !m.online {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	m.trigger(context.Background())
}
