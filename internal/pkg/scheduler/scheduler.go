package scheduler

import (
	"sync"
	"time"

	"github.com/Smadaqk5/hotspotconfig/internal/pkg/cache"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
)

const sweepLeaseKey = "scheduler:sweep:lease"

// SweepResult reports what one sweep pass changed.
type SweepResult struct {
	TicketsExpired   int64
	IntentsCancelled int64
	TenantsReset     int64
}

// Sweeper is the set of forward-only background transitions the scheduler
// drives. Implemented by the wiring in cmd/hotspotd.
type Sweeper interface {
	SweepExpiredTickets(now time.Time) (int64, error)
	CancelStaleIntents(now time.Time) (int64, error)
	RolloverUsagePeriods(now time.Time) (int64, error)
}

// Leaser hands out the exclusive sweep lease. Acquire returns a holder token
// that Release requires back, so an expired holder cannot drop a lease
// another instance has taken over.
type Leaser interface {
	Acquire(key string, ttl time.Duration) (string, bool, error)
	Release(key, token string) error
}

// cacheLeaser backs the lease with the shared Redis instance.
type cacheLeaser struct{}

func (cacheLeaser) Acquire(key string, ttl time.Duration) (string, bool, error) {
	return cache.AcquireLease(key, ttl)
}

func (cacheLeaser) Release(key, token string) error {
	return cache.ReleaseLease(key, token)
}

// Manager runs the periodic expiry sweep. A Redis lease makes the sweep
// single-flight across instances; state transitions themselves are
// conditional UPDATEs, so a lost lease only costs duplicate work, never
// backward transitions.
type Manager struct {
	sweeper     Sweeper
	leaser      Leaser
	interval    time.Duration
	sweepTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

// NewManager creates a scheduler around the given sweeper. The interval
// comes from SWEEP_INTERVAL_MINUTES (default 5).
func NewManager(sweeper Sweeper) *Manager {
	interval := time.Duration(env.GetEnvInt("SWEEP_INTERVAL_MINUTES", 5)) * time.Minute
	return &Manager{
		sweeper:  sweeper,
		leaser:   cacheLeaser{},
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so the manager can be
	// restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Scheduler] Starting expiry sweep loop")

	m.sweepTicker = time.NewTicker(m.interval)
	m.wg.Add(1)
	go m.sweepWorker()
}

// Stop halts the sweep loop and waits for an in-flight pass to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)
	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}
	m.wg.Wait()
	log.Info("[Scheduler] Stopped")
}

func (m *Manager) sweepWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.sweepTicker.C:
			m.runLeasedSweep()
		}
	}
}

func (m *Manager) runLeasedSweep() {
	token, ok, err := m.leaser.Acquire(sweepLeaseKey, m.interval)
	if err != nil {
		log.Errorf("[Scheduler] Lease acquisition failed: %v", err)
		return
	}
	if !ok {
		// Another instance holds the sweep.
		return
	}
	defer func() {
		if err := m.leaser.Release(sweepLeaseKey, token); err != nil {
			log.Warnf("[Scheduler] Lease release failed: %v", err)
		}
	}()

	result, err := m.RunSweep(time.Now())
	if err != nil {
		log.Errorf("[Scheduler] Sweep pass failed: %v", err)
		return
	}
	if result.TicketsExpired > 0 || result.IntentsCancelled > 0 || result.TenantsReset > 0 {
		log.Infof("[Scheduler] Sweep: %d tickets expired, %d intents cancelled, %d usage periods reset",
			result.TicketsExpired, result.IntentsCancelled, result.TenantsReset)
	}
}

// RunSweep executes one sweep pass. Exposed so an external job runner can
// trigger it directly.
func (m *Manager) RunSweep(now time.Time) (SweepResult, error) {
	var result SweepResult
	var err error

	if result.TicketsExpired, err = m.sweeper.SweepExpiredTickets(now); err != nil {
		return result, err
	}
	if result.IntentsCancelled, err = m.sweeper.CancelStaleIntents(now); err != nil {
		return result, err
	}
	if result.TenantsReset, err = m.sweeper.RolloverUsagePeriods(now); err != nil {
		return result, err
	}
	return result, nil
}
