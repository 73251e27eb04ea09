package jobqueue

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/davidkroell/SpotRush/app/models"
	"github.com/davidkroell/SpotRush/app/repository"
	"github.com/davidkroell/SpotRush/internal/pkg/env"
	"github.com/davidkroell/SpotRush/internal/pkg/preserver"
)

const prewarmDispatchBatch = 50

// Manager manages the global job queue and background tasks
type Manager struct {
	queue         *Queue
	prewarmTicker *time.Ticker
	sweepTicker   *time.Ticker
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		workerCount := 5
		if raw := env.GetEnv("JOBQUEUE_WORKER_COUNT", ""); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				workerCount = n
			}
		}

		globalManager = &Manager{
			queue:  NewQueue(workerCount),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	// Start the job queue
	m.queue.Start()

	// Prewarm dispatcher scans often: the whole point is firing within
	// seconds of the planned wake time.
	prewarmInterval := 10 * time.Second
	if raw := env.GetEnv("PREWARM_SCAN_INTERVAL_SECONDS", ""); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			prewarmInterval = time.Duration(n) * time.Second
		}
	}
	m.prewarmTicker = time.NewTicker(prewarmInterval)
	m.wg.Add(1)
	go m.prewarmDispatchWorker()

	// Pause sweeper closes resume windows nobody used.
	m.sweepTicker = time.NewTicker(5 * time.Minute)
	m.wg.Add(1)
	go m.pauseSweepWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.prewarmTicker != nil {
		m.prewarmTicker.Stop()
	}
	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.stopCh = nil
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// prewarmDispatchWorker scans for due warm-ups and queues their triggers
func (m *Manager) prewarmDispatchWorker() {
	defer m.wg.Done()
	log.Info("[JobQueue Manager] Started prewarm dispatch worker")

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Prewarm dispatch worker stopping")
			return
		case <-m.prewarmTicker.C:
			if err := m.dispatchDuePrewarms(); err != nil {
				log.Errorf("[JobQueue Manager] Prewarm dispatch error: %v", err)
			}
		}
	}
}

// pauseSweepWorker expires paused snapshots whose resume window closed
func (m *Manager) pauseSweepWorker() {
	defer m.wg.Done()
	log.Info("[JobQueue Manager] Started pause sweep worker")

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Pause sweep worker stopping")
			return
		case <-m.sweepTicker.C:
			if err := m.sweepPausesOnce(); err != nil {
				log.Errorf("[JobQueue Manager] Pause sweep error: %v", err)
			}
		}
	}
}

func (m *Manager) dispatchDuePrewarms() error {
	factory := repository.GetGlobalFactory()
	if factory == nil {
		return nil
	}
	repos := factory.GetRepositories()

	due, err := repos.Prewarm.ListDue(time.Now(), prewarmDispatchBatch)
	if err != nil {
		return err
	}
	for _, job := range due {
		// Flip to running before enqueueing so the next scan skips it.
		if err := repos.Prewarm.SetStatus(job.SessionID, models.PrewarmStatusRunning, ""); err != nil {
			log.Errorf("[JobQueue Manager] Failed to claim prewarm for session %d: %v", job.SessionID, err)
			continue
		}
		if _, err := m.queue.EnqueueJob(JobTypePrewarmTrigger, PrewarmTriggerJobPayload{SessionID: job.SessionID}.ToMap()); err != nil {
			log.Errorf("[JobQueue Manager] Failed to enqueue prewarm trigger for session %d: %v", job.SessionID, err)
			_ = repos.Prewarm.SetStatus(job.SessionID, models.PrewarmStatusScheduled, "")
		}
	}
	return nil
}

func (m *Manager) sweepPausesOnce() error {
	factory := repository.GetGlobalFactory()
	if factory == nil {
		return nil
	}
	repos := factory.GetRepositories()

	_, err := preserver.New(repos.Pause).Cleanup()
	return err
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
