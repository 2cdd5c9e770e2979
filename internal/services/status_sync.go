package services

import (
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"automator/internal/models"
)

// StatusSyncService sweeps execution rows whose status stopped
// matching reality: a crashed replay leaves its RecordExecution stuck
// in "running", and the history views would show it forever.
type StatusSyncService struct {
	db       *gorm.DB
	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
}

// NewStatusSyncService builds a sweeper over the given database
// handle. interval is how often to sweep, timeout is how long a
// "running" execution may live before being failed.
func NewStatusSyncService(db *gorm.DB, interval, timeout time.Duration) *StatusSyncService {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &StatusSyncService{db: db, interval: interval, timeout: timeout}
}

// Start begins the sweep loop. Idempotent.
func (s *StatusSyncService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	go s.loop(s.stop)
	log.Println("Status sync service started")
}

// Stop ends the sweep loop. Idempotent.
func (s *StatusSyncService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stop)
	log.Println("Status sync service stopped")
}

func (s *StatusSyncService) loop(stop chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.sweepStuckExecutions()
		}
	}
}

// sweepStuckExecutions fails every "running" execution older than the
// timeout.
func (s *StatusSyncService) sweepStuckExecutions() {
	cutoff := time.Now().Add(-s.timeout)

	var stuck []models.RecordExecution
	err := s.db.Where("status = ? AND start_time < ?", "running", cutoff).Find(&stuck).Error
	if err != nil {
		log.Printf("Failed to query stuck executions: %v", err)
		return
	}

	for _, execution := range stuck {
		now := time.Now()
		execution.EndTime = &now
		execution.Duration = int(now.Sub(execution.StartTime).Milliseconds())
		execution.Status = "failed"
		execution.ErrorMessage = "Execution timed out"

		if err := s.db.Save(&execution).Error; err != nil {
			log.Printf("Failed to time out execution %d: %v", execution.ID, err)
			continue
		}
		log.Printf("Timed out stuck execution %d after %dms", execution.ID, execution.Duration)
	}
}
