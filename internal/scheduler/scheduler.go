// Package scheduler runs the data-retention sweep. Abandoned sessions
// (started but never finished) are purged on a cron schedule so the
// database only accumulates usable records. Completed sessions are never
// touched.
package scheduler

import (
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"EconLab/internal/store"
)

// Scheduler manages the retention cron task.
type Scheduler struct {
	Cron   *cron.Cron
	Store  store.Store
	MaxAge time.Duration
}

// NewScheduler creates a Scheduler that purges incomplete sessions older
// than maxAge.
func NewScheduler(st store.Store, maxAge time.Duration) *Scheduler {
	return &Scheduler{
		Cron:   cron.New(cron.WithSeconds()),
		Store:  st,
		MaxAge: maxAge,
	}
}

// Register adds the retention task on the given cron spec.
func (s *Scheduler) Register(spec string) error {
	if _, err := s.Cron.AddFunc(spec, s.retentionSweep); err != nil {
		return fmt.Errorf("register retention task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[INFO] retention scheduler started")
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	s.Cron.Stop()
	log.Println("[INFO] retention scheduler stopped")
}

// RunNow executes the retention sweep immediately (for manual trigger).
func (s *Scheduler) RunNow() {
	s.retentionSweep()
}

func (s *Scheduler) retentionSweep() {
	cutoff := time.Now().Add(-s.MaxAge)
	n, err := s.Store.PurgeAbandoned(cutoff)
	if err != nil {
		log.Printf("[ERROR] retention sweep: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[INFO] retention sweep purged %d abandoned sessions older than %s", n, cutoff.UTC().Format(time.RFC3339))
	}
}
