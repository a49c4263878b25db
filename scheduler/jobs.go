package scheduler

import (
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"chartstream-backend/services"
	"chartstream-backend/services/alerts"
	"chartstream-backend/services/triggerlog"
)

// Scheduler manages background jobs
type Scheduler struct {
	cron     *gocron.Scheduler
	alerts   *alerts.Service
	store    *services.QuoteStore
	registry *services.SubscriptionRegistry
	archive  *services.ArchiveService // optional
	history  *triggerlog.Service      // optional
}

// NewScheduler creates a new scheduler instance
func NewScheduler(alertService *alerts.Service, store *services.QuoteStore, registry *services.SubscriptionRegistry, archive *services.ArchiveService, history *triggerlog.Service) *Scheduler {
	return &Scheduler{
		cron:     gocron.NewScheduler(time.UTC),
		alerts:   alertService,
		store:    store,
		registry: registry,
		archive:  archive,
		history:  history,
	}
}

// Start starts all background jobs
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Expire alerts hourly; catches alerts on symbols nobody is watching
	s.cron.Every(1).Hour().Do(func() {
		s.alerts.SweepExpired()
	})

	// Archive the latest snapshots every minute
	if s.archive != nil {
		s.cron.Every(1).Minute().Do(func() {
			s.archiveSnapshots()
		})
	}

	// Trim trigger history weekly on Sunday at 01:00
	if s.history != nil {
		s.cron.Every(1).Week().Sunday().At("01:00").Do(func() {
			if _, err := s.history.CleanupOlderThan(triggerlog.RetentionPeriod); err != nil {
				log.Printf("Error cleaning up trigger history: %v", err)
			}
		})
	}

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// archiveSnapshots persists the cached quote of every active symbol
func (s *Scheduler) archiveSnapshots() {
	symbols := s.registry.ActiveSymbols()
	if len(symbols) == 0 {
		return
	}

	written := s.archive.ArchiveAll(s.store, symbols)
	if written > 0 {
		log.Printf("Archived %d quote snapshots", written)
	}
}
