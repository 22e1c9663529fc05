package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"taprush/internal/engine"
	"taprush/internal/store"
)

// Scheduler runs the calendar sweeps. The engine also rolls periods lazily
// on first touch, so the cron is about keeping idle sessions and their
// snapshots fresh, not about correctness.
type Scheduler struct {
	eng   *engine.Engine
	store *store.Store
	cron  *cron.Cron
}

func New(eng *engine.Engine, st *store.Store) *Scheduler {
	return &Scheduler{
		eng:   eng,
		store: st,
		cron:  cron.New(cron.WithLocation(time.UTC)),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	// Midnight UTC: refill attempts, reset daily counters and missions.
	if _, err := s.cron.AddFunc("0 0 * * *", func() {
		n := s.eng.RolloverDay(time.Now())
		log.Printf("scheduler: day rollover swept %d sessions", n)
		s.snapshotAll(ctx)
	}); err != nil {
		return err
	}

	// Monday midnight UTC: regenerate weekly missions.
	if _, err := s.cron.AddFunc("0 0 * * 1", func() {
		n := s.eng.RolloverWeek(time.Now())
		log.Printf("scheduler: week rollover swept %d sessions", n)
	}); err != nil {
		return err
	}

	// Periodic snapshot keeps restart loss bounded even for sessions that
	// only accumulate mid-cycle taps.
	if _, err := s.cron.AddFunc("*/15 * * * *", func() {
		s.snapshotAll(ctx)
	}); err != nil {
		return err
	}

	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
	return nil
}

func (s *Scheduler) snapshotAll(ctx context.Context) {
	if s.store == nil {
		return
	}
	saved := 0
	for _, id := range s.eng.Users() {
		snap, ok := s.eng.Snapshot(id)
		if !ok {
			continue
		}
		if err := s.store.Save(ctx, snap); err != nil {
			log.Printf("scheduler: save snapshot for %d: %v", id, err)
			continue
		}
		saved++
	}
	log.Printf("scheduler: persisted %d sessions", saved)
}
