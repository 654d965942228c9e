package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically deactivates expired sessions on a cron schedule.
type Sweeper struct {
	store  *Store
	cron   *cron.Cron
	logger *slog.Logger
}

func NewSweeper(store *Store, schedule string, logger *slog.Logger) (*Sweeper, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule: %w", err)
	}

	s := &Sweeper{
		store:  store,
		cron:   cron.New(cron.WithParser(parser)),
		logger: logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("register sweep job: %w", err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	count, err := s.store.SweepExpired(context.Background())
	if err != nil {
		s.logger.Error("Session expiry sweep failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("Deactivated expired sessions", "count", count)
	}
}
