package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bobmcallan/yieldwatch/internal/common"
	"github.com/bobmcallan/yieldwatch/internal/models"
)

// jobTimeout bounds a single scheduled run.
const jobTimeout = 30 * time.Minute

// Scheduler runs the periodic sync and safety jobs on cron expressions.
// Job contexts derive from one base context that Stop cancels, so running
// batches return their partial results instead of holding up shutdown.
type Scheduler struct {
	app    *App
	cron   *cron.Cron
	logger *common.Logger
	jobs   []string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler registers a job for every non-empty expression in config.
// Expressions use the standard five-field cron format in the market timezone.
func NewScheduler(a *App, config common.SchedulerConfig) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		app:    a,
		cron:   cron.New(cron.WithLocation(a.Config.Market.GetLocation())),
		logger: a.Logger,
		ctx:    ctx,
		cancel: cancel,
	}

	jobs := []struct {
		name     string
		schedule string
		run      func(ctx context.Context) (*models.BatchResult, error)
	}{
		{"quotes", config.QuotesCron, func(ctx context.Context) (*models.BatchResult, error) {
			return a.Market.SyncQuotes(ctx, false)
		}},
		{"historical", config.HistoricalCron, func(ctx context.Context) (*models.BatchResult, error) {
			return a.Market.SyncHistoricalPrices(ctx, 0, false)
		}},
		{"dividends", config.DividendsCron, func(ctx context.Context) (*models.BatchResult, error) {
			return a.Market.SyncDividends(ctx, 0, false)
		}},
	}
	for _, job := range jobs {
		if job.schedule == "" {
			continue
		}
		run := job.run
		name := job.name
		if _, err := s.cron.AddFunc(job.schedule, func() { s.runSync(name, run) }); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid %s schedule %q: %w", name, job.schedule, err)
		}
		s.jobs = append(s.jobs, name)
	}

	if config.SafetyCron != "" {
		if _, err := s.cron.AddFunc(config.SafetyCron, s.runSafety); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid safety schedule %q: %w", config.SafetyCron, err)
		}
		s.jobs = append(s.jobs, "safety")
	}

	return s, nil
}

// Jobs returns the names of the registered jobs in registration order.
func (s *Scheduler) Jobs() []string {
	return append([]string(nil), s.jobs...)
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Strs("jobs", s.jobs).Msg("Scheduler started")
}

// Stop halts the schedule, cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
	s.logger.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) runSync(name string, run func(ctx context.Context) (*models.BatchResult, error)) {
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	result, err := run(ctx)
	if err != nil {
		event := s.logger.Error().Err(err).Str("job", name)
		if result != nil {
			event = event.Int("updated", result.Updated).Int("failed", result.Failed)
		}
		event.Msg("Scheduled sync failed")
		return
	}
	s.logger.Info().
		Str("job", name).
		Int("total", result.Total).
		Int("updated", result.Updated).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("Scheduled sync completed")
}

func (s *Scheduler) runSafety() {
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	results, err := s.app.RefreshSafety(ctx, nil)
	if err != nil {
		s.logger.Warn().Err(err).Int("symbols", len(results)).Msg("Scheduled safety refresh had failures")
		return
	}
	s.logger.Info().Int("symbols", len(results)).Msg("Scheduled safety refresh completed")
}
