package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HSouheill/barrim_network/config"
	"github.com/HSouheill/barrim_network/logging"
	"github.com/HSouheill/barrim_network/models"
	"github.com/HSouheill/barrim_network/services"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// The scheduler only needs these slices of the services
type (
	ResidualRunner interface {
		ComputeMonthlyResiduals(ctx context.Context, periodEnd time.Time) ([]models.CommissionRecord, error)
	}
	PayoutRunner interface {
		ProcessBulk(ctx context.Context, filter models.CommissionFilter) (*models.PayoutBatchReport, error)
		ReconcileStale(ctx context.Context, olderThan time.Duration) (*services.ReconcileReport, error)
	}
	QualificationRunner interface {
		Sweep(ctx context.Context) (*services.SweepReport, error)
	}
	IntentRunner interface {
		PollOpen(ctx context.Context) (int, error)
		SweepExpired(ctx context.Context, now time.Time) (*services.IntentSweepReport, error)
	}
)

// Runners groups what the scheduled jobs drive
type Runners struct {
	Residuals     ResidualRunner
	Payouts       PayoutRunner
	Qualification QualificationRunner
	Intents       IntentRunner
}

// Scheduler runs the periodic network jobs with robfig/cron. Overlapping runs of the
// same job are skipped.
type Scheduler struct {
	cron     *cron.Cron
	runners  Runners
	cfg      config.RuntimeConfig
	logger   *zap.Logger
	now      func() time.Time
	entryIDs map[string]cron.EntryID
	stopOnce sync.Once
}

func NewScheduler(cfg config.RuntimeConfig, runners Runners, logger *zap.Logger) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		runners:  runners,
		cfg:      cfg,
		logger:   logging.Named(logger, "scheduler"),
		now:      time.Now,
		entryIDs: make(map[string]cron.EntryID),
	}
}

// PreviousPeriodEnd returns the last instant of the month before now, in UTC
func PreviousPeriodEnd(now time.Time) time.Time {
	now = now.UTC()
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return firstOfMonth.Add(-time.Nanosecond)
}

// Register adds every job with a non-empty schedule
func (s *Scheduler) Register(ctx context.Context) error {
	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context) error
	}{
		{"residuals", s.cfg.ResidualsCron, s.runResiduals},
		{"payouts", s.cfg.PayoutCron, s.runPayouts},
		{"qualification", s.cfg.QualificationCron, s.runQualification},
		{"intent-poll", s.cfg.IntentPollCron, s.runIntentPoll},
		{"intent-sweep", s.cfg.IntentSweepCron, s.runIntentSweep},
		{"stale-payouts", s.cfg.StaleCheckCron, s.runStalePayouts},
	}

	for _, job := range jobs {
		if job.schedule == "" {
			continue
		}
		job := job
		entryID, err := s.cron.AddFunc(job.schedule, func() {
			started := time.Now()
			if err := job.run(ctx); err != nil {
				s.logger.Error("scheduled job failed", zap.String("job", job.name), zap.Error(err))
				return
			}
			s.logger.Debug("scheduled job finished", zap.String("job", job.name), zap.Duration("took", time.Since(started)))
		})
		if err != nil {
			return fmt.Errorf("invalid schedule %q for job %s: %w", job.schedule, job.name, err)
		}
		s.entryIDs[job.name] = entryID
	}
	return nil
}

// Start registers the jobs and runs them until ctx is done
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Register(ctx); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.entryIDs)))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop waits for running jobs to finish. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		s.logger.Info("scheduler stopped")
	})
}

// Jobs lists the registered job names
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.entryIDs))
	for name := range s.entryIDs {
		names = append(names, name)
	}
	return names
}

func (s *Scheduler) runResiduals(ctx context.Context) error {
	created, err := s.runners.Residuals.ComputeMonthlyResiduals(ctx, PreviousPeriodEnd(s.now()))
	if err != nil {
		return err
	}
	s.logger.Info("monthly residuals closed", zap.Int("records", len(created)))
	return nil
}

func (s *Scheduler) runPayouts(ctx context.Context) error {
	period := services.PeriodFor(PreviousPeriodEnd(s.now()))
	report, err := s.runners.Payouts.ProcessBulk(ctx, models.CommissionFilter{Period: period})
	if err != nil {
		return err
	}
	for _, warning := range report.Warnings {
		s.logger.Warn("payout batch warning", zap.String("period", period), zap.String("warning", warning))
	}
	return nil
}

func (s *Scheduler) runQualification(ctx context.Context) error {
	_, err := s.runners.Qualification.Sweep(ctx)
	return err
}

func (s *Scheduler) runIntentPoll(ctx context.Context) error {
	_, err := s.runners.Intents.PollOpen(ctx)
	return err
}

func (s *Scheduler) runIntentSweep(ctx context.Context) error {
	_, err := s.runners.Intents.SweepExpired(ctx, s.now())
	return err
}

func (s *Scheduler) runStalePayouts(ctx context.Context) error {
	_, err := s.runners.Payouts.ReconcileStale(ctx, s.cfg.StaleProcessing)
	return err
}
