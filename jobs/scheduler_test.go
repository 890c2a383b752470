package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/HSouheill/barrim_network/config"
	"github.com/HSouheill/barrim_network/models"
	"github.com/HSouheill/barrim_network/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRunners struct {
	periodEnd   time.Time
	filter      models.CommissionFilter
	staleAfter  time.Duration
	sweptAt     time.Time
	sweeps      int
	polls       int
	batchReport *models.PayoutBatchReport
}

func (f *fakeRunners) ComputeMonthlyResiduals(ctx context.Context, periodEnd time.Time) ([]models.CommissionRecord, error) {
	f.periodEnd = periodEnd
	return nil, nil
}

func (f *fakeRunners) ProcessBulk(ctx context.Context, filter models.CommissionFilter) (*models.PayoutBatchReport, error) {
	f.filter = filter
	if f.batchReport == nil {
		return &models.PayoutBatchReport{}, nil
	}
	return f.batchReport, nil
}

func (f *fakeRunners) ReconcileStale(ctx context.Context, olderThan time.Duration) (*services.ReconcileReport, error) {
	f.staleAfter = olderThan
	return &services.ReconcileReport{}, nil
}

func (f *fakeRunners) Sweep(ctx context.Context) (*services.SweepReport, error) {
	f.sweeps++
	return &services.SweepReport{}, nil
}

func (f *fakeRunners) PollOpen(ctx context.Context) (int, error) {
	f.polls++
	return 0, nil
}

func (f *fakeRunners) SweepExpired(ctx context.Context, now time.Time) (*services.IntentSweepReport, error) {
	f.sweptAt = now
	return &services.IntentSweepReport{}, nil
}

func newTestScheduler(cfg config.RuntimeConfig, fake *fakeRunners, now time.Time) *Scheduler {
	s := NewScheduler(cfg, Runners{Residuals: fake, Payouts: fake, Qualification: fake, Intents: fake}, zap.NewNop())
	s.now = func() time.Time { return now }
	return s
}

func TestPreviousPeriodEnd(t *testing.T) {
	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2026, 10, 1, 2, 0, 0, 0, time.UTC), time.Date(2026, 9, 30, 23, 59, 59, 999999999, time.UTC)},
		{time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), time.Date(2025, 12, 31, 23, 59, 59, 999999999, time.UTC)},
		{time.Date(2026, 3, 1, 1, 0, 0, 0, time.FixedZone("UTC+3", 3*3600)), time.Date(2026, 1, 31, 23, 59, 59, 999999999, time.UTC)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PreviousPeriodEnd(tt.now), "now=%s", tt.now)
	}
}

func TestRegister(t *testing.T) {
	cfg := config.LoadRuntimeConfig()
	cfg.StaleCheckCron = ""

	s := newTestScheduler(cfg, &fakeRunners{}, time.Now())
	require.NoError(t, s.Register(context.Background()))
	assert.ElementsMatch(t, []string{"residuals", "payouts", "qualification", "intent-poll", "intent-sweep"}, s.Jobs())
}

func TestRegister_InvalidSchedule(t *testing.T) {
	cfg := config.RuntimeConfig{ResidualsCron: "every month"}

	s := newTestScheduler(cfg, &fakeRunners{}, time.Now())
	err := s.Register(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "residuals")
}

func TestJobsUseThePreviousPeriod(t *testing.T) {
	fake := &fakeRunners{batchReport: &models.PayoutBatchReport{Warnings: []string{"low balance"}}}
	now := time.Date(2026, 10, 1, 6, 0, 0, 0, time.UTC)
	cfg := config.RuntimeConfig{StaleProcessing: 20 * time.Minute}
	s := newTestScheduler(cfg, fake, now)
	ctx := context.Background()

	require.NoError(t, s.runResiduals(ctx))
	assert.Equal(t, "2026-09", services.PeriodFor(fake.periodEnd))

	require.NoError(t, s.runPayouts(ctx))
	assert.Equal(t, "2026-09", fake.filter.Period)

	require.NoError(t, s.runStalePayouts(ctx))
	assert.Equal(t, 20*time.Minute, fake.staleAfter)

	require.NoError(t, s.runIntentSweep(ctx))
	assert.Equal(t, now, fake.sweptAt)

	require.NoError(t, s.runQualification(ctx))
	require.NoError(t, s.runIntentPoll(ctx))
	assert.Equal(t, 1, fake.sweeps)
	assert.Equal(t, 1, fake.polls)
}

func TestStartStop(t *testing.T) {
	cfg := config.RuntimeConfig{QualificationCron: "0 3 * * *"}
	s := newTestScheduler(cfg, &fakeRunners{}, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()
	s.Stop()
	s.Stop()
}
