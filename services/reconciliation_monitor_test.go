package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/HSouheill/barrim_network/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const fullPayment = int64(50_000_000)

type monitorFixture struct {
	env       *testEnv
	chain     *fakeChain
	fulfiller *recordingFulfiller
	monitor   *ReconciliationMonitor
	clock     time.Time
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()
	f := &monitorFixture{
		env:       newTestEnv(t),
		chain:     newFakeChain(),
		fulfiller: &recordingFulfiller{},
		clock:     time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
	f.monitor = NewReconciliationMonitor(f.env.store, f.env.store, f.chain, f.env.policy, zap.NewNop())
	f.monitor.SetFulfiller(f.fulfiller)
	f.monitor.now = func() time.Time { return f.clock }
	return f
}

func (f *monitorFixture) openIntent(t *testing.T, address string) *models.PaymentIntent {
	t.Helper()
	member := f.env.addMember(t, nil)
	intent, err := f.monitor.CreateIntent(context.Background(), member, models.IntentTypeInitial, IntentOverrides{DepositAddress: address})
	require.NoError(t, err)
	return intent
}

func (f *monitorFixture) check(t *testing.T, id primitive.ObjectID) *models.PaymentIntent {
	t.Helper()
	intent, err := f.monitor.CheckStatus(context.Background(), id)
	require.NoError(t, err)
	return intent
}

func TestCreateIntent(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	member := f.env.addMember(t, nil)

	intent, err := f.monitor.CreateIntent(ctx, member, models.IntentTypeSubscription, IntentOverrides{})
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusPending, intent.Status)
	assert.Equal(t, "0xissued001", intent.DepositAddress)
	assert.Equal(t, fullPayment, intent.ExpectedAmount)
	assert.Equal(t, "USDC", intent.Currency)
	assert.Equal(t, f.clock.Add(30*time.Minute), intent.ExpiresAt)

	_, err = f.monitor.CreateIntent(ctx, member, models.IntentTypeInitial, IntentOverrides{DepositAddress: " 0xissued001 "})
	assert.ErrorIs(t, err, ErrDepositAddressInUse)

	_, err = f.monitor.CreateIntent(ctx, member, models.IntentType("donation"), IntentOverrides{})
	assert.ErrorIs(t, err, ErrInvalidIntentType)

	_, err = f.monitor.CreateIntent(ctx, primitive.NewObjectID(), models.IntentTypeInitial, IntentOverrides{})
	assert.ErrorIs(t, err, ErrMemberNotFound)

	_, err = f.monitor.GetIntent(ctx, primitive.NewObjectID())
	assert.ErrorIs(t, err, ErrIntentNotFound)
}

func TestCreateIntent_Overrides(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	member := f.env.addMember(t, nil)

	intent, err := f.monitor.CreateIntent(ctx, member, models.IntentTypeInitial, IntentOverrides{DepositAddress: "0xcold", ExpectedAmount: 75_000_000})
	require.NoError(t, err)
	assert.Equal(t, "0xcold", intent.DepositAddress)
	assert.Equal(t, int64(75_000_000), intent.ExpectedAmount)

	intent, err = f.monitor.CreateIntent(ctx, member, models.IntentTypeInitial, IntentOverrides{ExpectedAmount: -5})
	require.NoError(t, err)
	assert.Equal(t, fullPayment, intent.ExpectedAmount, "a non-positive amount falls back to the policy")
}

func TestCreateIntent_RejectsFundedAddress(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	member := f.env.addMember(t, nil)

	f.chain.set("0xfunded", fullPayment, 0)
	_, err := f.monitor.CreateIntent(ctx, member, models.IntentTypeInitial, IntentOverrides{DepositAddress: "0xfunded"})
	assert.ErrorIs(t, err, ErrDepositAddressFunded)

	f.chain.set("0xincoming", 0, 1)
	_, err = f.monitor.CreateIntent(ctx, member, models.IntentTypeInitial, IntentOverrides{DepositAddress: "0xincoming"})
	assert.ErrorIs(t, err, ErrDepositAddressFunded, "mempool funds count too")

	f.chain.set("0xissued001", 1, 0)
	_, err = f.monitor.CreateIntent(ctx, member, models.IntentTypeInitial, IntentOverrides{})
	assert.ErrorIs(t, err, ErrDepositAddressFunded, "issued addresses are checked as well")

	open, err := f.env.store.ListOpenIntents(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestCreateIntent_WithoutIssuer(t *testing.T) {
	env := newTestEnv(t)
	chain := struct{ ChainObserver }{newFakeChain()}
	monitor := NewReconciliationMonitor(env.store, env.store, chain, env.policy, zap.NewNop())
	member := env.addMember(t, nil)

	_, err := monitor.CreateIntent(context.Background(), member, models.IntentTypeInitial, IntentOverrides{})
	assert.ErrorIs(t, err, ErrAddressIssuerUnavailable)

	intent, err := monitor.CreateIntent(context.Background(), member, models.IntentTypeInitial, IntentOverrides{DepositAddress: "0xcold"})
	require.NoError(t, err)
	assert.Equal(t, "0xcold", intent.DepositAddress)
}

func TestCheckStatus_UnderpaidThenCompleted(t *testing.T) {
	f := newMonitorFixture(t)
	intent := f.openIntent(t, "0xaaa")

	f.chain.set("0xaaa", 20_000_000, 0)
	got := f.check(t, intent.ID)
	assert.Equal(t, models.IntentStatusUnderpaid, got.Status)
	assert.Equal(t, int64(20_000_000), got.ReceivedAmount)
	assert.Zero(t, f.fulfiller.count())

	f.chain.set("0xaaa", fullPayment, 0)
	got = f.check(t, intent.ID)
	assert.Equal(t, models.IntentStatusCompleted, got.Status)
	assert.False(t, got.IsLate)
	assert.Empty(t, got.Discrepancy)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.FulfilledAt)
	assert.True(t, got.IsFinal())
	assert.Equal(t, 1, f.fulfiller.count())

	f.check(t, intent.ID)
	assert.Equal(t, 1, f.fulfiller.count(), "a completed intent is applied once")
}

func TestCheckStatus_ReceivedNeverDecreases(t *testing.T) {
	f := newMonitorFixture(t)
	intent := f.openIntent(t, "0xbbb")

	f.chain.set("0xbbb", 30_000_000, 0)
	f.check(t, intent.ID)
	f.chain.set("0xbbb", 10_000_000, 0)
	got := f.check(t, intent.ID)
	assert.Equal(t, int64(30_000_000), got.ReceivedAmount)
	assert.Equal(t, models.IntentStatusUnderpaid, got.Status)
}

func TestCheckStatus_UnconfirmedFundsAreProcessing(t *testing.T) {
	f := newMonitorFixture(t)
	intent := f.openIntent(t, "0xccc")

	f.chain.set("0xccc", 0, fullPayment)
	got := f.check(t, intent.ID)
	assert.Equal(t, models.IntentStatusProcessing, got.Status)
	assert.Zero(t, got.ReceivedAmount)
}

func TestCheckStatus_Overpaid(t *testing.T) {
	f := newMonitorFixture(t)
	intent := f.openIntent(t, "0xddd")

	f.chain.set("0xddd", 60_000_000, 0)
	got := f.check(t, intent.ID)
	assert.Equal(t, models.IntentStatusCompleted, got.Status)
	assert.Equal(t, models.DiscrepancyOverpaid, got.Discrepancy)
	assert.Equal(t, int64(10_000_000), got.OverpaidAmount)
}

func TestCheckStatus_LatePayments(t *testing.T) {
	t.Run("within window", func(t *testing.T) {
		f := newMonitorFixture(t)
		intent := f.openIntent(t, "0xeee")

		f.clock = f.clock.Add(time.Hour)
		got := f.check(t, intent.ID)
		assert.Equal(t, models.IntentStatusExpired, got.Status)
		assert.False(t, got.IsFinal(), "an expired intent still accepts funds until swept")

		f.chain.set("0xeee", fullPayment, 0)
		got = f.check(t, intent.ID)
		assert.Equal(t, models.IntentStatusCompleted, got.Status)
		assert.True(t, got.IsLate)
		assert.Empty(t, got.Discrepancy)
		assert.Equal(t, 1, f.fulfiller.count())
	})

	t.Run("beyond window", func(t *testing.T) {
		f := newMonitorFixture(t)
		intent := f.openIntent(t, "0xfff")

		f.clock = f.clock.Add(30*time.Minute + 25*time.Hour)
		f.chain.set("0xfff", fullPayment, 0)
		got := f.check(t, intent.ID)
		assert.Equal(t, models.IntentStatusCompleted, got.Status)
		assert.True(t, got.IsLate)
		assert.Equal(t, models.DiscrepancyLateBeyondWindow, got.Discrepancy)
	})
}

func TestEvaluateIntent_NoLateCutoff(t *testing.T) {
	policy := newTestEnv(t).policy
	policy.LatePaymentWindow = 0
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	intent := models.PaymentIntent{
		ExpectedAmount: fullPayment,
		Status:         models.IntentStatusExpired,
		ExpiresAt:      created.Add(30 * time.Minute),
	}

	got := EvaluateIntent(intent, fullPayment, 0, created.AddDate(0, 3, 0), policy)
	assert.Equal(t, models.IntentStatusCompleted, got.Status)
	assert.True(t, got.IsLate)
	assert.Empty(t, got.Discrepancy)
}

func TestEvaluateIntent_SweptIsFrozen(t *testing.T) {
	policy := newTestEnv(t).policy
	sweptAt := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	intent := models.PaymentIntent{
		ExpectedAmount: fullPayment,
		Status:         models.IntentStatusExpired,
		SweptAt:        &sweptAt,
	}

	got := EvaluateIntent(intent, fullPayment, 0, sweptAt.Add(time.Hour), policy)
	assert.Equal(t, models.IntentStatusExpired, got.Status)
	assert.Zero(t, got.ReceivedAmount)
	require.NotNil(t, got.LastCheckedAt)
}

func TestCheckStatus_FulfilmentIsRetried(t *testing.T) {
	f := newMonitorFixture(t)
	intent := f.openIntent(t, "0x111")
	f.fulfiller.err = errors.New("member store unavailable")

	f.chain.set("0x111", fullPayment, 0)
	got, err := f.monitor.CheckStatus(context.Background(), intent.ID)
	require.Error(t, err)
	assert.Equal(t, models.IntentStatusCompleted, got.Status)
	assert.Nil(t, got.FulfilledAt)

	stored, err := f.monitor.GetIntent(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsFinal())

	f.fulfiller.err = nil
	got = f.check(t, intent.ID)
	require.NotNil(t, got.FulfilledAt)
	assert.Equal(t, 2, f.fulfiller.count())
}

func TestCheckStatus_WithoutChainObserver(t *testing.T) {
	env := newTestEnv(t)
	monitor := NewReconciliationMonitor(env.store, env.store, nil, env.policy, zap.NewNop())
	member := env.addMember(t, nil)
	_, err := monitor.CreateIntent(context.Background(), member, models.IntentTypeInitial, IntentOverrides{DepositAddress: "0x222"})
	assert.ErrorIs(t, err, ErrChainObserverUnavailable, "an unverified address is refused")

	intent := &models.PaymentIntent{MemberID: member, IntentType: models.IntentTypeInitial, ExpectedAmount: fullPayment, DepositAddress: "0x222", Status: models.IntentStatusPending}
	require.NoError(t, env.store.InsertIntent(context.Background(), intent))

	_, err = monitor.CheckStatus(context.Background(), intent.ID)
	assert.ErrorIs(t, err, ErrChainObserverUnavailable)
}

func TestSweepExpired(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()

	unpaid := f.openIntent(t, "0xa01")
	partial := f.openIntent(t, "0xa02")
	lastMinute := f.openIntent(t, "0xa03")
	f.chain.set("0xa02", 20_000_000, 0)
	f.check(t, partial.ID)

	created := f.clock
	f.clock = created.Add(30*time.Minute + 24*time.Hour + time.Minute)
	recent := f.openIntent(t, "0xa04")
	f.chain.set("0xa03", fullPayment, 0)

	report, err := f.monitor.SweepExpired(ctx, f.clock)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 2, report.Swept)
	assert.Equal(t, 1, report.Completed)
	assert.Empty(t, report.Errors)

	got, err := f.monitor.GetIntent(ctx, unpaid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusExpired, got.Status)
	assert.True(t, got.IsFinal())

	got, err = f.monitor.GetIntent(ctx, partial.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusUnderpaid, got.Status)
	assert.Equal(t, models.DiscrepancyUnderpaidAtClose, got.Discrepancy)
	assert.True(t, got.IsFinal())

	got, err = f.monitor.GetIntent(ctx, lastMinute.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusCompleted, got.Status)
	assert.Equal(t, models.DiscrepancyLateBeyondWindow, got.Discrepancy)
	assert.NotNil(t, got.FulfilledAt)

	got, err = f.monitor.GetIntent(ctx, recent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusPending, got.Status)
	assert.Nil(t, got.SweptAt)

	// swept intents ignore funds arriving afterwards
	f.chain.set("0xa01", fullPayment, 0)
	got = f.check(t, unpaid.ID)
	assert.Equal(t, models.IntentStatusExpired, got.Status)
}

func TestSweepExpired_RetriesPendingFulfilment(t *testing.T) {
	f := newMonitorFixture(t)
	intent := f.openIntent(t, "0xb01")
	f.fulfiller.err = errors.New("temporarily down")
	f.chain.set("0xb01", fullPayment, 0)
	_, err := f.monitor.CheckStatus(context.Background(), intent.ID)
	require.Error(t, err)

	f.fulfiller.err = nil
	report, err := f.monitor.SweepExpired(context.Background(), f.clock)
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
	assert.Empty(t, report.Errors)

	got, err := f.monitor.GetIntent(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.True(t, got.IsFinal())
}

func TestPollOpen(t *testing.T) {
	f := newMonitorFixture(t)
	observer := &recordingObserver{}
	f.monitor.AddObserver(observer)

	a := f.openIntent(t, "0xc01")
	f.openIntent(t, "0xc02")
	f.chain.set("0xc01", fullPayment, 0)

	checked, err := f.monitor.PollOpen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, checked)

	got, err := f.monitor.GetIntent(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusCompleted, got.Status)
	assert.Equal(t, 1, observer.count())

	checked, err = f.monitor.PollOpen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, checked, "fulfilled intents are no longer polled")
}

type recordingObserver struct {
	mu      sync.Mutex
	updates []models.IntentStatus
}

func (o *recordingObserver) IntentUpdated(ctx context.Context, intent *models.PaymentIntent, previous models.IntentStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updates = append(o.updates, intent.Status)
}

func (o *recordingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.updates)
}
