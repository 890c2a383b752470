package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/HSouheill/barrim_network/config"
	"github.com/HSouheill/barrim_network/models"
	"github.com/HSouheill/barrim_network/repositories"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type testEnv struct {
	store         *repositories.MemoryStore
	policy        config.NetworkPolicy
	tree          *NetworkTree
	qualification *QualificationEngine
	commissions   *CommissionCalculator
	activation    *ActivationService
	members       *MemberService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithPolicy(t, config.DefaultNetworkPolicy())
}

func newTestEnvWithPolicy(t *testing.T, policy config.NetworkPolicy) *testEnv {
	t.Helper()
	store := repositories.NewMemoryStore()
	logger := zap.NewNop()
	tree := NewNetworkTree(store, store, nil, policy, logger)
	qualification := NewQualificationEngine(store, store, policy, logger)
	commissions := NewCommissionCalculator(store, store, store, policy, logger)
	return &testEnv{
		store:         store,
		policy:        policy,
		tree:          tree,
		qualification: qualification,
		commissions:   commissions,
		activation:    NewActivationService(store, tree, qualification, commissions, logger),
		members:       NewMemberService(store, tree, logger),
	}
}

// addMember stores an inactive, unplaced member
func (e *testEnv) addMember(t *testing.T, sponsor *primitive.ObjectID) primitive.ObjectID {
	t.Helper()
	id := primitive.NewObjectID()
	member := &models.Member{
		ID:                id,
		FullName:          "Member " + id.Hex()[18:],
		Email:             id.Hex() + "@example.com",
		SponsorID:         sponsor,
		PayoutDestination: "wallet-" + id.Hex(),
	}
	require.NoError(t, e.store.CreateMember(context.Background(), member))
	return id
}

// addRoot stores and activates a member without sponsor
func (e *testEnv) addRoot(t *testing.T) primitive.ObjectID {
	t.Helper()
	id := e.addMember(t, nil)
	_, err := e.activation.ActivateMember(context.Background(), id)
	require.NoError(t, err)
	return id
}

// addReferrals registers and activates n members sponsored by sponsor
func (e *testEnv) addReferrals(t *testing.T, sponsor primitive.ObjectID, n int) []primitive.ObjectID {
	t.Helper()
	ids := make([]primitive.ObjectID, 0, n)
	for i := 0; i < n; i++ {
		id := e.addMember(t, &sponsor)
		_, err := e.activation.ActivateMember(context.Background(), id)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func (e *testEnv) member(t *testing.T, id primitive.ObjectID) *models.Member {
	t.Helper()
	m, err := e.store.GetMember(context.Background(), id)
	require.NoError(t, err)
	return m
}

func (e *testEnv) position(t *testing.T, id primitive.ObjectID) *models.NetworkPosition {
	t.Helper()
	p, err := e.store.GetPosition(context.Background(), id)
	require.NoError(t, err)
	return p
}

// fakeProvider is a transfer provider whose outcome is chosen per destination
type fakeProvider struct {
	mu sync.Mutex
	// outcomes maps a destination to the error Transfer returns
	outcomes map[string]error
	// landed destinations record the transfer in the log even when Transfer errors
	landed  map[string]bool
	block   map[string]bool
	log     map[string]*TransferResult
	calls   []TransferRequest
	balance int64
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		outcomes: make(map[string]error),
		landed:   make(map[string]bool),
		block:    make(map[string]bool),
		log:      make(map[string]*TransferResult),
		balance:  1_000_000,
	}
}

func (f *fakeProvider) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	outcome := f.outcomes[req.Destination]
	landed := f.landed[req.Destination]
	blocked := f.block[req.Destination]
	f.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	result := &TransferResult{Success: true, ExternalRef: "wh-" + req.Reference}
	if outcome == nil || landed {
		f.mu.Lock()
		f.log[req.Reference] = result
		f.mu.Unlock()
	}
	if outcome != nil {
		return nil, outcome
	}
	return result, nil
}

func (f *fakeProvider) FindTransfer(ctx context.Context, reference string) (*TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.log[reference], nil
}

func (f *fakeProvider) AvailableBalance(ctx context.Context, currency string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeProvider) setOutcome(destination string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.outcomes, destination)
		return
	}
	f.outcomes[destination] = err
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var (
	errDeclined  = fmt.Errorf("%w: insufficient funds at destination", ErrTransferFailed)
	errNoAnswer  = fmt.Errorf("%w: connection reset", ErrTransferAmbiguous)
	testPeriod   = "2026-09"
	testCurrency = "USD"
)

// fakeChain reports fixed deposit totals per address and issues numbered addresses
type fakeChain struct {
	mu          sync.Mutex
	received    map[string]int64
	unconfirmed map[string]int64
	issued      int
	err         error
}

func newFakeChain() *fakeChain {
	return &fakeChain{received: make(map[string]int64), unconfirmed: make(map[string]int64)}
}

func (f *fakeChain) GetReceivedAmount(ctx context.Context, address string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.received[address], nil
}

func (f *fakeChain) GetUnconfirmedAmount(ctx context.Context, address string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unconfirmed[address], nil
}

func (f *fakeChain) NewDepositAddress(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.issued++
	return fmt.Sprintf("0xissued%03d", f.issued), nil
}

func (f *fakeChain) set(address string, received, unconfirmed int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received[address] = received
	f.unconfirmed[address] = unconfirmed
}

// recordingFulfiller counts fulfilments and can be made to fail
type recordingFulfiller struct {
	mu    sync.Mutex
	calls []primitive.ObjectID
	err   error
}

func (r *recordingFulfiller) FulfillIntent(ctx context.Context, intent *models.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, intent.ID)
	return r.err
}

func (r *recordingFulfiller) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
