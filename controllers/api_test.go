package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HSouheill/barrim_network/config"
	"github.com/HSouheill/barrim_network/controllers"
	"github.com/HSouheill/barrim_network/middleware"
	"github.com/HSouheill/barrim_network/models"
	"github.com/HSouheill/barrim_network/repositories"
	"github.com/HSouheill/barrim_network/routes"
	"github.com/HSouheill/barrim_network/services"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const apiSecret = "api-test-secret"

type requestValidator struct {
	validator *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	return v.validator.Struct(i)
}

type okTransfers struct{}

func (okTransfers) Transfer(ctx context.Context, req services.TransferRequest) (*services.TransferResult, error) {
	return &services.TransferResult{Success: true, ExternalRef: "wh-" + req.Reference}, nil
}

type stubChain struct {
	mu       sync.Mutex
	received map[string]int64
	issued   int
}

func (s *stubChain) GetReceivedAmount(ctx context.Context, address string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received[address], nil
}

func (s *stubChain) NewDepositAddress(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return fmt.Sprintf("0xwallet%02d", s.issued), nil
}

func (s *stubChain) fund(address string, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received[address] = amount
}

type apiResponse struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type apiServer struct {
	e     *echo.Echo
	chain *stubChain
	admin string
}

func newAPIServer(t *testing.T) *apiServer {
	t.Helper()
	store := repositories.NewMemoryStore()
	policy := config.DefaultNetworkPolicy()
	logger := zap.NewNop()

	tree := services.NewNetworkTree(store, store, nil, policy, logger)
	qualification := services.NewQualificationEngine(store, store, policy, logger)
	commissions := services.NewCommissionCalculator(store, store, store, policy, logger)
	activation := services.NewActivationService(store, tree, qualification, commissions, logger)
	members := services.NewMemberService(store, tree, logger)
	processor := services.NewPayoutProcessor(store, store, okTransfers{}, nil, nil, nil, services.PayoutOptions{TransfersPerSec: 1000}, logger)
	chain := &stubChain{received: make(map[string]int64)}
	monitor := services.NewReconciliationMonitor(store, store, chain, policy, logger)
	monitor.SetFulfiller(activation)

	e := echo.New()
	e.Validator = &requestValidator{validator: validator.New()}
	routes.RegisterNetworkRoutes(e, routes.Controllers{
		Network:        controllers.NewNetworkController(members, activation, qualification, logger),
		Commissions:    controllers.NewCommissionController(commissions),
		Payouts:        controllers.NewPayoutController(processor, 15*time.Minute),
		PaymentIntents: controllers.NewPaymentIntentController(monitor),
	}, middleware.JWTMiddleware(apiSecret, logger))

	admin, err := middleware.GenerateJWT("", "ops@example.com", middleware.RoleAdmin, apiSecret, time.Hour)
	require.NoError(t, err)
	return &apiServer{e: e, chain: chain, admin: admin}
}

func (s *apiServer) memberToken(t *testing.T, id string) string {
	t.Helper()
	token, err := middleware.GenerateJWT(id, id+"@example.com", middleware.RoleMember, apiSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func (s *apiServer) do(t *testing.T, method, target, token string, body interface{}) (int, apiResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	var resp apiResponse
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	}
	return rec.Code, resp
}

func decodeData(t *testing.T, resp apiResponse, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func (s *apiServer) register(t *testing.T, name, referralCode string) models.Member {
	t.Helper()
	code, resp := s.do(t, http.MethodPost, "/api/members", "", models.RegisterMemberRequest{
		FullName:          name,
		Email:             strings.ToLower(name) + "@example.com",
		ReferralCode:      referralCode,
		PayoutDestination: "96170" + strings.ToLower(name),
	})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var member models.Member
	decodeData(t, resp, &member)
	return member
}

func (s *apiServer) activate(t *testing.T, id string) {
	t.Helper()
	code, resp := s.do(t, http.MethodPost, "/api/admin/members/"+id+"/activate", s.admin, nil)
	require.Equal(t, http.StatusOK, code, resp.Message)
}

func TestRegisterMember(t *testing.T) {
	s := newAPIServer(t)

	sponsor := s.register(t, "Sponsor", "")
	assert.True(t, strings.HasPrefix(sponsor.ReferralCode, "MBR-"))
	assert.False(t, sponsor.IsActive)

	sponsee := s.register(t, "Sponsee", strings.ToLower(sponsor.ReferralCode))
	require.NotNil(t, sponsee.SponsorID)
	assert.Equal(t, sponsor.ID, *sponsee.SponsorID)

	code, _ := s.do(t, http.MethodPost, "/api/members", "", models.RegisterMemberRequest{FullName: "X", Email: "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp := s.do(t, http.MethodPost, "/api/members", "", models.RegisterMemberRequest{FullName: "Y", Email: "y@example.com", ReferralCode: "MBR-NOPE00"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Failed to register member", resp.Message)
	code, _ = s.do(t, http.MethodPost, "/api/members", "", models.RegisterMemberRequest{FullName: "Sponsor Twin", Email: "SPONSOR@example.com"})
	assert.Equal(t, http.StatusConflict, code, "an email registers once")
}

func TestMemberRoutesAreScopedToTheCaller(t *testing.T) {
	s := newAPIServer(t)
	a := s.register(t, "Alice", "")
	b := s.register(t, "Bob", "")

	code, _ := s.do(t, http.MethodGet, "/api/members/"+a.ID.Hex(), "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodGet, "/api/members/"+a.ID.Hex(), s.memberToken(t, a.ID.Hex()), nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodGet, "/api/members/"+b.ID.Hex(), s.memberToken(t, a.ID.Hex()), nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, http.MethodGet, "/api/members/"+b.ID.Hex(), s.admin, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodPost, "/api/admin/members/"+a.ID.Hex()+"/activate", s.memberToken(t, a.ID.Hex()), nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, http.MethodGet, "/api/members/not-an-id", s.admin, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestNetworkViews(t *testing.T) {
	s := newAPIServer(t)
	a := s.register(t, "Alice", "")
	b := s.register(t, "Bob", a.ReferralCode)
	s.activate(t, a.ID.Hex())
	s.activate(t, b.ID.Hex())

	bToken := s.memberToken(t, b.ID.Hex())
	code, resp := s.do(t, http.MethodGet, "/api/members/"+b.ID.Hex()+"/upline", bToken, nil)
	require.Equal(t, http.StatusOK, code)
	var upline []models.NetworkPosition
	decodeData(t, resp, &upline)
	require.Len(t, upline, 1)
	assert.Equal(t, 0, upline[0].Level)

	aToken := s.memberToken(t, a.ID.Hex())
	code, resp = s.do(t, http.MethodGet, "/api/members/"+a.ID.Hex()+"/downline", aToken, nil)
	require.Equal(t, http.StatusOK, code)
	var downline struct {
		StructureNumber int                         `json:"structureNumber"`
		Levels          []models.DownlineLevelCount `json:"levels"`
	}
	decodeData(t, resp, &downline)
	assert.Equal(t, 1, downline.StructureNumber)
	assert.Equal(t, []models.DownlineLevelCount{{Level: 1, Count: 1}}, downline.Levels)

	code, _ = s.do(t, http.MethodGet, "/api/members/"+a.ID.Hex()+"/downline?structure=abc", aToken, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, http.MethodGet, "/api/members/"+a.ID.Hex()+"/downline?structure=7", aToken, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = s.do(t, http.MethodPut, "/api/members/"+b.ID.Hex()+"/payout-destination", bToken, models.UpdatePayoutDestinationRequest{PayoutDestination: " 96171000000 "})
	require.Equal(t, http.StatusOK, code)
	var updated models.Member
	decodeData(t, resp, &updated)
	assert.Equal(t, "96171000000", updated.PayoutDestination)

	code, resp = s.do(t, http.MethodPost, "/api/admin/members/"+a.ID.Hex()+"/qualification", s.admin, nil)
	require.Equal(t, http.StatusOK, code)
	var recalculated models.Member
	decodeData(t, resp, &recalculated)
	assert.Equal(t, 1, recalculated.DirectReferralCount)
}

func TestCommissionAndPayoutFlow(t *testing.T) {
	s := newAPIServer(t)
	a := s.register(t, "Alice", "")
	b := s.register(t, "Bob", a.ReferralCode)
	s.activate(t, a.ID.Hex())
	s.activate(t, b.ID.Hex())

	code, resp := s.do(t, http.MethodGet, "/api/admin/commissions?type=direct_bonus", s.admin, nil)
	require.Equal(t, http.StatusOK, code)
	var listed struct {
		Records     []models.CommissionRecord `json:"records"`
		Count       int                       `json:"count"`
		TotalAmount int64                     `json:"totalAmount"`
	}
	decodeData(t, resp, &listed)
	require.Equal(t, 1, listed.Count)
	assert.Equal(t, int64(2500), listed.TotalAmount)
	bonus := listed.Records[0]
	assert.Equal(t, a.ID, bonus.ReferrerID)

	code, resp = s.do(t, http.MethodPost, "/api/admin/commissions/direct-bonus", s.admin, models.DirectBonusRequest{ReferrerID: a.ID.Hex(), ReferredID: b.ID.Hex()})
	require.Equal(t, http.StatusOK, code)
	var again models.CommissionRecord
	decodeData(t, resp, &again)
	assert.Equal(t, bonus.ID, again.ID, "the bonus is emitted once")

	code, _ = s.do(t, http.MethodPost, "/api/admin/commissions/direct-bonus", s.admin, models.DirectBonusRequest{ReferrerID: b.ID.Hex(), ReferredID: a.ID.Hex()})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, resp = s.do(t, http.MethodPost, "/api/admin/payouts/"+bonus.ID.Hex()+"/process", s.admin, nil)
	require.Equal(t, http.StatusOK, code, resp.Message)
	var paid models.CommissionRecord
	decodeData(t, resp, &paid)
	assert.Equal(t, models.CommissionStatusPaid, paid.Status)

	code, _ = s.do(t, http.MethodPost, "/api/admin/payouts/"+bonus.ID.Hex()+"/process", s.admin, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(t, http.MethodPost, "/api/admin/payouts/"+bonus.ID.Hex()+"/complete", s.admin, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)

	aToken := s.memberToken(t, a.ID.Hex())
	code, resp = s.do(t, http.MethodGet, "/api/members/"+a.ID.Hex()+"/commissions?status=paid", aToken, nil)
	require.Equal(t, http.StatusOK, code)
	decodeData(t, resp, &listed)
	assert.Equal(t, 1, listed.Count)

	code, _ = s.do(t, http.MethodGet, "/api/admin/payouts/preflight", s.admin, nil)
	assert.Equal(t, http.StatusBadRequest, code, "period is required")

	code, _ = s.do(t, http.MethodPost, "/api/admin/payouts/reconcile-stale?olderThan=soon", s.admin, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestResidualRun(t *testing.T) {
	s := newAPIServer(t)
	a := s.register(t, "Alice", "")
	s.activate(t, a.ID.Hex())
	for _, name := range []string{"Bob", "Carol", "Dave"} {
		m := s.register(t, name, a.ReferralCode)
		s.activate(t, m.ID.Hex())
	}

	periodEnd := time.Date(2026, 9, 30, 23, 59, 59, 0, time.UTC)
	code, resp := s.do(t, http.MethodPost, "/api/admin/commissions/residuals", s.admin, models.ResidualRunRequest{PeriodEnd: periodEnd})
	require.Equal(t, http.StatusOK, code, resp.Message)
	var run struct {
		Period  string `json:"period"`
		Created int    `json:"created"`
	}
	decodeData(t, resp, &run)
	assert.Equal(t, "2026-09", run.Period)
	assert.Equal(t, 1, run.Created)

	code, resp = s.do(t, http.MethodPost, "/api/admin/commissions/residuals", s.admin, models.ResidualRunRequest{PeriodEnd: periodEnd})
	require.Equal(t, http.StatusOK, code)
	decodeData(t, resp, &run)
	assert.Equal(t, 0, run.Created)

	code, _ = s.do(t, http.MethodPost, "/api/admin/commissions/residuals", s.admin, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPaymentIntentFlow(t *testing.T) {
	s := newAPIServer(t)
	a := s.register(t, "Alice", "")
	b := s.register(t, "Bob", "")
	aToken := s.memberToken(t, a.ID.Hex())

	code, resp := s.do(t, http.MethodPost, "/api/payment-intents", aToken, models.CreatePaymentIntentRequest{
		MemberID:   a.ID.Hex(),
		IntentType: string(models.IntentTypeInitial),
	})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var intent models.PaymentIntent
	decodeData(t, resp, &intent)
	assert.Equal(t, "0xwallet01", intent.DepositAddress)
	assert.Equal(t, int64(50_000_000), intent.ExpectedAmount)
	assert.Equal(t, models.IntentStatusPending, intent.Status)

	code, _ = s.do(t, http.MethodPost, "/api/payment-intents", aToken, models.CreatePaymentIntentRequest{
		MemberID:   b.ID.Hex(),
		IntentType: string(models.IntentTypeInitial),
	})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, http.MethodPost, "/api/payment-intents", s.admin, models.CreatePaymentIntentRequest{
		MemberID:       b.ID.Hex(),
		IntentType:     string(models.IntentTypeInitial),
		DepositAddress: " 0xwallet01 ",
	})
	assert.Equal(t, http.StatusConflict, code, "an address serves one intent")

	code, _ = s.do(t, http.MethodGet, "/api/payment-intents/"+intent.ID.Hex(), s.memberToken(t, b.ID.Hex()), nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, resp = s.do(t, http.MethodGet, "/api/payment-intents/"+intent.ID.Hex()+"/qr", aToken, nil)
	require.Equal(t, http.StatusOK, code)
	var qr struct {
		DepositAddress string `json:"depositAddress"`
		Amount         string `json:"amount"`
		QRCode         string `json:"qrCode"`
	}
	decodeData(t, resp, &qr)
	assert.Equal(t, "0xwallet01", qr.DepositAddress)
	assert.Equal(t, "50.000000 USDC", qr.Amount)
	assert.True(t, strings.HasPrefix(qr.QRCode, "data:image/png;base64,"))

	s.chain.fund("0xwallet01", intent.ExpectedAmount)

	code, resp = s.do(t, http.MethodGet, "/api/payment-intents/"+intent.ID.Hex()+"/status", aToken, nil)
	require.Equal(t, http.StatusOK, code, resp.Message)
	var checked models.PaymentIntent
	decodeData(t, resp, &checked)
	assert.Equal(t, models.IntentStatusCompleted, checked.Status)
	assert.NotNil(t, checked.FulfilledAt)

	code, resp = s.do(t, http.MethodGet, "/api/members/"+a.ID.Hex(), aToken, nil)
	require.Equal(t, http.StatusOK, code)
	var member models.Member
	decodeData(t, resp, &member)
	assert.True(t, member.IsActive, "a completed payment activates the payer")
}

func TestPaymentIntentTermsAreSetByTheServer(t *testing.T) {
	s := newAPIServer(t)
	sponsor := s.register(t, "Alice", "")
	s.activate(t, sponsor.ID.Hex())
	payer := s.register(t, "Bob", sponsor.ReferralCode)
	token := s.memberToken(t, payer.ID.Hex())

	code, _ := s.do(t, http.MethodPost, "/api/payment-intents", token, models.CreatePaymentIntentRequest{
		MemberID:       payer.ID.Hex(),
		IntentType:     string(models.IntentTypeInitial),
		ExpectedAmount: 1,
	})
	assert.Equal(t, http.StatusForbidden, code, "members cannot price their own activation")

	s.chain.fund("0xmine", 1)
	code, _ = s.do(t, http.MethodPost, "/api/payment-intents", token, models.CreatePaymentIntentRequest{
		MemberID:       payer.ID.Hex(),
		IntentType:     string(models.IntentTypeInitial),
		DepositAddress: "0xmine",
	})
	assert.Equal(t, http.StatusForbidden, code, "members cannot choose the deposit address")

	code, _ = s.do(t, http.MethodPost, "/api/payment-intents", s.admin, models.CreatePaymentIntentRequest{
		MemberID:       payer.ID.Hex(),
		IntentType:     string(models.IntentTypeInitial),
		DepositAddress: "0xmine",
	})
	assert.Equal(t, http.StatusConflict, code, "an address that already holds funds is refused")

	code, resp := s.do(t, http.MethodPost, "/api/payment-intents", token, models.CreatePaymentIntentRequest{
		MemberID:   payer.ID.Hex(),
		IntentType: string(models.IntentTypeInitial),
	})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var intent models.PaymentIntent
	decodeData(t, resp, &intent)
	assert.Equal(t, int64(50_000_000), intent.ExpectedAmount)

	s.chain.fund(intent.DepositAddress, 1)
	code, resp = s.do(t, http.MethodGet, "/api/payment-intents/"+intent.ID.Hex()+"/status", token, nil)
	require.Equal(t, http.StatusOK, code, resp.Message)
	var checked models.PaymentIntent
	decodeData(t, resp, &checked)
	assert.Equal(t, models.IntentStatusUnderpaid, checked.Status)
	assert.Nil(t, checked.FulfilledAt)

	code, resp = s.do(t, http.MethodGet, "/api/admin/commissions?type=direct_bonus", s.admin, nil)
	require.Equal(t, http.StatusOK, code)
	var listed struct {
		Count int `json:"count"`
	}
	decodeData(t, resp, &listed)
	assert.Zero(t, listed.Count, "no bonus is owed for an underpaid activation")
}
