package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/HSouheill/barrim_network/logging"
	"github.com/HSouheill/barrim_network/models"
	"github.com/HSouheill/barrim_network/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	whishSandboxURL    = "https://api.sandbox.whish.money/itel-service/api/"
	whishProductionURL = "https://whish.money/itel-service/api/"

	whishCodeTransferNotFound = "transfer.not_found"
)

// WhishConfig holds the Whish account credentials
type WhishConfig struct {
	BaseURL    string
	Channel    string
	Secret     string
	WebsiteURL string
	Debug      bool
}

// WhishConfigFromEnv reads the Whish settings. WHISH_ENV=testing selects the sandbox.
func WhishConfigFromEnv() WhishConfig {
	baseURL := whishProductionURL
	if os.Getenv("WHISH_ENV") == "testing" {
		baseURL = whishSandboxURL
	}
	if override := os.Getenv("WHISH_BASE_URL"); override != "" {
		baseURL = override
	}
	return WhishConfig{
		BaseURL:    baseURL,
		Channel:    os.Getenv("WHISH_CHANNEL"),
		Secret:     os.Getenv("WHISH_SECRET"),
		WebsiteURL: os.Getenv("WHISH_WEBSITE_URL"),
		Debug:      os.Getenv("WHISH_DEBUG") == "true",
	}
}

// Configured reports whether all credentials are present
func (c WhishConfig) Configured() bool {
	return c.Channel != "" && c.Secret != "" && c.WebsiteURL != ""
}

// WhishAPIError is a request the Whish API answered and rejected
type WhishAPIError struct {
	Code    string
	Message string
}

func (e *WhishAPIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("whish API error: %s", e.Code)
	}
	return fmt.Sprintf("whish API error: %s - %s", e.Code, e.Message)
}

// WhishService handles interactions with the Whish API. It pays commissions out,
// looks transfers up for reconciliation and reports the payout account balance.
type WhishService struct {
	cfg    WhishConfig
	client *http.Client
	logger *zap.Logger
}

var (
	_ TransferExecutor = (*WhishService)(nil)
	_ TransferLog      = (*WhishService)(nil)
	_ BalanceSource    = (*WhishService)(nil)
)

// NewWhishService creates a new Whish service instance
func NewWhishService(cfg WhishConfig, logger *zap.Logger) *WhishService {
	logger = logging.Named(logger, "whish")
	if !cfg.Configured() {
		var missing []string
		if cfg.Channel == "" {
			missing = append(missing, "WHISH_CHANNEL")
		}
		if cfg.Secret == "" {
			missing = append(missing, "WHISH_SECRET")
		}
		if cfg.WebsiteURL == "" {
			missing = append(missing, "WHISH_WEBSITE_URL")
		}
		logger.Warn("whish credentials not fully configured", zap.Strings("missing", missing))
	} else {
		logger.Info("whish service configured",
			zap.String("base_url", cfg.BaseURL),
			zap.String("channel", cfg.Channel),
			zap.String("website_url", cfg.WebsiteURL),
		)
	}

	return &WhishService{
		cfg: cfg,
		// per-call deadlines come from the context
		client: &http.Client{Timeout: 60 * time.Second},
		logger: logger,
	}
}

// getHeaders returns the standard headers required for Whish API requests
func (s *WhishService) getHeaders() map[string]string {
	return map[string]string{
		"Content-Type": "application/json",
		"channel":      s.cfg.Channel,
		"secret":       s.cfg.Secret,
		"websiteurl":   s.cfg.WebsiteURL,
	}
}

// makeRequest performs an HTTP request to the Whish API. A rejection by the API is
// returned as *WhishAPIError; every other error leaves the outcome unknown.
func (s *WhishService) makeRequest(ctx context.Context, method, endpoint string, payload interface{}) (*models.WhishResponse, error) {
	if !s.cfg.Configured() {
		return nil, fmt.Errorf("missing Whish credentials. Please set WHISH_CHANNEL, WHISH_SECRET, and WHISH_WEBSITE_URL environment variables")
	}
	url := s.cfg.BaseURL + endpoint

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range s.getHeaders() {
		req.Header.Set(key, value)
	}

	if s.cfg.Debug {
		s.logger.Debug("whish API request", zap.String("method", method), zap.String("url", url))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if s.cfg.Debug {
		s.logger.Debug("whish API response", zap.Int("status", resp.StatusCode), zap.ByteString("body", respBody))
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("whish API unavailable: HTTP %d", resp.StatusCode)
	}

	var whishResp models.WhishResponse
	if err := json.Unmarshal(respBody, &whishResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if !whishResp.Status {
		apiErr := &WhishAPIError{Code: "unknown"}
		if whishResp.Code != nil {
			if codeStr, ok := whishResp.Code.(string); ok {
				apiErr.Code = codeStr
			} else {
				apiErr.Code = fmt.Sprintf("%v", whishResp.Code)
			}
		}
		switch dialog := whishResp.Dialog.(type) {
		case map[string]interface{}:
			if msg, ok := dialog["message"].(string); ok {
				apiErr.Message = msg
			}
		case string:
			apiErr.Message = dialog
		}
		s.logger.Warn("whish API rejected request", zap.String("endpoint", endpoint), zap.String("code", apiErr.Code), zap.String("message", apiErr.Message))
		return &whishResp, apiErr
	}

	return &whishResp, nil
}

func toWhishAmount(amount int64, currency string) *float64 {
	value := utils.MinorUnitsToDecimal(amount, currency).InexactFloat64()
	return &value
}

func dataString(data map[string]interface{}, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case float64:
		return decimal.NewFromFloat(v).String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Transfer sends a payout. The attempt reference is passed as the provider's idempotency key.
func (s *WhishService) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if !s.cfg.Configured() {
		return nil, fmt.Errorf("%w: whish credentials not configured", ErrTransferFailed)
	}
	payload := models.WhishRequest{
		Amount:      toWhishAmount(req.Amount, req.Currency),
		Currency:    req.Currency,
		Destination: req.Destination,
		Reference:   req.Reference,
	}

	resp, err := s.makeRequest(ctx, http.MethodPost, "payment/transfer", payload)
	if err != nil {
		var apiErr *WhishAPIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: %v", ErrTransferFailed, apiErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransferAmbiguous, err)
	}

	externalRef := dataString(resp.Data, "transactionId")
	if externalRef == "" {
		return nil, fmt.Errorf("%w: transfer accepted without a transaction id", ErrTransferAmbiguous)
	}
	return &TransferResult{Success: true, ExternalRef: externalRef}, nil
}

// FindTransfer looks up a transfer by the reference it was sent with
func (s *WhishService) FindTransfer(ctx context.Context, reference string) (*TransferResult, error) {
	resp, err := s.makeRequest(ctx, http.MethodPost, "payment/transfer/status", models.WhishRequest{Reference: reference})
	if err != nil {
		var apiErr *WhishAPIError
		if errors.As(err, &apiErr) && apiErr.Code == whishCodeTransferNotFound {
			return nil, nil
		}
		return nil, err
	}

	switch strings.ToLower(dataString(resp.Data, "transferStatus")) {
	case models.WhishTransferSuccess:
		return &TransferResult{Success: true, ExternalRef: dataString(resp.Data, "transactionId")}, nil
	case models.WhishTransferFailed:
		return &TransferResult{Success: false}, nil
	default:
		return nil, fmt.Errorf("transfer %s is still pending at the provider", reference)
	}
}

// AvailableBalance retrieves the real balance of the payout account in minor units
func (s *WhishService) AvailableBalance(ctx context.Context, currency string) (int64, error) {
	resp, err := s.makeRequest(ctx, http.MethodGet, "payment/account/balance", nil)
	if err != nil {
		return 0, err
	}

	if balanceDetails, ok := resp.Data["balanceDetails"].(map[string]interface{}); ok {
		if balance, ok := balanceDetails["balance"].(float64); ok {
			return utils.DecimalToMinorUnits(decimal.NewFromFloat(balance), currency), nil
		}
	}
	return 0, fmt.Errorf("failed to parse balance from response")
}
