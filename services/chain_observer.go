package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/HSouheill/barrim_network/logging"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// rpcRequest is a JSON-RPC request to the deposit indexer
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

// RPCChainObserver reads deposit totals from a JSON-RPC chain indexer.
// Amounts are reported in micro-units of the token.
type RPCChainObserver struct {
	rpcURL     string
	httpClient *http.Client
	logger     *zap.Logger
}

var (
	_ ChainObserver        = (*RPCChainObserver)(nil)
	_ UnconfirmedObserver  = (*RPCChainObserver)(nil)
	_ DepositAddressIssuer = (*RPCChainObserver)(nil)
)

func NewRPCChainObserver(rpcURL string, logger *zap.Logger) *RPCChainObserver {
	return &RPCChainObserver{
		rpcURL:     rpcURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logging.Named(logger, "chain-observer"),
	}
}

// call makes an RPC call and returns the raw result
func (c *RPCChainObserver) call(ctx context.Context, method string, params ...any) (gjson.Result, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("indexer returned HTTP %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(respBody) {
		return gjson.Result{}, fmt.Errorf("indexer returned invalid JSON")
	}

	parsed := gjson.ParseBytes(respBody)
	if rpcErr := parsed.Get("error"); rpcErr.Exists() && rpcErr.Type != gjson.Null {
		return gjson.Result{}, fmt.Errorf("RPC error %d: %s", rpcErr.Get("code").Int(), rpcErr.Get("message").String())
	}
	return parsed.Get("result"), nil
}

func (c *RPCChainObserver) deposits(ctx context.Context, address string) (gjson.Result, error) {
	result, err := c.call(ctx, "getaddressdeposits", address)
	if err != nil {
		return result, err
	}
	if !result.Exists() {
		return result, fmt.Errorf("indexer returned no deposits for %s", address)
	}
	return result, nil
}

// GetReceivedAmount returns the confirmed total received at address
func (c *RPCChainObserver) GetReceivedAmount(ctx context.Context, address string) (int64, error) {
	result, err := c.deposits(ctx, address)
	if err != nil {
		return 0, err
	}
	confirmed := result.Get("confirmed").Int()
	c.logger.Debug("deposits observed",
		zap.String("address", address),
		zap.Int64("confirmed", confirmed),
		zap.Int("transactions", len(result.Get("transactions").Array())),
	)
	return confirmed, nil
}

// GetUnconfirmedAmount returns funds seen at address that are not yet confirmed
func (c *RPCChainObserver) GetUnconfirmedAmount(ctx context.Context, address string) (int64, error) {
	result, err := c.deposits(ctx, address)
	if err != nil {
		return 0, err
	}
	return result.Get("unconfirmed").Int(), nil
}

// NewDepositAddress asks the indexer for an unused address of the operator's wallet
func (c *RPCChainObserver) NewDepositAddress(ctx context.Context) (string, error) {
	result, err := c.call(ctx, "getnewaddress")
	if err != nil {
		return "", err
	}
	address := strings.TrimSpace(result.String())
	if result.Type != gjson.String || address == "" {
		return "", fmt.Errorf("indexer returned no address")
	}
	c.logger.Debug("deposit address issued", zap.String("address", address))
	return address, nil
}
