package evm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"launchpad-indexer/internal/retry"
)

// Default configuration values.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultCallsPerSec  = 10
	rateLimitedJSONCode = -32005 // provider "limit exceeded" family
)

// HTTPClient implements Client over HTTP JSON-RPC 2.0 with retry and a
// per-chain rate budget.
type HTTPClient struct {
	endpoint  string
	client    *http.Client
	policy    retry.Policy
	limiter   *rate.Limiter
	requestID atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithPolicy sets the retry policy.
func WithPolicy(p retry.Policy) ClientOption {
	return func(c *HTTPClient) {
		c.policy = p
	}
}

// WithRateLimit caps outgoing calls per second. Zero or negative removes the
// cap.
func WithRateLimit(callsPerSec float64) ClientOption {
	return func(c *HTTPClient) {
		if callsPerSec <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(callsPerSec), 1)
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a JSON-RPC client for one chain endpoint.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
		policy:   retry.DefaultPolicy(),
		limiter:  rate.NewLimiter(rate.Limit(DefaultCallsPerSec), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ Client = (*HTTPClient)(nil)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error returned by the provider.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs one JSON-RPC call under the retry policy. Rate-limit signals
// are marked so callers can react (the scanner shrinks its chunk size).
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return c.policy.Do(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Terminal(err)
		}
		return c.doOnce(ctx, body, result)
	})
}

func (c *HTTPClient) doOnce(ctx context.Context, body []byte, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return retry.Terminal(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return retry.Transient(fmt.Errorf("http request: %w", err))
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return retry.Transient(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return retry.RateLimit(fmt.Errorf("provider returned 429"))
	}
	if resp.StatusCode != http.StatusOK {
		return retry.Transient(fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody)))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return retry.Transient(fmt.Errorf("unmarshal response: %w", err))
	}

	if rpcResp.Error != nil {
		if isRateLimitRPCError(rpcResp.Error) {
			return retry.RateLimit(rpcResp.Error)
		}
		return retry.Terminal(rpcResp.Error)
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return retry.Terminal(fmt.Errorf("unmarshal result: %w", err))
		}
	}

	return nil
}

func isRateLimitRPCError(e *RPCError) bool {
	if e.Code == rateLimitedJSONCode {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests")
}

// BlockNumber returns the current chain head.
func (c *HTTPClient) BlockNumber(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_blockNumber", nil, &result); err != nil {
		return 0, err
	}
	return HexToUint64(result)
}

// getLogsFilter is the eth_getLogs parameter object.
type getLogsFilter struct {
	Address   []string   `json:"address"`
	Topics    [][]string `json:"topics"`
	FromBlock string     `json:"fromBlock"`
	ToBlock   string     `json:"toBlock"`
}

type rawLog struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	TxHash      string   `json:"transactionHash"`
	LogIndex    string   `json:"logIndex"`
}

// GetLogs queries logs for the given addresses/topic over an inclusive range.
func (c *HTTPClient) GetLogs(ctx context.Context, addresses []string, topic string, fromBlock, toBlock uint64) ([]Log, error) {
	filter := getLogsFilter{
		Address:   addresses,
		Topics:    [][]string{{topic}},
		FromBlock: Uint64ToHex(fromBlock),
		ToBlock:   Uint64ToHex(toBlock),
	}

	var raw []rawLog
	if err := c.call(ctx, "eth_getLogs", []interface{}{filter}, &raw); err != nil {
		return nil, err
	}

	logs := make([]Log, 0, len(raw))
	for _, r := range raw {
		bn, err := HexToUint64(r.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("log block number: %w", err)
		}
		li, err := HexToUint64(r.LogIndex)
		if err != nil {
			return nil, fmt.Errorf("log index: %w", err)
		}
		logs = append(logs, Log{
			Address:     NormalizeAddress(r.Address),
			Topics:      r.Topics,
			Data:        r.Data,
			BlockNumber: bn,
			TxHash:      strings.ToLower(r.TxHash),
			LogIndex:    uint32(li),
		})
	}
	return logs, nil
}

type rawHeader struct {
	Timestamp string `json:"timestamp"`
}

// BlockTimestamp returns the Unix timestamp of a block header.
func (c *HTTPClient) BlockTimestamp(ctx context.Context, block uint64) (int64, error) {
	var header *rawHeader
	params := []interface{}{Uint64ToHex(block), false}
	if err := c.call(ctx, "eth_getBlockByNumber", params, &header); err != nil {
		return 0, err
	}
	if header == nil {
		return 0, fmt.Errorf("block %d not found", block)
	}
	ts, err := HexToUint64(header.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("block timestamp: %w", err)
	}
	return int64(ts), nil
}

type rawTransaction struct {
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	Input       string `json:"input"`
	BlockNumber string `json:"blockNumber"`
}

// TransactionByHash retrieves a transaction. Returns nil when unknown.
func (c *HTTPClient) TransactionByHash(ctx context.Context, hash string) (*Transaction, error) {
	var raw *rawTransaction
	if err := c.call(ctx, "eth_getTransactionByHash", []interface{}{hash}, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	value, err := HexToBig(raw.Value)
	if err != nil {
		return nil, fmt.Errorf("tx value: %w", err)
	}
	tx := &Transaction{
		Hash:  strings.ToLower(raw.Hash),
		From:  NormalizeAddress(raw.From),
		To:    NormalizeAddress(raw.To),
		Value: value,
		Input: strings.ToLower(raw.Input),
	}
	if raw.BlockNumber != "" {
		bn, err := HexToUint64(raw.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("tx block number: %w", err)
		}
		tx.BlockNumber = bn
	}
	return tx, nil
}

type rawReceipt struct {
	Status string   `json:"status"`
	Logs   []rawLog `json:"logs"`
}

// TransactionReceipt retrieves a receipt. Returns nil when unknown.
func (c *HTTPClient) TransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	var raw *rawReceipt
	if err := c.call(ctx, "eth_getTransactionReceipt", []interface{}{hash}, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	status, err := HexToUint64(raw.Status)
	if err != nil {
		return nil, fmt.Errorf("receipt status: %w", err)
	}
	receipt := &Receipt{Status: status}
	for _, r := range raw.Logs {
		bn, err := HexToUint64(r.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("receipt log block number: %w", err)
		}
		li, err := HexToUint64(r.LogIndex)
		if err != nil {
			return nil, fmt.Errorf("receipt log index: %w", err)
		}
		receipt.Logs = append(receipt.Logs, Log{
			Address:     NormalizeAddress(r.Address),
			Topics:      r.Topics,
			Data:        r.Data,
			BlockNumber: bn,
			TxHash:      strings.ToLower(r.TxHash),
			LogIndex:    uint32(li),
		})
	}
	return receipt, nil
}

type callParams struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

// Call performs a read-only contract call at a historical block. Used for
// quote reconstruction during backfill; best-effort on upgraded contracts.
func (c *HTTPClient) Call(ctx context.Context, to string, data string, atBlock uint64) (string, error) {
	var result string
	params := []interface{}{callParams{To: to, Data: data}, Uint64ToHex(atBlock)}
	if err := c.call(ctx, "eth_call", params, &result); err != nil {
		return "", err
	}
	return result, nil
}
