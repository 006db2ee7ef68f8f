// Package evm provides the read-only chain client used by the pipeline:
// block number/header lookup, event-log queries, transaction and receipt
// lookup, and raw contract calls over JSON-RPC 2.0.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// TransferTopic is the topic0 of the standard token transfer notification
// Transfer(address,address,uint256). It is the only event shape the pipeline
// ingests; pool events belong to the pool-discovery collaborator.
const TransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// ZeroAddress is the mint/burn counterparty.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Log is a raw event log returned by eth_getLogs.
type Log struct {
	Address     string   // emitting contract (lowercase hex)
	Topics      []string // topic0 is the event signature
	Data        string   // hex-encoded payload
	BlockNumber uint64
	TxHash      string
	LogIndex    uint32
}

// Transaction is the subset of transaction fields the classifier needs.
type Transaction struct {
	Hash        string
	From        string
	To          string // empty for contract creation
	Value       *big.Int
	Input       string // hex-encoded call data
	BlockNumber uint64
}

// Receipt is the subset of receipt fields used for backfill.
type Receipt struct {
	Status uint64 // 1 success, 0 reverted
	Logs   []Log
}

// Client is the read RPC abstraction for one chain.
type Client interface {
	// BlockNumber returns the current chain head.
	BlockNumber(ctx context.Context) (uint64, error)

	// GetLogs queries logs for the given addresses and topic0 over
	// [fromBlock, toBlock] inclusive.
	GetLogs(ctx context.Context, addresses []string, topic string, fromBlock, toBlock uint64) ([]Log, error)

	// BlockTimestamp returns the Unix timestamp of a block.
	BlockTimestamp(ctx context.Context, block uint64) (int64, error)

	// TransactionByHash retrieves a transaction. Returns nil when unknown.
	TransactionByHash(ctx context.Context, hash string) (*Transaction, error)

	// TransactionReceipt retrieves a receipt. Returns nil when unknown.
	TransactionReceipt(ctx context.Context, hash string) (*Receipt, error)

	// Call performs a read-only contract call at a historical block.
	Call(ctx context.Context, to string, data string, atBlock uint64) (string, error)
}

// ParseTransfer decodes a Transfer log into (from, to, amount).
func ParseTransfer(lg Log) (from, to string, amount *big.Int, err error) {
	if len(lg.Topics) < 3 {
		return "", "", nil, fmt.Errorf("transfer log %s/%d: want 3 topics, got %d", lg.TxHash, lg.LogIndex, len(lg.Topics))
	}
	from, err = TopicToAddress(lg.Topics[1])
	if err != nil {
		return "", "", nil, fmt.Errorf("transfer from topic: %w", err)
	}
	to, err = TopicToAddress(lg.Topics[2])
	if err != nil {
		return "", "", nil, fmt.Errorf("transfer to topic: %w", err)
	}
	amount, err = HexToBig(lg.Data)
	if err != nil {
		return "", "", nil, fmt.Errorf("transfer amount: %w", err)
	}
	return from, to, amount, nil
}

// TopicToAddress extracts the 20-byte address from a 32-byte indexed topic.
func TopicToAddress(topic string) (string, error) {
	t := strings.TrimPrefix(strings.ToLower(topic), "0x")
	if len(t) != 64 {
		return "", fmt.Errorf("topic %q: want 64 hex chars", topic)
	}
	return "0x" + t[24:], nil
}

// Selector returns the 4-byte function selector of call data, or "" when the
// transaction carries no data.
func Selector(input string) string {
	in := strings.ToLower(input)
	if len(in) < 10 || !strings.HasPrefix(in, "0x") {
		return ""
	}
	return in[:10]
}

// HexToUint64 parses a 0x-prefixed hex quantity.
func HexToUint64(s string) (uint64, error) {
	t := strings.TrimPrefix(strings.ToLower(s), "0x")
	if t == "" {
		return 0, fmt.Errorf("empty hex quantity")
	}
	v, err := strconv.ParseUint(t, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hex quantity %q: %w", s, err)
	}
	return v, nil
}

// Uint64ToHex formats a block number as a 0x-prefixed hex quantity.
func Uint64ToHex(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}

// HexToBig parses a 0x-prefixed hex quantity of arbitrary width.
func HexToBig(s string) (*big.Int, error) {
	t := strings.TrimPrefix(strings.ToLower(s), "0x")
	if t == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(t, 16)
	if !ok {
		return nil, fmt.Errorf("parse hex quantity %q", s)
	}
	return v, nil
}

var weiPerEther = new(big.Float).SetFloat64(1e18)

// WeiToEther converts a raw wei quantity to ether as float64. Amounts in the
// pipeline are normalized floats following the timeseries convention; raw
// integers only exist at the RPC boundary.
func WeiToEther(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEther).Float64()
	return f
}

// NormalizeAddress lowercases a hex address for use as a map/database key.
func NormalizeAddress(addr string) string {
	return strings.ToLower(addr)
}
