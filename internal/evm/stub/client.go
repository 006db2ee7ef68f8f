// Package stub provides a scriptable in-memory chain client for tests.
package stub

import (
	"context"
	"fmt"
	"sort"

	"launchpad-indexer/internal/evm"
	"launchpad-indexer/internal/retry"
)

// Client implements evm.Client from in-memory fixtures.
type Client struct {
	Head         uint64
	Logs         []evm.Log
	Transactions map[string]*evm.Transaction
	Receipts     map[string]*evm.Receipt
	Timestamps   map[uint64]int64 // block -> unix seconds
	CallResults  map[string]string

	// RateLimitSpan makes GetLogs fail with a rate-limit error for ranges
	// wider than this many blocks. Zero disables. Exercises chunk shrink.
	RateLimitSpan uint64

	// RateLimitTimestamps makes every BlockTimestamp call fail with a
	// rate-limit error. Exercises the wall-clock fallback.
	RateLimitTimestamps bool

	// Calls counts RPC method invocations by name.
	Calls map[string]int
}

// New creates an empty stub chain.
func New() *Client {
	return &Client{
		Transactions: make(map[string]*evm.Transaction),
		Receipts:     make(map[string]*evm.Receipt),
		Timestamps:   make(map[uint64]int64),
		CallResults:  make(map[string]string),
		Calls:        make(map[string]int),
	}
}

// Compile-time interface check.
var _ evm.Client = (*Client)(nil)

func (c *Client) count(method string) {
	c.Calls[method]++
}

// BlockNumber returns the scripted head.
func (c *Client) BlockNumber(_ context.Context) (uint64, error) {
	c.count("blockNumber")
	return c.Head, nil
}

// GetLogs filters the scripted logs by address set and range.
func (c *Client) GetLogs(_ context.Context, addresses []string, topic string, fromBlock, toBlock uint64) ([]evm.Log, error) {
	c.count("getLogs")
	if c.RateLimitSpan > 0 && toBlock-fromBlock+1 > c.RateLimitSpan {
		return nil, retry.RateLimit(fmt.Errorf("stub: range too wide"))
	}

	addrSet := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		addrSet[evm.NormalizeAddress(a)] = struct{}{}
	}

	var out []evm.Log
	for _, lg := range c.Logs {
		if lg.BlockNumber < fromBlock || lg.BlockNumber > toBlock {
			continue
		}
		if _, ok := addrSet[lg.Address]; !ok {
			continue
		}
		if len(lg.Topics) == 0 || lg.Topics[0] != topic {
			continue
		}
		out = append(out, lg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out, nil
}

// BlockTimestamp returns the scripted timestamp, interpolating 1s per block
// from the nearest scripted ancestor when the exact block is absent.
func (c *Client) BlockTimestamp(_ context.Context, block uint64) (int64, error) {
	c.count("blockTimestamp")
	if c.RateLimitTimestamps {
		return 0, retry.RateLimit(fmt.Errorf("stub: timestamp rate limited"))
	}
	if ts, ok := c.Timestamps[block]; ok {
		return ts, nil
	}
	var baseBlock uint64
	var baseTs int64 = -1
	for b, ts := range c.Timestamps {
		if b <= block && (baseTs < 0 || b > baseBlock) {
			baseBlock, baseTs = b, ts
		}
	}
	if baseTs < 0 {
		return 0, fmt.Errorf("stub: no timestamp for block %d", block)
	}
	return baseTs + int64(block-baseBlock), nil
}

// TransactionByHash returns the scripted transaction, nil when unknown.
func (c *Client) TransactionByHash(_ context.Context, hash string) (*evm.Transaction, error) {
	c.count("transactionByHash")
	return c.Transactions[hash], nil
}

// TransactionReceipt returns the scripted receipt, nil when unknown.
func (c *Client) TransactionReceipt(_ context.Context, hash string) (*evm.Receipt, error) {
	c.count("transactionReceipt")
	return c.Receipts[hash], nil
}

// Call returns a scripted result keyed by "to|data|block", falling back to
// "to|data" for block-independent scripts.
func (c *Client) Call(_ context.Context, to string, data string, atBlock uint64) (string, error) {
	c.count("call")
	if res, ok := c.CallResults[fmt.Sprintf("%s|%s|%d", to, data, atBlock)]; ok {
		return res, nil
	}
	if res, ok := c.CallResults[fmt.Sprintf("%s|%s", to, data)]; ok {
		return res, nil
	}
	return "", fmt.Errorf("stub: no call result for %s at block %d", to, atBlock)
}

// CallKey builds the block-specific script key for CallResults.
func CallKey(to, data string, atBlock uint64) string {
	return fmt.Sprintf("%s|%s|%d", to, data, atBlock)
}
