package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

// HeadWatcherConfig configures the websocket head subscription.
type HeadWatcherConfig struct {
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

// DefaultHeadWatcherConfig returns the default watcher configuration.
func DefaultHeadWatcherConfig() HeadWatcherConfig {
	return HeadWatcherConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ReadTimeout:       120 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// HeadWatcher subscribes to newHeads over websocket and delivers head block
// numbers. It reconnects with backoff on connection loss; missed heads are
// harmless because the scanner always catches up from its cursor.
type HeadWatcher struct {
	endpoint string
	config   HeadWatcherConfig
	heads    chan uint64
}

// NewHeadWatcher creates a watcher for one chain's websocket endpoint.
func NewHeadWatcher(endpoint string, config *HeadWatcherConfig) *HeadWatcher {
	cfg := DefaultHeadWatcherConfig()
	if config != nil {
		cfg = *config
	}
	return &HeadWatcher{
		endpoint: endpoint,
		config:   cfg,
		heads:    make(chan uint64, 16),
	}
}

// Heads returns the channel of observed head block numbers. Closed when Run
// returns.
func (w *HeadWatcher) Heads() <-chan uint64 {
	return w.heads
}

// Run maintains the subscription until ctx is cancelled.
func (w *HeadWatcher) Run(ctx context.Context) {
	defer close(w.heads)

	delay := w.config.ReconnectDelay
	for {
		err := w.watchOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Printf("[headwatcher] %s: connection lost: %v (reconnecting in %s)", w.endpoint, err, delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > w.config.MaxReconnectDelay {
			delay = w.config.MaxReconnectDelay
		}
	}
}

type wsNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Number string `json:"number"`
		} `json:"result"`
	} `json:"params"`
}

func (w *HeadWatcher) watchOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	sub := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_subscribe",
		"params":  []interface{}{"newHeads"},
	}
	conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		conn.SetReadDeadline(time.Now().Add(w.config.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var note wsNotification
		if err := json.Unmarshal(msg, &note); err != nil {
			continue
		}
		if note.Method != "eth_subscription" || note.Params.Result.Number == "" {
			continue
		}
		head, err := HexToUint64(note.Params.Result.Number)
		if err != nil {
			continue
		}

		select {
		case w.heads <- head:
		default:
			// Slow consumer; drop. The cursor makes missed heads harmless.
		}
	}
}
