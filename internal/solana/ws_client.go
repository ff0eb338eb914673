package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnClosed is returned by waits outstanding when the connection drops.
var ErrConnClosed = errors.New("websocket connection closed")

// ErrTxFailed is returned when the cluster reports an on-chain execution
// failure for the awaited signature.
var ErrTxFailed = errors.New("transaction failed on-chain")

// WSConfig configures the confirmation client.
type WSConfig struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// ConfirmClient waits for transaction confirmations via signatureSubscribe.
// Subscriptions are one-shot: the node sends a single notification once the
// signature reaches the requested commitment, then drops the subscription.
type ConfirmClient struct {
	endpoint string
	config   WSConfig

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// waiters is keyed by request ID and populated before the subscribe
	// request is written; subs maps the node's subscription ID back to the
	// request ID once the ack arrives. The read loop performs that mapping
	// before it reads the next frame, so a notification sent immediately
	// after the ack always finds its waiter.
	mu      sync.Mutex
	waiters map[uint64]chan error
	subs    map[int64]uint64

	done chan struct{}
	wg   sync.WaitGroup
}

// NewConfirmClient connects to the WebSocket endpoint.
func NewConfirmClient(ctx context.Context, endpoint string, config *WSConfig) (*ConfirmClient, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	c := &ConfirmClient{
		endpoint: endpoint,
		config:   cfg,
		waiters:  make(map[uint64]chan error),
		subs:     make(map[int64]uint64),
		done:     make(chan struct{}),
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// WaitForSignature blocks until the signature is confirmed, the transaction
// failed on-chain, the context ends, or the connection drops. The caller is
// expected to fall back to polling on error.
func (c *ConfirmClient) WaitForSignature(ctx context.Context, signature string) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "signatureSubscribe",
		Params: []interface{}{
			signature,
			map[string]string{"commitment": "confirmed"},
		},
	}

	// Register before writing: the node may deliver the notification in
	// the very next frame after the ack when the signature is already at
	// commitment.
	resultCh := make(chan error, 1)
	c.mu.Lock()
	c.waiters[reqID] = resultCh
	c.mu.Unlock()

	c.connMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()
	if err != nil {
		c.drop(reqID)
		return fmt.Errorf("write subscribe: %w", err)
	}

	select {
	case err := <-resultCh:
		return err
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		c.drop(reqID)
		return ctx.Err()
	}
}

// Close closes the connection and fails all outstanding waits.
func (c *ConfirmClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
	c.connMu.Unlock()

	c.failAll()
	c.wg.Wait()
	return nil
}

// drop removes a waiter and any subscription mapped to it.
func (c *ConfirmClient) drop(reqID uint64) {
	c.mu.Lock()
	delete(c.waiters, reqID)
	for subID, rid := range c.subs {
		if rid == reqID {
			delete(c.subs, subID)
		}
	}
	c.mu.Unlock()
}

// failAll unblocks every outstanding waiter with ErrConnClosed.
func (c *ConfirmClient) failAll() {
	c.mu.Lock()
	for id, ch := range c.waiters {
		select {
		case ch <- ErrConnClosed:
		default:
		}
		delete(c.waiters, id)
	}
	c.subs = make(map[int64]uint64)
	c.mu.Unlock()
}

// readLoop reads messages and dispatches them. The connection is not
// reconnected: one-shot subscriptions cannot be transparently replayed, so a
// drop fails outstanding waits and callers fall back to status polling.
func (c *ConfirmClient) readLoop() {
	defer c.wg.Done()

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.failAll()
			}
			return
		}
		c.handleMessage(message)
	}
}

// handleMessage processes one incoming frame. Subscribe acks only record
// the subID→reqID mapping; the waiter itself was registered before the
// subscribe request went out.
func (c *ConfirmClient) handleMessage(message []byte) {
	var resp wsSubscribeResponse
	if err := json.Unmarshal(message, &resp); err == nil && resp.Result > 0 {
		c.mu.Lock()
		if _, waiting := c.waiters[resp.ID]; waiting {
			c.subs[resp.Result] = resp.ID
		}
		c.mu.Unlock()
		return
	}

	var notif wsSignatureNotification
	if err := json.Unmarshal(message, &notif); err == nil && notif.Method == "signatureNotification" {
		if notif.Params == nil {
			return
		}
		var outcome error
		if txErr := notif.Params.Result.Value.Err; txErr != nil {
			outcome = fmt.Errorf("%w: %v", ErrTxFailed, txErr)
		}

		c.mu.Lock()
		reqID, mapped := c.subs[notif.Params.Subscription]
		var ch chan error
		var ok bool
		if mapped {
			delete(c.subs, notif.Params.Subscription)
			ch, ok = c.waiters[reqID]
			if ok {
				delete(c.waiters, reqID)
			}
		}
		c.mu.Unlock()
		if ok {
			select {
			case ch <- outcome:
			default:
			}
		}
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *ConfirmClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			c.conn.WriteMessage(websocket.PingMessage, nil)
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"` // subscription ID
}

type wsSignatureNotification struct {
	JSONRPC string             `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  *wsSignatureParams `json:"params"`
}

type wsSignatureParams struct {
	Subscription int64             `json:"subscription"`
	Result       wsSignatureResult `json:"result"`
}

type wsSignatureResult struct {
	Value struct {
		Err interface{} `json:"err"`
	} `json:"value"`
}
