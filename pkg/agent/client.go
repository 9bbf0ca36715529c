// Package agent provides the uplink client an exam machine uses to stream
// landmarks and violations to the gateway.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-proctor/pkg/behavior"
	"github.com/teslashibe/go-proctor/pkg/landmarks"
	"github.com/teslashibe/go-proctor/pkg/proctor"
	"github.com/teslashibe/go-proctor/pkg/protocol"
)

// ErrNotConnected is returned when sending without a live connection.
var ErrNotConnected = errors.New("agent: not connected")

// Config holds uplink settings.
type Config struct {
	// URL is the gateway base, e.g. ws://proctor.local:8080.
	URL       string `validate:"required,url"`
	StudentID string `validate:"required,max=64"`
	ExamCode  string `validate:"max=32"`
	AgentID   string // defaults to a random UUID

	HeartbeatInterval    time.Duration `validate:"gt=0"`
	ReconnectDelay       time.Duration `validate:"gt=0"`
	HandshakeTimeout     time.Duration `validate:"gt=0"`
	MaxReconnectAttempts int           `validate:"gte=0"` // 0 retries forever
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:    5 * time.Second,
		ReconnectDelay:       3 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		MaxReconnectAttempts: 10,
	}
}

// Endpoint returns the agent WebSocket URL.
func (c Config) Endpoint() string {
	return strings.TrimRight(c.URL, "/") + "/ws/agent/" + url.PathEscape(c.AgentID)
}

// Client manages the WebSocket connection to the gateway
type Client struct {
	cfg    Config
	logger *slog.Logger

	ws   *websocket.Conn
	wsMu sync.Mutex
	done chan struct{} // closed when the current connection's read loop ends

	connected atomic.Bool
	frameID   atomic.Uint64

	// Callbacks
	OnStatus     func(status protocol.StatusUpdateData)
	OnConnect    func()
	OnDisconnect func()
}

// New validates cfg and creates a client. A nil logger selects slog.Default().
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("agent: invalid config: %w", err)
	}
	if cfg.AgentID == "" {
		cfg.AgentID = uuid.NewString()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		logger: logger.With("student", cfg.StudentID, "agent", cfg.AgentID),
	}, nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Connect dials the gateway and sends the connect message.
func (c *Client) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, c.cfg.Endpoint(), nil)
	if err != nil {
		return fmt.Errorf("agent: dial %s: %w", c.cfg.Endpoint(), err)
	}

	done := make(chan struct{})
	c.wsMu.Lock()
	c.ws = ws
	c.done = done
	c.wsMu.Unlock()
	c.connected.Store(true)

	hello, err := protocol.NewConnectMessage(c.cfg.StudentID, c.cfg.ExamCode, c.cfg.AgentID)
	if err != nil {
		ws.Close()
		return err
	}
	if err := c.send(hello); err != nil {
		c.connected.Store(false)
		ws.Close()
		return fmt.Errorf("agent: send connect: %w", err)
	}

	go c.readLoop(ws, done)

	c.logger.Info("connected to gateway", "url", c.cfg.Endpoint())
	if c.OnConnect != nil {
		c.OnConnect()
	}
	return nil
}

// Run keeps the uplink alive until ctx is done: it connects, sends
// heartbeats, and reconnects after ReconnectDelay when the connection drops.
// On cancellation it sends disconnect and returns nil. It gives up after
// MaxReconnectAttempts consecutive failed dials.
func (c *Client) Run(ctx context.Context) error {
	attempts := 0
	for {
		err := c.Connect(ctx)
		if err == nil {
			attempts = 0
			c.serve(ctx)
			if ctx.Err() != nil {
				return c.Close()
			}
			c.logger.Warn("gateway connection lost, reconnecting", "delay", c.cfg.ReconnectDelay)
		} else {
			if ctx.Err() != nil {
				return nil
			}
			attempts++
			c.logger.Warn("gateway connect failed", "attempt", attempts, "error", err)
			if c.cfg.MaxReconnectAttempts > 0 && attempts >= c.cfg.MaxReconnectAttempts {
				return fmt.Errorf("agent: giving up after %d attempts: %w", attempts, err)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// serve sends heartbeats until the connection drops or ctx is done.
func (c *Client) serve(ctx context.Context) {
	c.wsMu.Lock()
	done := c.done
	c.wsMu.Unlock()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := c.SendHeartbeat(); err != nil {
				c.logger.Debug("heartbeat failed", "error", err)
			}
		}
	}
}

func (c *Client) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer func() {
		c.wsMu.Lock()
		if c.ws == ws {
			c.connected.Store(false)
		}
		c.wsMu.Unlock()
		close(done)
		if c.OnDisconnect != nil {
			c.OnDisconnect()
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Debug("gateway read error", "error", err)
			}
			return
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			c.logger.Warn("gateway parse error", "error", err)
			continue
		}

		switch msg.Type {
		case protocol.TypeStatusUpdate:
			if c.OnStatus != nil {
				if st, err := msg.GetStatusUpdateData(); err == nil {
					c.OnStatus(*st)
				}
			}
		case protocol.TypePong:
			if pong, err := msg.GetPongData(); err == nil {
				c.logger.Debug("pong", "id", pong.ID, "latency_ms", pong.LatencyMs)
			}
		}
	}
}

func (c *Client) send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	if c.ws == nil || !c.connected.Load() {
		return ErrNotConnected
	}
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// SendFrame uploads one frame of landmarks. A nil set reports no face.
func (c *Client) SendFrame(set landmarks.Set) error {
	msg, err := protocol.NewFrameMessage(c.cfg.StudentID, set, c.frameID.Add(1))
	if err != nil {
		return err
	}
	return c.send(msg)
}

// SendViolation reports a violation detected on this machine.
func (c *Client) SendViolation(label behavior.Label, confidence float64) error {
	msg, err := protocol.NewViolationMessage(c.cfg.StudentID, int(label), label.Message(), confidence)
	if err != nil {
		return err
	}
	return c.send(msg)
}

// SendHeartbeat sends one heartbeat.
func (c *Client) SendHeartbeat() error {
	msg, err := protocol.NewHeartbeatMessage(c.cfg.StudentID)
	if err != nil {
		return err
	}
	return c.send(msg)
}

// Ping sends a ping; the pong latency is logged at debug level.
func (c *Client) Ping(id string) error {
	msg, err := protocol.NewPingMessage(id)
	if err != nil {
		return err
	}
	return c.send(msg)
}

// OnViolation implements proctor.Sink so a local monitor can forward its
// events upstream.
func (c *Client) OnViolation(_ context.Context, v proctor.Violation) error {
	return c.SendViolation(v.Label, v.Confidence)
}

// IsConnected reports whether the uplink is live.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Close sends disconnect and closes the connection. Safe to call when not
// connected.
func (c *Client) Close() error {
	if !c.connected.Load() {
		return nil
	}
	if msg, err := protocol.NewDisconnectMessage(c.cfg.StudentID); err == nil {
		c.send(msg)
	}

	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	c.connected.Store(false)
	if c.ws == nil {
		return nil
	}
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := c.ws.Close()
	c.logger.Info("disconnected from gateway")
	return err
}

var _ proctor.Sink = (*Client)(nil)
