// Package cloud provides the WebSocket gateway exam agents connect to.
package cloud

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-proctor/pkg/behavior"
	"github.com/teslashibe/go-proctor/pkg/debug"
	"github.com/teslashibe/go-proctor/pkg/landmarks"
	"github.com/teslashibe/go-proctor/pkg/proctor"
	"github.com/teslashibe/go-proctor/pkg/protocol"
)

// Close codes sent to agents that fail the handshake.
const (
	CloseConnectExpected  = 4001
	CloseHandshakeTimeout = 4002
	CloseSessionRejected  = 4003
)

// DefaultHandshakeTimeout bounds the wait for an agent's connect message.
const DefaultHandshakeTimeout = 10 * time.Second

// Monitor is the part of proctor.Monitor the gateway drives.
type Monitor interface {
	Ensure(subjectID, examCode string) (*proctor.Session, bool, error)
	Stop(subjectID string) (proctor.SessionInfo, error)
	ProcessFrame(ctx context.Context, subjectID string, set landmarks.Set) (proctor.FrameResult, error)
	Report(ctx context.Context, subjectID string, label behavior.Label, confidence float64) (proctor.Violation, error)
}

var _ proctor.Sink = (*Gateway)(nil)

// AgentConnection represents a connected exam agent
type AgentConnection struct {
	ID        string
	SubjectID string
	ExamCode  string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time

	mu sync.Mutex
}

// Send sends a message to the agent
func (a *AgentConnection) Send(msg *protocol.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	return a.Conn.WriteMessage(websocket.TextMessage, data)
}

func (a *AgentConnection) touch() {
	a.mu.Lock()
	a.LastSeen = time.Now()
	a.mu.Unlock()
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithHandshakeTimeout overrides DefaultHandshakeTimeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.handshakeTimeout = d }
}

// Gateway manages WebSocket connections from exam agents and routes their
// frames into the monitor.
type Gateway struct {
	monitor          Monitor
	logger           *slog.Logger
	handshakeTimeout time.Duration

	mu     sync.RWMutex
	agents map[string]*AgentConnection // by subject ID

	onPresence func(subjectID string, online bool)

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	framesReceived   atomic.Uint64
	framesRejected   atomic.Uint64
	violationsIn     atomic.Uint64
}

// NewGateway creates a gateway in front of monitor.
func NewGateway(monitor Monitor, opts ...Option) *Gateway {
	g := &Gateway{
		monitor:          monitor,
		logger:           slog.Default(),
		handshakeTimeout: DefaultHandshakeTimeout,
		agents:           make(map[string]*AgentConnection),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// OnPresence sets the callback fired when an agent comes online or drops.
func (g *Gateway) OnPresence(callback func(subjectID string, online bool)) {
	g.mu.Lock()
	g.onPresence = callback
	g.mu.Unlock()
}

// RegisterRoutes registers WebSocket routes on a Fiber app
func (g *Gateway) RegisterRoutes(app *fiber.App) {
	app.Use("/ws/agent", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/agent", websocket.New(g.handleAgent))
	app.Get("/ws/agent/:id", websocket.New(g.handleAgent))
}

func (g *Gateway) closeWith(c *websocket.Conn, code int, reason string) {
	c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.Close()
}

// handshake waits for the agent's connect message.
func (g *Gateway) handshake(c *websocket.Conn, agentID string) (*protocol.ConnectData, bool) {
	c.SetReadDeadline(time.Now().Add(g.handshakeTimeout))
	_, data, err := c.ReadMessage()
	if err != nil {
		g.logger.Warn("agent handshake failed", "agent", agentID, "error", err)
		g.closeWith(c, CloseHandshakeTimeout, "connect timeout")
		return nil, false
	}
	c.SetReadDeadline(time.Time{})
	g.messagesReceived.Add(1)

	msg, err := protocol.ParseMessage(data)
	if err != nil || msg.Type != protocol.TypeConnect {
		g.closeWith(c, CloseConnectExpected, "connect expected")
		return nil, false
	}
	hello, err := msg.GetConnectData()
	if err != nil {
		g.closeWith(c, CloseConnectExpected, "bad connect payload")
		return nil, false
	}
	if hello.StudentID == "" {
		hello.StudentID = agentID
	}
	return hello, true
}

// handleAgent handles an agent WebSocket connection
func (g *Gateway) handleAgent(c *websocket.Conn) {
	agentID := c.Params("id")
	if agentID == "" {
		agentID = uuid.NewString()
	}

	hello, ok := g.handshake(c, agentID)
	if !ok {
		return
	}
	subject := hello.StudentID

	if _, created, err := g.monitor.Ensure(subject, hello.ExamCode); err != nil {
		g.logger.Warn("agent session rejected", "agent", agentID, "subject", subject, "error", err)
		g.closeWith(c, CloseSessionRejected, err.Error())
		return
	} else if !created {
		g.logger.Info("agent resumed session", "agent", agentID, "subject", subject)
	}

	agent := &AgentConnection{
		ID:        agentID,
		SubjectID: subject,
		ExamCode:  hello.ExamCode,
		Conn:      c,
		Connected: time.Now(),
		LastSeen:  time.Now(),
	}

	g.mu.Lock()
	if old, ok := g.agents[subject]; ok {
		old.Conn.Close()
	}
	g.agents[subject] = agent
	count := len(g.agents)
	g.mu.Unlock()

	g.logger.Info("agent connected", "agent", agentID, "subject", subject, "exam", hello.ExamCode, "total", count)
	g.presence(subject, true)

	defer func() {
		g.mu.Lock()
		current := g.agents[subject] == agent
		if current {
			delete(g.agents, subject)
		}
		count := len(g.agents)
		g.mu.Unlock()

		g.logger.Info("agent disconnected", "agent", agentID, "subject", subject, "total", count)
		// A replaced connection leaves the subject online.
		if current {
			g.presence(subject, false)
		}
	}()

	// Read loop
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			g.logger.Debug("agent read error", "agent", agentID, "error", err)
			return
		}

		agent.touch()
		g.messagesReceived.Add(1)
		if done := g.handleMessage(agent, data); done {
			c.Close()
			return
		}
	}
}

func (g *Gateway) presence(subject string, online bool) {
	g.mu.RLock()
	cb := g.onPresence
	g.mu.RUnlock()
	if cb != nil {
		cb(subject, online)
	}
}

// handleMessage processes an incoming message from an agent. It reports
// whether the agent asked to end the session.
func (g *Gateway) handleMessage(agent *AgentConnection, data []byte) bool {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		g.logger.Warn("agent parse error", "agent", agent.ID, "error", err)
		return false
	}
	debug.Log("📨 %s from %s (%s)\n", msg.Type, agent.SubjectID, agent.ID)

	ctx := context.Background()

	switch msg.Type {
	case protocol.TypeFrame:
		g.framesReceived.Add(1)
		frame, err := msg.GetFrameData()
		if err != nil {
			g.logger.Warn("bad frame payload", "agent", agent.ID, "error", err)
			return false
		}
		if err := frame.Validate(); err != nil {
			g.framesRejected.Add(1)
			g.logger.Warn("frame rejected", "agent", agent.ID, "subject", agent.SubjectID, "error", err)
			return false
		}
		r, err := g.monitor.ProcessFrame(ctx, agent.SubjectID, frame.Set())
		if err != nil {
			g.logger.Error("frame processing failed", "subject", agent.SubjectID, "error", err)
			return false
		}
		if r.Status == proctor.StatusDropped {
			return false
		}
		g.sendStatus(agent, r)

	case protocol.TypeViolation:
		g.violationsIn.Add(1)
		v, err := msg.GetViolationData()
		if err != nil {
			g.logger.Warn("bad violation payload", "agent", agent.ID, "error", err)
			return false
		}
		if _, err := g.monitor.Report(ctx, agent.SubjectID, behavior.Label(v.Behavior), v.Confidence); err != nil {
			g.logger.Warn("agent violation rejected", "subject", agent.SubjectID, "behavior", v.Behavior, "error", err)
		}

	case protocol.TypeHeartbeat:
		// LastSeen already updated

	case protocol.TypeDisconnect:
		if _, err := g.monitor.Stop(agent.SubjectID); err != nil {
			g.logger.Warn("stop on disconnect failed", "subject", agent.SubjectID, "error", err)
		}
		return true

	case protocol.TypePing:
		ping, _ := msg.GetPingData()
		id := ""
		if ping != nil {
			id = ping.ID
		}
		g.sendPong(agent, id, msg.Timestamp)

	default:
		g.logger.Debug("ignoring agent message", "agent", agent.ID, "type", msg.Type)
	}
	return false
}

func (g *Gateway) sendStatus(agent *AgentConnection, r proctor.FrameResult) {
	msg, err := protocol.NewStatusUpdateMessage(protocol.StatusUpdateData{
		StudentID:    agent.SubjectID,
		Status:       string(r.Status),
		Color:        r.Status.Color(),
		Behavior:     int(r.Label),
		BehaviorName: r.LabelName,
		Confidence:   r.Confidence,
		Description:  r.Description,
		Violation:    r.Event != nil,
	})
	if err != nil {
		return
	}
	g.messagesSent.Add(1)
	if err := agent.Send(msg); err != nil {
		g.logger.Debug("status send failed", "agent", agent.ID, "error", err)
	}
}

func (g *Gateway) sendPong(agent *AgentConnection, id string, pingTS int64) {
	msg, err := protocol.NewPongMessage(id, pingTS, time.Now().UnixMilli())
	if err != nil {
		return
	}
	g.messagesSent.Add(1)
	agent.Send(msg)
}

// ErrAgentNotConnected is returned when sending to an unknown subject.
var ErrAgentNotConnected = errors.New("cloud: agent not connected")

// SendTo sends a message to the agent serving subjectID
func (g *Gateway) SendTo(subjectID string, msg *protocol.Message) error {
	agent := g.GetAgent(subjectID)
	if agent == nil {
		return ErrAgentNotConnected
	}

	g.messagesSent.Add(1)
	return agent.Send(msg)
}

// OnViolation implements proctor.Sink. It notifies the agent serving the
// subject that a violation was recorded. Agent-reported violations are not
// echoed back, and a subject without a connected agent is skipped.
func (g *Gateway) OnViolation(_ context.Context, v proctor.Violation) error {
	if v.Source == proctor.SourceAgent {
		return nil
	}
	msg, err := protocol.NewViolationMessage(v.SubjectID, int(v.Label), v.LabelName, v.Confidence)
	if err != nil {
		return err
	}
	if err := g.SendTo(v.SubjectID, msg); err != nil && !errors.Is(err, ErrAgentNotConnected) {
		return err
	}
	return nil
}

// GetAgent returns the connection serving subjectID
func (g *Gateway) GetAgent(subjectID string) *AgentConnection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.agents[subjectID]
}

// GetAgents returns all connected agents
func (g *Gateway) GetAgents() []*AgentConnection {
	g.mu.RLock()
	defer g.mu.RUnlock()

	agents := make([]*AgentConnection, 0, len(g.agents))
	for _, a := range g.agents {
		agents = append(agents, a)
	}
	return agents
}

// AgentCount returns the number of connected agents
func (g *Gateway) AgentCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.agents)
}

// Stats contains gateway statistics
type Stats struct {
	AgentCount         int    `json:"agent_count"`
	MessagesReceived   uint64 `json:"messages_received"`
	MessagesSent       uint64 `json:"messages_sent"`
	FramesReceived     uint64 `json:"frames_received"`
	FramesRejected     uint64 `json:"frames_rejected"`
	ViolationsReported uint64 `json:"violations_reported"`
}

// GetStats returns gateway statistics
func (g *Gateway) GetStats() Stats {
	return Stats{
		AgentCount:         g.AgentCount(),
		MessagesReceived:   g.messagesReceived.Load(),
		MessagesSent:       g.messagesSent.Load(),
		FramesReceived:     g.framesReceived.Load(),
		FramesRejected:     g.framesRejected.Load(),
		ViolationsReported: g.violationsIn.Load(),
	}
}

// AgentInfo contains info about a connected agent
type AgentInfo struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subject_id"`
	ExamCode  string    `json:"exam_code"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}

// GetAgentInfos returns info about all connected agents
func (g *Gateway) GetAgentInfos() []AgentInfo {
	agents := g.GetAgents()
	infos := make([]AgentInfo, 0, len(agents))
	for _, a := range agents {
		a.mu.Lock()
		infos = append(infos, AgentInfo{
			ID:        a.ID,
			SubjectID: a.SubjectID,
			ExamCode:  a.ExamCode,
			Connected: a.Connected,
			LastSeen:  a.LastSeen,
		})
		a.mu.Unlock()
	}
	return infos
}

// RegisterAPIRoutes registers API routes for agent management
func (g *Gateway) RegisterAPIRoutes(api fiber.Router) {
	agents := api.Group("/agents")

	agents.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"agents": g.GetAgentInfos(),
			"count":  g.AgentCount(),
		})
	})

	agents.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(g.GetStats())
	})
}
