// Package web provides the proctoring dashboard: a REST API over the monitor
// and violation store plus live WebSocket streams.
package web

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-proctor/pkg/hub"
	"github.com/teslashibe/go-proctor/pkg/landmarks"
	"github.com/teslashibe/go-proctor/pkg/proctor"
	"github.com/teslashibe/go-proctor/pkg/protocol"
	"github.com/teslashibe/go-proctor/pkg/store"
)

// recentLimit bounds the violations replayed to a new events client.
const recentLimit = 200

// Monitor is the part of proctor.Monitor the dashboard drives.
type Monitor interface {
	Start(subjectID, examCode string) (*proctor.Session, error)
	Stop(subjectID string) (proctor.SessionInfo, error)
	Get(subjectID string) (*proctor.Session, bool)
	List() []proctor.SessionInfo
	Reset(subjectID string) error
	ProcessFrame(ctx context.Context, subjectID string, set landmarks.Set) (proctor.FrameResult, error)
	Stats() proctor.Stats
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithStatic serves dashboard assets from dir.
func WithStatic(dir string) Option {
	return func(s *Server) { s.staticDir = dir }
}

// WithAccessLog logs every request.
func WithAccessLog() Option {
	return func(s *Server) { s.accessLog = true }
}

// Server is the web dashboard server
type Server struct {
	app       *fiber.App
	addr      string
	staticDir string
	accessLog bool
	logger    *slog.Logger
	validate  *validator.Validate

	monitor Monitor
	store   store.Store

	// Hubs for websocket broadcast
	eventsHub *hub.Hub
	statusHub *hub.Hub

	mu       sync.RWMutex
	recent   []proctor.Violation
	presence map[string]bool
}

// NewServer creates a new dashboard server
func NewServer(addr string, monitor Monitor, st store.Store, opts ...Option) *Server {
	validate := validator.New()
	if err := protocol.RegisterValidation(validate); err != nil {
		panic(err)
	}

	s := &Server{
		addr:     addr,
		logger:   slog.Default(),
		validate: validate,
		monitor:  monitor,
		store:    st,
		presence: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.eventsHub = hub.New("events", s.logger)
	s.statusHub = hub.New("status", s.logger)

	app := fiber.New(fiber.Config{
		AppName:               "Proctor Dashboard",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())
	if s.accessLog {
		app.Use(logger.New())
	}
	// CORS for local development
	app.Use(cors.New())

	if s.staticDir != "" {
		app.Static("/", s.staticDir)
	}

	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Get("/stats", s.handleStats)
	api.Get("/violations", s.handleListViolations)

	sessions := api.Group("/sessions")
	sessions.Get("/", s.handleListSessions)
	sessions.Post("/", s.handleStartSession)
	sessions.Get("/:id", s.handleGetSession)
	sessions.Delete("/:id", s.handleStopSession)
	sessions.Post("/:id/frames", s.handleFrame)
	sessions.Post("/:id/reset", s.handleReset)
	sessions.Get("/:id/state", s.handleState)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/events", websocket.New(s.handleEventsWS))
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// App exposes the fiber app so other components can mount routes on it.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run starts the hubs, then serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	go s.eventsHub.Run(ctx)
	go s.statusHub.Run(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.app.ShutdownWithContext(shutdownCtx)
	}()

	s.logger.Info("dashboard listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// StartHubs runs the broadcast hubs without serving HTTP; used when the app
// is driven by app.Test or mounted elsewhere.
func (s *Server) StartHubs(ctx context.Context) {
	go s.eventsHub.Run(ctx)
	go s.statusHub.Run(ctx)
}

// OnViolation implements proctor.Sink: it remembers the violation and
// broadcasts it to events clients.
func (s *Server) OnViolation(_ context.Context, v proctor.Violation) error {
	s.mu.Lock()
	s.recent = append(s.recent, v)
	if len(s.recent) > recentLimit {
		s.recent = s.recent[len(s.recent)-recentLimit:]
	}
	s.mu.Unlock()

	msg, err := protocol.NewMessage(protocol.TypeViolation, v)
	if err != nil {
		return err
	}
	return s.broadcast(s.eventsHub, msg)
}

// OnFrame implements proctor.FrameSink: every processed frame becomes a
// status update on the status stream.
func (s *Server) OnFrame(info proctor.SessionInfo, r proctor.FrameResult) {
	msg, err := protocol.NewStatusUpdateMessage(statusUpdate(info.SubjectID, r))
	if err != nil {
		return
	}
	s.broadcast(s.statusHub, msg)
}

// SetPresence records whether subjectID's agent is connected and notifies
// events clients.
func (s *Server) SetPresence(subjectID string, online bool) {
	s.mu.Lock()
	s.presence[subjectID] = online
	s.mu.Unlock()

	msgType := protocol.TypeConnect
	if !online {
		msgType = protocol.TypeDisconnect
	}
	msg, err := protocol.NewMessage(msgType, protocol.ConnectData{StudentID: subjectID})
	if err != nil {
		return
	}
	s.broadcast(s.eventsHub, msg)
}

func (s *Server) online(subjectID string) (online, known bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	online, known = s.presence[subjectID]
	return online, known
}

func (s *Server) broadcast(h *hub.Hub, msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func statusUpdate(subjectID string, r proctor.FrameResult) protocol.StatusUpdateData {
	return protocol.StatusUpdateData{
		StudentID:    subjectID,
		Status:       string(r.Status),
		Color:        r.Status.Color(),
		Behavior:     int(r.Label),
		BehaviorName: r.LabelName,
		Confidence:   r.Confidence,
		Description:  r.Description,
		Violation:    r.Event != nil,
	}
}

// errorHandler maps domain errors onto HTTP statuses.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	var ve validator.ValidationErrors
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.As(err, &ve), errors.Is(err, proctor.ErrSubjectRequired):
		code = fiber.StatusBadRequest
	case errors.Is(err, proctor.ErrSessionNotFound):
		code = fiber.StatusNotFound
	case errors.Is(err, proctor.ErrSessionActive):
		code = fiber.StatusConflict
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
