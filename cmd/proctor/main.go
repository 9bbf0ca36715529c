// proctor: exam proctoring server
// Accepts landmark streams from exam agents, classifies behaviour per frame
// and serves the violation dashboard.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-proctor/internal/config"
	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/behavior"
	"github.com/teslashibe/go-proctor/pkg/cloud"
	"github.com/teslashibe/go-proctor/pkg/debug"
	"github.com/teslashibe/go-proctor/pkg/geometry"
	"github.com/teslashibe/go-proctor/pkg/proctor"
	"github.com/teslashibe/go-proctor/pkg/store"
	"github.com/teslashibe/go-proctor/pkg/web"
)

var version = "0.1.0"

func main() {
	addr := flag.String("addr", "", "Listen address (overrides PROCTOR_ADDR)")
	modelPath := flag.String("model", "", "Random forest JSON (overrides PROCTOR_MODEL_PATH; empty uses the embedded model)")
	dbPath := flag.String("db", "", "SQLite violation log (overrides PROCTOR_DB_PATH)")
	static := flag.String("static", "", "Dashboard asset directory (overrides PROCTOR_STATIC_DIR)")
	preset := flag.String("preset", "", "Violation timing preset: default, legacy")
	debugFlag := flag.Bool("debug", false, "Enable debug logging and request logs")
	debugFrames := flag.Bool("debug-frames", false, "Trace every frame (very verbose)")
	flag.Parse()

	if *preset != "" {
		os.Setenv(config.EnvPreset, *preset)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *modelPath != "" {
		cfg.ModelPath = *modelPath
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *static != "" {
		cfg.StaticDir = *static
	}
	if *debugFlag {
		cfg.LogLevel = "debug"
	}
	debug.Enabled = *debugFlag
	debug.Frames = *debugFrames

	log.Setup(log.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	logger := log.L()
	logger.Info("proctor starting", "version", version, "addr", cfg.Addr,
		"preset", cfg.Preset, "debounce", cfg.DebounceFrames,
		"required", cfg.RequiredDuration, "cooldown", cfg.Cooldown)

	if err := run(cfg, *debugFlag); err != nil {
		log.Error("proctor stopped", "error", err)
		os.Exit(1)
	}
	log.Info("goodbye")
}

func loadModel(path string) (behavior.Model, error) {
	if path == "" {
		return behavior.LoadEmbedded()
	}
	return behavior.LoadModel(path)
}

func run(cfg config.Config, accessLog bool) error {
	logger := log.L()

	model, err := loadModel(cfg.ModelPath)
	if err != nil {
		return err
	}
	classifier, err := behavior.NewClassifier(model, cfg.Thresholds())
	if err != nil {
		return err
	}
	extractor, err := geometry.NewExtractor(cfg.Geometry(), nil, logger)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	monitor, err := proctor.NewMonitor(extractor, classifier, cfg.Violation(),
		proctor.WithLogger(logger.With("component", "monitor")),
		proctor.WithSink(st))
	if err != nil {
		return err
	}

	opts := []web.Option{web.WithLogger(logger.With("component", "web"))}
	if cfg.StaticDir != "" {
		opts = append(opts, web.WithStatic(cfg.StaticDir))
	}
	if accessLog {
		opts = append(opts, web.WithAccessLog())
	}
	srv := web.NewServer(cfg.Addr, monitor, st, opts...)
	monitor.AddSink(srv)
	monitor.AddFrameSink(srv)

	gateway := cloud.NewGateway(monitor, cloud.WithLogger(logger.With("component", "gateway")))
	gateway.OnPresence(srv.SetPresence)
	monitor.AddSink(gateway)
	gateway.RegisterRoutes(srv.App())
	gateway.RegisterAPIRoutes(srv.App().Group("/api"))

	srv.App().Get("/metrics", func(c *fiber.Ctx) error {
		return c.SendString(metrics(monitor.Stats(), gateway.GetStats()))
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("listening",
		"agents", "ws://localhost"+cfg.Addr+"/ws/agent/:id",
		"api", "http://localhost"+cfg.Addr+"/api/sessions")
	return srv.Run(ctx)
}

func metrics(m proctor.Stats, g cloud.Stats) string {
	out := fmt.Sprintf(`# HELP proctor_sessions Active proctoring sessions
# TYPE proctor_sessions gauge
proctor_sessions %d

# HELP proctor_agents Connected exam agents
# TYPE proctor_agents gauge
proctor_agents %d

# HELP proctor_frames_total Frames processed
# TYPE proctor_frames_total counter
proctor_frames_total %d

# HELP proctor_frames_dropped_total Frames dropped while a session was busy
# TYPE proctor_frames_dropped_total counter
proctor_frames_dropped_total %d

# HELP proctor_no_face_total Frames without a face
# TYPE proctor_no_face_total counter
proctor_no_face_total %d

# HELP proctor_agent_messages_received_total Messages received from agents
# TYPE proctor_agent_messages_received_total counter
proctor_agent_messages_received_total %d

# HELP proctor_violations_total Violations emitted
# TYPE proctor_violations_total counter
`, m.ActiveSessions, g.AgentCount, m.Frames, m.Dropped, m.NoFace, g.MessagesReceived)
	for _, l := range behavior.AllLabels() {
		if l.IsViolation() {
			out += fmt.Sprintf("proctor_violations_total{label=%q} %d\n", l.String(), m.ByLabel[l.String()])
		}
	}
	return out
}
