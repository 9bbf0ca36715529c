package proctor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/teslashibe/go-proctor/pkg/behavior"
	"github.com/teslashibe/go-proctor/pkg/landmarks"
	"github.com/teslashibe/go-proctor/pkg/violation"
)

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the clock shared by all sessions.
func WithClock(c violation.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithSink adds a violation sink.
func WithSink(s Sink) Option {
	return func(m *Monitor) { m.sinks = append(m.sinks, s) }
}

// WithFrameSink adds a frame sink.
func WithFrameSink(s FrameSink) Option {
	return func(m *Monitor) { m.frameSinks = append(m.frameSinks, s) }
}

// Stats aggregates all active sessions.
type Stats struct {
	ActiveSessions int              `json:"active_sessions"`
	Frames         int64            `json:"frames"`
	Dropped        int64            `json:"dropped"`
	NoFace         int64            `json:"no_face"`
	Violations     int64            `json:"violations"`
	ByLabel        map[string]int64 `json:"by_label"`
}

// Monitor owns the active sessions. The extractor and classifier are shared
// by every session; each session gets its own state machine.
type Monitor struct {
	extractor  FeatureExtractor
	classifier violation.Classifier
	cfg        violation.Config

	clock      violation.Clock
	logger     *slog.Logger
	sinks      []Sink
	frameSinks []FrameSink

	mu       sync.RWMutex
	sessions map[string]*Session // by subject ID
	byLabel  map[behavior.Label]int64
}

// NewMonitor creates a monitor.
func NewMonitor(extractor FeatureExtractor, classifier violation.Classifier, cfg violation.Config, opts ...Option) (*Monitor, error) {
	if extractor == nil {
		return nil, fmt.Errorf("proctor: extractor required")
	}
	if classifier == nil {
		return nil, behavior.ErrModelNotLoaded
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Monitor{
		extractor:  extractor,
		classifier: classifier,
		cfg:        cfg,
		clock:      violation.SystemClock{},
		logger:     slog.Default(),
		sessions:   make(map[string]*Session),
		byLabel:    make(map[behavior.Label]int64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// AddSink registers a violation sink after construction.
func (m *Monitor) AddSink(s Sink) {
	m.mu.Lock()
	m.sinks = append(m.sinks, s)
	m.mu.Unlock()
}

// AddFrameSink registers a frame sink after construction.
func (m *Monitor) AddFrameSink(s FrameSink) {
	m.mu.Lock()
	m.frameSinks = append(m.frameSinks, s)
	m.mu.Unlock()
}

// Start opens a session for subjectID. It fails with ErrSessionActive when
// one is already running.
func (m *Monitor) Start(subjectID, examCode string) (*Session, error) {
	if subjectID == "" {
		return nil, ErrSubjectRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[subjectID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionActive, subjectID)
	}
	s, err := m.newSessionLocked(subjectID, examCode)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Ensure returns the running session for subjectID or starts one.
func (m *Monitor) Ensure(subjectID, examCode string) (*Session, bool, error) {
	if subjectID == "" {
		return nil, false, ErrSubjectRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[subjectID]; ok {
		return s, false, nil
	}
	s, err := m.newSessionLocked(subjectID, examCode)
	return s, err == nil, err
}

func (m *Monitor) newSessionLocked(subjectID, examCode string) (*Session, error) {
	det, err := violation.NewDetector(m.classifier, m.cfg)
	if err != nil {
		return nil, err
	}
	logger := m.logger.With("subject", subjectID)
	s := newSession(subjectID, examCode, NewPipeline(m.extractor, det, logger), m.clock)
	m.sessions[subjectID] = s

	logger.Info("session started", "session", s.ID(), "exam", examCode)
	return s, nil
}

// Stop closes the subject's session and returns its final snapshot.
func (m *Monitor) Stop(subjectID string) (SessionInfo, error) {
	m.mu.Lock()
	s, ok := m.sessions[subjectID]
	delete(m.sessions, subjectID)
	m.mu.Unlock()

	if !ok {
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrSessionNotFound, subjectID)
	}

	info := s.Info()
	m.logger.Info("session stopped", "subject", subjectID, "session", s.ID(),
		"frames", info.Counters.Frames, "violations", info.Counters.Violations)
	return info, nil
}

// Get returns the subject's session.
func (m *Monitor) Get(subjectID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[subjectID]
	return s, ok
}

// List returns snapshots of all sessions ordered by subject ID.
func (m *Monitor) List() []SessionInfo {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]SessionInfo, len(sessions))
	for i, s := range sessions {
		infos[i] = s.Info()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].SubjectID < infos[j].SubjectID })
	return infos
}

// Reset clears the subject's debounce state.
func (m *Monitor) Reset(subjectID string) error {
	s, ok := m.Get(subjectID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, subjectID)
	}
	s.Reset()
	m.logger.Info("session reset", "subject", subjectID)
	return nil
}

// ProcessFrame runs one frame for subjectID and fans any violation out to
// the sinks. Sink errors are logged, not returned.
func (m *Monitor) ProcessFrame(ctx context.Context, subjectID string, set landmarks.Set) (FrameResult, error) {
	s, ok := m.Get(subjectID)
	if !ok {
		return FrameResult{}, fmt.Errorf("%w: %s", ErrSessionNotFound, subjectID)
	}

	r, err := s.Process(set)
	if err != nil {
		return r, err
	}
	if r.Status == StatusDropped {
		return r, nil
	}

	m.mu.RLock()
	sinks := m.sinks
	frameSinks := m.frameSinks
	m.mu.RUnlock()

	var info SessionInfo
	if r.Event != nil || len(frameSinks) > 0 {
		info = s.Info()
	}

	if r.Event != nil {
		v := NewViolation(info, *r.Event)
		m.logger.Info("violation", "subject", subjectID, "label", v.Label.String(),
			"confidence", v.Confidence, "tracked", r.Event.Duration())
		m.publish(ctx, sinks, v)
	}

	for _, fs := range frameSinks {
		fs.OnFrame(info, r)
	}

	return r, nil
}

// Report records a violation detected outside the pipeline, typically by an
// agent running its own state machine, and fans it out like a pipeline event.
func (m *Monitor) Report(ctx context.Context, subjectID string, label behavior.Label, confidence float64) (Violation, error) {
	if !label.Valid() || !label.IsViolation() {
		return Violation{}, fmt.Errorf("proctor: cannot report label %v", label)
	}
	s, ok := m.Get(subjectID)
	if !ok {
		return Violation{}, fmt.Errorf("%w: %s", ErrSessionNotFound, subjectID)
	}
	s.recordViolation()

	now := m.clock.Now()
	v := NewViolation(s.Info(), violation.Event{
		Label:        label,
		Confidence:   min(max(confidence, 0), 1),
		EmittedAt:    now,
		TrackedSince: now,
	})
	v.Source = SourceAgent

	m.mu.RLock()
	sinks := m.sinks
	m.mu.RUnlock()

	m.logger.Info("violation reported", "subject", subjectID, "label", label.String(), "confidence", v.Confidence)
	m.publish(ctx, sinks, v)
	return v, nil
}

func (m *Monitor) publish(ctx context.Context, sinks []Sink, v Violation) {
	m.mu.Lock()
	m.byLabel[v.Label]++
	m.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.OnViolation(ctx, v); err != nil {
			m.logger.Warn("violation sink failed", "subject", v.SubjectID, "error", err)
		}
	}
}

// Stats returns aggregate counters over active sessions plus per-label
// violation totals since startup.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{
		ActiveSessions: len(m.sessions),
		ByLabel:        make(map[string]int64, len(m.byLabel)),
	}
	for _, s := range m.sessions {
		c := s.Counters()
		st.Frames += c.Frames
		st.Dropped += c.Dropped
		st.NoFace += c.NoFace
		st.Violations += c.Violations
	}
	for l, n := range m.byLabel {
		st.ByLabel[l.String()] = n
	}
	return st
}

// Config returns the violation configuration applied to new sessions.
func (m *Monitor) Config() violation.Config {
	return m.cfg
}
