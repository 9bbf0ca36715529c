package proctor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-proctor/pkg/landmarks"
	"github.com/teslashibe/go-proctor/pkg/violation"
)

// SessionInfo is a read-only snapshot of a session.
type SessionInfo struct {
	ID          uuid.UUID       `json:"id"`
	SubjectID   string          `json:"subject_id"`
	ExamCode    string          `json:"exam_code"`
	StartedAt   time.Time       `json:"started_at"`
	Status      Status          `json:"status"`
	Description string          `json:"description"`
	Counters    Counters        `json:"counters"`
	State       violation.State `json:"state"`
}

// Counters are per-session frame statistics.
type Counters struct {
	Frames     int64 `json:"frames"`
	Dropped    int64 `json:"dropped"`
	NoFace     int64 `json:"no_face"`
	Violations int64 `json:"violations"`
}

// Session is one monitored subject. Frames are serialised: a frame that
// arrives while another is in flight is dropped, never queued.
type Session struct {
	id        uuid.UUID
	subjectID string
	examCode  string
	startedAt time.Time

	clock    violation.Clock
	pipeline *Pipeline
	mu       sync.Mutex // held while a frame is in flight

	frames     atomic.Int64
	dropped    atomic.Int64
	noFace     atomic.Int64
	violations atomic.Int64

	lastMu      sync.RWMutex // guards the fields below, never held across a frame
	last        FrameResult
	state       violation.State
	description string
}

func newSession(subjectID, examCode string, pipeline *Pipeline, clock violation.Clock) *Session {
	now := clock.Now()
	return &Session{
		id:          uuid.New(),
		subjectID:   subjectID,
		examCode:    examCode,
		startedAt:   now,
		clock:       clock,
		pipeline:    pipeline,
		state:       pipeline.State(),
		description: pipeline.Describe(now),
	}
}

// ID returns the session ID.
func (s *Session) ID() uuid.UUID { return s.id }

// SubjectID returns the monitored subject.
func (s *Session) SubjectID() string { return s.subjectID }

// ExamCode returns the exam the session belongs to.
func (s *Session) ExamCode() string { return s.examCode }

// Process runs one frame through the pipeline. The returned result has
// status dropped when another frame is still in flight.
func (s *Session) Process(set landmarks.Set) (FrameResult, error) {
	if !s.mu.TryLock() {
		s.dropped.Add(1)
		return FrameResult{Status: StatusDropped, At: s.clock.Now()}, nil
	}
	defer s.mu.Unlock()

	r, err := s.pipeline.Process(set, s.clock.Now())
	if err != nil {
		return FrameResult{}, err
	}

	s.frames.Add(1)
	switch r.Status {
	case StatusNoFace:
		s.noFace.Add(1)
	case StatusViolation:
		s.violations.Add(1)
	}

	state := s.pipeline.State()

	s.lastMu.Lock()
	s.last = r
	s.state = state
	s.description = r.Description
	s.lastMu.Unlock()

	return r, nil
}

func (s *Session) recordViolation() {
	s.violations.Add(1)
}

// Reset clears the session's debounce and tracking state. It waits for any
// in-flight frame.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipeline.Reset()

	state := s.pipeline.State()
	desc := s.pipeline.Describe(s.clock.Now())

	s.lastMu.Lock()
	s.state = state
	s.description = desc
	s.lastMu.Unlock()
}

// Last returns the most recent frame result.
func (s *Session) Last() FrameResult {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.last
}

// Counters returns the frame counters.
func (s *Session) Counters() Counters {
	return Counters{
		Frames:     s.frames.Load(),
		Dropped:    s.dropped.Load(),
		NoFace:     s.noFace.Load(),
		Violations: s.violations.Load(),
	}
}

// Info returns a snapshot of the session as of its last frame or reset.
// It never waits for an in-flight frame.
func (s *Session) Info() SessionInfo {
	info := SessionInfo{
		ID:        s.id,
		SubjectID: s.subjectID,
		ExamCode:  s.examCode,
		StartedAt: s.startedAt,
		Counters:  s.Counters(),
	}

	s.lastMu.RLock()
	info.Status = s.last.Status
	info.Description = s.description
	info.State = s.state
	s.lastMu.RUnlock()

	if info.Status == "" {
		info.Status = StatusNormal
	}
	return info
}
