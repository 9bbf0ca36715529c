// Package proctor composes the per-frame pipeline (features, classification,
// debouncing) into per-subject sessions and fans violations out to sinks.
package proctor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-proctor/pkg/behavior"
	"github.com/teslashibe/go-proctor/pkg/geometry"
	"github.com/teslashibe/go-proctor/pkg/violation"
)

// Sentinel errors for common conditions.
var (
	// ErrSessionNotFound is returned when no active session exists for a subject.
	ErrSessionNotFound = errors.New("proctor: session not found")

	// ErrSessionActive is returned when starting a session that already runs.
	ErrSessionActive = errors.New("proctor: session already active")

	// ErrSubjectRequired is returned when a subject ID is empty.
	ErrSubjectRequired = errors.New("proctor: subject ID required")
)

// Status is the outcome category of one frame.
type Status string

const (
	StatusNoFace    Status = "no_face"
	StatusNormal    Status = "normal"
	StatusWarning   Status = "warning"
	StatusViolation Status = "violation"
	StatusDropped   Status = "dropped"
	StatusOffline   Status = "offline"
)

// Dashboard colours.
const (
	ColorNormal   = "#4CAF50"
	ColorOffline  = "#9E9E9E"
	ColorWarning  = "#FF9800"
	ColorCheating = "#F44336"
)

// Color returns the dashboard colour for s. Frames without a usable face
// show as offline.
func (s Status) Color() string {
	switch s {
	case StatusNormal:
		return ColorNormal
	case StatusWarning:
		return ColorWarning
	case StatusViolation:
		return ColorCheating
	default:
		return ColorOffline
	}
}

// FrameResult is what the pipeline reports for one frame.
type FrameResult struct {
	Status      Status            `json:"status"`
	Label       behavior.Label    `json:"label"`
	LabelName   string            `json:"label_name"`
	Confidence  float64           `json:"confidence"`
	Message     string            `json:"message"`
	Features    geometry.Features `json:"features"`
	Gaze        geometry.Gaze     `json:"gaze"`
	Event       *violation.Event  `json:"event,omitempty"`
	Description string            `json:"description"`
	At          time.Time         `json:"at"`
}

// Violation is an emitted event bound to its session, as persisted and
// broadcast.
type Violation struct {
	ID         uuid.UUID      `json:"id"`
	SessionID  uuid.UUID      `json:"session_id"`
	SubjectID  string         `json:"subject_id"`
	ExamCode   string         `json:"exam_code"`
	Label      behavior.Label `json:"label"`
	LabelName  string         `json:"label_name"`
	Confidence float64        `json:"confidence"`
	EmittedAt  time.Time      `json:"emitted_at"`
	Source     Source         `json:"source"`
}

// Source records where a violation was detected.
type Source string

const (
	SourcePipeline Source = "pipeline" // server-side state machine
	SourceAgent    Source = "agent"    // reported by the exam machine
)

// NewViolation binds an event to a session.
func NewViolation(s SessionInfo, ev violation.Event) Violation {
	return Violation{
		ID:         uuid.New(),
		SessionID:  s.ID,
		SubjectID:  s.SubjectID,
		ExamCode:   s.ExamCode,
		Label:      ev.Label,
		LabelName:  ev.Label.Message(),
		Confidence: ev.Confidence,
		EmittedAt:  ev.EmittedAt,
		Source:     SourcePipeline,
	}
}

// Sink receives violations. OnViolation runs on the frame path and should
// return quickly.
type Sink interface {
	OnViolation(ctx context.Context, v Violation) error
}

// FrameSink optionally receives every processed frame.
type FrameSink interface {
	OnFrame(s SessionInfo, r FrameResult)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, v Violation) error

// OnViolation calls f.
func (f SinkFunc) OnViolation(ctx context.Context, v Violation) error {
	return f(ctx, v)
}
