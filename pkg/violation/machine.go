// Package violation debounces a per-frame behavior label stream into
// discrete, duration-gated, cooldown-protected violation events.
//
// A StateMachine holds one subject's state and is not safe for concurrent
// use; callers serialise frames.
package violation

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-proctor/pkg/behavior"
)

// Event is an emitted violation.
type Event struct {
	Label        behavior.Label `json:"label"`
	Confidence   float64        `json:"confidence"`
	EmittedAt    time.Time      `json:"emitted_at"`
	TrackedSince time.Time      `json:"tracked_since"`
}

// Duration returns how long the label was tracked before the event fired.
func (e Event) Duration() time.Duration {
	return e.EmittedAt.Sub(e.TrackedSince)
}

func (e Event) String() string {
	return fmt.Sprintf("%s (%.0f%%) after %.1fs", e.Label.Message(), e.Confidence*100, e.Duration().Seconds())
}

// State is a read-only view of the machine for status displays.
type State struct {
	Buffered      int            `json:"buffered"`
	Latest        behavior.Label `json:"latest"`
	Tracking      bool           `json:"tracking"`
	TrackedLabel  behavior.Label `json:"tracked_label"`
	TrackedSince  time.Time      `json:"tracked_since,omitempty"`
	Reported      bool           `json:"reported"`
	CooldownUntil time.Time      `json:"cooldown_until,omitempty"`
}

// StateMachine turns labels into events.
type StateMachine struct {
	cfg  Config
	ring *labelRing

	tracking bool
	tracked  behavior.Label
	start    time.Time
	reported bool

	cooldownUntil time.Time
}

// NewStateMachine creates a machine with the given configuration.
func NewStateMachine(cfg Config) (*StateMachine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &StateMachine{
		cfg:  cfg,
		ring: newLabelRing(cfg.DebounceFrames),
	}, nil
}

// Config returns the machine configuration.
func (m *StateMachine) Config() Config {
	return m.cfg
}

// Observe feeds one frame's label and returns an event when one fires.
func (m *StateMachine) Observe(label behavior.Label, confidence float64, now time.Time) *Event {
	m.ring.push(label, now)
	if !m.ring.full() {
		return nil
	}

	dominant, ok := m.dominant()

	// Cooldown freezes tracking.
	if now.Before(m.cooldownUntil) {
		return nil
	}

	if !ok {
		m.clearTracking()
		return nil
	}

	if !m.tracking || m.tracked != dominant {
		// The buffer holds only this label, so the run began at its
		// oldest frame. Frames seen during a cooldown earn no credit.
		start := m.ring.oldest().at
		if start.Before(m.cooldownUntil) {
			start = m.cooldownUntil
		}
		m.tracking = true
		m.tracked = dominant
		m.start = start
		m.reported = false
		return nil
	}

	if m.reported || now.Sub(m.start) < m.cfg.RequiredDuration {
		return nil
	}

	m.reported = true
	m.cooldownUntil = now.Add(m.cfg.Cooldown)
	return &Event{
		Label:        dominant,
		Confidence:   confidence,
		EmittedAt:    now,
		TrackedSince: m.start,
	}
}

// dominant returns the violating label that saturates the buffer. The mode of
// the non-normal labels (ties to the first seen) must itself appear N times.
func (m *StateMachine) dominant() (behavior.Label, bool) {
	n := m.cfg.DebounceFrames

	var counts [behavior.NumLabels]int
	order := make([]behavior.Label, 0, behavior.NumLabels)
	violating := 0
	for _, l := range m.ring.labels() {
		if !l.IsViolation() || !l.Valid() {
			continue
		}
		violating++
		if counts[l] == 0 {
			order = append(order, l)
		}
		counts[l]++
	}
	if violating < n {
		return behavior.Normal, false
	}

	candidate := order[0]
	for _, l := range order[1:] {
		if counts[l] > counts[candidate] {
			candidate = l
		}
	}
	if counts[candidate] < n {
		return behavior.Normal, false
	}
	return candidate, true
}

func (m *StateMachine) clearTracking() {
	m.tracking = false
	m.tracked = behavior.Normal
	m.start = time.Time{}
	m.reported = false
}

// Reset clears the buffer, tracking and cooldown.
func (m *StateMachine) Reset() {
	m.ring.clear()
	m.clearTracking()
	m.cooldownUntil = time.Time{}
}

// State returns a snapshot of the machine.
func (m *StateMachine) State() State {
	latest, _ := m.ring.last()
	return State{
		Buffered:      m.ring.len(),
		Latest:        latest,
		Tracking:      m.tracking,
		TrackedLabel:  m.tracked,
		TrackedSince:  m.start,
		Reported:      m.reported,
		CooldownUntil: m.cooldownUntil,
	}
}

// Describe returns the latest label's message, annotated with progress
// toward RequiredDuration while an unreported label is tracked, e.g.
// "Head Down (1.2s / 2.0s)". Returns "No data" before the first frame.
func (m *StateMachine) Describe(now time.Time) string {
	latest, ok := m.ring.last()
	if !ok {
		return "No data"
	}

	msg := latest.Message()
	if m.tracking && !m.reported {
		elapsed := now.Sub(m.start)
		if elapsed < m.cfg.RequiredDuration {
			msg += fmt.Sprintf(" (%.1fs / %.1fs)", elapsed.Seconds(), m.cfg.RequiredDuration.Seconds())
		}
	}
	return msg
}
