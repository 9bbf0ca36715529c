// Package store persists emitted violations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/teslashibe/go-proctor/pkg/behavior"
	"github.com/teslashibe/go-proctor/pkg/proctor"
)

// Filter narrows List and CountByLabel. Zero fields match everything.
type Filter struct {
	SessionID string
	SubjectID string
	ExamCode  string
	Since     time.Time
	Limit     int // 0 means no limit
}

func (f Filter) match(v proctor.Violation) bool {
	if f.SessionID != "" && v.SessionID.String() != f.SessionID {
		return false
	}
	if f.SubjectID != "" && v.SubjectID != f.SubjectID {
		return false
	}
	if f.ExamCode != "" && v.ExamCode != f.ExamCode {
		return false
	}
	if !f.Since.IsZero() && v.EmittedAt.Before(f.Since) {
		return false
	}
	return true
}

// Store defines the interface for violation persistence backends. Every
// store is also a proctor.Sink so it can be attached to a Monitor.
type Store interface {
	proctor.Sink

	// Save persists one violation.
	Save(ctx context.Context, v proctor.Violation) error

	// List returns matching violations, oldest first.
	List(ctx context.Context, f Filter) ([]proctor.Violation, error)

	// CountByLabel returns matching violation counts keyed by label name
	// (e.g. "HEAD_DOWN").
	CountByLabel(ctx context.Context, f Filter) (map[string]int64, error)

	// Close releases any resources held by the store.
	Close() error
}

// MemoryStore keeps violations in memory. Used when no database path is
// configured and in tests.
type MemoryStore struct {
	mu         sync.RWMutex
	violations []proctor.Violation
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save appends the violation.
func (s *MemoryStore) Save(_ context.Context, v proctor.Violation) error {
	s.mu.Lock()
	s.violations = append(s.violations, v)
	s.mu.Unlock()
	return nil
}

// List returns matching violations, oldest first.
func (s *MemoryStore) List(_ context.Context, f Filter) ([]proctor.Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []proctor.Violation
	for _, v := range s.violations {
		if f.match(v) {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EmittedAt.Before(out[j].EmittedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// CountByLabel returns matching counts keyed by label name.
func (s *MemoryStore) CountByLabel(_ context.Context, f Filter) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, v := range s.violations {
		if f.match(v) {
			counts[v.Label.String()]++
		}
	}
	return counts, nil
}

// Close is a no-op for memory stores.
func (s *MemoryStore) Close() error {
	return nil
}

// OnViolation implements proctor.Sink.
func (s *MemoryStore) OnViolation(ctx context.Context, v proctor.Violation) error {
	return s.Save(ctx, v)
}

// labelName maps a stored integer back to its constant name.
func labelName(l int) string {
	return behavior.Label(l).String()
}

// Ensure implementations satisfy the interfaces
var _ Store = (*MemoryStore)(nil)
