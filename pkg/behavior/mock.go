package behavior

import (
	"sync"

	"github.com/teslashibe/go-proctor/pkg/geometry"
)

// MockModel implements Model for testing.
type MockModel struct {
	// PredictFunc is called when Predict is invoked.
	PredictFunc func(f geometry.Features) (Label, error)

	// ProbabilitiesFunc is called when PredictProbabilities is invoked.
	ProbabilitiesFunc func(f geometry.Features) ([]float64, error)

	mu    sync.Mutex
	calls []string
}

// NewMockModel returns a mock that always predicts label with the given
// probabilities.
func NewMockModel(label Label, probs ...float64) *MockModel {
	return &MockModel{
		PredictFunc: func(geometry.Features) (Label, error) {
			return label, nil
		},
		ProbabilitiesFunc: func(geometry.Features) ([]float64, error) {
			out := make([]float64, len(probs))
			copy(out, probs)
			return out, nil
		},
	}
}

// Predict calls PredictFunc and records the call.
func (m *MockModel) Predict(f geometry.Features) (Label, error) {
	m.record("Predict")
	if m.PredictFunc != nil {
		return m.PredictFunc(f)
	}
	return Normal, nil
}

// PredictProbabilities calls ProbabilitiesFunc and records the call.
func (m *MockModel) PredictProbabilities(f geometry.Features) ([]float64, error) {
	m.record("PredictProbabilities")
	if m.ProbabilitiesFunc != nil {
		return m.ProbabilitiesFunc(f)
	}
	return []float64{1, 0, 0, 0, 0}, nil
}

// Calls returns the recorded method names.
func (m *MockModel) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times method was called.
func (m *MockModel) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (m *MockModel) record(method string) {
	m.mu.Lock()
	m.calls = append(m.calls, method)
	m.mu.Unlock()
}
