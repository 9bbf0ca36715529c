package behavior

import (
	"github.com/teslashibe/go-proctor/pkg/geometry"
)

// FallbackConfidence is reported when the model has no probability for the
// chosen label, e.g. a rule fired a class the model was not trained on.
const FallbackConfidence = 0.9

// ModelRuleName identifies results decided by the model fallback.
const ModelRuleName = "model"

// Result is one frame's classification.
type Result struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message"`
	Rule       string  `json:"rule"` // rule that decided the label, or "model"
}

// Classifier runs the ordered rules and falls back to the model. It holds no
// mutable state and is safe to share across sessions.
type Classifier struct {
	model Model
	rules []Rule
}

// NewClassifier creates a classifier with the default rules.
func NewClassifier(model Model, t Thresholds) (*Classifier, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return NewClassifierWithRules(model, DefaultRules(t)...)
}

// NewClassifierWithRules creates a classifier with a custom rule order.
func NewClassifierWithRules(model Model, rules ...Rule) (*Classifier, error) {
	if model == nil {
		return nil, ErrModelNotLoaded
	}
	return &Classifier{model: model, rules: rules}, nil
}

// Rules returns the rule order.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Classify returns the behavior for one frame. The first firing rule decides
// the label; otherwise the model does. Confidence always comes from the
// model's probability for the chosen label.
func (c *Classifier) Classify(f geometry.Features, g geometry.Gaze) (Result, error) {
	if c == nil || c.model == nil {
		return Result{}, ErrModelNotLoaded
	}

	label, rule, matched := Normal, ModelRuleName, false
	for _, r := range c.rules {
		if l, ok := r.Apply(f, g); ok {
			label, rule, matched = l, r.Name(), true
			break
		}
	}

	if !matched {
		l, err := c.model.Predict(f)
		if err != nil {
			return Result{}, err
		}
		label = l
	}

	probs, err := c.model.PredictProbabilities(f)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Label:      label,
		Confidence: confidenceFor(label, probs),
		Message:    label.Message(),
		Rule:       rule,
	}, nil
}

// ClassifyBatch reshapes a raw feature batch with NormalizeShape and
// classifies it without gaze.
func (c *Classifier) ClassifyBatch(rows [][]float64) (Result, error) {
	f, err := NormalizeShape(rows)
	if err != nil {
		return Result{}, err
	}
	return c.Classify(f, geometry.Gaze{})
}

func confidenceFor(label Label, probs []float64) float64 {
	i := int(label)
	if i < 0 || i >= len(probs) {
		return FallbackConfidence
	}
	p := probs[i]
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
