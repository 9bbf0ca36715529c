package behavior

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	"github.com/teslashibe/go-proctor/pkg/geometry"
)

//go:embed data/behavior_model.json
var embeddedModel embed.FS

// leafChild marks a node without children.
const leafChild = -1

// Node is one decision tree node. Internal nodes send a sample left when
// x[Feature] <= Threshold. Leaves have Left == Right == -1 and carry a
// per-class Value (counts or fractions).
type Node struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      int       `json:"left"`
	Right     int       `json:"right"`
	Value     []float64 `json:"value,omitempty"`
}

// IsLeaf reports whether the node has no children.
func (n Node) IsLeaf() bool {
	return n.Left == leafChild && n.Right == leafChild
}

// Tree is a flattened decision tree; node 0 is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// RandomForest is a tree ensemble exported from a trained classifier.
// Probabilities are the mean of the normalised leaf distributions.
type RandomForest struct {
	FeatureNames []string `json:"feature_names"`
	Classes      []int    `json:"classes"`
	Trees        []Tree   `json:"trees"`
}

// ParseModel decodes and validates a JSON forest. Errors wrap ErrModelCorrupt.
func ParseModel(data []byte) (*RandomForest, error) {
	var rf RandomForest
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelCorrupt, err)
	}
	if err := rf.Validate(); err != nil {
		return nil, err
	}
	return &rf, nil
}

// LoadModel reads a JSON forest from disk. Failures are *ModelLoadError.
func LoadModel(path string) (*RandomForest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ModelLoadError{Path: path, Err: fmt.Errorf("%w: %v", ErrModelMissing, err)}
		}
		return nil, &ModelLoadError{Path: path, Err: fmt.Errorf("%w: %v", ErrModelCorrupt, err)}
	}

	rf, err := ParseModel(data)
	if err != nil {
		return nil, &ModelLoadError{Path: path, Err: err}
	}
	return rf, nil
}

// LoadEmbedded returns the forest bundled with the binary.
func LoadEmbedded() (*RandomForest, error) {
	const name = "data/behavior_model.json"
	data, err := embeddedModel.ReadFile(name)
	if err != nil {
		return nil, &ModelLoadError{Path: name, Err: fmt.Errorf("%w: %v", ErrModelMissing, err)}
	}
	rf, err := ParseModel(data)
	if err != nil {
		return nil, &ModelLoadError{Path: name, Err: err}
	}
	return rf, nil
}

// Validate checks the forest structure. Classes must be exactly 0..K-1 so
// that probability slots line up with label values.
func (rf *RandomForest) Validate() error {
	if len(rf.Classes) == 0 {
		return fmt.Errorf("%w: no classes", ErrModelCorrupt)
	}
	for i, c := range rf.Classes {
		if c != i {
			return fmt.Errorf("%w: classes must be 0..%d in order, got %v", ErrModelCorrupt, len(rf.Classes)-1, rf.Classes)
		}
	}
	if len(rf.Classes) > NumLabels {
		return fmt.Errorf("%w: %d classes exceeds %d labels", ErrModelCorrupt, len(rf.Classes), NumLabels)
	}
	if len(rf.FeatureNames) != 0 && len(rf.FeatureNames) != geometry.FeatureCount {
		return fmt.Errorf("%w: %d feature names, want %d", ErrModelCorrupt, len(rf.FeatureNames), geometry.FeatureCount)
	}
	if len(rf.Trees) == 0 {
		return fmt.Errorf("%w: no trees", ErrModelCorrupt)
	}

	k := len(rf.Classes)
	for ti, t := range rf.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("%w: tree %d is empty", ErrModelCorrupt, ti)
		}
		for ni, n := range t.Nodes {
			if n.IsLeaf() {
				if len(n.Value) != k {
					return fmt.Errorf("%w: tree %d leaf %d has %d values, want %d", ErrModelCorrupt, ti, ni, len(n.Value), k)
				}
				for _, v := range n.Value {
					if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
						return fmt.Errorf("%w: tree %d leaf %d has invalid value %v", ErrModelCorrupt, ti, ni, v)
					}
				}
				continue
			}
			if n.Feature < 0 || n.Feature >= geometry.FeatureCount {
				return fmt.Errorf("%w: tree %d node %d splits on feature %d", ErrModelCorrupt, ti, ni, n.Feature)
			}
			if math.IsNaN(n.Threshold) {
				return fmt.Errorf("%w: tree %d node %d has NaN threshold", ErrModelCorrupt, ti, ni)
			}
			// Children must point forward so traversal always terminates.
			for _, c := range [2]int{n.Left, n.Right} {
				if c <= ni || c >= len(t.Nodes) {
					return fmt.Errorf("%w: tree %d node %d has child %d", ErrModelCorrupt, ti, ni, c)
				}
			}
		}
	}
	return nil
}

// NumClasses returns the number of classes the forest was trained on.
func (rf *RandomForest) NumClasses() int {
	return len(rf.Classes)
}

// PredictProbabilities implements Model.
func (rf *RandomForest) PredictProbabilities(f geometry.Features) ([]float64, error) {
	if rf == nil || len(rf.Trees) == 0 {
		return nil, ErrModelNotLoaded
	}

	x := f.Vector()
	probs := make([]float64, len(rf.Classes))
	for _, t := range rf.Trees {
		leaf := t.leaf(x)
		var sum float64
		for _, v := range leaf.Value {
			sum += v
		}
		if sum <= 0 {
			continue
		}
		for i, v := range leaf.Value {
			probs[i] += v / sum
		}
	}

	n := float64(len(rf.Trees))
	for i := range probs {
		probs[i] /= n
	}
	return probs, nil
}

// Predict implements Model. Ties resolve to the lowest class index.
func (rf *RandomForest) Predict(f geometry.Features) (Label, error) {
	probs, err := rf.PredictProbabilities(f)
	if err != nil {
		return Normal, err
	}
	return argmax(probs), nil
}

func (t Tree) leaf(x [geometry.FeatureCount]float64) Node {
	i := 0
	for {
		n := t.Nodes[i]
		if n.IsLeaf() {
			return n
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

func argmax(probs []float64) Label {
	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return Label(best)
}
