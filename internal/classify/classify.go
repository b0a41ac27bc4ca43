// Package classify turns a clip's averaged landmark vector into a real/fake
// prediction, either with an exported linear model or by looking up the
// nearest labelled clips in the feature store.
package classify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/andresmejia3/veritas/internal/store"
	"github.com/andresmejia3/veritas/internal/types"
	"gopkg.in/yaml.v3"
)

// UndeterminedVerdict is reported when the clip produced no landmarks.
const UndeterminedVerdict = "Undetermined (No valid frames detected)"

// ErrNoSignal is returned when a classifier is asked about a clip without features.
var ErrNoSignal = errors.New("clip has no landmark features")

// Classifier predicts the class of a landmark vector.
type Classifier interface {
	Predict(ctx context.Context, vec types.LandmarkVector) (types.Prediction, error)
}

// LinearModel is a linear decision function w·x + b, as exported by a linear SVM
// or logistic regression trainer.
type LinearModel struct {
	Weights types.LandmarkVector
	Bias    float64
}

type linearModelFile struct {
	Weights []float64 `yaml:"weights"`
	Bias    float64   `yaml:"bias"`
}

// LoadLinearModel reads a YAML file with `weights` (136 values) and `bias`.
func LoadLinearModel(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return ParseLinearModel(data)
}

func ParseLinearModel(data []byte) (*LinearModel, error) {
	var raw linearModelFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}
	if len(raw.Weights) != types.LandmarkDim {
		return nil, fmt.Errorf("model has %d weights, want %d", len(raw.Weights), types.LandmarkDim)
	}
	m := &LinearModel{Bias: raw.Bias}
	copy(m.Weights[:], raw.Weights)
	return m, nil
}

// Decision returns w·x + b.
func (m *LinearModel) Decision(vec types.LandmarkVector) float64 {
	d := m.Bias
	for i, w := range m.Weights {
		d += w * vec[i]
	}
	return d
}

// Probability maps the decision value through a sigmoid.
func (m *LinearModel) Probability(vec types.LandmarkVector) float64 {
	return sigmoid(m.Decision(vec))
}

// Predict implements Classifier. Decisions at exactly zero are Fake.
func (m *LinearModel) Predict(_ context.Context, vec types.LandmarkVector) (types.Prediction, error) {
	d := m.Decision(vec)
	label := types.Real
	if d >= 0 {
		label = types.Fake
	}
	return types.Prediction{Label: label, Probability: sigmoid(d)}, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// NeighborStore is the part of the feature store used for lookups.
type NeighborStore interface {
	FindNearest(ctx context.Context, vec types.LandmarkVector, k int) ([]store.Neighbor, error)
}

// NeighborClassifier votes over the K nearest labelled clips, weighting each
// neighbour by the inverse of its distance.
type NeighborClassifier struct {
	Store NeighborStore
	K     int
}

const exactMatch = 1e-9

// Predict implements Classifier. A tie goes to Real.
func (c *NeighborClassifier) Predict(ctx context.Context, vec types.LandmarkVector) (types.Prediction, error) {
	k := c.K
	if k <= 0 {
		k = 5
	}
	nn, err := c.Store.FindNearest(ctx, vec, k)
	if err != nil {
		return types.Prediction{}, fmt.Errorf("nearest neighbours: %w", err)
	}
	if len(nn) == 0 {
		return types.Prediction{}, errors.New("feature store is empty, run `veritas dataset` first")
	}

	// Exact matches dominate; otherwise weight by 1/d.
	var exactFake, exactTotal int
	for _, n := range nn {
		if n.Distance <= exactMatch {
			exactTotal++
			if n.Label == types.Fake {
				exactFake++
			}
		}
	}

	var p float64
	if exactTotal > 0 {
		p = float64(exactFake) / float64(exactTotal)
	} else {
		var fake, total float64
		for _, n := range nn {
			w := 1 / n.Distance
			total += w
			if n.Label == types.Fake {
				fake += w
			}
		}
		p = fake / total
	}

	label := types.Real
	if p > 0.5 {
		label = types.Fake
	}
	return types.Prediction{Label: label, Probability: p}, nil
}

// Classify runs c on the clip's features. Clips without signal return ErrNoSignal.
func Classify(ctx context.Context, c Classifier, f types.ClipFeatures) (types.Prediction, error) {
	if !f.Signal() {
		return types.Prediction{}, ErrNoSignal
	}
	return c.Predict(ctx, *f.Vector)
}

// Verdict renders the prediction for display.
func Verdict(f types.ClipFeatures, p types.Prediction) string {
	if !f.Signal() {
		return UndeterminedVerdict
	}
	if p.Label == types.Fake {
		return "Fake"
	}
	return "Real"
}
