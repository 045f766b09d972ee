package strategy

import (
	"math"
	"math/rand"
)

// MicroModel is a tiny logistic-regression directional-bias model, adapted
// from the teacher's model.go AIMicroModel: same feature set (ret1, ret5,
// RSI14/100, ZScore20), same online gradient-step fit.
type MicroModel struct {
	Weights []float64
	Bias    float64
}

// NewMicroModel builds a model with small random initial weights for the
// default four-feature set.
func NewMicroModel(rng *rand.Rand) *MicroModel {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	w := make([]float64, 4)
	for i := range w {
		w[i] = rng.NormFloat64() * 0.01
	}
	return &MicroModel{Weights: w}
}

func sigmoid(x float64) float64 {
	if x > 20 {
		return 1
	}
	if x < -20 {
		return 0
	}
	return 1 / (1 + math.Exp(-x))
}

// Predict returns P(up) for one feature row; 0.5 when the row's length
// doesn't match the trained weight vector.
func (m *MicroModel) Predict(features []float64) float64 {
	if len(features) != len(m.Weights) {
		return 0.5
	}
	z := m.Bias
	for i := range features {
		z += m.Weights[i] * features[i]
	}
	return sigmoid(z)
}

// Fit performs `epochs` passes of plain gradient descent on cross-entropy
// loss over (features, labels).
func (m *MicroModel) Fit(features [][]float64, labels []float64, lr float64, epochs int) {
	if len(features) == 0 {
		return
	}
	for e := 0; e < epochs; e++ {
		for i := range features {
			p := m.Predict(features[i])
			grad := p - labels[i]
			for j := range m.Weights {
				m.Weights[j] -= lr * grad * features[i][j]
			}
			m.Bias -= lr * grad
		}
	}
}

// FeatureRow builds the default 4-feature vector [ret1, ret5, rsi14/100,
// zscore20] for index i of a close series, given precomputed RSI/ZScore.
func FeatureRow(closes []float64, rsi, zscore []float64, i int) []float64 {
	ret1 := (closes[i] - closes[i-1]) / closes[i-1]
	ret5 := (closes[i] - closes[i-5]) / closes[i-5]
	return []float64{ret1, ret5, rsi[i] / 100.0, zscore[i]}
}

// BuildTrainingSet constructs (features, labels) for every index with a full
// lookback and a known next-bar outcome, exactly as the teacher's
// buildDataset does.
func BuildTrainingSet(closes []float64) ([][]float64, []float64) {
	if len(closes) < 41 {
		return nil, nil
	}
	rsi := RSI(closes, 14)
	zscore := ZScore(closes, 20)
	var feats [][]float64
	var labels []float64
	for i := 21; i < len(closes)-1; i++ {
		feats = append(feats, FeatureRow(closes, rsi, zscore, i))
		up := 0.0
		if closes[i+1] > closes[i] {
			up = 1.0
		}
		labels = append(labels, up)
	}
	return feats, labels
}
