package scorer

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0},
		{"opposite clamps to zero", []float32{1, 0}, []float32{-1, 0}, 0},
		{"scaled still identical", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestCosineDistanceComplementsSimilarity(t *testing.T) {
	a := []float32{0.6, 0.8}
	b := []float32{0.8, 0.6}
	sim := CosineSimilarity(a, b)
	dist := CosineDistance(a, b)
	if math.Abs(sim+dist-1) > 1e-9 {
		t.Errorf("similarity %f + distance %f != 1", sim, dist)
	}
	if dist < 0 || dist > 1 {
		t.Errorf("distance %f out of range", dist)
	}
}
