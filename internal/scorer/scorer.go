// Package scorer wraps the external face-comparison capability. The rest of
// the system only sees feature vectors and similarity scores; model choice
// and inference details stay behind the Scorer interface.
package scorer

import (
	"context"
	"errors"
)

// ErrNoFaceDetected means the image is readable but contains no usable face.
// Permanent for the given image; the job completes with zero matches.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrUnavailable means the scorer itself failed (model not loaded, inference
// error). Transient; the queue entry is retried.
var ErrUnavailable = errors.New("scorer unavailable")

// Scorer extracts face features from image bytes and compares feature
// vectors. Similarity returns a score in [0,1]; 1 means identical faces.
type Scorer interface {
	ExtractFeatures(ctx context.Context, imageData []byte) ([]float32, error)
	Similarity(a, b []float32) (float64, error)
}
