package scorer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"path/filepath"

	ort "github.com/yalue/onnxruntime_go"

	// Registered for image.Decode fallback on non-JPEG uploads.
	_ "image/png"
)

// ONNXScorer implements Scorer with a RetinaFace detector and an ArcFace
// embedder running through ONNX Runtime. The caller must initialize the ORT
// environment before constructing one.
type ONNXScorer struct {
	detector *detector
	embedder *embedder
}

// NewONNXScorer loads det_10g.onnx and w600k_r50.onnx from modelsDir.
func NewONNXScorer(modelsDir string, detectionThreshold float64) (*ONNXScorer, error) {
	det, err := newDetector(filepath.Join(modelsDir, "det_10g.onnx"), float32(detectionThreshold))
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}
	emb, err := newEmbedder(filepath.Join(modelsDir, "w600k_r50.onnx"))
	if err != nil {
		det.close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}
	return &ONNXScorer{detector: det, embedder: emb}, nil
}

// ExtractFeatures decodes the image, finds the most confident face, and
// returns its L2-normalized embedding.
func (s *ONNXScorer) ExtractFeatures(ctx context.Context, imageData []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := jpeg.Decode(bytes.NewReader(imageData))
	if err != nil {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("%w: decode image: %v", ErrNoFaceDetected, err)
		}
	}

	bounds := img.Bounds()
	face, found, err := s.detector.bestFace(img, bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !found {
		return nil, ErrNoFaceDetected
	}

	crop := cropFace(img, face)
	if crop == nil {
		return nil, ErrNoFaceDetected
	}

	embedding, err := s.embedder.extract(crop)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return embedding, nil
}

// Similarity compares two feature vectors as cosine similarity in [0,1].
func (s *ONNXScorer) Similarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0, fmt.Errorf("%w: feature dimension mismatch (%d vs %d)", ErrUnavailable, len(a), len(b))
	}
	return CosineSimilarity(a, b), nil
}

// Close releases all ONNX sessions.
func (s *ONNXScorer) Close() {
	if s.detector != nil {
		s.detector.close()
	}
	if s.embedder != nil {
		s.embedder.close()
	}
}

// --- detector ---

// detector runs RetinaFace det_10g and returns the single best face box.
type detector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

// det_10g emits score and bbox tensors at strides 8, 16, 32 with two anchors
// per cell. Output names and shapes are fixed by the exported model.
var detStrides = []int{8, 16, 32}

const detAnchors = 2

func newDetector(modelPath string, threshold float32) (*detector, error) {
	inputW, inputH := 640, 640

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	type outputSpec struct {
		name  string
		shape ort.Shape
	}
	outputs := []outputSpec{
		{"448", ort.NewShape(12800, 1)}, // scores stride 8
		{"471", ort.NewShape(3200, 1)},  // scores stride 16
		{"494", ort.NewShape(800, 1)},   // scores stride 32
		{"451", ort.NewShape(12800, 4)}, // bboxes stride 8
		{"474", ort.NewShape(3200, 4)},  // bboxes stride 16
		{"497", ort.NewShape(800, 4)},   // bboxes stride 32
	}

	outputNames := make([]string, len(outputs))
	outputTensors := make([]*ort.Tensor[float32], len(outputs))
	outputValues := make([]ort.Value, len(outputs))
	for i, spec := range outputs {
		outputNames[i] = spec.name
		t, err := ort.NewEmptyTensor[float32](spec.shape)
		if err != nil {
			for j := 0; j < i; j++ {
				outputTensors[j].Destroy()
			}
			inputTensor.Destroy()
			return nil, fmt.Errorf("create output tensor %s: %w", spec.name, err)
		}
		outputTensors[i] = t
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &detector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     threshold,
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// bestFace returns the highest-confidence face box in original image
// coordinates, or found=false when nothing clears the threshold.
func (d *detector) bestFace(img image.Image, origW, origH int) ([4]float32, bool, error) {
	copy(d.inputTensor.GetData(), imageToFloat32CHW(img, d.inputW, d.inputH,
		[3]float32{127.5, 127.5, 127.5}, [3]float32{128.0, 128.0, 128.0}))

	if err := d.session.Run(); err != nil {
		return [4]float32{}, false, fmt.Errorf("run detection: %w", err)
	}

	scaleX := float32(origW) / float32(d.inputW)
	scaleY := float32(origH) / float32(d.inputH)

	var best [4]float32
	var bestScore float32
	found := false

	for si, stride := range detStrides {
		scores := d.outputTensors[si].GetData()
		bboxes := d.outputTensors[si+len(detStrides)].GetData()
		cells := d.inputW / stride

		for i, score := range scores {
			if score < d.threshold || score <= bestScore {
				continue
			}
			// Anchor center for this prediction.
			cell := i / detAnchors
			cx := float32(cell%cells) * float32(stride)
			cy := float32(cell/cells) * float32(stride)

			// bbox outputs are distances from the anchor center.
			x1 := (cx - bboxes[i*4+0]*float32(stride)) * scaleX
			y1 := (cy - bboxes[i*4+1]*float32(stride)) * scaleY
			x2 := (cx + bboxes[i*4+2]*float32(stride)) * scaleX
			y2 := (cy + bboxes[i*4+3]*float32(stride)) * scaleY

			best = [4]float32{x1, y1, x2, y2}
			bestScore = score
			found = true
		}
	}

	return best, found, nil
}

func (d *detector) close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		t.Destroy()
	}
}

// --- embedder ---

// embedder extracts 512-d ArcFace embeddings.
type embedder struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputW       int
	inputH       int
	embDim       int
}

func newEmbedder(modelPath string) (*embedder, error) {
	// ArcFace w600k_r50 expects 112x112 input, emits 512 dims.
	inputW, inputH := 112, 112
	embDim := 512

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(embDim)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		[]string{"683"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}

	return &embedder{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputW:       inputW,
		inputH:       inputH,
		embDim:       embDim,
	}, nil
}

func (e *embedder) extract(face image.Image) ([]float32, error) {
	copy(e.inputTensor.GetData(), imageToFloat32CHW(face, e.inputW, e.inputH,
		[3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5}))

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	embedding := make([]float32, e.embDim)
	copy(embedding, e.outputTensor.GetData())
	l2Normalize(embedding)
	return embedding, nil
}

func (e *embedder) close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
}

func l2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}

// --- image helpers ---

// imageToFloat32CHW converts an image to CHW float32 with per-channel
// normalization: pixel = (pixel - mean) / std.
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := resizeImage(img, targetW, targetH)
	bounds := resized.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	data := make([]float32, 3*h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
			idx := y*w + x
			data[0*h*w+idx] = (float32(r>>8) - mean[0]) / std[0]
			data[1*h*w+idx] = (float32(g>>8) - mean[1]) / std[1]
			data[2*h*w+idx] = (float32(b>>8) - mean[2]) / std[2]
		}
	}
	return data
}

// resizeImage performs nearest-neighbour resize, which is good enough for
// model input.
func resizeImage(img image.Image, targetW, targetH int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			srcX := bounds.Min.X + x*srcW/targetW
			srcY := bounds.Min.Y + y*srcH/targetH
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}
	return dst
}

// cropFace extracts the face region with 10% padding, clamped to bounds.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	bounds := img.Bounds()

	x1, y1 := int(bbox[0]), int(bbox[1])
	x2, y2 := int(bbox[2]), int(bbox[3])

	w := x2 - x1
	h := y2 - y1
	if w <= 0 || h <= 0 {
		return nil
	}
	x1 -= w / 10
	y1 -= h / 10
	x2 += w / 10
	y2 += h / 10

	if x1 < bounds.Min.X {
		x1 = bounds.Min.X
	}
	if y1 < bounds.Min.Y {
		y1 = bounds.Min.Y
	}
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}
	if x2-x1 <= 0 || y2-y1 <= 0 {
		return nil
	}

	crop := image.NewRGBA(image.Rect(0, 0, x2-x1, y2-y1))
	for cy := y1; cy < y2; cy++ {
		for cx := x1; cx < x2; cx++ {
			crop.Set(cx-x1, cy-y1, img.At(cx, cy))
		}
	}
	return crop
}
