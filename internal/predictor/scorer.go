package predictor

import (
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/stockrs-go/tradeengine/internal/apperr"
)

var (
	initOnce sync.Once
	initErr  error
)

func initRuntime() error {
	initOnce.Do(func() {
		libPath := "/usr/lib/libonnxruntime.so"
		switch runtime.GOOS {
		case "windows":
			libPath = "onnxruntime.dll"
		case "darwin":
			libPath = "libonnxruntime.dylib"
		}
		ort.SetSharedLibraryPath(libPath)
		initErr = ort.InitializeEnvironment()
	})
	return initErr
}

// Scorer wraps a single ONNX session scoring one fixed-length feature
// vector at a time into a positive-class probability. The input/output
// tensors are allocated once at construction and reused across calls —
// Score copies into the input tensor under a lock rather than allocating
// per call, the same lifecycle `features.Model` in the retrieved pack's
// own ONNX wrapper follows.
type Scorer struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	dim     int
}

// NewScorer loads the ONNX model at modelPath, sized for a feature vector
// of exactly dim values.
func NewScorer(modelPath string, dim int) (*Scorer, error) {
	if err := initRuntime(); err != nil {
		return nil, apperr.Wrap(apperr.KindPrediction, "predictor.NewScorer", err)
	}

	inputShape := ort.NewShape(1, int64(dim))
	inputTensor, err := ort.NewTensor(inputShape, make([]float32, dim))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPrediction, "predictor.NewScorer", err)
	}

	outputShape := ort.NewShape(1, 1)
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, apperr.Wrap(apperr.KindPrediction, "predictor.NewScorer", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor}, nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, apperr.Wrap(apperr.KindPrediction, "predictor.NewScorer", err)
	}

	return &Scorer{session: session, input: inputTensor, output: outputTensor, dim: dim}, nil
}

// Score runs inference over vec, which must have exactly Dim() entries,
// and returns the positive-class probability.
func (s *Scorer) Score(vec []float32) (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(vec) != s.dim {
		return 0, apperr.New(apperr.KindPrediction, "predictor.Scorer.Score",
			"feature vector length %d does not match model input dimension %d", len(vec), s.dim)
	}
	copy(s.input.GetData(), vec)
	if err := s.session.Run(); err != nil {
		return 0, apperr.Wrap(apperr.KindPrediction, "predictor.Scorer.Score", err)
	}
	return s.output.GetData()[0], nil
}

// Dim reports the feature-vector length this scorer was built for.
func (s *Scorer) Dim() int { return s.dim }

// Close releases the session and its tensors.
func (s *Scorer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.session.Destroy()
	}
	if s.input != nil {
		s.input.Destroy()
	}
	if s.output != nil {
		s.output.Destroy()
	}
}
