package classifier

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/tphakala/go-tflite"

	"github.com/soundguardian/sentinel-go/internal/conf"
	"github.com/soundguardian/sentinel-go/internal/errors"
	"github.com/soundguardian/sentinel-go/internal/logging"
)

// TFLiteImpulseModel is the specialist impulse classifier. It consumes the
// general model's class vector and emits a single gunshot probability.
type TFLiteImpulseModel struct {
	mu          sync.Mutex
	interpreter *tflite.Interpreter
	model       *tflite.Model
	inputSize   int
}

// NewTFLiteImpulseModel loads the impulse model and allocates its interpreter.
func NewTFLiteImpulseModel(cfg *conf.ClassifierSettings) (*TFLiteImpulseModel, error) {
	start := time.Now()
	log := logging.ForService("classifier")

	modelData, err := os.ReadFile(cfg.ImpulseModelPath)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryModelLoad).
			Context("model_path", cfg.ImpulseModelPath).
			Build()
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, errors.Newf("cannot load TensorFlow Lite impulse model").
			Component("classifier").
			Category(errors.CategoryModelInit).
			Context("model_path", cfg.ImpulseModelPath).
			Build()
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(1)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		return nil, errors.Newf("cannot create impulse interpreter").
			Component("classifier").
			Category(errors.CategoryModelInit).
			Context("model_path", cfg.ImpulseModelPath).
			Build()
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		return nil, errors.Newf("impulse tensor allocation failed: %v", status).
			Component("classifier").
			Category(errors.CategoryModelInit).
			Context("model_path", cfg.ImpulseModelPath).
			Build()
	}

	inputTensor := interpreter.GetInputTensor(0)
	if inputTensor == nil {
		interpreter.Delete()
		return nil, errors.Newf("cannot get impulse input tensor").
			Component("classifier").
			Category(errors.CategoryModelInit).
			Build()
	}
	inputSize := inputTensor.Dim(inputTensor.NumDims() - 1)

	log.Info("impulse model loaded",
		"model", cfg.ImpulseModelPath, "inputSize", inputSize, "duration", time.Since(start))
	return &TFLiteImpulseModel{
		interpreter: interpreter,
		model:       model,
		inputSize:   inputSize,
	}, nil
}

// Probability runs the impulse model over a class vector and returns the
// impulse probability in [0, 1].
func (m *TFLiteImpulseModel) Probability(scores []float32) (float64, error) {
	if len(scores) != m.inputSize {
		return 0, errors.Newf("class vector size mismatch: model expects %d, got %d",
			m.inputSize, len(scores)).
			Component("classifier").
			Category(errors.CategoryInference).
			Build()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	inputTensor := m.interpreter.GetInputTensor(0)
	if inputTensor == nil {
		return 0, errors.Newf("cannot get impulse input tensor").
			Component("classifier").
			Category(errors.CategoryInference).
			Build()
	}
	copy(inputTensor.Float32s(), scores)

	if status := m.interpreter.Invoke(); status != tflite.OK {
		return 0, errors.Newf("impulse invoke failed: %v", status).
			Component("classifier").
			Category(errors.CategoryInference).
			Build()
	}

	output := m.interpreter.GetOutputTensor(0).Float32s()
	if len(output) == 0 {
		return 0, errors.Newf("impulse model produced no output").
			Component("classifier").
			Category(errors.CategoryInference).
			Build()
	}
	return float64(output[0]), nil
}

// Close releases the interpreter resources.
func (m *TFLiteImpulseModel) Close() {
	if m.interpreter != nil {
		m.interpreter.Delete()
		m.interpreter = nil
	}
	if m.model != nil {
		m.model.Delete()
		m.model = nil
	}
}

// threadCount resolves the configured thread setting against the machine,
// leaving one core free when running with all cores.
func threadCount(configured int) int {
	cores := runtime.NumCPU()
	if configured <= 0 || configured > cores {
		if cores > 1 {
			return cores - 1
		}
		return 1
	}
	return configured
}
