package classifier

import (
	"bufio"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/tphakala/go-tflite"

	"github.com/soundguardian/sentinel-go/internal/conf"
	"github.com/soundguardian/sentinel-go/internal/errors"
	"github.com/soundguardian/sentinel-go/internal/logging"
	"github.com/soundguardian/sentinel-go/internal/triage"
)

// TFLiteSoundModel is the general sound classifier backed by a TensorFlow
// Lite interpreter. One interpreter serves all callers under a mutex.
type TFLiteSoundModel struct {
	mu          sync.Mutex
	interpreter *tflite.Interpreter
	model       *tflite.Model
	labels      []string
	sensitivity float64
}

// NewTFLiteSoundModel loads the classifier model and its label file and
// allocates the interpreter.
func NewTFLiteSoundModel(cfg *conf.ClassifierSettings) (*TFLiteSoundModel, error) {
	start := time.Now()
	log := logging.ForService("classifier")

	labels, err := loadLabels(cfg.LabelPath)
	if err != nil {
		return nil, err
	}

	modelData, err := os.ReadFile(cfg.ModelPath)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryModelLoad).
			Context("model_path", cfg.ModelPath).
			Timing("model-load", time.Since(start)).
			Build()
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, errors.Newf("cannot load TensorFlow Lite model").
			Component("classifier").
			Category(errors.CategoryModelInit).
			Context("model_path", cfg.ModelPath).
			Context("model_size_mb", len(modelData)/1024/1024).
			Build()
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threadCount(cfg.Threads))
	options.SetErrorReporter(func(msg string, userData any) {
		logging.ForService("classifier").Error("tflite error", "message", msg)
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		return nil, errors.Newf("cannot create interpreter").
			Component("classifier").
			Category(errors.CategoryModelInit).
			Context("model_path", cfg.ModelPath).
			Build()
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		return nil, errors.Newf("tensor allocation failed: %v", status).
			Component("classifier").
			Category(errors.CategoryModelInit).
			Context("model_path", cfg.ModelPath).
			Build()
	}

	m := &TFLiteSoundModel{
		interpreter: interpreter,
		model:       model,
		labels:      labels,
		sensitivity: cfg.Sensitivity,
	}
	if err := m.validate(); err != nil {
		m.Close()
		return nil, err
	}

	log.Info("sound classifier loaded",
		"model", cfg.ModelPath, "classes", len(labels), "duration", time.Since(start))
	return m, nil
}

// validate checks that the label count matches the model's output size.
func (m *TFLiteSoundModel) validate() error {
	outputTensor := m.interpreter.GetOutputTensor(0)
	if outputTensor == nil {
		return errors.Newf("cannot get output tensor").
			Component("classifier").
			Category(errors.CategoryModelInit).
			Build()
	}
	outputSize := outputTensor.Dim(outputTensor.NumDims() - 1)
	if outputSize != len(m.labels) {
		return errors.Newf("label count mismatch: model expects %d classes but label file has %d labels",
			outputSize, len(m.labels)).
			Component("classifier").
			Category(errors.CategoryLabelLoad).
			Context("expected_labels", outputSize).
			Context("actual_labels", len(m.labels)).
			Build()
	}
	return nil
}

// NumClasses returns the size of the model's class vector.
func (m *TFLiteSoundModel) NumClasses() int {
	return len(m.labels)
}

// Classify normalizes the window, runs inference, and returns the ranked
// predictions together with the raw class vector.
func (m *TFLiteSoundModel) Classify(samples []float32) (*Classification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inputTensor := m.interpreter.GetInputTensor(0)
	if inputTensor == nil {
		return nil, errors.Newf("cannot get input tensor").
			Component("classifier").
			Category(errors.CategoryInference).
			Build()
	}
	copy(inputTensor.Float32s(), Normalize(samples))

	if status := m.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.Newf("tensor invoke failed: %v", status).
			Component("classifier").
			Category(errors.CategoryInference).
			Build()
	}

	outputTensor := m.interpreter.GetOutputTensor(0)
	raw := outputTensor.Float32s()
	scores := make([]float32, len(raw))
	copy(scores, raw)
	if m.sensitivity != 0 && m.sensitivity != 1 {
		for i, s := range scores {
			v := float64(s) * m.sensitivity
			if v > 1 {
				v = 1
			}
			scores[i] = float32(v)
		}
	}

	return &Classification{Ranked: rankScores(m.labels, scores), Scores: scores}, nil
}

// rankScores orders the class vector by descending score. The sort is stable
// so equal-score classes keep their model order and the top-N ranking does
// not jitter between cycles.
func rankScores(labels []string, scores []float32) triage.Result {
	ranked := make(triage.Result, len(scores))
	for i, s := range scores {
		ranked[i] = triage.Category{Label: labels[i], Score: float64(s)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// Close releases the interpreter resources.
func (m *TFLiteSoundModel) Close() {
	if m.interpreter != nil {
		m.interpreter.Delete()
		m.interpreter = nil
	}
	if m.model != nil {
		m.model.Delete()
		m.model = nil
	}
}

// loadLabels reads the label file, one class name per line.
func loadLabels(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryLabelLoad).
			Context("label_path", path).
			Build()
	}
	defer file.Close() //nolint:errcheck

	var labels []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			labels = append(labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryLabelLoad).
			Context("operation", "scan_labels").
			Context("label_path", path).
			Build()
	}
	if len(labels) == 0 {
		return nil, errors.Newf("label file is empty").
			Component("classifier").
			Category(errors.CategoryLabelLoad).
			Context("label_path", path).
			Build()
	}
	return labels, nil
}
