package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXRuntime compiles ONNX artifacts with onnxruntime. One compiled session
// serves concurrent runs; every run allocates its own tensors.
type ONNXRuntime struct {
	libraryPath string
	imageSize   int64

	once    sync.Once
	initErr error
}

func NewONNXRuntime(libraryPath string, imageSize int) *ONNXRuntime {
	return &ONNXRuntime{
		libraryPath: libraryPath,
		imageSize:   int64(imageSize),
	}
}

func (r *ONNXRuntime) init() error {
	r.once.Do(func() {
		if r.libraryPath != "" {
			ort.SetSharedLibraryPath(r.libraryPath)
		}
		if ort.IsInitialized() {
			return
		}
		if err := ort.InitializeEnvironment(); err != nil {
			r.initErr = fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	})
	return r.initErr
}

func (r *ONNXRuntime) Compile(data []byte) (Graph, error) {
	if err := r.init(); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read model inputs and outputs: %w", err)
	}
	if len(inputs) != 1 || len(outputs) == 0 {
		return nil, fmt.Errorf("expected 1 input and at least 1 output, got %d and %d", len(inputs), len(outputs))
	}

	metadata := Metadata{
		InputName:   inputs[0].Name,
		OutputName:  outputs[0].Name,
		InputShape:  []int64{1, 3, r.imageSize, r.imageSize},
		OutputShape: concreteShape(outputs[0].Dimensions),
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(data,
		[]string{metadata.InputName}, []string{metadata.OutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &onnxGraph{
		session:  session,
		metadata: metadata,
	}, nil
}

func (r *ONNXRuntime) Close() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

type onnxGraph struct {
	session  *ort.DynamicAdvancedSession
	metadata Metadata
}

func (g *onnxGraph) Run(input []float32) ([]float32, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(g.metadata.InputShape...), input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(g.metadata.OutputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := g.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := make([]float32, len(outputTensor.GetData()))
	copy(out, outputTensor.GetData())
	return out, nil
}

func (g *onnxGraph) Close() error {
	return g.session.Destroy()
}

// concreteShape pins symbolic (batch) dimensions to 1.
func concreteShape(dims []int64) []int64 {
	shape := make([]int64, len(dims))
	for i, d := range dims {
		if d <= 0 {
			d = 1
		}
		shape[i] = d
	}
	return shape
}
