package model

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"k8s.io/klog/v2"
)

// Options controls how the model file is loaded.
type Options struct {
	Path        string
	LibraryPath string
	InputName   string
	OutputName  string
	ImageSize   int
	Workers     int
	Classes     []string
}

// worker owns one session and the tensors bound to it. A bound session reads
// and writes those tensors in place, so a worker serves one call at a time.
type worker struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func (w *worker) destroy() {
	if w.inputTensor != nil {
		w.inputTensor.Destroy()
	}
	if w.outputTensor != nil {
		w.outputTensor.Destroy()
	}
	if w.session != nil {
		w.session.Destroy()
	}
}

// Server is the loaded model. It is immutable after Load and safe for
// concurrent use.
type Server struct {
	Metadata Metadata

	workers   chan *worker
	size      int // sessions created
	inputLen  int
	closeOnce sync.Once
}

// Load initialises the ONNX runtime and opens opts.Workers sessions on the
// model at opts.Path.
func Load(ctx context.Context, opts Options) (*Server, error) {
	logger := klog.FromContext(ctx).WithName("model")

	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if len(opts.Classes) == 0 {
		opts.Classes = Labels
	}
	if opts.ImageSize <= 0 {
		return nil, fmt.Errorf("invalid image size %d", opts.ImageSize)
	}

	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	metadata, err := inspect(opts)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, err
	}

	s := &Server{
		Metadata: metadata,
		workers:  make(chan *worker, opts.Workers),
		inputLen: int(ort.NewShape(metadata.InputShape...).FlattenedSize()),
	}

	for i := 0; i < opts.Workers; i++ {
		w, err := newWorker(opts.Path, metadata)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("worker %d: %w", i, err)
		}
		s.workers <- w
		s.size++
	}

	logger.Info("model loaded", "path", opts.Path, "input", metadata.InputName,
		"output", metadata.OutputName, "inputShape", metadata.InputShape, "workers", opts.Workers)
	return s, nil
}

// inspect resolves tensor names from the model file when they are not
// configured and checks the output width against the class list.
func inspect(opts Options) (Metadata, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(opts.Path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read model %s: %w", opts.Path, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return Metadata{}, fmt.Errorf("model %s has no inputs or outputs", opts.Path)
	}

	metadata := Metadata{
		InputName:   opts.InputName,
		OutputName:  opts.OutputName,
		InputShape:  []int64{1, 3, int64(opts.ImageSize), int64(opts.ImageSize)},
		OutputShape: []int64{1, int64(len(opts.Classes))},
		Classes:     opts.Classes,
		ImageSize:   opts.ImageSize,
	}
	if metadata.InputName == "" {
		metadata.InputName = inputs[0].Name
	}
	if metadata.OutputName == "" {
		metadata.OutputName = outputs[0].Name
	}

	dims := outputs[0].Dimensions
	if n := len(dims); n > 0 && dims[n-1] > 0 && dims[n-1] != int64(len(opts.Classes)) {
		return Metadata{}, fmt.Errorf("model output has %d classes, expected %d", dims[n-1], len(opts.Classes))
	}
	return metadata, nil
}

func newWorker(modelPath string, metadata Metadata) (*worker, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &worker{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// InputLen is the number of float32 values Infer expects.
func (s *Server) InputLen() int {
	return s.inputLen
}

// Classes returns the labels in output order.
func (s *Server) Classes() []string {
	return s.Metadata.Classes
}

// Infer runs one forward pass and returns a copy of the raw output scores.
// It waits for a free session until ctx is done.
func (s *Server) Infer(ctx context.Context, input []float32) ([]float32, error) {
	if len(input) != s.inputLen {
		return nil, fmt.Errorf("expected %d input values, got %d", s.inputLen, len(input))
	}

	var w *worker
	select {
	case w = <-s.workers:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { s.workers <- w }()

	copy(w.inputTensor.GetData(), input)
	if err := w.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := make([]float32, len(s.Metadata.Classes))
	copy(out, w.outputTensor.GetData())
	return out, nil
}

// Close waits for in-flight calls to return their sessions, then releases
// every session and the ONNX environment.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		for i := 0; i < s.size; i++ {
			w := <-s.workers
			w.destroy()
		}
		ort.DestroyEnvironment()
	})
}
