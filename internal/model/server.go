package model

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

type ServerConfig struct {
	ModelPath string
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// platform default lookup.
	LibraryPath string
	Labels      Labels
	// PoolSize bounds concurrent invocations. Defaults to 1, which serializes
	// every call.
	PoolSize       int
	IntraOpThreads int
}

// Server holds a loaded ONNX model. It is created once at startup, shared by
// all requests, and never reloaded.
type Server struct {
	Labels     Labels
	InputName  string
	OutputName string

	pool      chan runner
	size      int
	done      chan struct{}
	ownsEnv   bool
	closeOnce sync.Once
}

// runner is one exclusive slot of the pool. session is the ONNX one.
type runner interface {
	run(input []float32) ([]float32, error)
	destroy()
}

type session struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

type modelIO struct {
	inputName   string
	outputName  string
	outputShape ort.Shape
}

func NewServer(cfg ServerConfig) (*Server, error) {
	loadErr := func(err error) error {
		return &ModelLoadError{Path: cfg.ModelPath, Err: err}
	}

	if err := cfg.Labels.Validate(); err != nil {
		return nil, loadErr(err)
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, loadErr(err)
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}

	ownsEnv := false
	if !ort.IsInitialized() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, loadErr(fmt.Errorf("failed to initialize ONNX environment: %w", err))
		}
		ownsEnv = true
	}

	s := &Server{
		Labels:  cfg.Labels,
		pool:    make(chan runner, cfg.PoolSize),
		done:    make(chan struct{}),
		ownsEnv: ownsEnv,
	}
	if err := s.load(cfg); err != nil {
		s.Close()
		return nil, loadErr(err)
	}
	return s, nil
}

func (s *Server) load(cfg ServerConfig) error {
	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("failed to read model inputs and outputs: %w", err)
	}
	io, err := checkModelIO(inputs, outputs, len(cfg.Labels))
	if err != nil {
		return err
	}
	s.InputName = io.inputName
	s.OutputName = io.outputName

	var opts *ort.SessionOptions
	if cfg.IntraOpThreads > 0 {
		opts, err = ort.NewSessionOptions()
		if err != nil {
			return fmt.Errorf("failed to create session options: %w", err)
		}
		defer opts.Destroy()
		if err := opts.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			return fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	for i := 0; i < cfg.PoolSize; i++ {
		sess, err := newSession(cfg.ModelPath, io, opts)
		if err != nil {
			return err
		}
		s.pool <- sess
		s.size++
	}
	return nil
}

func newSession(modelPath string, io modelIO, opts *ort.SessionOptions) (*session, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](io.outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	sess, err := ort.NewAdvancedSession(modelPath,
		[]string{io.inputName}, []string{io.outputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		opts)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &session{
		session:      sess,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// checkModelIO verifies the model takes one float tensor compatible with
// InputShape and produces one float score per label.
func checkModelIO(inputs, outputs []ort.InputOutputInfo, numClasses int) (modelIO, error) {
	if len(inputs) != 1 {
		return modelIO{}, fmt.Errorf("model has %d inputs, want 1", len(inputs))
	}
	if len(outputs) != 1 {
		return modelIO{}, fmt.Errorf("model has %d outputs, want 1", len(outputs))
	}
	in, out := inputs[0], outputs[0]

	if in.DataType != ort.TensorElementDataTypeFloat {
		return modelIO{}, fmt.Errorf("input %q is not a float tensor", in.Name)
	}
	if len(in.Dimensions) != len(InputShape) {
		return modelIO{}, fmt.Errorf("input %q has shape %v, want %v", in.Name, in.Dimensions, InputShape)
	}
	for i, dim := range in.Dimensions {
		if dim >= 0 && dim != InputShape[i] {
			return modelIO{}, fmt.Errorf("input %q has shape %v, want %v", in.Name, in.Dimensions, InputShape)
		}
	}

	if out.DataType != ort.TensorElementDataTypeFloat {
		return modelIO{}, fmt.Errorf("output %q is not a float tensor", out.Name)
	}
	if len(out.Dimensions) == 0 {
		return modelIO{}, fmt.Errorf("output %q is a scalar", out.Name)
	}
	outputShape := make(ort.Shape, len(out.Dimensions))
	for i, dim := range out.Dimensions {
		if dim < 0 {
			dim = 1
		}
		outputShape[i] = dim
	}
	if n := outputShape.FlattenedSize(); n != int64(numClasses) {
		return modelIO{}, fmt.Errorf("output %q has %d classes but %d labels are configured", out.Name, n, numClasses)
	}

	return modelIO{
		inputName:   in.Name,
		outputName:  out.Name,
		outputShape: outputShape,
	}, nil
}

// Infer implements Engine. Safe for concurrent use; callers beyond the pool
// size wait for a free session.
func (s *Server) Infer(input []float32) ([]float32, error) {
	if s == nil {
		return nil, ErrClosed
	}
	var r runner
	select {
	case <-s.done:
		return nil, ErrClosed
	case r = <-s.pool:
	}
	defer func() { s.pool <- r }()

	return r.run(input)
}

func (sess *session) run(input []float32) ([]float32, error) {
	dst := sess.inputTensor.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("input has %d values, session expects %d", len(input), len(dst))
	}
	copy(dst, input)

	if err := sess.session.Run(); err != nil {
		return nil, fmt.Errorf("session run: %w", err)
	}

	outputData := sess.outputTensor.GetData()
	scores := make([]float32, len(outputData))
	copy(scores, outputData)
	return scores, nil
}

// Close waits for in-flight calls and releases the runtime. Later calls to
// Infer return ErrClosed.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		for i := 0; i < s.size; i++ {
			(<-s.pool).destroy()
		}
		if s.ownsEnv {
			ort.DestroyEnvironment()
		}
	})
}

func (sess *session) destroy() {
	if sess.inputTensor != nil {
		sess.inputTensor.Destroy()
	}
	if sess.outputTensor != nil {
		sess.outputTensor.Destroy()
	}
	if sess.session != nil {
		sess.session.Destroy()
	}
}
