package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
)

func floatTensor(name string, dims ...int64) ort.InputOutputInfo {
	return ort.InputOutputInfo{
		Name:       name,
		Dimensions: ort.NewShape(dims...),
		DataType:   ort.TensorElementDataTypeFloat,
	}
}

func TestCheckModelIO(t *testing.T) {
	inputs := []ort.InputOutputInfo{floatTensor("input_1", -1, 225, 225, 3)}
	outputs := []ort.InputOutputInfo{floatTensor("dense_2", -1, 6)}

	io, err := checkModelIO(inputs, outputs, 6)
	require.NoError(t, err)

	assert.Equal(t, "input_1", io.inputName)
	assert.Equal(t, "dense_2", io.outputName)
	assert.Equal(t, ort.NewShape(1, 6), io.outputShape)
}

func TestCheckModelIO_FixedBatch(t *testing.T) {
	inputs := []ort.InputOutputInfo{floatTensor("input", 1, 225, 225, 3)}
	outputs := []ort.InputOutputInfo{floatTensor("output", 1, 4)}

	_, err := checkModelIO(inputs, outputs, 4)
	assert.NoError(t, err)
}

func TestCheckModelIO_Rejects(t *testing.T) {
	good := floatTensor("input", -1, 225, 225, 3)
	out6 := floatTensor("output", -1, 6)

	intInput := good
	intInput.DataType = ort.TensorElementDataTypeInt64

	tests := []struct {
		name    string
		inputs  []ort.InputOutputInfo
		outputs []ort.InputOutputInfo
		classes int
	}{
		{"no inputs", nil, []ort.InputOutputInfo{out6}, 6},
		{"two outputs", []ort.InputOutputInfo{good}, []ort.InputOutputInfo{out6, out6}, 6},
		{"integer input", []ort.InputOutputInfo{intInput}, []ort.InputOutputInfo{out6}, 6},
		{"channels first", []ort.InputOutputInfo{floatTensor("input", -1, 3, 225, 225)}, []ort.InputOutputInfo{out6}, 6},
		{"wrong image size", []ort.InputOutputInfo{floatTensor("input", -1, 224, 224, 3)}, []ort.InputOutputInfo{out6}, 6},
		{"rank 3 input", []ort.InputOutputInfo{floatTensor("input", 225, 225, 3)}, []ort.InputOutputInfo{out6}, 6},
		{"label count mismatch", []ort.InputOutputInfo{good}, []ort.InputOutputInfo{out6}, 4},
		{"scalar output", []ort.InputOutputInfo{good}, []ort.InputOutputInfo{floatTensor("output")}, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := checkModelIO(tt.inputs, tt.outputs, tt.classes)
			assert.Error(t, err)
		})
	}
}

func TestNewServer_MissingModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.onnx")

	s, err := NewServer(ServerConfig{ModelPath: path, Labels: DefaultLabels})

	assert.Nil(t, s)
	var loadErr *ModelLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, path, loadErr.Path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestNewServer_InvalidLabels(t *testing.T) {
	_, err := NewServer(ServerConfig{ModelPath: "model.onnx", Labels: Labels{}})

	var loadErr *ModelLoadError
	assert.ErrorAs(t, err, &loadErr)
}

type fakeRunner struct {
	mu        sync.Mutex
	inputLen  int
	scores    []float32
	release   chan struct{}
	calls     int
	destroyed bool
}

func (f *fakeRunner) run(input []float32) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	if len(input) != f.inputLen {
		return nil, fmt.Errorf("input has %d values, session expects %d", len(input), f.inputLen)
	}
	return f.scores, nil
}

func (f *fakeRunner) destroy() {
	f.mu.Lock()
	f.destroyed = true
	f.mu.Unlock()
}

func (f *fakeRunner) isDestroyed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

func newPooledServer(runners ...runner) *Server {
	s := &Server{
		Labels: DefaultLabels,
		pool:   make(chan runner, len(runners)),
		done:   make(chan struct{}),
	}
	for _, r := range runners {
		s.pool <- r
		s.size++
	}
	return s
}

func inferAsync(s *Server, input []float32) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Infer(input)
		errCh <- err
	}()
	return errCh
}

func TestServerInfer(t *testing.T) {
	r := &fakeRunner{inputLen: 4, scores: []float32{0.2, 0.8}}
	s := newPooledServer(r)

	scores, err := s.Infer(make([]float32, 4))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.2, 0.8}, scores)
}

func TestServerInfer_ReturnsSessionAfterError(t *testing.T) {
	r := &fakeRunner{inputLen: 4, scores: []float32{1}}
	s := newPooledServer(r)

	_, err := s.Infer(make([]float32, 3))
	require.Error(t, err)

	select {
	case err := <-inferAsync(s, make([]float32, 4)):
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session was not returned to the pool after a failed call")
	}
	assert.Equal(t, 2, r.calls)
}

func TestServerInfer_AfterClose(t *testing.T) {
	r := &fakeRunner{inputLen: 4, scores: []float32{1}}
	s := newPooledServer(r)

	s.Close()
	s.Close()

	_, err := s.Infer(make([]float32, 4))
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, r.isDestroyed())
	assert.Zero(t, r.calls)

	_, err = Classify(NewInputTensor(), s, DefaultLabels, DefaultThresholds())
	var infErr *InferenceError
	require.ErrorAs(t, err, &infErr)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestServerClose_WaitsForInFlight(t *testing.T) {
	r := &fakeRunner{inputLen: 4, scores: []float32{1}, release: make(chan struct{})}
	s := newPooledServer(r)

	inflight := inferAsync(s, make([]float32, 4))
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.calls == 1
	}, 2*time.Second, time.Millisecond)

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a call was still running")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, r.isDestroyed())

	close(r.release)
	assert.NoError(t, <-inflight)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not finish after the call returned")
	}
	assert.True(t, r.isDestroyed())
}

func TestServerInfer_PoolBoundsConcurrency(t *testing.T) {
	a := &fakeRunner{inputLen: 1, scores: []float32{1}, release: make(chan struct{})}
	b := &fakeRunner{inputLen: 1, scores: []float32{1}, release: make(chan struct{})}
	s := newPooledServer(a, b)

	first := inferAsync(s, []float32{0})
	second := inferAsync(s, []float32{0})
	third := inferAsync(s, []float32{0})

	require.Eventually(t, func() bool {
		a.mu.Lock()
		b.mu.Lock()
		defer a.mu.Unlock()
		defer b.mu.Unlock()
		return a.calls+b.calls == 2
	}, 2*time.Second, time.Millisecond)

	close(a.release)
	close(b.release)
	for _, ch := range []<-chan error{first, second, third} {
		assert.NoError(t, <-ch)
	}
	assert.Equal(t, 3, a.calls+b.calls)
}
