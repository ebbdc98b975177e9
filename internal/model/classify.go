package model

import (
	"fmt"
	"time"
)

// Engine runs one forward pass over a flattened InputShape tensor and returns
// one score per class.
type Engine interface {
	Infer(input []float32) ([]float32, error)
}

// Classify runs t through e and interprets the scores against labels.
// Confidence is the raw score of the winning class; scores are not
// renormalized.
func Classify(t *Tensor, e Engine, labels Labels, th Thresholds) (*Result, error) {
	if err := checkShape(t); err != nil {
		return nil, err
	}
	if e == nil {
		return nil, &InferenceError{Err: ErrClosed}
	}

	start := time.Now()
	outputData, err := e.Infer(t.Data)
	elapsed := time.Since(start)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}
	if len(outputData) == 0 || len(outputData) != len(labels) {
		return nil, &InferenceError{
			Err: fmt.Errorf("model returned %d scores for %d labels", len(outputData), len(labels)),
		}
	}

	maxIdx := argmax(outputData)
	predictions := make(map[string]float32, len(labels))
	for i, val := range outputData {
		predictions[labels[i]] = val
	}

	confidence := float64(outputData[maxIdx])
	return &Result{
		Index:      maxIdx,
		Label:      labels[maxIdx],
		Confidence: confidence,
		Tier:       th.Tier(confidence),
		Scores:     predictions,
		Elapsed:    elapsed,
	}, nil
}

// argmax returns the index of the largest value, preferring the first on ties.
func argmax(values []float32) int {
	maxIdx := 0
	maxVal := values[0]
	for i, val := range values {
		if val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}
	return maxIdx
}

func checkShape(t *Tensor) error {
	if t == nil {
		return &ShapeMismatchError{Want: InputShape}
	}
	mismatch := &ShapeMismatchError{Want: InputShape, Got: t.Shape, DataLen: len(t.Data)}
	if len(t.Shape) != len(InputShape) || len(t.Data) != InputSize {
		return mismatch
	}
	for i, dim := range InputShape {
		if t.Shape[i] != dim {
			return mismatch
		}
	}
	return nil
}
