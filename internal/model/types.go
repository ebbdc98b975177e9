package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ImageSize = 225
	Channels  = 3
)

// InputShape is the NHWC shape every classifier input must have.
var InputShape = []int64{1, ImageSize, ImageSize, Channels}

// InputSize is the number of values in a tensor of InputShape.
var InputSize = ImageSize * ImageSize * Channels

// Tensor is a dense float32 array in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewInputTensor allocates a zeroed tensor of InputShape.
func NewInputTensor() *Tensor {
	shape := make([]int64, len(InputShape))
	copy(shape, InputShape)
	return &Tensor{
		Shape: shape,
		Data:  make([]float32, InputSize),
	}
}

// Labels is the ordered class label set. Index i names the model's i-th output.
type Labels []string

func (l Labels) Validate() error {
	if len(l) == 0 {
		return errors.New("label set is empty")
	}
	seen := make(map[string]int, len(l))
	for i, name := range l {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("label %d is blank", i)
		}
		if j, ok := seen[name]; ok {
			return fmt.Errorf("label %q repeated at positions %d and %d", name, j, i)
		}
		seen[name] = i
	}
	return nil
}

var DefaultLabels = Labels{"Balungan", "Bonang", "Gambang", "Kendang", "Rebab", "Slentho"}

type Result struct {
	Index      int
	Label      string
	Confidence float64
	Tier       Tier
	Scores     map[string]float32
	Elapsed    time.Duration
}

type PredictionRequest struct {
	Image []float32 `json:"image"`
}

type PredictionResponse struct {
	Label          string             `json:"predicted_label"`
	Confidence     float64            `json:"confidence"`
	Tier           Tier               `json:"tier"`
	TierMessage    string             `json:"tier_message"`
	ElapsedSeconds float64            `json:"elapsed_seconds"`
	Scores         map[string]float32 `json:"scores"`
}

func (r *Result) Response() PredictionResponse {
	return PredictionResponse{
		Label:          r.Label,
		Confidence:     r.Confidence,
		Tier:           r.Tier,
		TierMessage:    r.Tier.Message(),
		ElapsedSeconds: r.Elapsed.Seconds(),
		Scores:         r.Scores,
	}
}
