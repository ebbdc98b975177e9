// Package pipeline is the single entry point the UI layer calls: raw upload
// bytes in, a tiered classification (or a typed error) out.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/Brownie44l1/gamelan-classifier/internal/model"
	"github.com/Brownie44l1/gamelan-classifier/internal/preprocess"
	"github.com/sirupsen/logrus"
)

type Classifier struct {
	engine     model.Engine
	labels     model.Labels
	thresholds model.Thresholds
	maxPixels  int64
	log        logrus.FieldLogger
}

// New wires a loaded engine into a classifier. A nil engine means the model
// never loaded; New refuses to build a classifier in that case.
func New(engine model.Engine, labels model.Labels, th model.Thresholds, log logrus.FieldLogger) (*Classifier, error) {
	if engine == nil {
		return nil, &model.ModelLoadError{Err: errors.New("no model loaded")}
	}
	if err := labels.Validate(); err != nil {
		return nil, fmt.Errorf("invalid labels: %w", err)
	}
	if err := th.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Classifier{
		engine:     engine,
		labels:     labels,
		thresholds: th,
		maxPixels:  preprocess.DefaultMaxPixels,
		log:        log,
	}, nil
}

func (c *Classifier) Labels() model.Labels { return c.labels }

func (c *Classifier) Thresholds() model.Thresholds { return c.thresholds }

// SetMaxPixels changes the largest width*height ClassifyBytes will decode.
// Call it before the classifier is shared between goroutines.
func (c *Classifier) SetMaxPixels(n int64) {
	if n <= 0 {
		n = preprocess.DefaultMaxPixels
	}
	c.maxPixels = n
}

// ClassifyBytes decodes, preprocesses and classifies one upload. Undecodable
// or oversized input fails with *model.InvalidImageError before the model is touched.
func (c *Classifier) ClassifyBytes(data []byte) (*model.Result, error) {
	tensor, err := preprocess.FromBytesWithLimit(data, c.maxPixels)
	if err != nil {
		return nil, err
	}
	return c.ClassifyTensor(tensor)
}

func (c *Classifier) ClassifyTensor(t *model.Tensor) (*model.Result, error) {
	result, err := model.Classify(t, c.engine, c.labels, c.thresholds)
	if err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"label":      result.Label,
		"confidence": result.Confidence,
		"tier":       result.Tier,
		"elapsed":    result.Elapsed,
	}).Debug("classified image")
	return result, nil
}

// UserMessage turns a classification error into text safe to show an end
// user.
func UserMessage(err error) string {
	var invalid *model.InvalidImageError
	if errors.As(err, &invalid) {
		return "Could not classify: the upload is not a readable JPEG or PNG image"
	}
	var loadErr *model.ModelLoadError
	if errors.As(err, &loadErr) {
		return "Could not classify: the classifier is not available"
	}
	return "Could not classify the image, please try again with a different photo"
}
