package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/Brownie44l1/gamelan-classifier/internal/model"
	"github.com/Brownie44l1/gamelan-classifier/internal/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DefaultMaxUploadBytes caps multipart uploads when no limit is configured.
const DefaultMaxUploadBytes = 10 << 20

type Handler struct {
	classifier     *pipeline.Classifier
	log            logrus.FieldLogger
	maxUploadBytes int64
}

func NewHandler(classifier *pipeline.Classifier, log logrus.FieldLogger, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{
		classifier:     classifier,
		log:            log,
		maxUploadBytes: maxUploadBytes,
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"labels": len(h.classifier.Labels()),
	})
}

func (h *Handler) Labels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"labels":     h.classifier.Labels(),
		"thresholds": h.classifier.Thresholds(),
	})
}

// Predict classifies a tensor the client already preprocessed.
func (h *Handler) Predict(c *gin.Context) {
	var req model.PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	shape := make([]int64, len(model.InputShape))
	copy(shape, model.InputShape)
	result, err := h.classifier.ClassifyTensor(&model.Tensor{Shape: shape, Data: req.Image})
	if err != nil {
		h.classifyFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, result.Response())
}

// PredictFromImage classifies a JPEG or PNG sent as the "image" form field.
func (h *Handler) PredictFromImage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	fileHeader, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(c, http.StatusRequestEntityTooLarge, "Image too large", err)
			return
		}
		h.fail(c, http.StatusBadRequest, "No image file provided. Use 'image' as the form field name", err)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.fail(c, http.StatusBadRequest, "Failed to read uploaded file", err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.fail(c, http.StatusBadRequest, "Failed to read uploaded file", err)
		return
	}

	h.entry(c).WithFields(logrus.Fields{
		"filename": fileHeader.Filename,
		"bytes":    len(data),
	}).Debug("received upload")

	result, err := h.classifier.ClassifyBytes(data)
	if err != nil {
		h.classifyFailed(c, err)
		return
	}

	h.entry(c).WithFields(logrus.Fields{
		"label":      result.Label,
		"confidence": result.Confidence,
		"tier":       result.Tier,
	}).Info("prediction served")
	c.JSON(http.StatusOK, result.Response())
}

func (h *Handler) classifyFailed(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var invalid *model.InvalidImageError
	var shape *model.ShapeMismatchError
	switch {
	case errors.As(err, &invalid), errors.As(err, &shape):
		status = http.StatusBadRequest
	}
	h.fail(c, status, pipeline.UserMessage(err), err)
}

func (h *Handler) fail(c *gin.Context, status int, msg string, err error) {
	entry := h.entry(c).WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.Error(msg)
	} else {
		entry.Warn(msg)
	}

	resp := errorResponse{Error: msg, RequestID: c.GetString(RequestIDKey)}
	if status < http.StatusInternalServerError && err != nil {
		resp.Detail = err.Error()
	}
	c.AbortWithStatusJSON(status, resp)
}

func (h *Handler) entry(c *gin.Context) logrus.FieldLogger {
	if id := c.GetString(RequestIDKey); id != "" {
		return h.log.WithField("request_id", id)
	}
	return h.log
}
