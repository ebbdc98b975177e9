package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Brownie44l1/gamelan-classifier/internal/config"
	"github.com/Brownie44l1/gamelan-classifier/internal/handlers"
	"github.com/Brownie44l1/gamelan-classifier/internal/logging"
	"github.com/Brownie44l1/gamelan-classifier/internal/model"
	"github.com/Brownie44l1/gamelan-classifier/internal/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("Failed to configure logging: %v", err)
	}

	log.WithField("model", cfg.ModelPath).Info("Loading model")

	// The model is loaded exactly once. Without it the server must not accept
	// classification requests, so a load failure ends the process.
	modelServer, err := model.NewServer(cfg.ServerConfig())
	if err != nil {
		log.Fatalf("Failed to initialize model server: %v", err)
	}
	defer modelServer.Close()

	classifier, err := newClassifier(modelServer, cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize classifier: %v", err)
	}

	if log.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := handlers.NewHandler(classifier, log, cfg.MaxUploadBytes)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.WithFields(logrus.Fields{
		"port":       cfg.Port,
		"input":      modelServer.InputName,
		"output":     modelServer.OutputName,
		"labels":     cfg.ClassLabels(),
		"pool_size":  cfg.PoolSize,
		"thresholds": cfg.Thresholds(),
	}).Info("Server starting")
	log.Info("Endpoints:")
	log.Info("  GET  /health        - Health check")
	log.Info("  GET  /labels        - Class labels and confidence thresholds")
	log.Info("  POST /predict       - Raw tensor prediction")
	log.Info("  POST /predict/image - Predict from image upload")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Server failed: %v", err)
		}
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("Shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorf("Shutdown failed: %v", err)
		}
	}
}

type closingEngine interface {
	model.Engine
	Close()
}

// newClassifier builds the request pipeline on top of a loaded model. On
// failure the model is closed here, since the caller exits through Fatalf
// and deferred calls never run.
func newClassifier(engine closingEngine, cfg *config.Config, log logrus.FieldLogger) (*pipeline.Classifier, error) {
	classifier, err := pipeline.New(engine, cfg.ClassLabels(), cfg.Thresholds(), log)
	if err != nil {
		engine.Close()
		return nil, err
	}
	classifier.SetMaxPixels(cfg.MaxImagePixels)
	return classifier, nil
}
