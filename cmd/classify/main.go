package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Brownie44l1/gamelan-classifier/internal/config"
	"github.com/Brownie44l1/gamelan-classifier/internal/logging"
	"github.com/Brownie44l1/gamelan-classifier/internal/model"
	"github.com/Brownie44l1/gamelan-classifier/internal/pipeline"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 2
	}

	fs := flag.NewFlagSet("classify", flag.ContinueOnError)
	modelPath := fs.String("model", cfg.ModelPath, "Path to the ONNX instrument classifier")
	labelsPath := fs.String("labels", "", "Optional file with one label per line, in model output order")
	libPath := fs.String("ort", cfg.LibraryPath, "Path to the onnxruntime shared library")
	verbose := fs.Bool("v", false, "Log each classification")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: classify [flags] <image> [image...]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg.ModelPath = *modelPath
	cfg.LibraryPath = *libPath
	if *labelsPath != "" {
		labels, err := config.ReadLabels(*labelsPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 2
		}
		cfg.Labels = labels
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 2
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	log, err := logging.New(level, "text")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}

	modelServer, err := model.NewServer(cfg.ServerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer modelServer.Close()

	classifier, err := pipeline.New(modelServer, cfg.ClassLabels(), cfg.Thresholds(), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	classifier.SetMaxPixels(cfg.MaxImagePixels)

	status := 0
	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Printf("%s: could not open file: %v\n", path, err)
			status = 1
			continue
		}
		result, err := classifier.ClassifyBytes(data)
		if err != nil {
			log.WithError(err).WithField("file", path).Debug("classification failed")
			fmt.Printf("%s: %s\n", path, pipeline.UserMessage(err))
			status = 1
			continue
		}
		fmt.Printf("%s: %s (%.1f%%) - %s, analysis took %.2fs\n",
			path, result.Label, result.Confidence*100, result.Tier.Message(), result.Elapsed.Seconds())
	}
	return status
}
