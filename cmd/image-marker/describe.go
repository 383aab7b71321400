package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/image-marker/internal/config"
	"github.com/menta2k/image-marker/internal/logger"
	"github.com/menta2k/image-marker/pkg/detection"
	"github.com/menta2k/image-marker/pkg/processing"
)

func runDescribe(args []string) error {
	fs := flag.NewFlagSet("describe", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (defaults to ./config.yaml when present)")
	in := fs.String("in", "", "image path or URL")
	model := fs.String("model", "", "override vision.model")
	backendName := fs.String("backend", "", "override vision.backend (ollama or llamacpp)")
	test := fs.Bool("test", false, "only check that the model can see the image")
	timeout := fs.Duration("timeout", 5*time.Minute, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("describe: -in is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *model != "" {
		cfg.Vision.Model = *model
	}
	if *backendName != "" {
		cfg.Vision.Backend = *backendName
	}
	log, err := logger.New(cfg.Server.Mode)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync(log)

	proc := processing.NewProcessor()
	img, err := proc.LoadImageSmart(*in)
	if err != nil {
		return err
	}
	encoded, _, err := proc.Encode(processing.FlattenRGB(img))
	if err != nil {
		return err
	}

	vc, err := newVisionClient(cfg.Vision)
	if err != nil {
		return err
	}
	describer, err := detection.NewDescriber(vc, cfg.Vision.Model, cfg.Vision.Prompt)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	log.Info("querying vision model",
		zap.String("backend", cfg.Vision.Backend),
		zap.String("model", cfg.Vision.Model),
		zap.Int("bytes", len(encoded)))

	if *test {
		reply, err := describer.TestVision(ctx, encoded)
		if err != nil {
			return fmt.Errorf("vision test failed: %w", err)
		}
		fmt.Println(reply)
		return nil
	}

	desc, err := describer.Describe(ctx, encoded)
	if err != nil {
		return fmt.Errorf("describe failed: %w", err)
	}
	out, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
