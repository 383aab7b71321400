package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	imagemarker "github.com/menta2k/image-marker"
	"github.com/menta2k/image-marker/internal/backend"
	"github.com/menta2k/image-marker/internal/config"
	"github.com/menta2k/image-marker/internal/logger"
	"github.com/menta2k/image-marker/internal/utils"
	"github.com/menta2k/image-marker/pkg/analyzer"
	"github.com/menta2k/image-marker/pkg/input"
	"github.com/menta2k/image-marker/pkg/processing"
	"github.com/menta2k/image-marker/pkg/session"
	"github.com/menta2k/image-marker/pkg/submit"
	"github.com/menta2k/image-marker/pkg/types"
)

type markFlags struct {
	configPath string
	target     string
	in         string
	fetch      bool
	events     string
	out        string
	width      float64
	height     float64
}

func runMark(args []string) error {
	var f markFlags
	fs := flag.NewFlagSet("mark", flag.ExitOnError)
	fs.StringVar(&f.configPath, "config", "", "config file (defaults to ./config.yaml when present)")
	fs.StringVar(&f.target, "target", "", "target identifier of the waiting request")
	fs.StringVar(&f.in, "in", "", "base image path or URL (jpg/png/gif/bmp/webp)")
	fs.BoolVar(&f.fetch, "fetch", false, "take the base image from the backend's pending requests")
	fs.StringVar(&f.events, "events", "-", "JSON-lines input event file, - for stdin")
	fs.StringVar(&f.out, "out", "", "write the last presented frame to this file")
	fs.Float64Var(&f.width, "width", 0, "display width of the canvas (default: native width)")
	fs.Float64Var(&f.height, "height", 0, "display height of the canvas (default: native height)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if f.in == "" && !f.fetch {
		return fmt.Errorf("mark: one of -in or -fetch is required")
	}
	if f.in != "" && f.fetch {
		return fmt.Errorf("mark: -in and -fetch are exclusive")
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Server.Mode)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync(log)

	ctx := context.Background()
	trigger, err := loadTrigger(ctx, cfg, f)
	if err != nil {
		return err
	}

	proc, err := cfg.Processor()
	if err != nil {
		return err
	}
	style, err := cfg.Style()
	if err != nil {
		return err
	}
	sub, err := submit.NewHTTPSubmitter(cfg.Submit.BaseURL, &http.Client{})
	if err != nil {
		return err
	}

	rec := session.NewRecorder(log)
	marker := imagemarker.NewWithConfig(sub, func(types.Trigger) session.Surface { return rec }, imagemarker.Config{
		Logger:    log,
		Style:     style,
		MinSize:   cfg.Marker.MinSize,
		Processor: proc,
		Timeout:   cfg.Submit.Timeout,
	})
	s, err := marker.Activate(trigger)
	if err != nil {
		return err
	}

	layout := types.Box{Width: f.width, Height: f.height}
	if frame := rec.Last(); frame != nil {
		if layout.Width <= 0 {
			layout.Width = float64(frame.Bounds().Dx())
		}
		if layout.Height <= 0 {
			layout.Height = float64(frame.Bounds().Dy())
		}
	}

	r, closeEvents, err := openEvents(f.events)
	if err != nil {
		_ = s.Cancel()
		return err
	}
	defer closeEvents()

	if err := replay(s, input.NewDecoder(r, layout), log); err != nil {
		_ = s.Cancel()
		return err
	}
	if s.Snapshot().Phase == session.PhaseOpen {
		log.Info("event stream ended without apply, cancelling")
		_ = s.Cancel()
	}
	outcome, err := s.Wait(ctx)
	if err != nil {
		return err
	}

	if f.out != "" {
		if err := writeFrame(rec, f.out, cfg.Encode.Quality, log); err != nil {
			return err
		}
	}
	fmt.Printf("target=%s outcome=%s rectangles=%d\n", trigger.TargetID, outcome, len(s.Snapshot().Rects))
	if errs := rec.Errors(); len(errs) > 0 && outcome != session.OutcomeApplied {
		return fmt.Errorf("marking failed: %w", errs[len(errs)-1])
	}
	return nil
}

// replay feeds every event to s. After an apply it waits for the outcome so
// the remaining events see the session as it is after the call.
func replay(s *session.Session, dec *input.Decoder, log *zap.Logger) error {
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		err = s.Feed(ev)
		switch {
		case errors.Is(err, session.ErrClosed):
			log.Info("session closed, ignoring remaining events")
			return nil
		case err != nil:
			log.Warn("event rejected", zap.Stringer("kind", ev.Kind), zap.Error(err))
		}
		if ev.Kind == input.Action && ev.Action == input.ActionApply {
			waitSettled(s)
		}
	}
}

func waitSettled(s *session.Session) {
	for s.Snapshot().Phase == session.PhaseApplying {
		select {
		case <-s.Done():
			return
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func loadTrigger(ctx context.Context, cfg *config.Config, f markFlags) (types.Trigger, error) {
	if f.fetch {
		return fetchTrigger(ctx, cfg.Submit.BaseURL, f.target)
	}

	isURL := strings.HasPrefix(f.in, "http://") || strings.HasPrefix(f.in, "https://")
	if !isURL {
		if !utils.FileExists(f.in) {
			return types.Trigger{}, fmt.Errorf("input file not found: %s", f.in)
		}
		if !utils.IsImageFile(f.in) {
			return types.Trigger{}, fmt.Errorf("not an image file: %s", f.in)
		}
		data, err := os.ReadFile(f.in)
		if err != nil {
			return types.Trigger{}, err
		}
		if err := analyzer.New().CheckEncoded(data); err != nil {
			return types.Trigger{}, fmt.Errorf("%s: %w", f.in, err)
		}
	}
	proc := processing.NewProcessor()
	img, err := proc.LoadImageSmart(f.in)
	if err != nil {
		return types.Trigger{}, err
	}
	data, err := proc.EncodeDataURL(img)
	if err != nil {
		return types.Trigger{}, err
	}
	return types.Trigger{TargetID: f.target, ImageData: data}, nil
}

// fetchTrigger picks target from the backend's pending list, or the first
// pending request when target is empty.
func fetchTrigger(ctx context.Context, baseURL, target string) (types.Trigger, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(baseURL, "/")+backend.PendingPath, nil)
	if err != nil {
		return types.Trigger{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return types.Trigger{}, fmt.Errorf("failed to list pending requests: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return types.Trigger{}, fmt.Errorf("failed to list pending requests: HTTP %d", resp.StatusCode)
	}

	var pending []types.Trigger
	if err := json.NewDecoder(resp.Body).Decode(&pending); err != nil {
		return types.Trigger{}, fmt.Errorf("failed to decode pending requests: %w", err)
	}
	for _, t := range pending {
		if target == "" || t.TargetID == target {
			return t, nil
		}
	}
	if target == "" {
		return types.Trigger{}, fmt.Errorf("no pending requests")
	}
	return types.Trigger{}, fmt.Errorf("no pending request for target %s", target)
}

func openEvents(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { file.Close() }, nil
}

func writeFrame(rec *session.Recorder, path string, quality int, log *zap.Logger) error {
	frame := rec.Last()
	if frame == nil {
		return fmt.Errorf("no frame to write")
	}
	proc, err := processing.NewProcessorWithFormat(utils.FormatForFile(path), quality)
	if err != nil {
		return err
	}
	data, _, err := proc.Encode(frame)
	if err != nil {
		return err
	}
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	log.Info("wrote frame", zap.String("path", path), zap.String("size", utils.FormatFileSize(int64(len(data)))))
	return nil
}
