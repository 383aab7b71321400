package analyzer

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Checker checks base images before a marking surface is opened.
type Checker struct {
	config Config
}

// Config holds configuration for the checker
type Config struct {
	SupportedFormats []string
	MinImageSize     int
	MaxImageSize     int
}

// New creates a Checker accepting the formats the processor decodes.
func New() *Checker {
	return &Checker{
		config: Config{
			SupportedFormats: []string{"jpeg", "png", "gif", "bmp", "webp"},
			MinImageSize:     1,
			MaxImageSize:     16384,
		},
	}
}

// NewWithConfig creates a Checker with custom limits.
func NewWithConfig(config Config) *Checker {
	return &Checker{config: config}
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int
	Height      int
	AspectRatio float64
	Area        int
}

// GetImageInfo returns basic information about an image
func (a *Checker) GetImageInfo(img image.Image) ImageInfo {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	info := ImageInfo{Width: width, Height: height, Area: width * height}
	if height > 0 {
		info.AspectRatio = float64(width) / float64(height)
	}
	return info
}

// CheckEncoded inspects the header of an encoded bitmap without decoding
// its pixels.
func (a *Checker) CheckEncoded(data []byte) error {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to read image header: %w", err)
	}
	if !a.isFormatSupported(format) {
		return fmt.Errorf("unsupported image format: %s", format)
	}
	return a.checkSize(cfg.Width, cfg.Height)
}

// ValidateImage checks that an image can be marked.
func (a *Checker) ValidateImage(img image.Image) error {
	if img == nil {
		return fmt.Errorf("no image")
	}
	bounds := img.Bounds()
	return a.checkSize(bounds.Dx(), bounds.Dy())
}

func (a *Checker) checkSize(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("image is empty: %dx%d", w, h)
	}
	if w < a.config.MinImageSize || h < a.config.MinImageSize {
		return fmt.Errorf("image too small: %dx%d (minimum: %d)", w, h, a.config.MinImageSize)
	}
	if a.config.MaxImageSize > 0 && (w > a.config.MaxImageSize || h > a.config.MaxImageSize) {
		return fmt.Errorf("image too large: %dx%d (maximum: %d)", w, h, a.config.MaxImageSize)
	}
	return nil
}

func (a *Checker) isFormatSupported(format string) bool {
	for _, supported := range a.config.SupportedFormats {
		if strings.EqualFold(format, supported) {
			return true
		}
	}
	return false
}
