package processing

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrInvalidImage is returned for input that cannot be decoded into a
// non-empty bitmap.
var ErrInvalidImage = errors.New("invalid image")

// Supported composite encodings.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatWebP = "webp"
)

// Processor decodes base images and encodes composites.
type Processor struct {
	format  string
	quality int
}

// NewProcessor creates a processor encoding composites as PNG.
func NewProcessor() *Processor {
	return &Processor{format: FormatPNG, quality: 92}
}

// NewProcessorWithFormat creates a processor encoding composites in format
// (png, jpeg/jpg or webp) with the given lossy quality.
func NewProcessorWithFormat(format string, quality int) (*Processor, error) {
	f, err := normalizeFormat(format)
	if err != nil {
		return nil, err
	}
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("quality must be between 1 and 100, got %d", quality)
	}
	return &Processor{format: f, quality: quality}, nil
}

// Format returns the composite encoding.
func (p *Processor) Format() string { return p.format }

// LoadImageFromURL downloads and decodes an image from a URL.
func (p *Processor) LoadImageFromURL(imageURL string) (image.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequest(http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Image-Marker/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", ct)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return p.DecodeBytes(data)
}

// LoadImage loads an image from a file path with WebP support.
func (p *Processor) LoadImage(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return checkImage(img)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return p.DecodeBytes(data)
}

// LoadImageSmart loads an image from either a file path or URL.
func (p *Processor) LoadImageSmart(source string) (image.Image, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.LoadImageFromURL(source)
	}
	return p.LoadImage(source)
}

// DecodeBytes decodes an encoded bitmap. The result is never empty.
func (p *Processor) DecodeBytes(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no data", ErrInvalidImage)
	}
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return checkImage(img)
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return checkImage(img)
	}
	return nil, fmt.Errorf("%w: unknown or unsupported format", ErrInvalidImage)
}

// DecodeDataURL decodes a "data:image/...;base64," URL or bare base64.
func (p *Processor) DecodeDataURL(s string) (image.Image, error) {
	raw, err := decodeBase64Payload(s)
	if err != nil {
		return nil, err
	}
	return p.DecodeBytes(raw)
}

// EncodeDataURL encodes img in the processor's format as a self-contained
// data URL.
func (p *Processor) EncodeDataURL(img image.Image) (string, error) {
	data, mime, err := p.Encode(img)
	if err != nil {
		return "", err
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// Encode encodes img in the processor's format and returns the bytes and
// their MIME type.
func (p *Processor) Encode(img image.Image) ([]byte, string, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, "", fmt.Errorf("%w: nothing to encode", ErrInvalidImage)
	}
	var buf bytes.Buffer
	switch p.format {
	case FormatWebP:
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(p.quality)}); err != nil {
			return nil, "", fmt.Errorf("webp encode: %w", err)
		}
		return buf.Bytes(), "image/webp", nil
	case FormatJPEG:
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.quality)); err != nil {
			return nil, "", fmt.Errorf("jpeg encode: %w", err)
		}
		return buf.Bytes(), "image/jpeg", nil
	default:
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, "", fmt.Errorf("png encode: %w", err)
		}
		return buf.Bytes(), "image/png", nil
	}
}

// FlattenRGB drops the alpha channel: every pixel keeps its color and
// becomes fully opaque.
func FlattenRGB(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}

func decodeBase64Payload(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, fmt.Errorf("%w: malformed data URL", ErrInvalidImage)
		}
		if !strings.HasSuffix(s[:comma], ";base64") {
			return nil, fmt.Errorf("%w: data URL is not base64", ErrInvalidImage)
		}
		s = s[comma+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return raw, nil
}

func checkImage(img image.Image) (image.Image, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty bitmap", ErrInvalidImage)
	}
	return img, nil
}

func normalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "webp":
		return FormatWebP, nil
	}
	return "", fmt.Errorf("unsupported encoding format: %s", format)
}
