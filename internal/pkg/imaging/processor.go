package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
)

// MaxPayloadSize bounds a decoded image payload (10MB).
const MaxPayloadSize = 10 * 1024 * 1024

var (
	ErrEmptyPayload   = errors.New("image payload is empty")
	ErrInvalidPayload = errors.New("image payload is not valid base64")
	ErrTooLarge       = errors.New("image payload is too large")
)

// NormalizedImage is an image ready for the object store.
type NormalizedImage struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Config for image processing
type Config struct {
	MaxSide int // longest side after normalization (default 800)
	Quality int // JPEG quality 1-100 (default 80)
}

// DefaultConfig returns default processing config
func DefaultConfig() Config {
	return Config{
		MaxSide: 800,
		Quality: 80,
	}
}

// Processor normalizes submitted photos.
type Processor struct {
	config Config
}

// NewProcessor creates image processor
func NewProcessor(config Config) *Processor {
	def := DefaultConfig()
	if config.MaxSide <= 0 {
		config.MaxSide = def.MaxSide
	}
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = def.Quality
	}
	return &Processor{config: config}
}

// Normalize applies EXIF orientation, fits the image inside MaxSide x MaxSide
// without upscaling, and re-encodes it as JPEG.
func (p *Processor) Normalize(data []byte) (*NormalizedImage, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() > p.config.MaxSide || b.Dy() > p.config.MaxSide {
		img = imaging.Fit(img, p.config.MaxSide, p.config.MaxSide, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.config.Quality)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return &NormalizedImage{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
	}, nil
}

// IsDataURI reports whether s is a data:image/... URI.
func IsDataURI(s string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "data:image/")
}

// DecodePayload decodes a data URI or a bare base64 string.
// The returned content type comes from the URI header when present,
// otherwise it is sniffed from the bytes.
func DecodePayload(payload string) ([]byte, string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, "", ErrEmptyPayload
	}

	contentType := ""
	encoded := payload
	if strings.HasPrefix(strings.ToLower(payload), "data:") {
		header, rest, ok := strings.Cut(payload, ",")
		if !ok || !strings.Contains(strings.ToLower(header), ";base64") {
			return nil, "", ErrInvalidPayload
		}
		contentType = strings.ToLower(strings.TrimPrefix(strings.SplitN(header, ";", 2)[0], "data:"))
		encoded = rest
	}

	if base64.StdEncoding.DecodedLen(len(encoded)) > MaxPayloadSize {
		return nil, "", ErrTooLarge
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return nil, "", ErrInvalidPayload
		}
	}
	if len(data) == 0 {
		return nil, "", ErrEmptyPayload
	}

	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// ExtensionFor returns the object key extension for a content type.
func ExtensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
