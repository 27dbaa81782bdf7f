package imagestore

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/floodwatch/floodwatch-api/internal/observability"
	"github.com/floodwatch/floodwatch-api/internal/pkg/imaging"
	"github.com/floodwatch/floodwatch-api/internal/pkg/logger"
	"github.com/floodwatch/floodwatch-api/internal/pkg/storage"
)

const (
	OriginalFolder  = "water-logging-reports"
	ProcessedFolder = "water-logging-processed"

	DefaultTimeout = 30 * time.Second
)

// Store uploads report photos and detector-derived images.
type Store struct {
	storage   storage.Storage
	processor *imaging.Processor
	timeout   time.Duration
	metrics   *observability.Metrics
	now       func() time.Time
}

// New creates an image store
func New(st storage.Storage, processor *imaging.Processor, timeout time.Duration, metrics *observability.Metrics) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{
		storage:   st,
		processor: processor,
		timeout:   timeout,
		metrics:   metrics,
		now:       time.Now,
	}
}

// UploadOriginal normalizes a submitted photo (data URI or bare base64) and
// uploads it. The caller decides how to degrade on error.
func (s *Store) UploadOriginal(ctx context.Context, payload string) (string, error) {
	url, err := s.upload(ctx, OriginalFolder, payload)
	if err != nil {
		s.observe("original", "error")
		return "", err
	}
	s.observe("original", "success")
	return url, nil
}

// StoreDerived returns the reference to persist for a detector-derived image.
// HTTP URLs are kept as-is. Data URIs are uploaded and fall back to the inline
// payload when the upload fails; bare base64 that cannot be uploaded is
// dropped. It never fails.
func (s *Store) StoreDerived(ctx context.Context, payload string) *string {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}

	if isHTTPURL(payload) {
		return &payload
	}

	url, err := s.upload(ctx, ProcessedFolder, payload)
	if err == nil {
		s.observe("derived", "success")
		return &url
	}

	l := logger.FromContext(ctx).Warn().
		Str("event", "image_upload_degraded").
		Str("kind", "derived").
		Err(err)

	if imaging.IsDataURI(payload) {
		s.observe("derived", "inline")
		l.Msg("Processed image upload failed, storing inline")
		return &payload
	}

	s.observe("derived", "dropped")
	l.Msg("Processed image upload failed, dropping it")
	return nil
}

func (s *Store) upload(ctx context.Context, folder, payload string) (string, error) {
	data, _, err := imaging.DecodePayload(payload)
	if err != nil {
		return "", err
	}

	img, err := s.processor.Normalize(data)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := s.objectKey(folder, img.ContentType)
	if err := s.storage.Put(ctx, key, bytes.NewReader(img.Data), img.ContentType); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return s.storage.GetURL(key), nil
}

func (s *Store) objectKey(folder, contentType string) string {
	now := s.now().UTC()
	return fmt.Sprintf("%s/%04d/%02d/%s%s", folder, now.Year(), int(now.Month()), uuid.NewString(), imaging.ExtensionFor(contentType))
}

func (s *Store) observe(kind, outcome string) {
	if s.metrics != nil {
		s.metrics.ImageUploads.WithLabelValues(kind, outcome).Inc()
	}
}

func isHTTPURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
