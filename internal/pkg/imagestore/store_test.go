package imagestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floodwatch/floodwatch-api/internal/observability"
	"github.com/floodwatch/floodwatch-api/internal/pkg/imaging"
)

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (m *memStorage) Put(_ context.Context, key string, r io.Reader, _ string) error {
	if m.err != nil {
		return m.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = data
	return nil
}

func (m *memStorage) GetURL(key string) string {
	return "https://cdn.test/" + key
}

func pngBase64(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{B: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newTestStore(st *memStorage) (*Store, *observability.Metrics) {
	m := observability.NewMetricsForTesting()
	s := New(st, imaging.NewProcessor(imaging.Config{MaxSide: 100}), time.Second, m)
	s.now = func() time.Time { return time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC) }
	return s, m
}

func TestUploadOriginalNormalizesAndUploads(t *testing.T) {
	st := &memStorage{}
	s, m := newTestStore(st)

	url, err := s.UploadOriginal(context.Background(), "data:image/png;base64,"+pngBase64(t, 400, 200))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "https://cdn.test/water-logging-reports/2026/03/"))
	require.True(t, strings.HasSuffix(url, ".jpg"))
	require.Len(t, st.objects, 1)

	for _, data := range st.objects {
		cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, "jpeg", format)
		assert.Equal(t, 100, cfg.Width)
		assert.Equal(t, 50, cfg.Height)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImageUploads.WithLabelValues("original", "success")))
}

func TestUploadOriginalReturnsStorageError(t *testing.T) {
	s, m := newTestStore(&memStorage{err: errors.New("bucket unavailable")})

	_, err := s.UploadOriginal(context.Background(), pngBase64(t, 10, 10))
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImageUploads.WithLabelValues("original", "error")))
}

func TestUploadOriginalRejectsGarbage(t *testing.T) {
	s, _ := newTestStore(&memStorage{})

	_, err := s.UploadOriginal(context.Background(), "!!!not-base64!!!")
	require.ErrorIs(t, err, imaging.ErrInvalidPayload)
}

func TestStoreDerived(t *testing.T) {
	dataURI := "data:image/png;base64," + pngBase64(t, 20, 20)
	bare := pngBase64(t, 20, 20)

	t.Run("empty", func(t *testing.T) {
		s, _ := newTestStore(&memStorage{})
		assert.Nil(t, s.StoreDerived(context.Background(), "  "))
	})

	t.Run("http url kept", func(t *testing.T) {
		st := &memStorage{}
		s, _ := newTestStore(st)
		got := s.StoreDerived(context.Background(), "https://detector.test/out.jpg")
		require.NotNil(t, got)
		assert.Equal(t, "https://detector.test/out.jpg", *got)
		assert.Empty(t, st.objects)
	})

	t.Run("data uri uploaded", func(t *testing.T) {
		s, _ := newTestStore(&memStorage{})
		got := s.StoreDerived(context.Background(), dataURI)
		require.NotNil(t, got)
		assert.True(t, strings.HasPrefix(*got, "https://cdn.test/water-logging-processed/"))
	})

	t.Run("data uri inline on failure", func(t *testing.T) {
		s, m := newTestStore(&memStorage{err: errors.New("down")})
		got := s.StoreDerived(context.Background(), dataURI)
		require.NotNil(t, got)
		assert.Equal(t, dataURI, *got)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.ImageUploads.WithLabelValues("derived", "inline")))
	})

	t.Run("bare base64 dropped on failure", func(t *testing.T) {
		s, m := newTestStore(&memStorage{err: errors.New("down")})
		assert.Nil(t, s.StoreDerived(context.Background(), bare))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.ImageUploads.WithLabelValues("derived", "dropped")))
	})
}
