package detector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/floodwatch/floodwatch-api/internal/observability"
)

func newTestServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDetectSendsImageURL(t *testing.T) {
	var got detectRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"waterlogged": true, "confidence": 0.91}`))
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, time.Second, observability.NewMetricsForTesting())
	res := client.Detect(context.Background(), "https://img.example/a.jpg")

	if got.ImageURL != "https://img.example/a.jpg" {
		t.Fatalf("expected image_url to be forwarded, got %q", got.ImageURL)
	}
	if res.Verdict != Waterlogged {
		t.Fatalf("expected waterlogged, got %s", res.Verdict)
	}
	if res.Confidence == nil || *res.Confidence != 0.91 {
		t.Fatalf("expected confidence 0.91, got %v", res.Confidence)
	}
	if res.Cause != nil {
		t.Fatalf("expected no cause, got %v", res.Cause)
	}
}

func TestDetectVerdicts(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		verdict    Verdict
		confidence bool
		processed  string
	}{
		{name: "false literal", body: `{"waterlogged": false, "confidence": 0.2}`, verdict: NotWaterlogged, confidence: true},
		{name: "string true is not a verdict", body: `{"waterlogged": "true"}`, verdict: Unknown},
		{name: "number is not a verdict", body: `{"waterlogged": 1}`, verdict: Unknown},
		{name: "missing field", body: `{"confidence": 0.5}`, verdict: Unknown, confidence: true},
		{name: "string confidence ignored", body: `{"waterlogged": true, "confidence": "0.9"}`, verdict: Waterlogged},
		{name: "out of range confidence ignored", body: `{"waterlogged": true, "confidence": 3.5}`, verdict: Waterlogged},
		{name: "processed image kept", body: `{"waterlogged": true, "processed_image": "data:image/png;base64,AAAA"}`, verdict: Waterlogged, processed: "data:image/png;base64,AAAA"},
		{name: "null error field ignored", body: `{"waterlogged": false, "error": null}`, verdict: NotWaterlogged},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := newTestServer(t, http.StatusOK, tc.body)
			client := NewClient(server.URL, time.Second, nil)

			res := client.Detect(context.Background(), "https://img.example/a.jpg")
			if res.Verdict != tc.verdict {
				t.Fatalf("expected %s, got %s", tc.verdict, res.Verdict)
			}
			if (res.Confidence != nil) != tc.confidence {
				t.Fatalf("expected confidence present=%v, got %v", tc.confidence, res.Confidence)
			}
			if res.ProcessedImage != tc.processed {
				t.Fatalf("expected processed image %q, got %q", tc.processed, res.ProcessedImage)
			}
			if res.Cause != nil {
				t.Fatalf("expected no cause, got %v", res.Cause)
			}
		})
	}
}

func TestDetectDegradesToUnknown(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		cause  error
	}{
		{name: "service error field", status: http.StatusOK, body: `{"waterlogged": true, "error": "model not loaded"}`, cause: ErrServiceFault},
		{name: "server error", status: http.StatusInternalServerError, body: "boom", cause: ErrUnexpectedStatus},
		{name: "malformed body", status: http.StatusOK, body: "<html>sleeping</html>", cause: ErrMalformedResponse},
		{name: "array body", status: http.StatusOK, body: `[true]`, cause: ErrMalformedResponse},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := newTestServer(t, tc.status, tc.body)
			client := NewClient(server.URL, time.Second, observability.NewMetricsForTesting())

			res := client.Detect(context.Background(), "https://img.example/a.jpg")
			if res.Verdict != Unknown {
				t.Fatalf("expected unknown, got %s", res.Verdict)
			}
			if res.Confidence != nil {
				t.Fatalf("expected no confidence, got %v", *res.Confidence)
			}
			if !errors.Is(res.Cause, tc.cause) {
				t.Fatalf("expected cause %v, got %v", tc.cause, res.Cause)
			}
		})
	}
}

func TestDetectOversizedBodyIsUnknown(t *testing.T) {
	body := `{"waterlogged": true, "processed_image": "` + strings.Repeat("A", 4096) + `"}`
	server := newTestServer(t, http.StatusOK, body)
	client := NewClient(server.URL, time.Second, observability.NewMetricsForTesting())
	client.maxBody = 1024

	res := client.Detect(context.Background(), "https://img.example/a.jpg")
	if res.Verdict != Unknown {
		t.Fatalf("expected unknown, got %s", res.Verdict)
	}
	if !errors.Is(res.Cause, ErrResponseTooLarge) {
		t.Fatalf("expected ErrResponseTooLarge, got %v", res.Cause)
	}

	probe, err := client.Probe(context.Background())
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("expected probe to fail with ErrResponseTooLarge, got %v (%+v)", err, probe)
	}
}

func TestDetectTimeoutIsUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, 50*time.Millisecond, nil)
	start := time.Now()
	res := client.Detect(context.Background(), "https://img.example/a.jpg")

	if res.Verdict != Unknown {
		t.Fatalf("expected unknown, got %s", res.Verdict)
	}
	if res.Cause == nil || !strings.Contains(res.Cause.Error(), "detector timeout") {
		t.Fatalf("expected timeout cause, got %v", res.Cause)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("detect did not honour its timeout")
	}
}

func TestDetectUnreachableIsUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(url, time.Second, nil)
	res := client.Detect(context.Background(), "https://img.example/a.jpg")
	if res.Verdict != Unknown || res.Cause == nil {
		t.Fatalf("expected degraded unknown result, got %+v", res)
	}
}

func TestProbeReturnsRawAnswer(t *testing.T) {
	var got detectRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": "warming up"}`))
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, time.Second, nil)
	probe, err := client.Probe(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.ImageURL != ProbeImageURL {
		t.Fatalf("expected probe image to be sent, got %q", got.ImageURL)
	}
	if probe.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", probe.StatusCode)
	}
	body, ok := probe.Body.(map[string]any)
	if !ok || body["error"] != "warming up" {
		t.Fatalf("expected decoded body, got %#v", probe.Body)
	}
}

func TestProbeUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(url, time.Second, nil)
	if _, err := client.Probe(context.Background()); err == nil {
		t.Fatal("expected error for unreachable detector")
	}
}

func TestVerdictFlag(t *testing.T) {
	if Unknown.Flag() != nil {
		t.Fatal("expected nil flag for unknown")
	}
	if f := Waterlogged.Flag(); f == nil || !*f {
		t.Fatal("expected true flag for waterlogged")
	}
	if f := NotWaterlogged.Flag(); f == nil || *f {
		t.Fatal("expected false flag for not waterlogged")
	}
}
