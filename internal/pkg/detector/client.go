package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/floodwatch/floodwatch-api/internal/observability"
	"github.com/floodwatch/floodwatch-api/internal/pkg/imaging"
	"github.com/floodwatch/floodwatch-api/internal/pkg/logger"
)

const (
	DefaultTimeout = 180 * time.Second

	// ProbeImageURL is a public flooded-street photo used to smoke-test the detector.
	ProbeImageURL = "https://upload.wikimedia.org/wikipedia/commons/thumb/8/8d/Flooded_street_in_Bangkok_%28cropped%29.jpg/640px-Flooded_street_in_Bangkok_%28cropped%29.jpg"

	maxErrorBody = 512

	// MaxResponseSize fits a base64 processed image of imaging.MaxPayloadSize
	// plus the JSON around it.
	MaxResponseSize = imaging.MaxPayloadSize*4/3 + 64*1024
)

var (
	ErrServiceFault      = errors.New("detector reported an error")
	ErrUnexpectedStatus  = errors.New("detector returned unexpected status")
	ErrMalformedResponse = errors.New("detector returned malformed response")
	ErrResponseTooLarge  = errors.New("detector response exceeds size limit")
)

// Client calls the external water-logging detector.
type Client struct {
	url     string
	timeout time.Duration
	maxBody int64
	http    *http.Client
	metrics *observability.Metrics
}

type detectRequest struct {
	ImageURL string `json:"image_url"`
}

// NewClient creates a detector client posting to detectURL.
func NewClient(detectURL string, timeout time.Duration, metrics *observability.Metrics) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		url:     strings.TrimSpace(detectURL),
		timeout: timeout,
		maxBody: MaxResponseSize,
		metrics: metrics,
		http:    &http.Client{Transport: transport},
	}
}

// Detect classifies the image at imageURL. It never fails: transport errors,
// timeouts, non-2xx answers and malformed bodies all yield an Unknown verdict
// with Cause set for diagnostics.
func (c *Client) Detect(ctx context.Context, imageURL string) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.detect(ctx, imageURL)
	if c.metrics != nil {
		c.metrics.DetectorDuration.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		outcome := "error"
		if isTimeoutError(ctx, err) {
			outcome = "timeout"
		}
		c.observe(outcome)
		logger.FromContext(ctx).Warn().
			Str("event", "detector_degraded").
			Str("outcome", outcome).
			Dur("elapsed", time.Since(start)).
			Err(err).
			Msg("Detector unavailable, classification unknown")
		return Result{Verdict: Unknown, Cause: err}
	}

	c.observe(res.Verdict.String())
	return res
}

func (c *Client) detect(ctx context.Context, imageURL string) (Result, error) {
	body, status, err := c.post(ctx, imageURL)
	if err != nil {
		return Result{}, err
	}
	if status < 200 || status > 299 {
		return Result{}, fmt.Errorf("%w: status=%d body=%s", ErrUnexpectedStatus, status, truncate(body))
	}
	return Parse(body)
}

// Probe sends the fixed probe image and returns the raw detector answer.
// Only transport failures are returned as errors.
func (c *Client) Probe(ctx context.Context) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	body, status, err := c.post(ctx, ProbeImageURL)
	if err != nil {
		return nil, err
	}

	probe := &ProbeResult{
		URL:        c.url,
		ImageURL:   ProbeImageURL,
		StatusCode: status,
		Elapsed:    time.Since(start),
	}
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		probe.Body = truncate(body)
	} else {
		probe.Body = decoded
	}
	return probe, nil
}

func (c *Client) post(ctx context.Context, imageURL string) ([]byte, int, error) {
	if c == nil || c.http == nil {
		return nil, 0, errors.New("detector request error: client is nil")
	}
	if c.url == "" {
		return nil, 0, errors.New("detector config error: url is empty")
	}

	payload, err := json.Marshal(detectRequest{ImageURL: imageURL})
	if err != nil {
		return nil, 0, fmt.Errorf("detector request error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("detector request error: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, classifyRequestError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, resp.StatusCode, classifyRequestError(ctx, err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, resp.StatusCode, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, c.maxBody)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) observe(outcome string) {
	if c.metrics != nil {
		c.metrics.DetectorRequests.WithLabelValues(outcome).Inc()
	}
}

// Parse interprets a detector response body. Only a literal boolean
// "waterlogged" produces a verdict; an "error" field means Unknown.
func Parse(body []byte) (Result, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if raw, ok := fields["error"]; ok && !isEmptyJSON(raw) {
		return Result{}, fmt.Errorf("%w: %s", ErrServiceFault, truncate(raw))
	}

	res := Result{Verdict: Unknown}

	var waterlogged any
	if raw, ok := fields["waterlogged"]; ok && json.Unmarshal(raw, &waterlogged) == nil {
		if flag, isBool := waterlogged.(bool); isBool {
			res.Verdict = NotWaterlogged
			if flag {
				res.Verdict = Waterlogged
			}
		}
	}

	var confidence any
	if raw, ok := fields["confidence"]; ok && json.Unmarshal(raw, &confidence) == nil {
		if v, isNum := confidence.(float64); isNum && !math.IsNaN(v) && v >= 0 && v <= 1 {
			res.Confidence = &v
		}
	}

	var processed any
	if raw, ok := fields["processed_image"]; ok && json.Unmarshal(raw, &processed) == nil {
		if s, isStr := processed.(string); isStr {
			res.ProcessedImage = strings.TrimSpace(s)
		}
	}

	return res, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "false", `""`:
		return true
	}
	return false
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

func classifyRequestError(ctx context.Context, err error) error {
	if isTimeoutError(ctx, err) {
		return fmt.Errorf("detector timeout: %w", err)
	}
	if isNetworkError(err) {
		return fmt.Errorf("detector network error: %w", err)
	}
	return fmt.Errorf("detector request error: %w", err)
}

func isTimeoutError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH)
}
