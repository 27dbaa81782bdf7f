package moderation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/floodwatch/floodwatch-api/internal/domain/feed"
	"github.com/floodwatch/floodwatch-api/internal/domain/report"
	"github.com/floodwatch/floodwatch-api/internal/domain/trust"
	"github.com/floodwatch/floodwatch-api/internal/domain/user"
	"github.com/floodwatch/floodwatch-api/internal/observability"
	"github.com/floodwatch/floodwatch-api/internal/pkg/detector"
	"github.com/floodwatch/floodwatch-api/internal/pkg/logger"
)

const DefaultCounterTimeout = 10 * time.Second

// Detector classifies report photos.
type Detector interface {
	Detect(ctx context.Context, imageURL string) detector.Result
	Probe(ctx context.Context) (*detector.ProbeResult, error)
}

// ImageStore uploads report photos and detector-derived images.
type ImageStore interface {
	UploadOriginal(ctx context.Context, payload string) (string, error)
	StoreDerived(ctx context.Context, payload string) *string
}

// TrustAggregator rebuilds user trust counters from report history.
type TrustAggregator interface {
	RecomputeOne(ctx context.Context, userID int64) (trust.Counters, error)
	RecomputeAll(ctx context.Context) ([]trust.UserCounters, error)
	ResetAll(ctx context.Context) (int64, error)
}

// CounterStore keeps a user's submission counter in line with the reports
// they own.
type CounterStore interface {
	SyncTotalReports(ctx context.Context, userID int64) error
}

// Publisher pushes events to the moderation feed.
type Publisher interface {
	Publish(ctx context.Context, event feed.Event)
}

// Actor is the verified caller of an operation.
type Actor struct {
	UserID int64
	Role   user.Role
}

// SystemActor runs maintenance operations outside an HTTP request.
var SystemActor = Actor{Role: user.RoleAdmin}

func (a Actor) IsAdmin() bool {
	return a.Role == user.RoleAdmin
}

// SubmitInput is a report submission.
type SubmitInput struct {
	Latitude      float64
	Longitude     float64
	Location      string
	Severity      string
	RainIntensity string
	ImageBase64   string
}

// Outcome is the result of a moderation action. TrustScore is set when the
// owner's score was recomputed.
type Outcome struct {
	Report     *report.Report
	TrustScore *int
}

type CleanupMode string

const (
	CleanupNonApproved CleanupMode = "deleteNonApproved"
	CleanupAll         CleanupMode = "deleteAll"
)

// CleanupResult summarizes a bulk cleanup.
type CleanupResult struct {
	Mode         CleanupMode
	Deleted      int64
	UsersUpdated int
}

// Diagnostic describes the stored classification of a report.
type Diagnostic struct {
	ReportID             int64
	Status               report.Status
	AutoRejected         bool
	Image                *string
	IsWaterlogged        *bool
	Confidence           *float64
	ProcessedImageType   string
	ProcessedImageLength int
}

// Service is the report lifecycle engine.
type Service struct {
	reports  report.Repository
	counters CounterStore
	trust    TrustAggregator
	detector Detector
	images   ImageStore

	cache ListingCache
	feed  Publisher
	clock clockwork.Clock

	metrics        *observability.Metrics
	counterTimeout time.Duration
}

// NewService creates the moderation engine
func NewService(reports report.Repository, counters CounterStore, trustAgg TrustAggregator, det Detector, images ImageStore, metrics *observability.Metrics) *Service {
	return &Service{
		reports:        reports,
		counters:       counters,
		trust:          trustAgg,
		detector:       det,
		images:         images,
		cache:          noopCache{},
		feed:           noopPublisher{},
		clock:          clockwork.NewRealClock(),
		metrics:        metrics,
		counterTimeout: DefaultCounterTimeout,
	}
}

func (s *Service) WithClock(clock clockwork.Clock) *Service {
	s.clock = clock
	return s
}

func (s *Service) WithCache(cache ListingCache) *Service {
	if cache != nil {
		s.cache = cache
	}
	return s
}

func (s *Service) WithPublisher(p Publisher) *Service {
	if p != nil {
		s.feed = p
	}
	return s
}

func (s *Service) WithCounterTimeout(d time.Duration) *Service {
	if d > 0 {
		s.counterTimeout = d
	}
	return s
}

// Submit creates a report. Image upload and detector failures never fail the
// submission; a NotWaterlogged verdict stores the report as auto-rejected.
func (s *Service) Submit(ctx context.Context, actor Actor, in SubmitInput) (*report.Report, error) {
	if actor.UserID <= 0 {
		return nil, ErrUnauthenticated
	}

	severity, ok := report.ParseSeverity(in.Severity)
	if !ok {
		return nil, ErrInvalidSeverity
	}
	if !validCoordinate(in.Latitude, 90) || !validCoordinate(in.Longitude, 180) {
		return nil, ErrInvalidCoordinates
	}
	location := strings.TrimSpace(in.Location)
	if location == "" {
		return nil, ErrMissingLocation
	}

	log := logger.FromContext(ctx)
	ownerID := actor.UserID
	rep := &report.Report{
		Latitude:      in.Latitude,
		Longitude:     in.Longitude,
		Location:      location,
		Severity:      severity,
		RainIntensity: strings.TrimSpace(in.RainIntensity),
		UserID:        &ownerID,
		Status:        report.StatusPending,
	}

	verdict := detector.Unknown
	if strings.TrimSpace(in.ImageBase64) != "" {
		url, err := s.images.UploadOriginal(ctx, in.ImageBase64)
		if err != nil {
			log.Warn().
				Str("event", "image_upload_degraded").
				Str("kind", "original").
				Int64("user_id", ownerID).
				Err(err).
				Msg("Report image upload failed, continuing without image")
		} else {
			rep.Image = &url

			res := s.detector.Detect(ctx, url)
			verdict = res.Verdict
			rep.IsWaterlogged = res.Verdict.Flag()
			rep.Confidence = res.Confidence
			rep.ProcessedImage = s.images.StoreDerived(ctx, res.ProcessedImage)
		}
	}

	now := s.clock.Now().UTC()
	rep.CreatedAt = now
	if verdict == detector.NotWaterlogged {
		rep.Status = report.StatusRejected
		rep.AutoRejected = true
		rep.RejectedAt = &now
	}

	write, err := s.persist(ctx, rep, verdict)
	if err != nil {
		return nil, err
	}

	s.syncTotal(ctx, ownerID)

	if s.metrics != nil {
		s.metrics.ReportsSubmitted.WithLabelValues(write, verdict.String()).Inc()
	}
	log.Info().
		Int64("report_id", rep.ID).
		Int64("user_id", ownerID).
		Str("status", string(rep.Status)).
		Str("verdict", verdict.String()).
		Str("write", write).
		Msg("Report submitted")

	s.feed.Publish(ctx, feed.Event{
		Type:     feed.EventReportSubmitted,
		ReportID: rep.ID,
		UserID:   ownerID,
		Status:   string(rep.Status),
		At:       now,
	})
	return rep, nil
}

// persist tries the full write and falls back to the minimal write when the
// schema lacks classification columns. It returns which write succeeded.
func (s *Service) persist(ctx context.Context, rep *report.Report, verdict detector.Verdict) (string, error) {
	err := s.reports.Create(ctx, rep)
	if err == nil {
		return "full", nil
	}
	if !errors.Is(err, report.ErrSchemaMismatch) {
		return "", writeError(err)
	}

	logger.FromContext(ctx).Warn().
		Str("event", "report_schema_fallback").
		Str("verdict", verdict.String()).
		Err(err).
		Msg("Full report write rejected by schema, using minimal write; reprocess later")

	minimal := *rep
	minimal.ProcessedImage = nil
	minimal.IsWaterlogged = nil
	minimal.Confidence = nil
	minimal.Status = report.StatusPending
	minimal.AutoRejected = false
	minimal.RejectedAt = nil

	if err := s.reports.CreateMinimal(ctx, &minimal); err != nil {
		return "", writeError(err)
	}
	*rep = minimal
	return "minimal", nil
}

// syncTotal recounts total_reports under its own deadline. A recount stays
// correct when a moderation action recomputes the same user concurrently.
// Drift left by a failure here is repaired by RecomputeAll.
func (s *Service) syncTotal(ctx context.Context, userID int64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.counterTimeout)
	defer cancel()

	if err := s.counters.SyncTotalReports(ctx, userID); err != nil {
		logger.FromContext(ctx).Error().
			Str("event", "counter_update_failed").
			Int64("user_id", userID).
			Err(err).
			Msg("Failed to sync total_reports")
	}
}

// Approve moves a pending or auto-rejected report to APPROVED and recomputes
// the owner's trust score.
func (s *Service) Approve(ctx context.Context, actor Actor, id int64) (*Outcome, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	rep, err := s.reports.Approve(ctx, id, s.clock.Now().UTC())
	if err != nil {
		return nil, transitionError(err)
	}
	return s.settle(ctx, "approve", feed.EventReportApproved, rep, true)
}

// Reject moves a pending report to REJECTED and recomputes the owner's trust
// score.
func (s *Service) Reject(ctx context.Context, actor Actor, id int64) (*Outcome, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	rep, err := s.reports.Reject(ctx, id, s.clock.Now().UTC())
	if err != nil {
		return nil, transitionError(err)
	}
	return s.settle(ctx, "reject", feed.EventReportRejected, rep, true)
}

// Reprocess runs the detector again on the stored original image and
// overwrites the classification. A NotWaterlogged verdict rejects a pending
// report; an approved report keeps its status.
func (s *Service) Reprocess(ctx context.Context, actor Actor, id int64) (*Outcome, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	current, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if current == nil {
		return nil, ErrReportNotFound
	}
	if current.Image == nil || strings.TrimSpace(*current.Image) == "" {
		return nil, ErrNoOriginalImage
	}

	res := s.detector.Detect(ctx, *current.Image)
	c := report.Classification{
		IsWaterlogged:  res.Verdict.Flag(),
		Confidence:     res.Confidence,
		ProcessedImage: s.images.StoreDerived(ctx, res.ProcessedImage),
	}
	reject := res.Verdict == detector.NotWaterlogged

	updated, err := s.reports.Reclassify(ctx, id, c, reject, s.clock.Now().UTC())
	if err != nil {
		return nil, transitionError(err)
	}

	log := logger.FromContext(ctx)
	if reject && updated.IsApproved() {
		log.Warn().
			Int64("report_id", id).
			Msg("Approved report classified as not waterlogged, status kept")
	}
	log.Info().
		Int64("report_id", id).
		Str("verdict", res.Verdict.String()).
		Str("status", string(updated.Status)).
		Msg("Report reprocessed")

	return s.settle(ctx, "reprocess", feed.EventReportReprocessed, updated, updated.Status != current.Status)
}

// settle runs the shared tail of a moderation action.
func (s *Service) settle(ctx context.Context, action string, event feed.EventType, rep *report.Report, recompute bool) (*Outcome, error) {
	out := &Outcome{Report: rep}

	if recompute && rep.UserID != nil {
		c, err := s.trust.RecomputeOne(ctx, *rep.UserID)
		switch {
		case errors.Is(err, trust.ErrUserNotFound):
		case err != nil:
			logger.FromContext(ctx).Error().
				Str("event", "score_recompute_failed").
				Int64("report_id", rep.ID).
				Int64("user_id", *rep.UserID).
				Err(err).
				Msg("Trust recompute failed after moderation action")
			return nil, fmt.Errorf("%w: recompute trust: %w", ErrPersistence, err)
		default:
			score := c.Score
			out.TrustScore = &score
		}
	}

	if s.metrics != nil {
		s.metrics.ModerationActions.WithLabelValues(action).Inc()
	}
	s.cache.Invalidate(ctx)

	ev := feed.Event{
		Type:       event,
		ReportID:   rep.ID,
		Status:     string(rep.Status),
		TrustScore: out.TrustScore,
		At:         s.clock.Now().UTC(),
	}
	if rep.UserID != nil {
		ev.UserID = *rep.UserID
	}
	s.feed.Publish(ctx, ev)
	return out, nil
}

// BulkCleanup deletes reports and leaves every user's counters consistent
// with what survives.
func (s *Service) BulkCleanup(ctx context.Context, actor Actor, mode CleanupMode) (*CleanupResult, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	res := &CleanupResult{Mode: mode}
	switch mode {
	case CleanupAll:
		deleted, err := s.reports.DeleteAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		res.Deleted = deleted

		reset, err := s.trust.ResetAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: reset counters: %w", ErrPersistence, err)
		}
		res.UsersUpdated = int(reset)

	case CleanupNonApproved:
		deleted, err := s.reports.DeleteNonApproved(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		res.Deleted = deleted

		updated, err := s.trust.RecomputeAll(ctx)
		res.UsersUpdated = len(updated)
		if err != nil {
			return nil, fmt.Errorf("%w: recompute counters: %w", ErrPersistence, err)
		}

	default:
		return nil, ErrInvalidCleanupMode
	}

	if s.metrics != nil {
		s.metrics.ModerationActions.WithLabelValues("cleanup").Inc()
	}
	logger.FromContext(ctx).Info().
		Str("mode", string(mode)).
		Int64("deleted", res.Deleted).
		Int("users_updated", res.UsersUpdated).
		Msg("Reports cleaned up")

	s.cache.Invalidate(ctx)
	s.feed.Publish(ctx, feed.Event{
		Type:    feed.EventReportsCleared,
		Deleted: res.Deleted,
		At:      s.clock.Now().UTC(),
	})
	return res, nil
}

// RecomputeAll rebuilds every user's counters from report history.
func (s *Service) RecomputeAll(ctx context.Context, actor Actor) ([]trust.UserCounters, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	updated, err := s.trust.RecomputeAll(ctx)
	if err != nil {
		return updated, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return updated, nil
}

// ListApproved returns the public listing, newest first.
func (s *Service) ListApproved(ctx context.Context) ([]*report.Report, error) {
	if cached, ok := s.cache.Get(ctx); ok {
		return cached, nil
	}

	reports, err := s.reports.ListApproved(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	s.cache.Set(ctx, reports)
	return reports, nil
}

// ListForAdmin returns every report ordered by owner trust score, then recency.
func (s *Service) ListForAdmin(ctx context.Context, actor Actor) ([]*report.AdminReport, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	reports, err := s.reports.ListForAdmin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return reports, nil
}

// Diagnose returns the stored classification of a report.
func (s *Service) Diagnose(ctx context.Context, actor Actor, id int64) (*Diagnostic, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	rep, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if rep == nil {
		return nil, ErrReportNotFound
	}

	c := rep.Classification()
	d := &Diagnostic{
		ReportID:           rep.ID,
		Status:             rep.Status,
		AutoRejected:       rep.AutoRejected,
		Image:              rep.Image,
		IsWaterlogged:      c.IsWaterlogged,
		Confidence:         c.Confidence,
		ProcessedImageType: "null",
	}
	if c.ProcessedImage != nil {
		d.ProcessedImageLength = len(*c.ProcessedImage)
		if strings.HasPrefix(*c.ProcessedImage, "data:") {
			d.ProcessedImageType = "inline"
		} else {
			d.ProcessedImageType = "url"
		}
	}
	return d, nil
}

// ProbeDetector sends a fixed public image to the detector.
func (s *Service) ProbeDetector(ctx context.Context, actor Actor) (*detector.ProbeResult, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	return s.detector.Probe(ctx)
}

func validCoordinate(v, limit float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= -limit && v <= limit
}

func writeError(err error) error {
	if errors.Is(err, report.ErrOwnerNotFound) {
		return err
	}
	return fmt.Errorf("%w: create report: %w", ErrPersistence, err)
}

func transitionError(err error) error {
	if errors.Is(err, report.ErrReportNotFound) || IsConflict(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, feed.Event) {}
