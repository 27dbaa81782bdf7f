package moderation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/floodwatch/floodwatch-api/internal/domain/feed"
	"github.com/floodwatch/floodwatch-api/internal/domain/report"
	"github.com/floodwatch/floodwatch-api/internal/domain/trust"
	"github.com/floodwatch/floodwatch-api/internal/pkg/detector"
)

// world is an in-memory report store, counter store and trust aggregator
// sharing one dataset, so engine scenarios can be checked end to end.
type world struct {
	mu      sync.Mutex
	nextID  int64
	reports map[int64]*report.Report
	users   map[int64]*trust.Counters

	createErr        error
	createMinimalErr error
	syncErr          error
	recomputeErr     error
	minimalWrites    int
}

func newWorld(userIDs ...int64) *world {
	w := &world{
		reports: map[int64]*report.Report{},
		users:   map[int64]*trust.Counters{},
	}
	for _, id := range userIDs {
		w.users[id] = &trust.Counters{}
	}
	return w
}

func (w *world) counters(userID int64) trust.Counters {
	w.mu.Lock()
	defer w.mu.Unlock()
	return *w.users[userID]
}

func (w *world) get(id int64) *report.Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	if r, ok := w.reports[id]; ok {
		cp := *r
		return &cp
	}
	return nil
}

func (w *world) insert(r *report.Report) {
	w.nextID++
	r.ID = w.nextID
	cp := *r
	w.reports[r.ID] = &cp
}

// report.Repository

func (w *world) Create(_ context.Context, r *report.Report) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.createErr != nil {
		return w.createErr
	}
	w.insert(r)
	return nil
}

func (w *world) CreateMinimal(_ context.Context, r *report.Report) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.createMinimalErr != nil {
		return w.createMinimalErr
	}
	w.minimalWrites++
	r.Status = report.StatusPending
	w.insert(r)
	return nil
}

func (w *world) GetByID(_ context.Context, id int64) (*report.Report, error) {
	return w.get(id), nil
}

func (w *world) ListApproved(_ context.Context) ([]*report.Report, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := []*report.Report{}
	for _, r := range w.reports {
		if r.Status == report.StatusApproved {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (w *world) ListForAdmin(_ context.Context) ([]*report.AdminReport, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := []*report.AdminReport{}
	for _, r := range w.reports {
		ar := &report.AdminReport{Report: *r}
		if r.UserID != nil {
			if c, ok := w.users[*r.UserID]; ok {
				ar.OwnerTrustScore = c.Score
			}
		}
		out = append(out, ar)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OwnerTrustScore != out[j].OwnerTrustScore {
			return out[i].OwnerTrustScore > out[j].OwnerTrustScore
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (w *world) transitionErr(r *report.Report) error {
	if r.Status == report.StatusApproved {
		return report.ErrAlreadyApproved
	}
	return report.ErrAlreadyRejected
}

func (w *world) Approve(_ context.Context, id int64, at time.Time) (*report.Report, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.reports[id]
	if !ok {
		return nil, report.ErrReportNotFound
	}
	if !(r.Status == report.StatusPending || (r.Status == report.StatusRejected && r.AutoRejected)) {
		return nil, w.transitionErr(r)
	}
	r.Status = report.StatusApproved
	r.ApprovedAt = &at
	if r.UserID != nil {
		if c, ok := w.users[*r.UserID]; ok {
			c.Approved++
		}
	}
	cp := *r
	return &cp, nil
}

func (w *world) Reject(_ context.Context, id int64, at time.Time) (*report.Report, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.reports[id]
	if !ok {
		return nil, report.ErrReportNotFound
	}
	if r.Status != report.StatusPending {
		return nil, w.transitionErr(r)
	}
	r.Status = report.StatusRejected
	r.RejectedAt = &at
	r.AutoRejected = false
	cp := *r
	return &cp, nil
}

func (w *world) Reclassify(_ context.Context, id int64, c report.Classification, reject bool, at time.Time) (*report.Report, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.reports[id]
	if !ok {
		return nil, report.ErrReportNotFound
	}
	r.ProcessedImage = c.ProcessedImage
	r.IsWaterlogged = c.IsWaterlogged
	r.Confidence = c.Confidence
	if reject && r.Status == report.StatusPending {
		r.Status = report.StatusRejected
		r.AutoRejected = true
		if r.RejectedAt == nil {
			r.RejectedAt = &at
		}
	}
	cp := *r
	return &cp, nil
}

func (w *world) DeleteNonApproved(_ context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var n int64
	for id, r := range w.reports {
		if r.Status != report.StatusApproved {
			delete(w.reports, id)
			n++
		}
	}
	return n, nil
}

func (w *world) DeleteAll(_ context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := int64(len(w.reports))
	w.reports = map[int64]*report.Report{}
	return n, nil
}

// CounterStore

func (w *world) SyncTotalReports(_ context.Context, userID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.syncErr != nil {
		return w.syncErr
	}
	c, ok := w.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	c.Total = 0
	for _, r := range w.reports {
		if r.UserID != nil && *r.UserID == userID {
			c.Total++
		}
	}
	return nil
}

// TrustAggregator

func (w *world) RecomputeOne(_ context.Context, userID int64) (trust.Counters, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.recompute(userID)
}

func (w *world) recompute(userID int64) (trust.Counters, error) {
	if w.recomputeErr != nil {
		return trust.Counters{}, w.recomputeErr
	}
	if _, ok := w.users[userID]; !ok {
		return trust.Counters{}, trust.ErrUserNotFound
	}
	var approved []bool
	for _, r := range w.reports {
		if r.UserID != nil && *r.UserID == userID {
			approved = append(approved, r.Status == report.StatusApproved)
		}
	}
	c := trust.Compute(approved)
	*w.users[userID] = c
	return c, nil
}

func (w *world) RecomputeAll(_ context.Context) ([]trust.UserCounters, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]int64, 0, len(w.users))
	for id := range w.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]trust.UserCounters, 0, len(ids))
	for _, id := range ids {
		c, err := w.recompute(id)
		if err != nil {
			return out, err
		}
		out = append(out, trust.UserCounters{UserID: id, Counters: c})
	}
	return out, nil
}

func (w *world) ResetAll(_ context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range w.users {
		*c = trust.Counters{}
	}
	return int64(len(w.users)), nil
}

type fakeDetector struct {
	mu     sync.Mutex
	result detector.Result
	calls  []string
	probe  *detector.ProbeResult
	err    error
}

func (d *fakeDetector) Detect(_ context.Context, imageURL string) detector.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, imageURL)
	return d.result
}

func (d *fakeDetector) Probe(context.Context) (*detector.ProbeResult, error) {
	return d.probe, d.err
}

func (d *fakeDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type fakeImages struct {
	uploadErr error
}

func (f *fakeImages) UploadOriginal(context.Context, string) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return "https://cdn.test/water-logging-reports/orig.jpg", nil
}

func (f *fakeImages) StoreDerived(_ context.Context, payload string) *string {
	if payload == "" {
		return nil
	}
	return &payload
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []feed.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e feed.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []feed.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]feed.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type memCache struct {
	reports     []*report.Report
	ok          bool
	invalidated int
}

func (c *memCache) Get(context.Context) ([]*report.Report, bool) { return c.reports, c.ok }
func (c *memCache) Set(_ context.Context, r []*report.Report)    { c.reports, c.ok = r, true }
func (c *memCache) Invalidate(context.Context) {
	c.reports, c.ok = nil, false
	c.invalidated++
}
