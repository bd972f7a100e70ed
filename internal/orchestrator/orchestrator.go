package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aseven02/streamget/internal/capture"
	"github.com/aseven02/streamget/internal/douyin"
)

// Resolver resolves one room URL to metadata and per-quality endpoints.
type Resolver interface {
	Resolve(ctx context.Context, q douyin.RoomQuery) (*douyin.Resolution, error)
}

// Capturer runs one capture session to a terminal outcome.
type Capturer interface {
	Capture(ctx context.Context, req capture.Request) capture.Outcome
}

// Notifier observes run progress. Calls happen on session goroutines, so
// implementations must return quickly or buffer internally.
type Notifier interface {
	RunResolved(meta douyin.RoomMetadata)
	SessionStarted(q douyin.Quality)
	SessionFinished(out capture.Outcome)
}

// RunSpec is one orchestrated run: a room plus the qualities to capture.
type RunSpec struct {
	// RunID correlates the report with external systems (agent jobs,
	// history rows). Zero means a fresh id is assigned.
	RunID     uuid.UUID
	Query     douyin.RoomQuery
	Qualities []douyin.Quality
	OutputDir string
	// DurationSec caps each capture; zero means unbounded.
	DurationSec int
}

// RunReport aggregates one run. Outcomes follow the request order of the
// qualities, not completion order, so reports are deterministic.
type RunReport struct {
	RunID      uuid.UUID
	Meta       douyin.RoomMetadata
	Outcomes   []capture.Outcome
	StartedAt  time.Time
	FinishedAt time.Time
}

// AllFailed reports whether every requested quality failed. It drives the
// process exit code: one completed or interrupted capture makes the run
// acceptable.
func (r *RunReport) AllFailed() bool {
	if len(r.Outcomes) == 0 {
		return true
	}
	for _, o := range r.Outcomes {
		if !o.Status.Failure() {
			return false
		}
	}
	return true
}

// Orchestrator fans one resolution out into independent per-quality
// capture sessions and joins them into a report.
type Orchestrator struct {
	resolver Resolver
	capturer Capturer
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// New wires an orchestrator. notifier may be nil when nothing consumes
// progress events.
func New(resolver Resolver, capturer Capturer, notifier Notifier, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		resolver: resolver,
		capturer: capturer,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Run resolves the room once, then captures every requested quality
// concurrently. It always returns a report with exactly one outcome per
// requested quality; no session's failure aborts its siblings.
func (o *Orchestrator) Run(ctx context.Context, spec RunSpec) *RunReport {
	report := &RunReport{RunID: spec.RunID, StartedAt: o.now()}
	if report.RunID == uuid.Nil {
		report.RunID = uuid.New()
	}
	outcomes := make([]capture.Outcome, len(spec.Qualities))

	res, err := o.resolver.Resolve(ctx, spec.Query)
	if err != nil {
		// One shared failure fans out to every requested quality; the
		// room is never re-resolved per quality.
		status := capture.StatusResolutionFailed
		detail := err.Error()
		if errors.Is(err, context.Canceled) {
			status = capture.StatusInterrupted
			detail = ""
		}
		o.logger.Error("room resolution failed",
			zap.String("url", spec.Query.URL),
			zap.Error(err))
		for i, q := range spec.Qualities {
			outcomes[i] = capture.Outcome{
				Quality:     q,
				Status:      status,
				ErrorDetail: detail,
				StartedAt:   report.StartedAt,
			}
		}
		return o.finish(report, outcomes)
	}

	report.Meta = res.Meta
	if o.notifier != nil {
		o.notifier.RunResolved(res.Meta)
	}

	if res.Meta.Status != douyin.StatusLive {
		o.logger.Info("room is not broadcasting",
			zap.String("anchor", res.Meta.AnchorName),
			zap.String("status", res.Meta.Status.String()))
		for i, q := range spec.Qualities {
			outcomes[i] = capture.Outcome{
				Quality:   q,
				Status:    capture.StatusNotLive,
				StartedAt: report.StartedAt,
			}
		}
		return o.finish(report, outcomes)
	}

	// The output directory exists before any session starts; sessions
	// write disjoint files under it.
	if err := os.MkdirAll(spec.OutputDir, 0o750); err != nil {
		for i, q := range spec.Qualities {
			outcomes[i] = capture.Outcome{
				Quality:     q,
				Status:      capture.StatusCaptureFailed,
				ErrorDetail: "create output dir: " + err.Error(),
				StartedAt:   report.StartedAt,
			}
		}
		return o.finish(report, outcomes)
	}

	o.warnSharedEndpoints(res, spec.Qualities)

	var wg sync.WaitGroup
	for i, q := range spec.Qualities {
		o.notifyStarted(q)
		ep, ok := res.Endpoints[q]
		if !ok || !ep.Playable() {
			outcomes[i] = capture.Outcome{
				Quality:     q,
				Status:      capture.StatusCaptureFailed,
				ErrorDetail: "no stream url resolved for quality " + string(q),
				StartedAt:   o.now(),
			}
			o.notifyFinished(outcomes[i])
			continue
		}

		url := ep.BestURL()
		format := capture.FormatForURL(url)
		req := capture.Request{
			Quality:     q,
			URL:         url,
			OutputPath:  filepath.Join(spec.OutputDir, capture.OutputName(res.Meta.AnchorName, q, format, o.now())),
			Format:      format,
			DurationSec: spec.DurationSec,
		}
		wg.Add(1)
		go func(slot int, req capture.Request) {
			defer wg.Done()
			// Slots are disjoint per goroutine, so no lock is needed.
			outcomes[slot] = o.capturer.Capture(ctx, req)
			o.notifyFinished(outcomes[slot])
		}(i, req)
	}
	wg.Wait()

	return o.finish(report, outcomes)
}

func (o *Orchestrator) finish(report *RunReport, outcomes []capture.Outcome) *RunReport {
	report.Outcomes = outcomes
	report.FinishedAt = o.now()

	completed, failed := 0, 0
	for _, out := range outcomes {
		if out.Status.Failure() {
			failed++
		} else {
			completed++
		}
	}
	o.logger.Info("run finished",
		zap.String("anchor", report.Meta.AnchorName),
		zap.Int("acceptable", completed),
		zap.Int("failed", failed),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))
	return report
}

func (o *Orchestrator) notifyStarted(q douyin.Quality) {
	if o.notifier != nil {
		o.notifier.SessionStarted(q)
	}
}

func (o *Orchestrator) notifyFinished(out capture.Outcome) {
	if o.notifier != nil {
		o.notifier.SessionFinished(out)
	}
}

// warnSharedEndpoints flags requested qualities that resolved to one
// upstream URL. The captures still run; the files will just be identical.
func (o *Orchestrator) warnSharedEndpoints(res *douyin.Resolution, qualities []douyin.Quality) {
	byURL := make(map[string][]string)
	for _, q := range qualities {
		if ep, ok := res.Endpoints[q]; ok && ep.Playable() {
			byURL[ep.BestURL()] = append(byURL[ep.BestURL()], string(q))
		}
	}
	for url, shared := range byURL {
		if len(shared) > 1 {
			o.logger.Warn("qualities share one upstream url, captures will be identical",
				zap.Strings("qualities", shared),
				zap.String("url", url))
		}
	}
}
