// Package agent exposes the capture engine over HTTP: submit a room URL,
// watch session events, fetch the run report.
package agent

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aseven02/streamget/internal/capture"
	"github.com/aseven02/streamget/internal/douyin"
	"github.com/aseven02/streamget/internal/history"
	"github.com/aseven02/streamget/internal/orchestrator"
	"github.com/aseven02/streamget/internal/progress"
	"github.com/aseven02/streamget/pkg/metrics"
	"github.com/aseven02/streamget/pkg/queue"
	"github.com/aseven02/streamget/pkg/response"
)

// Runner starts one capture run and blocks until it finishes.
type Runner interface {
	Run(ctx context.Context, spec orchestrator.RunSpec) *orchestrator.RunReport
}

// HistoryStore persists and lists finished runs.
type HistoryStore interface {
	InsertRun(ctx context.Context, roomURL string, report *orchestrator.RunReport) error
	GetRun(ctx context.Context, id uuid.UUID) (*history.Run, error)
	ListRecent(ctx context.Context, limit int) ([]history.Run, error)
}

// ArchiveEnqueuer queues completed capture files for upload.
type ArchiveEnqueuer interface {
	EnqueueArchiveUpload(ctx context.Context, payload queue.ArchiveUploadPayload) error
}

// Config holds per-run defaults for agent-submitted captures.
type Config struct {
	OutputDir        string
	Cookies          string
	DefaultQualities []douyin.Quality
}

// Handler serves the capture API.
type Handler struct {
	cfg      Config
	registry *Registry
	runner   Runner
	hub      *progress.Hub
	metrics  *metrics.Metrics
	history  HistoryStore
	archive  ArchiveEnqueuer
	// baseCtx bounds every run the agent spawns; cancelling it on
	// shutdown interrupts in-flight sessions.
	baseCtx context.Context
	logger  *zap.Logger
}

// NewHandler creates the capture API handler. history and archive may be
// nil when those features are not configured.
func NewHandler(cfg Config, registry *Registry, runner Runner, hub *progress.Hub, m *metrics.Metrics, hist HistoryStore, arch ArchiveEnqueuer, baseCtx context.Context, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		cfg:      cfg,
		registry: registry,
		runner:   runner,
		hub:      hub,
		metrics:  m,
		history:  hist,
		archive:  arch,
		baseCtx:  baseCtx,
		logger:   logger,
	}
}

// Engine builds one orchestrator per job so each run's notifier carries
// the job id into events.
type Engine struct {
	resolver orchestrator.Resolver
	capturer orchestrator.Capturer
	hub      *progress.Hub
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewEngine wires the shared resolver and capturer into a per-job Runner
// factory.
func NewEngine(resolver orchestrator.Resolver, capturer orchestrator.Capturer, hub *progress.Hub, m *metrics.Metrics, logger *zap.Logger) *Engine {
	return &Engine{resolver: resolver, capturer: capturer, hub: hub, metrics: m, logger: logger}
}

// Run executes one capture run with a job-scoped notifier.
func (e *Engine) Run(ctx context.Context, spec orchestrator.RunSpec) *orchestrator.RunReport {
	notifier := &hubNotifier{
		runID:   spec.RunID,
		roomURL: spec.Query.URL,
		hub:     e.hub,
		metrics: e.metrics,
	}
	return orchestrator.New(e.resolver, e.capturer, notifier, e.logger).Run(ctx, spec)
}

type createRequest struct {
	URL         string   `json:"url" binding:"required"`
	Qualities   []string `json:"qualities"`
	DurationSec int      `json:"duration_sec"`
	Cookies     string   `json:"cookies"`
}

type jobView struct {
	Job
	Report *reportView `json:"report,omitempty"`
}

type reportView struct {
	RunID      uuid.UUID         `json:"run_id"`
	AnchorName string            `json:"anchor_name,omitempty"`
	Title      string            `json:"title,omitempty"`
	RoomStatus string            `json:"room_status"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Outcomes   []capture.Outcome `json:"outcomes"`
}

func viewOf(job Job) jobView {
	v := jobView{Job: job}
	if job.Report != nil {
		v.Report = &reportView{
			RunID:      job.Report.RunID,
			AnchorName: job.Report.Meta.AnchorName,
			Title:      job.Report.Meta.Title,
			RoomStatus: job.Report.Meta.Status.String(),
			StartedAt:  job.Report.StartedAt,
			FinishedAt: job.Report.FinishedAt,
			Outcomes:   job.Report.Outcomes,
		}
	}
	return v
}

// Create accepts a capture run and starts it in the background.
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	qualities := make([]douyin.Quality, 0, len(req.Qualities))
	for _, raw := range req.Qualities {
		q, err := douyin.ParseQuality(raw)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		qualities = append(qualities, q)
	}
	if len(qualities) == 0 {
		qualities = h.cfg.DefaultQualities
	}
	if len(qualities) == 0 {
		qualities = []douyin.Quality{douyin.QualityOrigin}
	}
	if req.DurationSec < 0 {
		response.BadRequest(c, "duration_sec must not be negative")
		return
	}

	cookies := req.Cookies
	if cookies == "" {
		cookies = h.cfg.Cookies
	}

	ctx, cancel := context.WithCancel(h.baseCtx)
	job := &Job{
		ID:          uuid.New(),
		RoomURL:     req.URL,
		Qualities:   qualities,
		DurationSec: req.DurationSec,
		State:       JobStateRunning,
		CreatedAt:   time.Now(),
		cancel:      cancel,
	}
	h.registry.Add(job)

	// Snapshot the accepted state before the run goroutine exists: once it
	// starts, Finish may mutate the job concurrently.
	accepted := viewOf(*job)

	go h.runJob(ctx, cancel, job, cookies)

	h.logger.Info("capture job accepted",
		zap.String("job_id", accepted.ID.String()),
		zap.String("url", accepted.RoomURL),
		zap.Int("qualities", len(accepted.Qualities)))
	response.Accepted(c, accepted)
}

func (h *Handler) runJob(ctx context.Context, cancel context.CancelFunc, job *Job, cookies string) {
	defer cancel()

	report := h.runner.Run(ctx, orchestrator.RunSpec{
		RunID:       job.ID,
		Query:       douyin.RoomQuery{URL: job.RoomURL, Cookies: cookies},
		Qualities:   job.Qualities,
		OutputDir:   h.cfg.OutputDir,
		DurationSec: job.DurationSec,
	})
	h.registry.Finish(job.ID, report)
	h.metrics.RunFinished(report.AllFailed())
	h.hub.Publish(progress.Event{
		Type:       progress.EventRunFinished,
		RunID:      job.ID,
		RoomURL:    job.RoomURL,
		AnchorName: report.Meta.AnchorName,
		RoomStatus: report.Meta.Status.String(),
	})

	// The run ctx may already be cancelled; persistence and archival use
	// their own bounded context so a user abort still leaves a record.
	tailCtx, tailCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer tailCancel()

	if h.history != nil {
		if err := h.history.InsertRun(tailCtx, job.RoomURL, report); err != nil {
			h.logger.Error("persist run failed",
				zap.String("job_id", job.ID.String()), zap.Error(err))
		}
	}
	if h.archive != nil {
		for _, out := range report.Outcomes {
			if out.Status != capture.StatusCompleted {
				continue
			}
			err := h.archive.EnqueueArchiveUpload(tailCtx, queue.ArchiveUploadPayload{
				RunID:      report.RunID,
				Quality:    string(out.Quality),
				AnchorName: report.Meta.AnchorName,
				FilePath:   out.OutputPath,
			})
			if err != nil {
				h.logger.Error("enqueue archive failed",
					zap.String("job_id", job.ID.String()),
					zap.String("quality", string(out.Quality)),
					zap.Error(err))
			}
		}
	}
}

// List returns all jobs, newest first.
func (h *Handler) List(c *gin.Context) {
	jobs := h.registry.List()
	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, viewOf(job))
	}
	response.OK(c, views)
}

// Get returns one job with its report when finished.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid job id")
		return
	}
	job, ok := h.registry.Get(id)
	if !ok {
		response.NotFound(c, "job not found")
		return
	}
	response.OK(c, viewOf(job))
}

// Cancel interrupts one running job. Sessions keep their partial files.
func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid job id")
		return
	}
	if !h.registry.Cancel(id) {
		job, ok := h.registry.Get(id)
		if !ok {
			response.NotFound(c, "job not found")
			return
		}
		response.Conflict(c, "job already "+string(job.State))
		return
	}
	response.OK(c, gin.H{"cancelling": id})
}

// ListHistory returns recent persisted runs.
func (h *Handler) ListHistory(c *gin.Context) {
	if h.history == nil {
		response.ServiceUnavailable(c, "run history not configured")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.history.ListRecent(c.Request.Context(), limit)
	if err != nil {
		response.Internal(c, "list runs: "+err.Error())
		return
	}
	response.OK(c, runs)
}

// GetHistory returns one persisted run with its outcomes.
func (h *Handler) GetHistory(c *gin.Context) {
	if h.history == nil {
		response.ServiceUnavailable(c, "run history not configured")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid run id")
		return
	}
	run, err := h.history.GetRun(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "get run: "+err.Error())
		return
	}
	if run == nil {
		response.NotFound(c, "run not found")
		return
	}
	response.OK(c, run)
}
