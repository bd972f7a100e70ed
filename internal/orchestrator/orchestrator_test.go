package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aseven02/streamget/internal/capture"
	"github.com/aseven02/streamget/internal/douyin"
)

type fakeResolver struct {
	res   *douyin.Resolution
	err   error
	calls int
}

func (f *fakeResolver) Resolve(ctx context.Context, q douyin.RoomQuery) (*douyin.Resolution, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

type fakeCapturer struct {
	mu      sync.Mutex
	reqs    []capture.Request
	outcome func(req capture.Request) capture.Outcome
}

func (f *fakeCapturer) Capture(ctx context.Context, req capture.Request) capture.Outcome {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.outcome != nil {
		return f.outcome(req)
	}
	return capture.Outcome{Quality: req.Quality, Status: capture.StatusCompleted, OutputPath: req.OutputPath}
}

func (f *fakeCapturer) captured() []capture.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capture.Request(nil), f.reqs...)
}

func liveResolution(qualities ...douyin.Quality) *douyin.Resolution {
	res := &douyin.Resolution{
		Meta: douyin.RoomMetadata{
			Status:     douyin.StatusLive,
			AnchorName: "anchor",
			Title:      "show",
		},
		Endpoints: map[douyin.Quality]douyin.StreamEndpoint{},
		Strategy:  "web",
	}
	for _, q := range qualities {
		res.Endpoints[q] = douyin.StreamEndpoint{
			Quality: q,
			FlvURL:  "http://pull.example/" + string(q) + ".flv",
		}
	}
	return res
}

func TestRunOfflineRoomWritesNothing(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "captures")
	resolver := &fakeResolver{res: &douyin.Resolution{
		Meta:      douyin.RoomMetadata{Status: douyin.StatusOffline, AnchorName: "anchor"},
		Endpoints: map[douyin.Quality]douyin.StreamEndpoint{},
	}}
	capturer := &fakeCapturer{}
	o := New(resolver, capturer, nil, nil)

	report := o.Run(context.Background(), RunSpec{
		Query:     douyin.RoomQuery{URL: "https://live.douyin.com/1"},
		Qualities: []douyin.Quality{douyin.QualityHigh},
		OutputDir: outDir,
	})

	if len(report.Outcomes) != 1 || report.Outcomes[0].Status != capture.StatusNotLive {
		t.Fatalf("outcomes = %+v, want one NOT_LIVE", report.Outcomes)
	}
	if got := capturer.captured(); len(got) != 0 {
		t.Errorf("capturer invoked %d times, want 0", len(got))
	}
	if _, err := os.Stat(outDir); !os.IsNotExist(err) {
		t.Errorf("output dir created for a non-live room")
	}
	if !report.AllFailed() {
		t.Error("not-live run should count as failed")
	}
}

func TestRunResolutionFailureFansOut(t *testing.T) {
	resolver := &fakeResolver{err: &douyin.ResolutionError{
		URL: "https://live.douyin.com/1",
		Failures: []douyin.StrategyFailure{
			{Strategy: "web", Cause: "unexpected status: 403"},
			{Strategy: "app", Cause: "room id not found"},
		},
	}}
	capturer := &fakeCapturer{}
	o := New(resolver, capturer, nil, nil)

	qs := []douyin.Quality{douyin.QualityHigh, douyin.QualityStd}
	report := o.Run(context.Background(), RunSpec{
		Query:     douyin.RoomQuery{URL: "https://live.douyin.com/1"},
		Qualities: qs,
		OutputDir: t.TempDir(),
	})

	if len(report.Outcomes) != len(qs) {
		t.Fatalf("outcomes = %d, want %d", len(report.Outcomes), len(qs))
	}
	for i, out := range report.Outcomes {
		if out.Quality != qs[i] {
			t.Errorf("outcome %d quality = %s, want %s", i, out.Quality, qs[i])
		}
		if out.Status != capture.StatusResolutionFailed {
			t.Errorf("outcome %d status = %s, want RESOLUTION_FAILED", i, out.Status)
		}
		if out.ErrorDetail != report.Outcomes[0].ErrorDetail {
			t.Error("resolution failure detail differs across qualities")
		}
		if !strings.Contains(out.ErrorDetail, "web:") || !strings.Contains(out.ErrorDetail, "app:") {
			t.Errorf("detail %q missing aggregated causes", out.ErrorDetail)
		}
	}
	if resolver.calls != 1 {
		t.Errorf("resolver called %d times, want 1", resolver.calls)
	}
	if got := capturer.captured(); len(got) != 0 {
		t.Errorf("capturer invoked %d times, want 0", len(got))
	}
	if !report.AllFailed() {
		t.Error("all-resolution-failed run should report AllFailed")
	}
}

func TestRunIsolatesSessionFailures(t *testing.T) {
	qs := []douyin.Quality{douyin.QualityOrigin, douyin.QualityHigh, douyin.QualityStd}
	resolver := &fakeResolver{res: liveResolution(qs...)}
	capturer := &fakeCapturer{outcome: func(req capture.Request) capture.Outcome {
		if req.Quality == douyin.QualityHigh {
			return capture.Outcome{
				Quality:     req.Quality,
				Status:      capture.StatusCaptureFailed,
				ErrorDetail: "connection reset",
			}
		}
		// Stagger completions so slower siblings finish after the failure.
		time.Sleep(10 * time.Millisecond)
		return capture.Outcome{Quality: req.Quality, Status: capture.StatusCompleted, OutputPath: req.OutputPath}
	}}
	o := New(resolver, capturer, nil, nil)

	report := o.Run(context.Background(), RunSpec{
		Query:     douyin.RoomQuery{URL: "https://live.douyin.com/1"},
		Qualities: qs,
		OutputDir: t.TempDir(),
	})

	if len(report.Outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(report.Outcomes))
	}
	wantStatus := []capture.Status{capture.StatusCompleted, capture.StatusCaptureFailed, capture.StatusCompleted}
	for i, out := range report.Outcomes {
		if out.Quality != qs[i] {
			t.Errorf("outcome %d quality = %s, want %s (request order)", i, out.Quality, qs[i])
		}
		if out.Status != wantStatus[i] {
			t.Errorf("outcome %d status = %s, want %s", i, out.Status, wantStatus[i])
		}
	}
	if report.Outcomes[1].ErrorDetail != "connection reset" {
		t.Errorf("failed outcome detail = %q", report.Outcomes[1].ErrorDetail)
	}
	if report.AllFailed() {
		t.Error("run with completed captures reported AllFailed")
	}
}

func TestRunMissingEndpointFailsOnlyThatQuality(t *testing.T) {
	qs := []douyin.Quality{douyin.QualityHigh, douyin.QualityStd}
	// Only HD resolves; SD is absent from the endpoint map.
	resolver := &fakeResolver{res: liveResolution(douyin.QualityHigh)}
	capturer := &fakeCapturer{}
	o := New(resolver, capturer, nil, nil)

	report := o.Run(context.Background(), RunSpec{
		Query:     douyin.RoomQuery{URL: "https://live.douyin.com/1"},
		Qualities: qs,
		OutputDir: t.TempDir(),
	})

	if report.Outcomes[0].Status != capture.StatusCompleted {
		t.Errorf("HD status = %s, want COMPLETED", report.Outcomes[0].Status)
	}
	if report.Outcomes[1].Status != capture.StatusCaptureFailed {
		t.Errorf("SD status = %s, want CAPTURE_FAILED", report.Outcomes[1].Status)
	}
	if !strings.Contains(report.Outcomes[1].ErrorDetail, "no stream url") {
		t.Errorf("SD detail = %q", report.Outcomes[1].ErrorDetail)
	}
	got := capturer.captured()
	if len(got) != 1 || got[0].Quality != douyin.QualityHigh {
		t.Errorf("captured = %+v, want only HD", got)
	}
}

func TestRunBuildsRequestsUnderOutputDir(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "nested", "captures")
	resolver := &fakeResolver{res: liveResolution(douyin.QualityHigh)}
	capturer := &fakeCapturer{}
	o := New(resolver, capturer, nil, nil)

	o.Run(context.Background(), RunSpec{
		Query:       douyin.RoomQuery{URL: "https://live.douyin.com/1"},
		Qualities:   []douyin.Quality{douyin.QualityHigh},
		OutputDir:   outDir,
		DurationSec: 45,
	})

	if info, err := os.Stat(outDir); err != nil || !info.IsDir() {
		t.Fatalf("output dir not created: %v", err)
	}
	got := capturer.captured()
	if len(got) != 1 {
		t.Fatalf("captured = %d requests, want 1", len(got))
	}
	req := got[0]
	if filepath.Dir(req.OutputPath) != outDir {
		t.Errorf("output path %q not under %q", req.OutputPath, outDir)
	}
	base := filepath.Base(req.OutputPath)
	if !strings.HasPrefix(base, "anchor_HD_") || !strings.HasSuffix(base, ".flv") {
		t.Errorf("output name = %q", base)
	}
	if req.DurationSec != 45 {
		t.Errorf("duration = %d, want 45", req.DurationSec)
	}
	if req.Format != capture.FormatFLV {
		t.Errorf("format = %s, want flv", req.Format)
	}
}

func TestRunCancelledDuringResolution(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resolver := &fakeResolver{err: context.Canceled}
	capturer := &fakeCapturer{}
	o := New(resolver, capturer, nil, nil)

	report := o.Run(ctx, RunSpec{
		Query:     douyin.RoomQuery{URL: "https://live.douyin.com/1"},
		Qualities: []douyin.Quality{douyin.QualityHigh},
		OutputDir: t.TempDir(),
	})
	if report.Outcomes[0].Status != capture.StatusInterrupted {
		t.Errorf("status = %s, want INTERRUPTED", report.Outcomes[0].Status)
	}
	if report.AllFailed() {
		t.Error("interrupted run reported AllFailed")
	}
}

func TestRunReportAllFailed(t *testing.T) {
	cases := []struct {
		name     string
		statuses []capture.Status
		want     bool
	}{
		{"empty", nil, true},
		{"all capture failed", []capture.Status{capture.StatusCaptureFailed, capture.StatusCaptureFailed}, true},
		{"one completed", []capture.Status{capture.StatusCaptureFailed, capture.StatusCompleted}, false},
		{"one interrupted", []capture.Status{capture.StatusNotLive, capture.StatusInterrupted}, false},
		{"all not live", []capture.Status{capture.StatusNotLive}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := &RunReport{}
			for _, s := range tc.statuses {
				r.Outcomes = append(r.Outcomes, capture.Outcome{Status: s})
			}
			if got := r.AllFailed(); got != tc.want {
				t.Errorf("AllFailed = %v, want %v", got, tc.want)
			}
		})
	}
}

type recordingNotifier struct {
	mu       sync.Mutex
	resolved []douyin.RoomMetadata
	started  []douyin.Quality
	finished []capture.Outcome
}

func (n *recordingNotifier) RunResolved(meta douyin.RoomMetadata) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resolved = append(n.resolved, meta)
}

func (n *recordingNotifier) SessionStarted(q douyin.Quality) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, q)
}

func (n *recordingNotifier) SessionFinished(out capture.Outcome) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished = append(n.finished, out)
}

func TestRunNotifiesProgress(t *testing.T) {
	qs := []douyin.Quality{douyin.QualityHigh, douyin.QualityStd}
	resolver := &fakeResolver{res: liveResolution(qs...)}
	notifier := &recordingNotifier{}
	o := New(resolver, &fakeCapturer{}, notifier, nil)

	o.Run(context.Background(), RunSpec{
		Query:     douyin.RoomQuery{URL: "https://live.douyin.com/1"},
		Qualities: qs,
		OutputDir: t.TempDir(),
	})

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.resolved) != 1 {
		t.Errorf("resolved events = %d, want 1", len(notifier.resolved))
	}
	if len(notifier.started) != len(qs) {
		t.Errorf("started events = %d, want %d", len(notifier.started), len(qs))
	}
	if len(notifier.finished) != len(qs) {
		t.Errorf("finished events = %d, want %d", len(notifier.finished), len(qs))
	}
}
