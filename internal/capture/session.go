package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// Session drives one external capture process per request and classifies
// its terminal state. One Session is safe to share across concurrent
// captures: it holds no per-request state.
type Session struct {
	runner     Runner
	ffmpegPath string
	logger     *zap.Logger
}

// NewSession creates a capture session driver. A nil runner gets the real
// process runner; ffmpegPath defaults to the tool on PATH.
func NewSession(runner Runner, ffmpegPath string, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runner == nil {
		runner = NewExecRunner(logger)
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Session{runner: runner, ffmpegPath: ffmpegPath, logger: logger}
}

// Capture runs one session to a terminal state. It never returns an
// error: failures are classified into the outcome so sibling sessions
// stay unaffected.
func (s *Session) Capture(ctx context.Context, req Request) Outcome {
	out := Outcome{
		Quality:    req.Quality,
		OutputPath: req.OutputPath,
		StartedAt:  time.Now(),
	}
	log := s.logger.With(
		zap.String("quality", string(req.Quality)),
		zap.String("output", req.OutputPath),
	)
	log.Info("capture starting",
		zap.String("format", string(req.Format)),
		zap.Int("duration_sec", req.DurationSec))

	res, err := s.runner.Run(ctx, Command{Path: s.ffmpegPath, Args: ffmpegArgs(req)})
	out.Elapsed = time.Since(out.StartedAt)
	out.BytesWritten = fileSize(req.OutputPath)

	switch {
	case err == nil:
		out.Status = StatusCompleted
		log.Info("capture completed",
			zap.Int64("bytes", out.BytesWritten),
			zap.Duration("elapsed", out.Elapsed))
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Not a fault: the partial file is kept in place.
		out.Status = StatusInterrupted
		log.Info("capture interrupted",
			zap.Int64("bytes", out.BytesWritten),
			zap.Duration("elapsed", out.Elapsed))
	default:
		out.Status = StatusCaptureFailed
		out.ErrorDetail = res.StderrTail
		if out.ErrorDetail == "" {
			out.ErrorDetail = err.Error()
		}
		log.Warn("capture failed",
			zap.Int("exit_code", res.ExitCode),
			zap.String("detail", out.ErrorDetail))
	}
	return out
}

// ffmpegArgs builds the stream-copy invocation: no re-encode, container
// forced by the endpoint shape, ADTS audio repacked only when muxing a
// segmented source into mp4, self-limited duration only when requested.
func ffmpegArgs(req Request) []string {
	args := []string{"-i", req.URL, "-c", "copy"}
	if req.Format == FormatMP4 {
		args = append(args, "-bsf:a", "aac_adtstoasc")
	}
	if req.DurationSec > 0 {
		args = append(args, "-t", fmt.Sprintf("%d", req.DurationSec))
	}
	return append(args, "-f", string(req.Format), "-y", req.OutputPath)
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
