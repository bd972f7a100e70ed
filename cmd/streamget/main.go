// Package main captures one or more quality variants of a live room to
// local files in a single bounded run.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aseven02/streamget/config"
	"github.com/aseven02/streamget/internal/archive"
	"github.com/aseven02/streamget/internal/capture"
	"github.com/aseven02/streamget/internal/douyin"
	"github.com/aseven02/streamget/internal/history"
	"github.com/aseven02/streamget/internal/lifecycle"
	"github.com/aseven02/streamget/internal/orchestrator"
	"github.com/aseven02/streamget/pkg/database"
	"github.com/aseven02/streamget/pkg/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	urlFlag := flag.String("url", "", "live room URL (required)")
	outFlag := flag.String("out", "", "output directory (default CAPTURE_OUTPUT_DIR or ./downloads)")
	qualityFlag := flag.String("quality", "", "comma-separated quality labels: OD, UHD, HD, SD, LD")
	durationFlag := flag.Int("duration", 0, "capture duration in seconds, 0 = until the stream ends")
	cookiesFlag := flag.String("cookies", "", "cookie header forwarded to the resolver")
	ffmpegFlag := flag.String("ffmpeg", "", "path to the ffmpeg binary")
	flag.Parse()

	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", zap.Error(err))
		return 1
	}

	if *urlFlag == "" {
		fmt.Fprintln(os.Stderr, "streamget: -url is required")
		flag.Usage()
		return 2
	}

	outputDir := cfg.Capture.OutputDir
	if *outFlag != "" {
		outputDir = *outFlag
	}
	ffmpegPath := cfg.Capture.FFmpegPath
	if *ffmpegFlag != "" {
		ffmpegPath = *ffmpegFlag
	}
	cookies := cfg.Douyin.Cookies
	if *cookiesFlag != "" {
		cookies = *cookiesFlag
	}

	labels := cfg.Capture.Qualities
	if *qualityFlag != "" {
		labels = strings.Split(*qualityFlag, ",")
	}
	qualities := make([]douyin.Quality, 0, len(labels))
	for _, raw := range labels {
		q, err := douyin.ParseQuality(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "streamget: %v\n", err)
			return 2
		}
		qualities = append(qualities, q)
	}
	if len(qualities) == 0 {
		qualities = []douyin.Quality{douyin.QualityOrigin}
	}

	ctx, stop := signal.NotifyContext(context.Background(), lifecycle.TerminationSignals()...)
	defer stop()

	resolver := douyin.NewResolver(douyin.ResolverConfig{
		WebBaseURL: cfg.Douyin.WebBaseURL,
		AppBaseURL: cfg.Douyin.AppBaseURL,
	}, logger)
	session := capture.NewSession(nil, ffmpegPath, logger)
	orch := orchestrator.New(resolver, session, nil, logger)

	report := orch.Run(ctx, orchestrator.RunSpec{
		Query:       douyin.RoomQuery{URL: *urlFlag, Cookies: cookies},
		Qualities:   qualities,
		OutputDir:   outputDir,
		DurationSec: *durationFlag,
	})

	persistAndArchive(cfg, report, *urlFlag, logger)
	printReport(report)

	if report.AllFailed() {
		return 1
	}
	return 0
}

// persistAndArchive records the run in history and uploads completed
// files when those features are configured. Uses a fresh context: the
// run context may already be cancelled by the interrupt that ended it.
func persistAndArchive(cfg *config.Config, report *orchestrator.RunReport, roomURL string, logger *zap.Logger) {
	if !cfg.Database.Enabled() && !cfg.AWS.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var repo *history.Repository
	if cfg.Database.Enabled() {
		pool, err := database.NewPostgresPool(ctx, cfg.Database.URL, logger)
		if err != nil {
			logger.Error("database", zap.Error(err))
		} else {
			defer pool.Close()
			if err := database.Migrate(ctx, pool); err != nil {
				logger.Error("migrate", zap.Error(err))
			} else {
				repo = history.NewRepository(pool)
				if err := repo.InsertRun(ctx, roomURL, report); err != nil {
					logger.Error("persist run", zap.Error(err))
				}
			}
		}
	}

	if !cfg.AWS.Enabled() {
		return
	}
	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		Bucket:          cfg.AWS.Bucket,
	}, logger)
	if err != nil {
		logger.Error("s3", zap.Error(err))
		return
	}
	var marker archive.HistoryMarker
	if repo != nil {
		marker = repo
	}
	archiver := archive.NewArchiver(s3Client, marker, nil, logger)
	for _, out := range report.Outcomes {
		if out.Status != capture.StatusCompleted {
			continue
		}
		if _, err := archiver.ArchiveFile(ctx, report.RunID, string(out.Quality), report.Meta.AnchorName, out.OutputPath); err != nil {
			logger.Error("archive", zap.String("quality", string(out.Quality)), zap.Error(err))
		}
	}
}

func printReport(report *orchestrator.RunReport) {
	if report.Meta.AnchorName != "" {
		fmt.Printf("room: %s (%s)\n", report.Meta.AnchorName, report.Meta.Status)
	}
	for _, out := range report.Outcomes {
		line := fmt.Sprintf("%-4s %s", out.Quality, out.Status)
		if out.OutputPath != "" && !out.Status.Failure() {
			line += "  " + out.OutputPath
		}
		if out.BytesWritten > 0 {
			line += fmt.Sprintf("  (%d bytes)", out.BytesWritten)
		}
		if out.ErrorDetail != "" {
			line += "  " + out.ErrorDetail
		}
		fmt.Println(line)
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
