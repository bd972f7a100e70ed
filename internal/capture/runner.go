package capture

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// stderrTailLimit bounds the diagnostic slice kept from the tool's
	// stderr so outcome details stay one log line.
	stderrTailLimit = 200
	// graceWait is how long an interrupted process gets to finalize its
	// output file before being killed.
	graceWait = 10 * time.Second
)

// Command describes one external process invocation.
type Command struct {
	Path string
	Args []string
}

// Result is what a runner reports once the process reaches a terminal
// state.
type Result struct {
	ExitCode   int
	StderrTail string
}

// Runner launches and supervises one external process to termination.
// Implementations must honor ctx: on cancellation, interrupt the process,
// give it time to shut down cleanly, and return ctx's error so callers can
// tell interruption from process failure.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// LaunchError means the tool could not be started at all.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string { return fmt.Sprintf("launch %s: %v", e.Path, e.Err) }
func (e *LaunchError) Unwrap() error { return e.Err }

// ProcessError means the tool ran and exited non-zero.
type ProcessError struct {
	ExitCode   int
	StderrTail string
}

func (e *ProcessError) Error() string {
	if e.StderrTail == "" {
		return fmt.Sprintf("exit status %d", e.ExitCode)
	}
	return fmt.Sprintf("exit status %d: %s", e.ExitCode, e.StderrTail)
}

// ExecRunner supervises real processes. On context cancellation it sends
// an interrupt first so the tool can finalize the output file, then kills
// after graceWait.
type ExecRunner struct {
	logger *zap.Logger
}

func NewExecRunner(logger *zap.Logger) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{logger: logger}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	tail := newTailWriter(stderrTailLimit)
	// Plain Command, not CommandContext: cancellation must interrupt the
	// tool rather than kill it, or the output file loses its trailer.
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Stdout = nil
	cmd.Stderr = tail
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, &LaunchError{Path: c.Path, Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		res := Result{ExitCode: exitCode(cmd), StderrTail: tail.String()}
		if err != nil {
			return res, &ProcessError{ExitCode: res.ExitCode, StderrTail: res.StderrTail}
		}
		return res, nil
	case <-ctx.Done():
		_ = cmd.Process.Signal(os.Interrupt)
		select {
		case <-done:
		case <-time.After(graceWait):
			r.logger.Warn("process ignored interrupt, killing",
				zap.String("path", c.Path))
			_ = cmd.Process.Kill()
			<-done
		}
		return Result{ExitCode: exitCode(cmd), StderrTail: tail.String()}, ctx.Err()
	}
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

// tailWriter keeps only the last n bytes written through it.
type tailWriter struct {
	mu  sync.Mutex
	n   int
	buf []byte
}

func newTailWriter(n int) *tailWriter { return &tailWriter{n: n} }

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	if len(w.buf) > w.n {
		w.buf = w.buf[len(w.buf)-w.n:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.TrimSpace(string(w.buf))
}
