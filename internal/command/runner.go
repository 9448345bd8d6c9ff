// Package command runs external programs with their output captured in
// memory.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dpolishuk/apidocs/internal/logging"
	"github.com/dpolishuk/apidocs/internal/metrics"
)

// DefaultWaitDelay bounds how long Wait keeps draining pipes after the
// child was killed on cancellation.
const DefaultWaitDelay = 5 * time.Second

// Result is the captured outcome of one run.
type Result struct {
	// Output is stdout and stderr interleaved in arrival order.
	Output []byte
	// Stdout is the standard output stream alone.
	Stdout   []byte
	ExitCode int
	Duration time.Duration
}

// SpawnError reports that the program could not be started at all.
type SpawnError struct {
	Program string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Program, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Runner abstracts process execution so callers can be tested with fakes.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (Result, error)
}

// ExecRunner runs programs through os/exec.
type ExecRunner struct {
	logger    *zap.Logger
	waitDelay time.Duration
}

func NewExecRunner(logger *zap.Logger) *ExecRunner {
	return &ExecRunner{
		logger:    logging.Component(logger, "command"),
		waitDelay: DefaultWaitDelay,
	}
}

// Run starts name with args in dir and waits for it. A non-zero exit is
// reported through Result.ExitCode, not as an error. Errors are returned
// for spawn failures (*SpawnError) and for context cancellation, in which
// case the child has been killed and ctx.Err() is wrapped.
func (r *ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = r.waitDelay

	var merged lockedBuffer
	var stdout bytes.Buffer
	cmd.Stdout = &teeWriter{primary: &stdout, merged: &merged}
	cmd.Stderr = &merged

	program := filepath.Base(name)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		metrics.IncCommand(program, "spawn_error")
		return Result{}, &SpawnError{Program: name, Err: err}
	}

	waitErr := cmd.Wait()
	res := Result{
		Output:   merged.Bytes(),
		Stdout:   stdout.Bytes(),
		ExitCode: cmd.ProcessState.ExitCode(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		metrics.IncCommand(program, "interrupted")
		r.logger.Warn("command interrupted",
			zap.String("program", name),
			zap.Strings("args", args),
			zap.Duration("duration", res.Duration),
			zap.Error(ctxErr))
		return res, fmt.Errorf("%s interrupted: %w", program, ctxErr)
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		// Pipe copy failures or WaitDelay expiry; the exit code is still
		// meaningful, so surface the error alongside it.
		metrics.IncCommand(program, "wait_error")
		return res, fmt.Errorf("waiting for %s: %w", program, waitErr)
	}

	metrics.IncCommand(program, "exit_"+strconv.Itoa(res.ExitCode))
	r.logger.Debug("command finished",
		zap.String("program", name),
		zap.Strings("args", args),
		zap.String("dir", dir),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// lockedBuffer serialises writes from the stdout and stderr copiers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}

type teeWriter struct {
	primary *bytes.Buffer
	merged  *lockedBuffer
}

func (w *teeWriter) Write(p []byte) (int, error) {
	w.primary.Write(p)
	return w.merged.Write(p)
}
