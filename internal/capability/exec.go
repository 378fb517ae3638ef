package capability

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"time"
)

const (
	// DefaultToolTimeout is the maximum time an external tool can run before being killed
	DefaultToolTimeout = 5 * time.Minute

	// maxOutputSize is the maximum number of bytes to read from tool stdout/stderr (10MB)
	maxOutputSize = 10 * 1024 * 1024
)

// toolRun is the captured outcome of one external process.
type toolRun struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// runTool executes argv with input on stdin and captures its output.
// Returns an error if the process failed, timed out, or output exceeded limits.
// ExitCode is -1 when the process could not be started or was killed.
func runTool(ctx context.Context, argv []string, dir string, timeout time.Duration, input []byte) (*toolRun, error) {
	if len(argv) == 0 {
		return &toolRun{ExitCode: -1}, fmt.Errorf("command array is empty")
	}
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return &toolRun{ExitCode: -1}, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stdoutBuf := &bytes.Buffer{}
	stderrBuf := &bytes.Buffer{}
	cmd.Stdout = &limitedWriter{w: stdoutBuf, limit: maxOutputSize}
	cmd.Stderr = &limitedWriter{w: stderrBuf, limit: maxOutputSize}

	if err := cmd.Start(); err != nil {
		return &toolRun{ExitCode: -1}, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	go func() {
		defer stdinPipe.Close()
		if _, err := io.Copy(stdinPipe, bytes.NewReader(input)); err != nil {
			log.Printf("[WARN] Failed to write to stdin of %s: %v", argv[0], err)
		}
	}()

	err = cmd.Wait()

	run := &toolRun{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}

	if stdoutBuf.Len() >= maxOutputSize || stderrBuf.Len() >= maxOutputSize {
		run.ExitCode = -1
		return run, fmt.Errorf("tool output exceeded 10MB limit")
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && execCtx.Err() == nil {
			run.ExitCode = exitErr.ExitCode()
			return run, fmt.Errorf("%s exited with code %d: %s", argv[0], run.ExitCode, truncate(run.Stderr, 500))
		}
		run.ExitCode = -1
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return run, fmt.Errorf("tool execution timeout (%s)", timeout)
		}
		if execCtx.Err() != nil {
			return run, fmt.Errorf("tool execution cancelled: %w", execCtx.Err())
		}
		return run, err
	}

	return run, nil
}

// limitedWriter wraps a writer and enforces a size limit.
// Once the limit is reached, further writes are discarded.
type limitedWriter struct {
	w       io.Writer
	limit   int
	written int
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return len(p), nil
	}

	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}

	n, err = lw.w.Write(toWrite)
	lw.written += n
	return len(p), err
}

// truncate limits a string to maxLen bytes, appending "..." if truncated
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
