// Package executor launches the external interpreter process that actually
// runs a workflow graph. The orchestrator depends only on the Runner
// interface so the subprocess can be swapped for an in-process interpreter
// or a queued worker without changing its contract.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// DefaultMaxCapture bounds the bytes retained from each of the child's
// output streams. A misbehaving child can write forever; everything past
// the cap is counted but discarded.
const DefaultMaxCapture = 10 << 20 // 10 MiB

// Invocation carries the positional-argument contract of the interpreter:
// workflow JSON, input JSON, execution id and the store connection string,
// in that order.
type Invocation struct {
	WorkflowJSON []byte
	InputJSON    []byte
	ExecutionID  string
	StoreDSN     string
}

// Result is the captured outcome of one interpreter process.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner runs one executor process per call and blocks until it has fully
// exited and both output streams are closed.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

// ProcessRunner spawns the configured interpreter binary with the script as
// its first argument, the invocation as positional arguments, and the parent
// environment plus the forwarded AI-provider key.
type ProcessRunner struct {
	// Interpreter is the binary, e.g. python3.
	Interpreter string
	// Script is the interpreter entrypoint path.
	Script string
	// OpenAIAPIKey, when set, is forwarded as OPENAI_API_KEY.
	OpenAIAPIKey string
	// MaxCapture caps the retained bytes per stream; zero means
	// DefaultMaxCapture.
	MaxCapture int
}

// Run implements Runner. A non-zero exit code is reported via the Result,
// not as an error; errors are reserved for spawn failures and context
// cancellation (including timeout).
func (r *ProcessRunner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	maxCapture := r.MaxCapture
	if maxCapture <= 0 {
		maxCapture = DefaultMaxCapture
	}

	cmd := exec.CommandContext(ctx, r.Interpreter, r.Script,
		string(inv.WorkflowJSON), string(inv.InputJSON), inv.ExecutionID, inv.StoreDSN)
	cmd.Env = os.Environ()
	if r.OpenAIAPIKey != "" {
		cmd.Env = append(cmd.Env, "OPENAI_API_KEY="+r.OpenAIAPIKey)
	}

	stdout := newCappedBuffer(maxCapture)
	stderr := newCappedBuffer(maxCapture)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start executor process: %w", err)
	}

	err := cmd.Wait()
	// Waiting returns only after both pipes are drained, so a terminal
	// outcome is never computed from a process that is still writing.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &Result{
				Stdout:   stdout.Bytes(),
				Stderr:   stderr.Bytes(),
				ExitCode: exitErr.ExitCode(),
			}, nil
		}
		return nil, fmt.Errorf("executor process failed: %w", err)
	}

	return &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
}
