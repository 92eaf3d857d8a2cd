package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/seqpipe/seqpipe/internal/pipeline"
)

// Local runs jobs as subprocesses through `sh -c` in the job's working
// directory. This is the development and single-machine backend.
type Local struct{}

// NewLocal creates a local subprocess backend.
func NewLocal() *Local { return &Local{} }

func (l *Local) Name() string { return "local" }

// Submit runs the job command to completion.
func (l *Local) Submit(ctx context.Context, job JobSpec) (JobResult, error) {
	if err := os.MkdirAll(job.WorkDir, 0o755); err != nil {
		return JobResult{}, pipeline.NewTransientError(job.InstanceID, "creating working directory", err)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if job.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	stdout, err := os.Create(filepath.Join(job.WorkDir, StdoutFile))
	if err != nil {
		return JobResult{}, pipeline.NewTransientError(job.InstanceID, "creating stdout capture", err)
	}
	defer stdout.Close()
	stderr, err := os.Create(filepath.Join(job.WorkDir, StderrFile))
	if err != nil {
		return JobResult{}, pipeline.NewTransientError(job.InstanceID, "creating stderr capture", err)
	}
	defer stderr.Close()

	cmd := exec.CommandContext(runCtx, "sh", "-c", job.Command)
	cmd.Dir = job.WorkDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()

	result := JobResult{
		StdoutPath: stdout.Name(),
		StderrPath: stderr.Name(),
	}

	if runErr != nil {
		// Deadline overrun takes precedence: the kill signal makes the
		// process exit non-zero, which must not read as a tool failure.
		if job.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return result, pipeline.NewTimeoutError(job.InstanceID,
				fmt.Sprintf("exceeded wall-clock budget %s (ran %s)", job.Timeout, time.Since(start).Round(time.Millisecond)))
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, pipeline.NewExecError(job.InstanceID,
				fmt.Sprintf("command exited %d: %s", result.ExitCode, tailFile(result.StderrPath, 2048)), nil)
		}
		// Could not start at all (sh missing, fork failure): infrastructure.
		return result, pipeline.NewTransientError(job.InstanceID, "starting command", runErr)
	}

	produced, err := collectOutputs(job)
	if err != nil {
		return result, err
	}
	result.Produced = produced
	return result, nil
}
