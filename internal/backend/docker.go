package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/seqpipe/seqpipe/internal/pipeline"
)

// Docker runs jobs inside a container via the docker CLI, bind-mounting
// the working directory and every bound input's directory at their host
// paths so the resolved command, output collection, and stream capture
// work the same as on the local backend.
type Docker struct {
	// DefaultImage is used when a template declares no container.
	DefaultImage string
}

// NewDocker creates a containerized local backend.
func NewDocker(defaultImage string) *Docker {
	return &Docker{DefaultImage: defaultImage}
}

func (d *Docker) Name() string { return "docker" }

// Exit codes reserved by the docker CLI for its own failures, as opposed
// to the containerized command's exit status.
//
//	125 daemon/run error, 126 command not executable, 127 command not found
func dockerCLIFailure(code int) bool {
	return code == 125
}

// runArgs assembles the docker run argument vector. The working directory
// is mounted read-write at its own host path and the container starts
// there, so relative output globs resolve the same as on the local
// backend. Every input artifact's directory is mounted read-only at its
// host path: the resolved command carries absolute host paths to upstream
// scratch files and raw reads, and those paths must exist inside the
// container unchanged. Mounts use --mount rather than -v because instance
// working directories contain a colon.
func runArgs(job JobSpec, absWork, image string) []string {
	args := []string{"run", "--rm",
		"--mount", "type=bind,source=" + absWork + ",target=" + absWork,
		"-w", absWork}
	for _, dir := range inputMounts(job.InputPaths, absWork) {
		args = append(args, "--mount", "type=bind,source="+dir+",target="+dir+",readonly")
	}
	if job.Resources.CPUs > 0 {
		args = append(args, "--cpus", fmt.Sprintf("%d", job.Resources.CPUs))
	}
	if job.Resources.MemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", job.Resources.MemoryMB))
	}
	return append(args, image, "sh", "-c", job.Command)
}

// inputMounts returns the sorted distinct parent directories of the input
// paths. Paths already visible under the workdir mount are skipped, as are
// non-filesystem addresses (object store URIs), which no bind mount could
// serve.
func inputMounts(paths []string, absWork string) []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			continue
		}
		dir := filepath.Dir(p)
		if seen[dir] || dir == absWork || strings.HasPrefix(dir, absWork+string(filepath.Separator)) {
			continue
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

// Submit wraps the job command in `docker run` with resource flags mapped
// from the template's hints.
func (d *Docker) Submit(ctx context.Context, job JobSpec) (JobResult, error) {
	image := job.Image
	if image == "" {
		image = d.DefaultImage
	}
	if image == "" {
		return JobResult{}, pipeline.NewConfigError("instance %s: docker backend selected but no container image configured", job.InstanceID)
	}

	if err := os.MkdirAll(job.WorkDir, 0o755); err != nil {
		return JobResult{}, pipeline.NewTransientError(job.InstanceID, "creating working directory", err)
	}
	absWork, err := filepath.Abs(job.WorkDir)
	if err != nil {
		return JobResult{}, pipeline.NewTransientError(job.InstanceID, "resolving working directory", err)
	}

	args := runArgs(job, absWork, image)

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

	cmd := exec.CommandContext(runCtx, "docker", args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()

	result := JobResult{
		StdoutPath: stdout.Name(),
		StderrPath: stderr.Name(),
	}

	if runErr != nil {
		if job.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return result, pipeline.NewTimeoutError(job.InstanceID,
				fmt.Sprintf("exceeded wall-clock budget %s (ran %s)", job.Timeout, time.Since(start).Round(time.Millisecond)))
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			detail := strings.TrimSpace(tailFile(result.StderrPath, 2048))
			if dockerCLIFailure(result.ExitCode) {
				return result, pipeline.NewTransientError(job.InstanceID, "docker run failed: "+detail, nil)
			}
			return result, pipeline.NewExecError(job.InstanceID,
				fmt.Sprintf("command exited %d: %s", result.ExitCode, detail), nil)
		}
		return result, pipeline.NewTransientError(job.InstanceID, "starting docker", runErr)
	}

	produced, err := collectOutputs(job)
	if err != nil {
		return result, err
	}
	result.Produced = produced
	return result, nil
}
