// Package backend runs resolved task commands and reports their outcome.
//
// The scheduler depends only on the Backend interface; the concrete
// implementation (local subprocess, local container, remote job API) is
// selected by configuration. Every backend guarantees: the working
// directory is exclusive to one attempt, stdout/stderr are captured into
// the working directory, a non-zero exit surfaces as an execution error
// with the captured stderr, and a declared output absent after exit 0
// surfaces as a missing-output error.
package backend

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/seqpipe/seqpipe/internal/pipeline"
)

// JobSpec is one resolved task instance attempt handed to a backend.
type JobSpec struct {
	InstanceID string
	Command    string // fully resolved shell command
	WorkDir    string // exclusive to this attempt
	Outputs    []pipeline.Output
	Resources  pipeline.Resources
	Image      string // container image; empty means backend default
	Timeout    time.Duration

	// InputPaths are the host paths of the bound input artifacts the
	// command references. A backend that isolates the filesystem must
	// make each one readable at the same absolute path.
	InputPaths []string
}

// JobResult reports a finished job. Produced maps each declared output name
// to the files matching its glob, relative paths resolved under WorkDir.
type JobResult struct {
	ExitCode   int
	StdoutPath string
	StderrPath string
	Produced   map[string][]string
}

// Backend submits one job and blocks until it finishes or ctx is done.
//
// The returned error is nil only for a successful run with all declared
// outputs present. Tool failures are execution errors (never retried);
// infrastructure failures are transient errors the Retrying wrapper
// retries; a deadline overrun is a timeout error.
type Backend interface {
	Name() string
	Submit(ctx context.Context, job JobSpec) (JobResult, error)
}

// Names of captured stream files inside the working directory.
const (
	StdoutFile = "task.out"
	StderrFile = "task.err"
)

// collectOutputs matches declared output globs under the working directory.
// Matches are sorted for determinism. A declared output with zero matches
// is a missing-output error: exit 0 without the promised artifact is a
// task-contract violation, not a success.
func collectOutputs(job JobSpec) (map[string][]string, error) {
	produced := make(map[string][]string, len(job.Outputs))
	for _, out := range job.Outputs {
		matches, err := filepath.Glob(filepath.Join(job.WorkDir, out.Glob))
		if err != nil {
			return nil, pipeline.NewExecError(job.InstanceID, "bad output glob "+out.Glob, err)
		}
		var files []string
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			files = append(files, m)
		}
		if len(files) == 0 {
			return nil, pipeline.NewMissingOutputError(job.InstanceID, out.Name, out.Glob)
		}
		sort.Strings(files)
		produced[out.Name] = files
	}
	return produced, nil
}

// tailFile returns up to limit bytes from the end of a captured stream,
// for attaching tool stderr to execution errors.
func tailFile(path string, limit int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	offset := int64(0)
	if info.Size() > limit {
		offset = info.Size() - limit
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return ""
	}
	return string(buf)
}
