// Package testutil provides deterministic test doubles for the scheduler:
// a scripted in-memory backend and a resettable logical clock.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/seqpipe/seqpipe/internal/backend"
	"github.com/seqpipe/seqpipe/internal/pipeline"
)

// Script describes how the fake backend handles one task instance.
type Script struct {
	// Outputs maps relative file names to contents written into the
	// working directory before output collection.
	Outputs map[string]string

	// Err, when set, is returned instead of a result.
	Err error

	// FailTimes makes the first N submissions return Err, then succeed.
	// Used with a transient Err to exercise the retry wrapper.
	FailTimes int

	// Delay holds the submission open; cancelling the context during the
	// delay returns a cancellation error.
	Delay time.Duration
}

// ScriptedBackend is an in-memory Backend whose behavior per instance is
// fixed up front. Safe for concurrent Submit calls.
type ScriptedBackend struct {
	mu      sync.Mutex
	scripts map[string]Script
	calls   map[string]int
	jobs    map[string]backend.JobSpec
	order   []string
}

// NewScriptedBackend creates a backend with the given per-instance scripts.
// Instances without a script succeed with an empty file per declared output.
func NewScriptedBackend(scripts map[string]Script) *ScriptedBackend {
	if scripts == nil {
		scripts = map[string]Script{}
	}
	return &ScriptedBackend{
		scripts: scripts,
		calls:   make(map[string]int),
		jobs:    make(map[string]backend.JobSpec),
	}
}

func (b *ScriptedBackend) Name() string { return "scripted" }

// Submissions returns instance IDs in the order they were first submitted.
func (b *ScriptedBackend) Submissions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.order...)
}

// Calls returns how many times an instance was submitted.
func (b *ScriptedBackend) Calls(instanceID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[instanceID]
}

// LastJob returns the most recent JobSpec submitted for an instance.
func (b *ScriptedBackend) LastJob(instanceID string) (backend.JobSpec, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[instanceID]
	return job, ok
}

func (b *ScriptedBackend) Submit(ctx context.Context, job backend.JobSpec) (backend.JobResult, error) {
	b.mu.Lock()
	script := b.scripts[job.InstanceID]
	b.calls[job.InstanceID]++
	b.jobs[job.InstanceID] = job
	attempt := b.calls[job.InstanceID]
	if attempt == 1 {
		b.order = append(b.order, job.InstanceID)
	}
	b.mu.Unlock()

	if script.Delay > 0 {
		select {
		case <-time.After(script.Delay):
		case <-ctx.Done():
			return backend.JobResult{}, pipeline.NewExecError(job.InstanceID, "cancelled", ctx.Err())
		}
	}

	if script.Err != nil && (script.FailTimes == 0 || attempt <= script.FailTimes) {
		return backend.JobResult{}, script.Err
	}

	if err := os.MkdirAll(job.WorkDir, 0o755); err != nil {
		return backend.JobResult{}, pipeline.NewTransientError(job.InstanceID, "creating workdir", err)
	}
	for name, content := range script.Outputs {
		if err := os.WriteFile(filepath.Join(job.WorkDir, name), []byte(content), 0o644); err != nil {
			return backend.JobResult{}, pipeline.NewTransientError(job.InstanceID, "writing scripted output", err)
		}
	}
	if script.Outputs == nil {
		// Default: satisfy every declared glob with one empty file.
		for _, out := range job.Outputs {
			name := defaultFileFor(out.Glob)
			if err := os.WriteFile(filepath.Join(job.WorkDir, name), nil, 0o644); err != nil {
				return backend.JobResult{}, pipeline.NewTransientError(job.InstanceID, "writing default output", err)
			}
		}
	}

	produced := make(map[string][]string, len(job.Outputs))
	for _, out := range job.Outputs {
		matches, _ := filepath.Glob(filepath.Join(job.WorkDir, out.Glob))
		sort.Strings(matches)
		if len(matches) == 0 {
			return backend.JobResult{}, pipeline.NewMissingOutputError(job.InstanceID, out.Name, out.Glob)
		}
		produced[out.Name] = matches
	}

	return backend.JobResult{
		StdoutPath: filepath.Join(job.WorkDir, backend.StdoutFile),
		StderrPath: filepath.Join(job.WorkDir, backend.StderrFile),
		Produced:   produced,
	}, nil
}

// defaultFileFor derives a concrete file name from a glob pattern by
// replacing wildcard characters.
func defaultFileFor(glob string) string {
	name := ""
	for _, r := range glob {
		switch r {
		case '*', '?', '[', ']':
			name += "x"
		default:
			name += string(r)
		}
	}
	return name
}
