package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqpipe/seqpipe/internal/pipeline"
)

func localJob(t *testing.T, command string, outputs ...pipeline.Output) JobSpec {
	t.Helper()
	return JobSpec{
		InstanceID: "trim:S1",
		Command:    command,
		WorkDir:    filepath.Join(t.TempDir(), "trim:S1"),
		Outputs:    outputs,
	}
}

func TestLocalSuccess(t *testing.T) {
	job := localJob(t, "echo hello > out.txt",
		pipeline.Output{Name: "txt", Glob: "out.txt"})

	res, err := NewLocal().Submit(context.Background(), job)
	require.NoError(t, err)

	require.Len(t, res.Produced["txt"], 1)
	data, err := os.ReadFile(res.Produced["txt"][0])
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestLocalCapturesStreams(t *testing.T) {
	job := localJob(t, "echo to-stdout; echo to-stderr >&2; touch out.txt",
		pipeline.Output{Name: "txt", Glob: "out.txt"})

	res, err := NewLocal().Submit(context.Background(), job)
	require.NoError(t, err)

	stdout, err := os.ReadFile(res.StdoutPath)
	require.NoError(t, err)
	assert.Equal(t, "to-stdout\n", string(stdout))

	stderr, err := os.ReadFile(res.StderrPath)
	require.NoError(t, err)
	assert.Equal(t, "to-stderr\n", string(stderr))
}

func TestLocalNonZeroExit(t *testing.T) {
	job := localJob(t, "echo broken reference >&2; exit 3")

	res, err := NewLocal().Submit(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, pipeline.KindExecution, pipeline.KindOf(err))
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, err.Error(), "broken reference", "stderr tail rides along on the error")
}

func TestLocalMissingOutput(t *testing.T) {
	job := localJob(t, "true",
		pipeline.Output{Name: "vcf", Glob: "out.vcf"})

	_, err := NewLocal().Submit(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, pipeline.KindMissingOutput, pipeline.KindOf(err))
	assert.Contains(t, err.Error(), "out.vcf")
}

func TestLocalGlobOutputsSorted(t *testing.T) {
	job := localJob(t, "touch b.fastq a.fastq c.fastq",
		pipeline.Output{Name: "reads", Glob: "*.fastq"})

	res, err := NewLocal().Submit(context.Background(), job)
	require.NoError(t, err)

	require.Len(t, res.Produced["reads"], 3)
	assert.Equal(t, "a.fastq", filepath.Base(res.Produced["reads"][0]))
	assert.Equal(t, "c.fastq", filepath.Base(res.Produced["reads"][2]))
}

func TestLocalTimeout(t *testing.T) {
	job := localJob(t, "sleep 5")
	job.Timeout = 100 * time.Millisecond

	start := time.Now()
	_, err := NewLocal().Submit(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, pipeline.KindTimeout, pipeline.KindOf(err),
		"the kill after deadline must not read as a tool failure")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestLocalCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	job := localJob(t, "sleep 5")
	start := time.Now()
	_, err := NewLocal().Submit(ctx, job)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestLocalRunsInWorkDir(t *testing.T) {
	job := localJob(t, "pwd > cwd.txt",
		pipeline.Output{Name: "cwd", Glob: "cwd.txt"})

	res, err := NewLocal().Submit(context.Background(), job)
	require.NoError(t, err)

	data, err := os.ReadFile(res.Produced["cwd"][0])
	require.NoError(t, err)
	resolved, err := filepath.EvalSymlinks(job.WorkDir)
	require.NoError(t, err)
	gotDir, err := filepath.EvalSymlinks(string(data[:len(data)-1]))
	require.NoError(t, err)
	assert.Equal(t, resolved, gotDir)
}
