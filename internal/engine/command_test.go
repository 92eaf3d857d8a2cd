package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqpipe/seqpipe/internal/graph"
	"github.com/seqpipe/seqpipe/internal/pipeline"
)

func commandInstance(command string) *graph.Instance {
	return &graph.Instance{
		ID:     "trim:S1",
		Sample: "S1",
		Template: &pipeline.TaskTemplate{
			Name:    "trim",
			Command: command,
			Outputs: []pipeline.Output{{Name: "trimmed", Glob: "trimmed.fastq"}},
		},
	}
}

func readsBinding() map[string]graph.Item {
	return map[string]graph.Item{
		"reads": {Sample: "S1", Artifacts: map[string]string{
			"r1": "/reads/S1_1.fq",
			"r2": "/reads/S1_2.fq",
		}},
	}
}

func TestResolveCommand(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		expected string
	}{
		{"sample", "echo {sample}", "echo S1"},
		{"workdir", "cd {workdir}", "cd /scratch/trim:S1"},
		{"input joined sorted", "trim {input.reads}", "trim /reads/S1_1.fq /reads/S1_2.fq"},
		{"input keyed", "trim -1 {input.reads.r1} -2 {input.reads.r2}", "trim -1 /reads/S1_1.fq -2 /reads/S1_2.fq"},
		{"output glob", "tool -o {output.trimmed}", "tool -o trimmed.fastq"},
		{"param", "trim -l {param.trim_length}", "trim -l 20"},
		{"no placeholders", "true", "true"},
		{"mixed", "trim -l {param.trim_length} {input.reads.r1} > {output.trimmed}", "trim -l 20 /reads/S1_1.fq > trimmed.fastq"},
	}

	params := map[string]string{"trim_length": "20"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveCommand(commandInstance(tt.command), "/scratch/trim:S1", readsBinding(), params)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestResolveCommandUnresolvable(t *testing.T) {
	tests := []struct {
		name    string
		command string
		wantMsg string
	}{
		{"unbound input", "trim {input.missing}", `unbound input "missing"`},
		{"missing artifact key", "trim {input.reads.r3}", `no artifact "r3"`},
		{"undeclared output", "tool -o {output.missing}", `undeclared output "missing"`},
		{"unset param", "trim -l {param.unset}", `unset parameter "unset"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolveCommand(commandInstance(tt.command), "/scratch", readsBinding(), nil)
			require.Error(t, err, "substitution is all-or-nothing")
			assert.Equal(t, pipeline.KindInputResolution, pipeline.KindOf(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestResolveCommandLeavesUnknownBracesAlone(t *testing.T) {
	// awk-style braces are not placeholders and must pass through.
	got, err := resolveCommand(commandInstance(`awk '{print $1}' {input.reads.r1}`), "/scratch", readsBinding(), nil)
	require.NoError(t, err)
	assert.Equal(t, `awk '{print $1}' /reads/S1_1.fq`, got)
}
