package trace

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqpipe/seqpipe/internal/graph"
	"github.com/seqpipe/seqpipe/internal/manifest"
	"github.com/seqpipe/seqpipe/internal/pipeline"
)

func testDAG(t *testing.T) *graph.DAG {
	t.Helper()
	p := &pipeline.Pipeline{Templates: []pipeline.TaskTemplate{
		{
			Name:    "trim",
			Inputs:  []pipeline.Input{{Name: "reads", Channel: pipeline.SourceChannel, Cardinality: pipeline.CardinalityPerSample}},
			Outputs: []pipeline.Output{{Name: "trimmed", Glob: "trimmed.fastq", Channel: "trimmed_reads"}},
			Command: "trim",
		},
		{
			Name:    "index",
			Outputs: []pipeline.Output{{Name: "idx", Glob: "ref.idx", Channel: "ref_index"}},
			Command: "build-index",
		},
		{
			Name: "quant",
			Inputs: []pipeline.Input{
				{Name: "reads", Channel: "trimmed_reads", Cardinality: pipeline.CardinalityPerSample},
				{Name: "idx", Channel: "ref_index", Cardinality: pipeline.CardinalityValue},
			},
			Outputs: []pipeline.Output{{Name: "genes", Glob: "genes.results"}},
			Command: "quant",
		},
	}}
	m := manifest.New(map[manifest.SampleKey]map[string]string{
		"S1": {"r1": "/reads/S1_1.fq"},
		"S2": {"r1": "/reads/S2_1.fq"},
	})
	d, err := graph.Build(p, m)
	require.NoError(t, err)
	return d
}

func TestRenderDOTGolden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "dag_dot", []byte(RenderDOT(testDAG(t))))
}

func TestRenderDOTDeterministic(t *testing.T) {
	a := RenderDOT(testDAG(t))
	b := RenderDOT(testDAG(t))
	assert.Equal(t, a, b)
}

func TestRenderDOTStructure(t *testing.T) {
	dot := RenderDOT(testDAG(t))

	assert.True(t, strings.HasPrefix(dot, "digraph pipeline {\n"))
	assert.True(t, strings.HasSuffix(dot, "}\n"))
	assert.Contains(t, dot, `"trim:S1" -> "quant:S1";`)
	assert.Contains(t, dot, `"index" -> "quant:S2";`)
	assert.NotContains(t, dot, `"trim:S1" -> "quant:S2";`, "no cross-sample edges")
}
