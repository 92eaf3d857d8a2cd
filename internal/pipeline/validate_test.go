package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trimQuantPipeline is the minimal two-stage wiring used across tests:
// trim fans out per sample, quant joins trimmed reads with a shared index.
func trimQuantPipeline() *Pipeline {
	return &Pipeline{Templates: []TaskTemplate{
		{
			Name:    "trim",
			Inputs:  []Input{{Name: "reads", Channel: SourceChannel, Cardinality: CardinalityPerSample}},
			Outputs: []Output{{Name: "trimmed", Glob: "trimmed.fastq", Channel: "trimmed_reads"}},
			Command: "trim {input.reads}",
		},
		{
			Name:    "index",
			Outputs: []Output{{Name: "idx", Glob: "ref.idx", Channel: "ref_index"}},
			Command: "build-index",
		},
		{
			Name: "quant",
			Inputs: []Input{
				{Name: "reads", Channel: "trimmed_reads", Cardinality: CardinalityPerSample},
				{Name: "idx", Channel: "ref_index", Cardinality: CardinalityValue},
			},
			Outputs: []Output{{Name: "genes", Glob: "genes.results"}},
			Command: "quant {input.idx} {input.reads}",
		},
	}}
}

func TestValidateAcceptsWellFormedPipeline(t *testing.T) {
	require.NoError(t, Validate(trimQuantPipeline()))
}

func TestValidateAcceptsPairedOutputsOnOneChannel(t *testing.T) {
	// One stage emitting both mates onto the same channel is a single
	// producer, not cross-stage fan-in.
	p := trimQuantPipeline()
	p.Templates[0].Outputs = []Output{
		{Name: "r1", Glob: "trimmed_1.fastq", Channel: "trimmed_reads"},
		{Name: "r2", Glob: "trimmed_2.fastq", Channel: "trimmed_reads"},
	}
	require.NoError(t, Validate(p))
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Pipeline)
		wantMsg string
	}{
		{
			name: "duplicate template name",
			mutate: func(p *Pipeline) {
				p.Templates = append(p.Templates, TaskTemplate{
					Name:    "trim",
					Outputs: []Output{{Name: "x", Glob: "x"}},
					Command: "x",
				})
			},
			wantMsg: `duplicate template name "trim"`,
		},
		{
			name: "duplicate input name",
			mutate: func(p *Pipeline) {
				p.Templates[0].Inputs = append(p.Templates[0].Inputs,
					Input{Name: "reads", Channel: SourceChannel, Cardinality: CardinalityPerSample})
			},
			wantMsg: `duplicate input name "reads"`,
		},
		{
			name: "unresolved channel",
			mutate: func(p *Pipeline) {
				p.Templates[2].Inputs[0].Channel = "nonexistent"
			},
			wantMsg: `no producer for channel "nonexistent"`,
		},
		{
			name: "producer on reserved source channel",
			mutate: func(p *Pipeline) {
				p.Templates[0].Outputs[0].Channel = SourceChannel
			},
			wantMsg: "reserved for manifest input",
		},
		{
			name: "multiple producers on one queue",
			mutate: func(p *Pipeline) {
				p.Templates[1].Outputs[0].Channel = "trimmed_reads"
			},
			wantMsg: "multiple producer stages",
		},
		{
			name: "value input on per-sample channel",
			mutate: func(p *Pipeline) {
				p.Templates[2].Inputs[0].Cardinality = CardinalityValue
			},
			wantMsg: "carries one item per sample but input is declared value",
		},
		{
			name: "per-sample input on value channel",
			mutate: func(p *Pipeline) {
				p.Templates[2].Inputs[1].Cardinality = CardinalityPerSample
			},
			wantMsg: "carries a single value but input is declared perSample",
		},
		{
			name: "value input on source channel",
			mutate: func(p *Pipeline) {
				p.Templates[0].Inputs[0].Cardinality = CardinalityValue
			},
			wantMsg: "is per-sample, not value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := trimQuantPipeline()
			tt.mutate(p)
			err := Validate(p)
			require.Error(t, err)
			assert.True(t, IsConfigError(err), "expected configuration error, got %v", err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	p := trimQuantPipeline()
	p.Templates[2].Inputs[0].Channel = "nonexistent"
	p.Templates = append(p.Templates, TaskTemplate{
		Name:    "trim",
		Outputs: []Output{{Name: "x", Glob: "x"}},
		Command: "x",
	})

	err := Validate(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate template name "trim"`)
	assert.Contains(t, err.Error(), `no producer for channel "nonexistent"`)
}

func TestPerSample(t *testing.T) {
	p := trimQuantPipeline()
	trim, _ := p.Template("trim")
	index, _ := p.Template("index")
	quant, _ := p.Template("quant")

	assert.True(t, trim.PerSample())
	assert.False(t, index.PerSample(), "template with no inputs is value-scoped")
	assert.True(t, quant.PerSample(), "one per-sample input makes the template per-sample")
}

func TestProducers(t *testing.T) {
	p := trimQuantPipeline()
	producers := p.Producers()

	assert.Equal(t, []string{"trim"}, producers["trimmed_reads"])
	assert.Equal(t, []string{"index"}, producers["ref_index"])
	_, hasSource := producers[SourceChannel]
	assert.False(t, hasSource, "manifest-fed source channel has no producing template")
}

func TestProducersListsStageOncePerChannel(t *testing.T) {
	p := trimQuantPipeline()
	p.Templates[0].Outputs = []Output{
		{Name: "r1", Glob: "trimmed_1.fastq", Channel: "trimmed_reads"},
		{Name: "r2", Glob: "trimmed_2.fastq", Channel: "trimmed_reads"},
	}

	assert.Equal(t, []string{"trim"}, p.Producers()["trimmed_reads"])
}
