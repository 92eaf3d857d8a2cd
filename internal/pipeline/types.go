package pipeline

// Cardinality describes how many items an input expects from its channel.
type Cardinality string

const (
	// CardinalityValue binds a single shared item (e.g. a reference index)
	// replayed to every consumer.
	CardinalityValue Cardinality = "value"
	// CardinalityPerSample binds one item per sample key from a queue channel.
	CardinalityPerSample Cardinality = "perSample"
)

// Input is one named input parameter of a task template, bound to a channel.
type Input struct {
	Name        string      `json:"name"`
	Channel     string      `json:"channel"`
	Cardinality Cardinality `json:"cardinality"`
}

// Output is one declared output artifact of a task template.
//
// Glob is either a fixed file name or a file glob relative to the task's
// working directory. If Channel is non-empty, produced artifacts are emitted
// onto that channel for downstream consumers. ResultsType tags outputs that
// feed the external warehouse loader ("gene" or "isoform").
type Output struct {
	Name        string `json:"name"`
	Glob        string `json:"glob"`
	Channel     string `json:"channel,omitempty"`
	ResultsType string `json:"resultsType,omitempty"`
}

// Resources carries the scheduling hints for one task template.
// Zero values fall back to engine defaults at admission time.
type Resources struct {
	CPUs       int    `json:"cpus"`
	MemoryMB   int    `json:"memoryMB"`
	Container  string `json:"container,omitempty"`
	TimeoutSec int    `json:"timeoutSec,omitempty"`
}

// TaskTemplate is the declarative definition of one pipeline step.
//
// Templates are immutable once loaded. Declaration order is significant:
// the scheduler breaks dispatch ties by (declaration order, sample key),
// so two runs over the same definitions dispatch identically.
type TaskTemplate struct {
	Name      string    `json:"name"`
	Inputs    []Input   `json:"inputs"`
	Outputs   []Output  `json:"outputs"`
	Command   string    `json:"command"`
	Resources Resources `json:"resources"`
	Warehouse bool      `json:"warehouse,omitempty"`
}

// PerSample reports whether the template fans out one instance per sample.
// A template is per-sample iff at least one input is per-sample; a template
// with only value inputs (or no inputs) instantiates exactly once.
func (t *TaskTemplate) PerSample() bool {
	for _, in := range t.Inputs {
		if in.Cardinality == CardinalityPerSample {
			return true
		}
	}
	return false
}

// Output returns the declared output with the given name, if any.
func (t *TaskTemplate) Output(name string) (Output, bool) {
	for _, out := range t.Outputs {
		if out.Name == name {
			return out, true
		}
	}
	return Output{}, false
}

// Pipeline is an ordered set of task templates plus the channel wiring
// implied by their input/output declarations.
type Pipeline struct {
	Templates []TaskTemplate
}

// Template returns the template with the given name and its declaration
// index, or (nil, -1) if absent.
func (p *Pipeline) Template(name string) (*TaskTemplate, int) {
	for i := range p.Templates {
		if p.Templates[i].Name == name {
			return &p.Templates[i], i
		}
	}
	return nil, -1
}

// SourceChannel is the builtin channel fed by the sample manifest rather
// than by a producing template: one item per sample key, carrying the raw
// read files.
const SourceChannel = "raw_reads"

// Producers maps each channel name to the names of templates that emit
// onto it, in declaration order. A template routing several outputs onto
// one channel is still a single producer stage and is listed once. The
// manifest-fed source channel has no producing template and is not
// included.
func (p *Pipeline) Producers() map[string][]string {
	producers := make(map[string][]string)
	for _, t := range p.Templates {
		emitted := make(map[string]bool)
		for _, out := range t.Outputs {
			if out.Channel == "" || emitted[out.Channel] {
				continue
			}
			emitted[out.Channel] = true
			producers[out.Channel] = append(producers[out.Channel], t.Name)
		}
	}
	return producers
}
