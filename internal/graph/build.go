// Package graph builds and holds the instance DAG for one pipeline run.
//
// The builder fans each per-sample template out into one instance per
// sample key, wires join/combine templates (a value input plus a per-sample
// input) so every sample's instance also depends on the single shared value
// instance, and verifies the result is topologically orderable. Nodes are
// owned by the DAG and referenced by ID, never by mutual back-pointers.
package graph

import (
	"fmt"
	"sort"

	"github.com/seqpipe/seqpipe/internal/manifest"
	"github.com/seqpipe/seqpipe/internal/pipeline"
)

// Instance is one concrete execution of a task template for one sample key
// (or for no sample, when the template is value-scoped).
type Instance struct {
	ID            string
	Template      *pipeline.TaskTemplate
	TemplateIndex int // declaration index, first dispatch tie-break key
	Sample        manifest.SampleKey
}

// InstanceID derives the stable identity of an instance.
// Value-scope instances are named by template alone.
func InstanceID(template string, sample manifest.SampleKey) string {
	if sample == "" {
		return template
	}
	return template + ":" + string(sample)
}

// DAG is the fully expanded instance graph plus its channels.
type DAG struct {
	Instances []*Instance // creation order: (template declaration, sample lexical)
	Channels  map[string]*Channel

	byID  map[string]*Instance
	preds map[string][]string
	succs map[string][]string
}

// Build expands a validated pipeline over a sample manifest.
//
// The pipeline must already have passed pipeline.Validate; Build still
// re-checks acyclicity over the expanded instances as a defense against a
// builder bug, since scheduling an unorderable graph would livelock.
// The manifest's raw read files are emitted onto the source channel here,
// one item per sample, so source-consuming instances are ready immediately.
func Build(p *pipeline.Pipeline, m *manifest.Manifest) (*DAG, error) {
	d := &DAG{
		Channels: make(map[string]*Channel),
		byID:     make(map[string]*Instance),
		preds:    make(map[string][]string),
		succs:    make(map[string][]string),
	}

	d.Channels[pipeline.SourceChannel] = NewChannel(pipeline.SourceChannel, KindQueue)
	for _, key := range m.Keys() {
		files, _ := m.Files(key)
		if err := d.Channels[pipeline.SourceChannel].Emit(Item{Sample: key, Artifacts: files}); err != nil {
			return nil, err
		}
	}

	producers := p.Producers()
	for ch, prods := range producers {
		prod, _ := p.Template(prods[0])
		kind := KindValue
		if prod.PerSample() {
			kind = KindQueue
		}
		d.Channels[ch] = NewChannel(ch, kind)
	}

	for i := range p.Templates {
		t := &p.Templates[i]
		if t.PerSample() {
			for _, key := range m.Keys() {
				d.addInstance(&Instance{
					ID:            InstanceID(t.Name, key),
					Template:      t,
					TemplateIndex: i,
					Sample:        key,
				})
			}
		} else {
			d.addInstance(&Instance{
				ID:            InstanceID(t.Name, ""),
				Template:      t,
				TemplateIndex: i,
			})
		}
	}

	for _, inst := range d.Instances {
		for _, in := range inst.Template.Inputs {
			if in.Channel == pipeline.SourceChannel {
				continue // fed by the manifest, no predecessor instance
			}
			prodName := producers[in.Channel][0]
			prod, _ := p.Template(prodName)
			var dep string
			if prod.PerSample() {
				dep = InstanceID(prodName, inst.Sample)
			} else {
				dep = InstanceID(prodName, "")
			}
			if _, ok := d.byID[dep]; !ok {
				return nil, pipeline.NewConfigError("instance %s depends on %s which was never instantiated", inst.ID, dep)
			}
			d.addEdge(dep, inst.ID)
		}
	}

	if _, err := d.TopoOrder(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DAG) addInstance(inst *Instance) {
	d.Instances = append(d.Instances, inst)
	d.byID[inst.ID] = inst
}

func (d *DAG) addEdge(from, to string) {
	for _, p := range d.preds[to] {
		if p == from {
			return // duplicate edge (two inputs on the same channel)
		}
	}
	d.preds[to] = append(d.preds[to], from)
	d.succs[from] = append(d.succs[from], to)
}

// Instance returns the instance with the given ID.
func (d *DAG) Instance(id string) (*Instance, bool) {
	inst, ok := d.byID[id]
	return inst, ok
}

// Deps returns the direct predecessor IDs of an instance.
func (d *DAG) Deps(id string) []string { return d.preds[id] }

// Downstream returns the direct successor IDs of an instance.
func (d *DAG) Downstream(id string) []string { return d.succs[id] }

// TransitiveDownstream returns every instance reachable from id, in
// creation order. Used to mark a failed branch's closure without execution.
func (d *DAG) TransitiveDownstream(id string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(n string) {
		for _, s := range d.succs[n] {
			if !seen[s] {
				seen[s] = true
				walk(s)
			}
		}
	}
	walk(id)

	var out []string
	for _, inst := range d.Instances {
		if seen[inst.ID] {
			out = append(out, inst.ID)
		}
	}
	return out
}

// TopoOrder returns a topological order over all instances via Kahn's
// algorithm, breaking ties by creation order so the result is
// deterministic. A non-empty remainder means a cycle survived validation,
// reported as a configuration error naming the stuck instances.
func (d *DAG) TopoOrder() ([]string, error) {
	indegree := make(map[string]int, len(d.Instances))
	for _, inst := range d.Instances {
		indegree[inst.ID] = len(d.preds[inst.ID])
	}

	var order []string
	ready := make([]string, 0, len(d.Instances))
	for _, inst := range d.Instances {
		if indegree[inst.ID] == 0 {
			ready = append(ready, inst.ID)
		}
	}
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, s := range d.succs[n] {
			indegree[s]--
			if indegree[s] == 0 {
				ready = append(ready, s)
			}
		}
	}

	if len(order) != len(d.Instances) {
		var stuck []string
		for id, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, pipeline.NewConfigError("instance graph contains a cycle involving %v", stuck)
	}
	return order, nil
}

// String summarizes the DAG for logs.
func (d *DAG) String() string {
	return fmt.Sprintf("dag{instances=%d channels=%d}", len(d.Instances), len(d.Channels))
}
