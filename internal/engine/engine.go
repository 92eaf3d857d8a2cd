// Package engine schedules a built instance DAG to completion.
//
// The scheduler is a single-writer event loop: all lifecycle transitions,
// channel emissions, and budget bookkeeping happen in the Run goroutine.
// Dispatched instances run in their own goroutines, suspended only on the
// backend call, and report back over a completion channel; the loop itself
// never blocks on anything but that channel. This keeps dispatch order,
// failure propagation, and the trace deterministic.
//
// Dispatch tie-break among simultaneously Ready instances is (template
// declaration order, sample key lexical order) - the DAG's creation order -
// so two runs over identical inputs dispatch identically.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/seqpipe/seqpipe/internal/backend"
	"github.com/seqpipe/seqpipe/internal/cache"
	"github.com/seqpipe/seqpipe/internal/graph"
	"github.com/seqpipe/seqpipe/internal/manifest"
	"github.com/seqpipe/seqpipe/internal/pipeline"
	"github.com/seqpipe/seqpipe/internal/publish"
	"github.com/seqpipe/seqpipe/internal/trace"
	"github.com/seqpipe/seqpipe/internal/warehouse"
)

// Engine drives one run of a built DAG.
type Engine struct {
	dag     *graph.DAG
	backend backend.Backend
	pub     publish.Publisher
	store   *cache.Store
	wh      *warehouse.Loader
	tracer  *trace.Writer
	log     *slog.Logger

	clock          LogicalClock
	budget         *Budget
	policy         Policy
	scratch        string
	params         map[string]string
	defaultTimeout time.Duration

	// Run-loop-owned state. Never touched outside the Run goroutine.
	states   map[string]State
	errs     map[string]error
	hits     map[string]bool
	fps      map[string]string
	cancels  map[string]context.CancelFunc
	running  int
	executed int
	halted   bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy selects the failure policy. Default: fail-fast drain.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithBudget sets the admission-control resource ceiling.
func WithBudget(b *Budget) Option {
	return func(e *Engine) { e.budget = b }
}

// WithDefaultTimeout sets the wall-clock budget for templates that do not
// declare their own. Zero means no timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Engine) { e.defaultTimeout = d }
}

// WithWarehouse enables warehouse loading for templates that declare it.
func WithWarehouse(w *warehouse.Loader) Option {
	return func(e *Engine) { e.wh = w }
}

// WithTrace attaches an execution trace writer.
func WithTrace(t *trace.Writer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock overrides the trace clock. Tests inject a resettable clock to
// compare event sequences across runs.
func WithClock(c LogicalClock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithParams supplies the run parameters commands may reference through
// {param.NAME} placeholders (trim length, reference locations, ...).
func WithParams(params map[string]string) Option {
	return func(e *Engine) { e.params = params }
}

// New creates an engine over a built DAG. scratch is the working-directory
// root; each instance attempt gets an exclusive directory beneath it.
func New(d *graph.DAG, be backend.Backend, pub publish.Publisher, store *cache.Store, scratch string, opts ...Option) *Engine {
	e := &Engine{
		dag:     d,
		backend: be,
		pub:     pub,
		store:   store,
		log:     slog.Default(),
		clock:   NewClock(),
		budget:  NewBudget(0, 0, 0),
		scratch: scratch,
		states:  make(map[string]State, len(d.Instances)),
		errs:    make(map[string]error),
		hits:    make(map[string]bool),
		fps:     make(map[string]string),
		cancels: make(map[string]context.CancelFunc),
	}
	for _, inst := range d.Instances {
		e.states[inst.ID] = StatePending
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// completion is the message a worker goroutine sends back to the loop.
type completion struct {
	id      string
	elapsed time.Duration
	outputs map[string]cache.OutputRecord // published artifacts by output name
	scratch map[string]string             // output name -> local file for channel emission
	err     error
}

// Run executes the DAG to completion or to a reported failure and returns
// the per-instance report. The returned error is non-nil only for whole-run
// aborts (context cancellation); branch failures are in the report.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	done := make(chan completion)

	for {
		if !e.halted {
			e.sweep(ctx, done)
		}
		if e.running == 0 {
			break
		}

		select {
		case <-ctx.Done():
			e.cancelRunning()
			for e.running > 0 {
				msg := <-done
				e.budget.Release(e.resourcesOf(msg.id))
				e.running--
				e.finish(msg, true)
			}
			return e.report(), ctx.Err()
		case msg := <-done:
			e.budget.Release(e.resourcesOf(msg.id))
			e.running--
			e.finish(msg, false)
		}
	}

	return e.report(), nil
}

// sweep promotes and dispatches until no further progress is possible
// without a completion: Pending instances with satisfied predecessors are
// fingerprinted and either completed from cache or promoted to Ready, and
// Ready instances are dispatched in DAG creation order as the budget
// admits them. Cache completions unblock downstream within the same sweep.
func (e *Engine) sweep(ctx context.Context, done chan<- completion) {
	for {
		progressed := false

		for _, inst := range e.dag.Instances {
			if e.states[inst.ID] != StatePending || !e.depsCompleted(inst.ID) {
				continue
			}
			if e.promote(ctx, inst) {
				progressed = true
			}
			if e.halted {
				return
			}
		}

		for _, inst := range e.dag.Instances {
			if e.states[inst.ID] != StateReady {
				continue
			}
			if !e.budget.TryAcquire(inst.Template.Resources) {
				continue
			}
			e.dispatch(ctx, inst, done)
			progressed = true
		}

		if !progressed {
			return
		}
	}
}

func (e *Engine) depsCompleted(id string) bool {
	for _, dep := range e.dag.Deps(id) {
		if e.states[dep] != StateCompleted {
			return false
		}
	}
	return true
}

// promote fingerprints a satisfied instance and moves it to Ready, or
// straight to Completed on a cache hit. Returns true if the instance
// reached Completed (i.e. downstream may have been unblocked).
func (e *Engine) promote(ctx context.Context, inst *graph.Instance) bool {
	bindings, err := e.bind(inst)
	if err != nil {
		e.fail(inst.ID, err)
		return false
	}
	hashes, err := e.inputHashes(inst, bindings)
	if err != nil {
		e.fail(inst.ID, err)
		return false
	}
	fp, err := cache.Fingerprint(inst.Template, hashes)
	if err != nil {
		e.fail(inst.ID, err)
		return false
	}
	e.fps[inst.ID] = fp

	rec, hit, err := e.store.Hit(ctx, inst.ID, fp)
	if err != nil {
		e.log.Warn("resume store lookup failed, executing instance", "instance", inst.ID, "error", err)
	}
	if hit {
		e.states[inst.ID] = StateCompleted
		e.hits[inst.ID] = true
		artifacts := make(map[string]string, len(rec.Outputs))
		artifactHashes := make(map[string]string, len(rec.Outputs))
		for name, out := range rec.Outputs {
			artifacts[name] = out.Address
			artifactHashes[name] = out.SHA256
		}
		e.emitOutputs(inst, artifacts, artifactHashes)
		e.trace(trace.Event{Instance: inst.ID, Template: inst.Template.Name,
			Sample: string(inst.Sample), State: "completed", CacheHit: true})
		e.log.Info("cache hit, skipping execution", "instance", inst.ID)
		return true
	}

	e.states[inst.ID] = StateReady
	return false
}

// bind resolves each declared input to the channel item feeding it.
func (e *Engine) bind(inst *graph.Instance) (map[string]graph.Item, error) {
	bindings := make(map[string]graph.Item, len(inst.Template.Inputs))
	for _, in := range inst.Template.Inputs {
		ch, ok := e.dag.Channels[in.Channel]
		if !ok {
			return nil, pipeline.NewInputError(inst.ID, "channel %q does not exist", in.Channel)
		}
		var item graph.Item
		if in.Cardinality == pipeline.CardinalityValue {
			item, ok = ch.Value()
		} else {
			item, ok = ch.ItemFor(inst.Sample)
		}
		if !ok {
			return nil, pipeline.NewInputError(inst.ID, "channel %q has no item for this instance despite completed predecessors (%d emitted)", in.Channel, ch.Len())
		}
		bindings[in.Name] = item
	}
	return bindings, nil
}

// inputHashes content-hashes every bound input artifact, preferring hashes
// recorded on the item (cache-hit replays) over re-reading the file.
func (e *Engine) inputHashes(inst *graph.Instance, bindings map[string]graph.Item) (map[string]string, error) {
	hashes := make(map[string]string)
	for inputName, item := range bindings {
		for art, path := range item.Artifacts {
			key := inputName + "/" + art
			if h, ok := item.Hashes[art]; ok {
				hashes[key] = h
				continue
			}
			h, err := cache.HashFile(path)
			if err != nil {
				return nil, pipeline.NewInputError(inst.ID, "hashing input %s (%s): %v", key, path, err)
			}
			hashes[key] = h
		}
	}
	return hashes, nil
}

// dispatch starts one worker goroutine for a Ready instance. The budget is
// already acquired by the caller.
func (e *Engine) dispatch(ctx context.Context, inst *graph.Instance, done chan<- completion) {
	workdir := filepath.Join(e.scratch, inst.ID)

	bindings, err := e.bind(inst)
	if err != nil {
		// Bound successfully at promotion; losing the binding now is an
		// engine bug, but fail the instance rather than panic mid-run.
		e.budget.Release(inst.Template.Resources)
		e.fail(inst.ID, err)
		return
	}
	command, err := resolveCommand(inst, workdir, bindings, e.params)
	if err != nil {
		e.budget.Release(inst.Template.Resources)
		e.fail(inst.ID, err)
		return
	}

	timeout := e.defaultTimeout
	if inst.Template.Resources.TimeoutSec > 0 {
		timeout = time.Duration(inst.Template.Resources.TimeoutSec) * time.Second
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancels[inst.ID] = cancel
	e.states[inst.ID] = StateRunning
	e.running++
	e.executed++

	e.trace(trace.Event{Instance: inst.ID, Template: inst.Template.Name,
		Sample: string(inst.Sample), State: "running", Backend: e.backend.Name(),
		CPUs: inst.Template.Resources.CPUs, MemoryMB: inst.Template.Resources.MemoryMB})
	e.log.Info("dispatching", "instance", inst.ID, "backend", e.backend.Name())

	var inputPaths []string
	for _, item := range bindings {
		for _, path := range item.Artifacts {
			inputPaths = append(inputPaths, path)
		}
	}
	sort.Strings(inputPaths)

	job := backend.JobSpec{
		InstanceID: inst.ID,
		Command:    command,
		WorkDir:    workdir,
		Outputs:    inst.Template.Outputs,
		Resources:  inst.Template.Resources,
		Image:      inst.Template.Resources.Container,
		Timeout:    timeout,
		InputPaths: inputPaths,
	}
	fp := e.fps[inst.ID]
	tmpl := inst.Template
	sample := inst.Sample

	go func() {
		start := time.Now()
		res, err := e.backend.Submit(runCtx, job)
		if err != nil {
			done <- completion{id: job.InstanceID, elapsed: time.Since(start), err: err}
			return
		}

		outputs, scratchFiles, err := e.publishOutputs(runCtx, job.InstanceID, tmpl, sample, res)
		if err != nil {
			done <- completion{id: job.InstanceID, elapsed: time.Since(start), err: err}
			return
		}

		if tmpl.Warehouse && e.wh != nil {
			for _, out := range tmpl.Outputs {
				if out.ResultsType == "" {
					continue
				}
				if err := e.wh.Load(runCtx, job.InstanceID, out.ResultsType, outputs[out.Name].Address, string(sample)); err != nil {
					done <- completion{id: job.InstanceID, elapsed: time.Since(start), err: err}
					return
				}
			}
		}

		rec := cache.Record{
			InstanceID:  job.InstanceID,
			Template:    tmpl.Name,
			Sample:      string(sample),
			Fingerprint: fp,
			Status:      "completed",
			Published:   true,
			Outputs:     outputs,
		}
		if err := e.store.Record(context.WithoutCancel(runCtx), rec); err != nil {
			e.log.Warn("failed to record completion in resume store", "instance", job.InstanceID, "error", err)
		}

		done <- completion{id: job.InstanceID, elapsed: time.Since(start), outputs: outputs, scratch: scratchFiles}
	}()
}

// publishOutputs publishes every produced file of every declared output.
// Returned records carry the first (sorted) match per output name, which is
// also what binds onto downstream channels; remaining glob matches are
// published but not channel-bound.
func (e *Engine) publishOutputs(ctx context.Context, id string, tmpl *pipeline.TaskTemplate, sample manifest.SampleKey, res backend.JobResult) (map[string]cache.OutputRecord, map[string]string, error) {
	outputs := make(map[string]cache.OutputRecord, len(tmpl.Outputs))
	scratchFiles := make(map[string]string, len(tmpl.Outputs))

	for _, out := range tmpl.Outputs {
		files := res.Produced[out.Name]
		if len(files) == 0 {
			return nil, nil, pipeline.NewMissingOutputError(id, out.Name, out.Glob)
		}
		for i, f := range files {
			hash, err := cache.HashFile(f)
			if err != nil {
				return nil, nil, pipeline.NewExecError(id, "hashing produced output "+out.Name, err)
			}
			addr, err := e.pub.Publish(ctx, string(sample), tmpl.Name, filepath.Base(f), f)
			if err != nil {
				return nil, nil, pipeline.NewExecError(id, "publishing output "+out.Name, err)
			}
			if i == 0 {
				outputs[out.Name] = cache.OutputRecord{Address: addr, SHA256: hash}
				scratchFiles[out.Name] = f
			}
		}
	}
	return outputs, scratchFiles, nil
}

// finish applies one completion message inside the loop goroutine.
// cancelled marks completions drained after a context abort.
func (e *Engine) finish(msg completion, cancelled bool) {
	inst, _ := e.dag.Instance(msg.id)
	delete(e.cancels, msg.id)

	if msg.err != nil {
		if cancelled || e.halted {
			e.log.Debug("instance ended during drain", "instance", msg.id, "error", msg.err)
		}
		e.fail(msg.id, msg.err)
		e.traceTerminal(inst, "failed", msg)
		return
	}

	e.states[msg.id] = StateCompleted
	hashes := make(map[string]string, len(msg.outputs))
	for name, out := range msg.outputs {
		hashes[name] = out.SHA256
	}
	e.emitOutputs(inst, msg.scratch, hashes)
	e.traceTerminal(inst, "completed", msg)
	e.log.Info("completed", "instance", msg.id, "elapsed", msg.elapsed.Round(time.Millisecond))
}

func (e *Engine) traceTerminal(inst *graph.Instance, state string, msg completion) {
	ev := trace.Event{Instance: inst.ID, Template: inst.Template.Name,
		Sample: string(inst.Sample), State: state, DurationMS: msg.elapsed.Milliseconds()}
	if msg.err != nil {
		ev.Error = msg.err.Error()
	}
	e.trace(ev)
}

// emitOutputs broadcasts a completed instance's artifacts onto its outgoing
// channels, one item per channel grouping that channel's outputs.
func (e *Engine) emitOutputs(inst *graph.Instance, artifacts map[string]string, hashes map[string]string) {
	byChannel := make(map[string]map[string]string)
	byChannelHashes := make(map[string]map[string]string)
	for _, out := range inst.Template.Outputs {
		if out.Channel == "" {
			continue
		}
		path, ok := artifacts[out.Name]
		if !ok {
			continue
		}
		if byChannel[out.Channel] == nil {
			byChannel[out.Channel] = make(map[string]string)
			byChannelHashes[out.Channel] = make(map[string]string)
		}
		byChannel[out.Channel][out.Name] = path
		if h, ok := hashes[out.Name]; ok {
			byChannelHashes[out.Channel][out.Name] = h
		}
	}
	for chName, arts := range byChannel {
		item := graph.Item{Sample: inst.Sample, Producer: inst.ID, Artifacts: arts, Hashes: byChannelHashes[chName]}
		if err := e.dag.Channels[chName].Emit(item); err != nil {
			// Only possible on a double-emitted value channel, which
			// validation excludes; treat as a failed emission.
			e.log.Error("channel emission rejected", "channel", chName, "instance", inst.ID, "error", err)
		}
	}
}

// fail marks an instance failed and its transitive downstream closure
// failed-without-execution; under fail-fast it also halts dispatch and
// cancels running work.
func (e *Engine) fail(id string, err error) {
	if e.states[id].Terminal() {
		return
	}
	e.states[id] = StateFailed
	e.errs[id] = err
	e.log.Error("instance failed", "instance", id, "error", err)

	for _, ds := range e.dag.TransitiveDownstream(id) {
		if e.states[ds].Terminal() {
			continue
		}
		if e.states[ds] == StateRunning {
			// Cooperative cancellation; the worker reports back through
			// the completion channel like any other attempt.
			if cancel := e.cancels[ds]; cancel != nil {
				cancel()
			}
			continue
		}
		e.states[ds] = StateFailed
		e.errs[ds] = fmt.Errorf("not executed: upstream instance %s failed", id)
		if inst, ok := e.dag.Instance(ds); ok {
			e.trace(trace.Event{Instance: ds, Template: inst.Template.Name,
				Sample: string(inst.Sample), State: "failed", Error: e.errs[ds].Error()})
		}
	}

	// Fail-fast halts dispatch but lets unrelated running instances drain
	// to completion; their outputs stay published.
	if e.policy == PolicyFailFast && !e.halted {
		e.halted = true
		e.log.Warn("halting run after failure (fail-fast); draining running instances", "cause", id)
	}
}

func (e *Engine) cancelRunning() {
	for _, cancel := range e.cancels {
		cancel()
	}
}

func (e *Engine) resourcesOf(id string) pipeline.Resources {
	inst, _ := e.dag.Instance(id)
	return inst.Template.Resources
}

func (e *Engine) trace(ev trace.Event) {
	if e.tracer == nil {
		return
	}
	ev.Seq = e.clock.Next()
	if err := e.tracer.Emit(ev); err != nil {
		e.log.Warn("trace emission failed", "error", err)
	}
}

// report builds the final per-instance report in DAG creation order.
func (e *Engine) report() *Report {
	rep := &Report{Policy: e.policy.String(), Executed: e.executed}
	for _, inst := range e.dag.Instances {
		ir := InstanceReport{
			Instance: inst.ID,
			Template: inst.Template.Name,
			Sample:   string(inst.Sample),
			State:    e.states[inst.ID].String(),
			CacheHit: e.hits[inst.ID],
		}
		if err := e.errs[inst.ID]; err != nil {
			ir.Error = err.Error()
		}
		if ir.CacheHit {
			rep.CacheHits++
		}
		if e.states[inst.ID] == StateFailed {
			rep.Failed++
		}
		rep.Instances = append(rep.Instances, ir)
	}
	return rep
}
