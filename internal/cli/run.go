package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/seqpipe/seqpipe/internal/backend"
	"github.com/seqpipe/seqpipe/internal/cache"
	"github.com/seqpipe/seqpipe/internal/config"
	"github.com/seqpipe/seqpipe/internal/engine"
	"github.com/seqpipe/seqpipe/internal/graph"
	"github.com/seqpipe/seqpipe/internal/manifest"
	"github.com/seqpipe/seqpipe/internal/pipeline"
	"github.com/seqpipe/seqpipe/internal/publish"
	"github.com/seqpipe/seqpipe/internal/trace"
	"github.com/seqpipe/seqpipe/internal/warehouse"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Params    string
	TracePath string

	// Backend allows overriding the execution backend (for testing).
	// If nil, the backend named in the run parameters is used.
	Backend backend.Backend
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <pipeline-dir>",
		Short: "Execute the pipeline over the configured sample set",
		Long: `Build the concrete task graph for the configured sample set and
execute it to completion.

The run parameters file names the reads directory or manifest, the
results root, the execution backend, and the tool parameters. Results
from a previous run are reused when inputs and commands are unchanged.

Example:
  seqpipe run --params run.yaml ./pipeline
  seqpipe run --params run.yaml --trace run.jsonl ./pipeline --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Params, "params", "", "path to run parameters YAML (required)")
	cmd.Flags().StringVar(&opts.TracePath, "trace", "", "write a JSONL scheduling trace to this file")
	_ = cmd.MarkFlagRequired("params")

	return cmd
}

func runPipeline(opts *RunOptions, pipelineDir string, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	params, err := config.Load(opts.Params)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading run parameters", err)
	}

	slog.Info("loading pipeline", "dir", pipelineDir)
	p, err := pipeline.Load(pipelineDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading pipeline", err)
	}

	m, err := loadManifest(params)
	if err != nil {
		return WrapExitError(ExitCommandError, "resolving samples", err)
	}
	slog.Info("samples resolved", "count", m.Len())

	d, err := graph.Build(p, m)
	if err != nil {
		return WrapExitError(ExitCommandError, "building task graph", err)
	}
	slog.Info("task graph built", "instances", len(d.Instances))

	be := opts.Backend
	if be == nil {
		be, err = selectBackend(params)
		if err != nil {
			return WrapExitError(ExitCommandError, "selecting backend", err)
		}
	}
	be = backend.NewRetrying(be, uint64(params.RetryLimit), slog.Default())

	pub, err := selectPublisher(params)
	if err != nil {
		return WrapExitError(ExitCommandError, "configuring publisher", err)
	}

	if err := os.MkdirAll(filepath.Dir(params.StorePath), 0o755); err != nil {
		return WrapExitError(ExitCommandError, "creating scratch directory", err)
	}
	store, err := cache.Open(params.StorePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "opening resume store", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("error closing resume store", "error", closeErr)
		}
	}()

	engOpts := []engine.Option{
		engine.WithBudget(engine.NewBudget(params.MaxCPUs, params.MaxMemoryMB, params.MaxParallel)),
		engine.WithParams(params.CommandParams()),
		engine.WithLogger(slog.Default()),
	}
	if params.OnFailure == "best-effort" {
		engOpts = append(engOpts, engine.WithPolicy(engine.PolicyBestEffort))
	}
	if params.DefaultTimeoutSec > 0 {
		engOpts = append(engOpts, engine.WithDefaultTimeout(time.Duration(params.DefaultTimeoutSec)*time.Second))
	}
	if params.LoaderCommand != "" {
		wh := warehouse.New(warehouse.Config{
			Command:      params.LoaderCommand,
			GeneTable:    params.GeneTable,
			IsoformTable: params.IsoformTable,
		}, store, slog.Default())
		engOpts = append(engOpts, engine.WithWarehouse(wh))
	}
	if opts.TracePath != "" {
		tw, err := trace.NewWriter(opts.TracePath)
		if err != nil {
			return WrapExitError(ExitCommandError, "opening trace file", err)
		}
		defer tw.Close()
		engOpts = append(engOpts, engine.WithTrace(tw))
	}

	eng := engine.New(d, be, pub, store, params.ScratchRoot, engOpts...)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("run starting", "backend", be.Name(), "policy", params.OnFailure, "results_root", params.ResultsRoot)
	report, runErr := eng.Run(ctx)
	if report != nil {
		fmt.Fprintln(cmd.OutOrStdout(), report.Summary())
	}
	if runErr != nil && runErr != context.Canceled {
		return WrapExitError(ExitFailure, "run aborted", runErr)
	}
	if report != nil && !report.OK() {
		return WrapExitError(ExitFailure, fmt.Sprintf("%d task instance(s) failed", report.Failed), nil)
	}

	slog.Info("run completed")
	return nil
}

// loadManifest resolves the sample set from an explicit manifest file or by
// pairing reads discovered under the reads directory.
func loadManifest(params config.Params) (*manifest.Manifest, error) {
	if params.ManifestPath != "" {
		return manifest.LoadYAML(params.ManifestPath)
	}
	if params.ReadsDir == "" {
		return nil, pipeline.NewConfigError("run parameters must set manifest or reads_dir")
	}
	return manifest.Discover(params.ReadsDir, params.ReadsGlob)
}

func selectBackend(params config.Params) (backend.Backend, error) {
	switch params.Backend {
	case "local":
		return backend.NewLocal(), nil
	case "docker":
		return backend.NewDocker(params.ContainerImage), nil
	case "remote":
		return backend.NewRemote(params.RemoteEndpoint), nil
	default:
		return nil, pipeline.NewConfigError("unknown backend %q", params.Backend)
	}
}

func selectPublisher(params config.Params) (publish.Publisher, error) {
	if !publish.IsObjectStore(params.ResultsRoot) {
		return publish.NewFS(params.ResultsRoot), nil
	}
	return publish.NewObjectStore(publish.ObjectConfig{
		Endpoint:  params.ObjectStore.Endpoint,
		Region:    params.ObjectStore.Region,
		AccessKey: params.ObjectStore.AccessKey,
		SecretKey: params.ObjectStore.SecretKey,
		UseSSL:    params.ObjectStore.UseSSL,
		Root:      params.ResultsRoot,
	})
}

// buildDAG is the shared load-and-build path used by graph and run.
func buildDAG(paramsPath, pipelineDir string) (*graph.DAG, config.Params, error) {
	params, err := config.Load(paramsPath)
	if err != nil {
		return nil, params, err
	}
	p, err := pipeline.Load(pipelineDir)
	if err != nil {
		return nil, params, err
	}
	m, err := loadManifest(params)
	if err != nil {
		return nil, params, err
	}
	d, err := graph.Build(p, m)
	return d, params, err
}
