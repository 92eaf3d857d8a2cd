// Package warehouse invokes the external results loader after a
// quantification task completes and publishes.
//
// The loader is an opaque collaborator (in production, a Python script that
// streams RSEM result tables into BigQuery). The engine's only obligations
// are well-formed arguments and exactly one invocation per completed
// quantification instance per results type, resumes included; the
// exactly-once bookkeeping lives in the resume store's warehouse_loads
// table.
package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/seqpipe/seqpipe/internal/cache"
	"github.com/seqpipe/seqpipe/internal/pipeline"
)

// Config selects the loader command and destination tables.
type Config struct {
	// Command is the loader executable plus fixed leading arguments,
	// e.g. "python3 /opt/loaders/load_results.py".
	Command string
	// GeneTable and IsoformTable are the destination table identifiers.
	GeneTable    string
	IsoformTable string
}

// Loader invokes the external loader, once per (instance, results type).
type Loader struct {
	cfg   Config
	store *cache.Store
	log   *slog.Logger
}

// New creates a loader invoker. store provides the exactly-once guard.
func New(cfg Config, store *cache.Store, log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{cfg: cfg, store: store, log: log}
}

// TableFor returns the destination table for a results type.
func (l *Loader) TableFor(resultsType string) (string, error) {
	switch resultsType {
	case "gene":
		if l.cfg.GeneTable == "" {
			return "", pipeline.NewConfigError("gene results declared but no gene table configured")
		}
		return l.cfg.GeneTable, nil
	case "isoform":
		if l.cfg.IsoformTable == "" {
			return "", pipeline.NewConfigError("isoform results declared but no isoform table configured")
		}
		return l.cfg.IsoformTable, nil
	default:
		return "", pipeline.NewConfigError("unknown results type %q", resultsType)
	}
}

// Args builds the loader argument vector. Exposed for tests; the contract
// with the loader script is exactly these flags.
func Args(resultsType, resultsPath, tableID, sampleID string) []string {
	return []string{
		"--results_type", resultsType,
		"--results_path", resultsPath,
		"--table_id", tableID,
		"--sample_id", sampleID,
	}
}

// Load invokes the loader for one published results artifact. If the
// resume store shows this (instance, results type) already loaded, the call
// is a no-op. Loader failures are execution errors scoped to the instance
// and are not retried.
func (l *Loader) Load(ctx context.Context, instanceID, resultsType, resultsPath, sampleID string) error {
	tableID, err := l.TableFor(resultsType)
	if err != nil {
		return err
	}

	first, err := l.store.MarkLoaded(ctx, instanceID, resultsType, tableID)
	if err != nil {
		return err
	}
	if !first {
		l.log.Debug("warehouse load already recorded, skipping",
			"instance", instanceID, "results_type", resultsType)
		return nil
	}

	parts := strings.Fields(l.cfg.Command)
	if len(parts) == 0 {
		return pipeline.NewConfigError("warehouse template completed but no loader command configured")
	}
	args := append(parts[1:], Args(resultsType, resultsPath, tableID, sampleID)...)

	l.log.Info("invoking warehouse loader",
		"instance", instanceID, "results_type", resultsType, "table", tableID)

	cmd := exec.CommandContext(ctx, parts[0], args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		// Roll the mark back so a resumed run retries the load; leaving it
		// in place would silently drop this sample from the warehouse.
		if unmarkErr := l.store.UnmarkLoaded(context.WithoutCancel(ctx), instanceID, resultsType); unmarkErr != nil {
			l.log.Error("failed to unmark warehouse load", "instance", instanceID, "error", unmarkErr)
		}
		return pipeline.NewExecError(instanceID,
			fmt.Sprintf("warehouse loader failed for %s results: %s", resultsType, strings.TrimSpace(string(out))), err)
	}
	return nil
}
