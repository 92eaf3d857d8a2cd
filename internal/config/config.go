// Package config loads run parameters: a YAML parameters file, overlaid
// with environment variables (optionally from a .env file) for values that
// do not belong in checked-in YAML, such as object-store credentials.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/seqpipe/seqpipe/internal/pipeline"
)

// ObjectStore configures the S3-compatible publisher when the results root
// is an s3:// URI. Credentials come from the environment, never the YAML.
type ObjectStore struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
}

// Params is the full set of recognized execution parameters.
type Params struct {
	// Input discovery.
	ReadsDir     string `yaml:"reads_dir"`
	ReadsGlob    string `yaml:"reads_glob"`
	ManifestPath string `yaml:"manifest"` // explicit manifest; overrides discovery

	// Locations.
	ResultsRoot string `yaml:"results_root"` // path or s3://bucket/prefix
	ScratchRoot string `yaml:"scratch_root"`
	StorePath   string `yaml:"store_path"` // resume store; default under scratch

	// Execution backend.
	Backend        string `yaml:"backend"` // local | docker | remote
	RemoteEndpoint string `yaml:"remote_endpoint"`
	ContainerImage string `yaml:"container_image"`

	// Tool parameters surfaced to commands as {param.NAME}.
	TrimLength           int    `yaml:"trim_length"`
	ReferenceIndex       string `yaml:"reference_index"`
	GeneAnnotation       string `yaml:"gene_annotation"`
	TranscriptAnnotation string `yaml:"transcript_annotation"`

	// Warehouse load.
	LoaderCommand string `yaml:"loader_command"`
	GeneTable     string `yaml:"gene_table"`
	IsoformTable  string `yaml:"isoform_table"`

	// Scheduling.
	MaxParallel       int    `yaml:"max_parallel"`
	MaxCPUs           int    `yaml:"max_cpus"`
	MaxMemoryMB       int    `yaml:"max_memory_mb"`
	OnFailure         string `yaml:"on_failure"` // fail-fast | best-effort
	RetryLimit        int    `yaml:"retry_limit"`
	DefaultTimeoutSec int    `yaml:"default_timeout_sec"`

	ObjectStore ObjectStore `yaml:"object_store"`
}

// Defaults returns a Params with every default applied.
func Defaults() Params {
	return Params{
		ReadsGlob:   "*.fastq.gz",
		ScratchRoot: "work",
		Backend:     "local",
		TrimLength:  20,
		MaxParallel: 4,
		OnFailure:   "fail-fast",
		RetryLimit:  3,
	}
}

// Load reads the parameters file at path (optional: empty path means
// defaults only), then overlays environment variables. A .env file in the
// working directory is loaded first if present; a missing .env is not an
// error.
func Load(path string) (Params, error) {
	p := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return p, pipeline.NewConfigError("reading parameters file %s: %v", path, err)
		}
		if err := yaml.Unmarshal(data, &p); err != nil {
			return p, pipeline.NewConfigError("parsing parameters file %s: %v", path, err)
		}
	}

	_ = godotenv.Load() // optional overlay; absence is fine
	if v := os.Getenv("SEQPIPE_S3_ENDPOINT"); v != "" {
		p.ObjectStore.Endpoint = v
	}
	p.ObjectStore.AccessKey = os.Getenv("SEQPIPE_S3_ACCESS_KEY")
	p.ObjectStore.SecretKey = os.Getenv("SEQPIPE_S3_SECRET_KEY")
	if v := os.Getenv("SEQPIPE_REMOTE_ENDPOINT"); v != "" {
		p.RemoteEndpoint = v
	}

	if p.StorePath == "" {
		p.StorePath = p.ScratchRoot + "/seqpipe.db"
	}

	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// Validate checks enum-valued parameters.
func (p *Params) Validate() error {
	switch p.Backend {
	case "local", "docker", "remote":
	default:
		return pipeline.NewConfigError("unknown backend %q (local|docker|remote)", p.Backend)
	}
	switch p.OnFailure {
	case "fail-fast", "best-effort":
	default:
		return pipeline.NewConfigError("unknown on_failure policy %q (fail-fast|best-effort)", p.OnFailure)
	}
	if p.Backend == "remote" && p.RemoteEndpoint == "" {
		return pipeline.NewConfigError("backend remote requires remote_endpoint")
	}
	if strings.HasPrefix(p.ResultsRoot, "s3://") && p.ObjectStore.Endpoint == "" {
		return pipeline.NewConfigError("s3 results root requires object_store.endpoint (or SEQPIPE_S3_ENDPOINT)")
	}
	return nil
}

// CommandParams exposes the tool parameters to command templates.
func (p *Params) CommandParams() map[string]string {
	return map[string]string{
		"trim_length":           fmt.Sprintf("%d", p.TrimLength),
		"reference_index":       p.ReferenceIndex,
		"gene_annotation":       p.GeneAnnotation,
		"transcript_annotation": p.TranscriptAnnotation,
	}
}
