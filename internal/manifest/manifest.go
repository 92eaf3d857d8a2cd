// Package manifest maps sample keys to their raw input files.
//
// A sample key groups the files belonging to one biological sample. Keys are
// either discovered from a read directory by the paired-end _1/_2 naming
// convention, or enumerated explicitly in a YAML manifest file. Keys are
// unique within a run and stable across resumes: the same directory contents
// always yield the same keys.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/seqpipe/seqpipe/internal/pipeline"
)

// SampleKey identifies one sample's worth of input files.
type SampleKey string

// Manifest holds the sample set for one pipeline run.
// Each sample maps role names (e.g. "r1", "r2", "reads") to file paths.
type Manifest struct {
	samples map[SampleKey]map[string]string
}

// New creates a manifest from an explicit sample map.
func New(samples map[SampleKey]map[string]string) *Manifest {
	m := &Manifest{samples: make(map[SampleKey]map[string]string, len(samples))}
	for k, files := range samples {
		m.samples[k] = files
	}
	return m
}

// Keys returns all sample keys in lexical order. Every iteration over
// samples anywhere in the engine goes through this, which is half of the
// deterministic dispatch tie-break.
func (m *Manifest) Keys() []SampleKey {
	keys := make([]SampleKey, 0, len(m.samples))
	for k := range m.samples {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Files returns the role->path map for one sample.
func (m *Manifest) Files(key SampleKey) (map[string]string, bool) {
	files, ok := m.samples[key]
	return files, ok
}

// Len returns the number of samples.
func (m *Manifest) Len() int { return len(m.samples) }

// pairSuffix matches the paired-end read suffix convention:
// {sample}_1{ext} / {sample}_2{ext}, where ext is everything from the first
// dot (e.g. ".fastq.gz").
var pairSuffix = regexp.MustCompile(`^(.+)_([12])(\..+)$`)

// Discover scans dir for files matching glob and pairs them into samples by
// the _1/_2 suffix convention. A file with a _1 suffix and no _2 mate (or
// vice versa) is an input resolution error: a half-present pair almost
// always means a truncated transfer, not a single-end run.
//
// Files that match the glob but not the pair convention are treated as
// single-file samples keyed by the name minus extension.
func Discover(dir, glob string) (*Manifest, error) {
	if glob == "" {
		glob = "*.fastq.gz"
	}
	matches, err := filepath.Glob(filepath.Join(dir, glob))
	if err != nil {
		return nil, pipeline.NewConfigError("bad read glob %q: %v", glob, err)
	}
	if len(matches) == 0 {
		return nil, pipeline.NewInputError("", "no read files matching %q under %s", glob, dir)
	}
	sort.Strings(matches)

	samples := make(map[SampleKey]map[string]string)
	halves := make(map[SampleKey]map[string]string) // pending pair halves

	for _, path := range matches {
		base := filepath.Base(path)
		if sub := pairSuffix.FindStringSubmatch(base); sub != nil {
			key := SampleKey(sub[1])
			if halves[key] == nil {
				halves[key] = make(map[string]string)
			}
			halves[key]["r"+sub[2]] = path
			continue
		}
		name := strings.SplitN(base, ".", 2)[0]
		samples[SampleKey(name)] = map[string]string{"reads": path}
	}

	for key, pair := range halves {
		if pair["r1"] == "" || pair["r2"] == "" {
			return nil, pipeline.NewInputError(string(key), "sample %s is missing a read mate (found %s)", key, pairDesc(pair))
		}
		samples[key] = pair
	}

	if len(samples) == 0 {
		return nil, pipeline.NewInputError("", "no samples discovered under %s", dir)
	}
	return New(samples), nil
}

func pairDesc(pair map[string]string) string {
	if pair["r1"] != "" {
		return "only _1"
	}
	return "only _2"
}

// manifestFile is the YAML shape of an explicit manifest.
type manifestFile struct {
	Samples map[string]map[string]string `yaml:"samples"`
}

// LoadYAML reads an explicit sample manifest. Every referenced file must
// exist; a missing path is an input resolution error for that sample.
func LoadYAML(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pipeline.NewConfigError("reading manifest %s: %v", path, err)
	}
	var mf manifestFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, pipeline.NewConfigError("parsing manifest %s: %v", path, err)
	}
	if len(mf.Samples) == 0 {
		return nil, pipeline.NewConfigError("manifest %s declares no samples", path)
	}

	samples := make(map[SampleKey]map[string]string, len(mf.Samples))
	for name, files := range mf.Samples {
		for role, p := range files {
			if _, err := os.Stat(p); err != nil {
				return nil, pipeline.NewInputError(name, "manifest file %s (%s) for sample %s: %v", p, role, name, err)
			}
		}
		samples[SampleKey(name)] = files
	}
	return New(samples), nil
}

// String renders a short human-readable summary, used by validate output.
func (m *Manifest) String() string {
	keys := m.Keys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s(%d files)", k, len(m.samples[k]))
	}
	return strings.Join(parts, ", ")
}
