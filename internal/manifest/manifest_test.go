package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqpipe/seqpipe/internal/pipeline"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
}

func TestDiscoverPairsReads(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir,
		"S1_1.fastq.gz", "S1_2.fastq.gz",
		"S2_1.fastq.gz", "S2_2.fastq.gz")

	m, err := Discover(dir, "*.fastq.gz")
	require.NoError(t, err)
	assert.Equal(t, []SampleKey{"S1", "S2"}, m.Keys())

	files, ok := m.Files("S1")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "S1_1.fastq.gz"), files["r1"])
	assert.Equal(t, filepath.Join(dir, "S1_2.fastq.gz"), files["r2"])
}

func TestDiscoverMissingMate(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "S1_1.fastq.gz", "S1_2.fastq.gz", "S2_1.fastq.gz")

	_, err := Discover(dir, "*.fastq.gz")
	require.Error(t, err)
	assert.Equal(t, pipeline.KindInputResolution, pipeline.KindOf(err))
	assert.Contains(t, err.Error(), "S2")
	assert.Contains(t, err.Error(), "only _1")
}

func TestDiscoverSingleFileSamples(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "tumor.bam", "normal.bam")

	m, err := Discover(dir, "*.bam")
	require.NoError(t, err)
	assert.Equal(t, []SampleKey{"normal", "tumor"}, m.Keys())

	files, _ := m.Files("tumor")
	assert.Equal(t, filepath.Join(dir, "tumor.bam"), files["reads"])
}

func TestDiscoverNoMatches(t *testing.T) {
	_, err := Discover(t.TempDir(), "*.fastq.gz")
	require.Error(t, err)
	assert.Equal(t, pipeline.KindInputResolution, pipeline.KindOf(err))
}

func TestKeysAreLexical(t *testing.T) {
	m := New(map[SampleKey]map[string]string{
		"S10": {}, "S2": {}, "S1": {},
	})
	assert.Equal(t, []SampleKey{"S1", "S10", "S2"}, m.Keys())
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a_1.fq", "a_2.fq")

	manifestPath := filepath.Join(dir, "samples.yaml")
	content := "samples:\n" +
		"  SampleA:\n" +
		"    r1: " + filepath.Join(dir, "a_1.fq") + "\n" +
		"    r2: " + filepath.Join(dir, "a_2.fq") + "\n"
	require.NoError(t, os.WriteFile(manifestPath, []byte(content), 0o644))

	m, err := LoadYAML(manifestPath)
	require.NoError(t, err)
	assert.Equal(t, []SampleKey{"SampleA"}, m.Keys())
}

func TestLoadYAMLMissingFile(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "samples.yaml")
	content := "samples:\n  SampleA:\n    r1: /nonexistent/a_1.fq\n"
	require.NoError(t, os.WriteFile(manifestPath, []byte(content), 0o644))

	_, err := LoadYAML(manifestPath)
	require.Error(t, err)
	assert.Equal(t, pipeline.KindInputResolution, pipeline.KindOf(err))
	assert.Contains(t, err.Error(), "SampleA")
}

func TestLoadYAMLEmpty(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "samples.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte("samples: {}\n"), 0o644))

	_, err := LoadYAML(manifestPath)
	require.Error(t, err)
	assert.True(t, pipeline.IsConfigError(err))
}
