package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqpipe/seqpipe/internal/pipeline"
)

func quantTemplate() *pipeline.TaskTemplate {
	return &pipeline.TaskTemplate{
		Name:    "quant",
		Command: "quant {input.idx} {input.reads}",
		Resources: pipeline.Resources{
			CPUs:      4,
			Container: "quay.io/biocontainers/rsem:1.3.3",
		},
	}
}

func TestFingerprintStable(t *testing.T) {
	hashes := map[string]string{
		"reads/trimmed": "aaa",
		"idx/idx":       "bbb",
	}

	a, err := Fingerprint(quantTemplate(), hashes)
	require.NoError(t, err)
	b, err := Fingerprint(quantTemplate(), hashes)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64, "hex-encoded SHA-256")
}

func TestFingerprintInsensitiveToMapOrder(t *testing.T) {
	a, err := Fingerprint(quantTemplate(), map[string]string{"a": "1", "b": "2", "c": "3"})
	require.NoError(t, err)
	b, err := Fingerprint(quantTemplate(), map[string]string{"c": "3", "a": "1", "b": "2"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFingerprintSensitivity(t *testing.T) {
	base := map[string]string{"reads/trimmed": "aaa"}
	orig, err := Fingerprint(quantTemplate(), base)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(tm *pipeline.TaskTemplate, hashes map[string]string)
	}{
		{"command change", func(tm *pipeline.TaskTemplate, _ map[string]string) {
			tm.Command = "quant --strict {input.idx} {input.reads}"
		}},
		{"container change", func(tm *pipeline.TaskTemplate, _ map[string]string) {
			tm.Resources.Container = "quay.io/biocontainers/rsem:1.3.4"
		}},
		{"input content change", func(_ *pipeline.TaskTemplate, hashes map[string]string) {
			hashes["reads/trimmed"] = "aab"
		}},
		{"input added", func(_ *pipeline.TaskTemplate, hashes map[string]string) {
			hashes["extra/file"] = "ccc"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := quantTemplate()
			hashes := map[string]string{"reads/trimmed": "aaa"}
			tt.mutate(tm, hashes)
			fp, err := Fingerprint(tm, hashes)
			require.NoError(t, err)
			assert.NotEqual(t, orig, fp)
		})
	}
}

func TestFingerprintIgnoresSchedulingHints(t *testing.T) {
	base := map[string]string{"reads/trimmed": "aaa"}
	orig, err := Fingerprint(quantTemplate(), base)
	require.NoError(t, err)

	tm := quantTemplate()
	tm.Resources.CPUs = 16
	tm.Resources.MemoryMB = 32768
	tm.Resources.TimeoutSec = 7200

	fp, err := Fingerprint(tm, base)
	require.NoError(t, err)
	assert.Equal(t, orig, fp, "cpu/memory/timeout hints do not change the work")
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reads.fq")
	require.NoError(t, os.WriteFile(path, []byte("ACGT"), 0o644))

	a, err := HashFile(path)
	require.NoError(t, err)
	b, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	require.NoError(t, os.WriteFile(path, []byte("ACGA"), 0o644))
	c, err := HashFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	_, err = HashFile(filepath.Join(dir, "absent"))
	assert.Error(t, err)
}
