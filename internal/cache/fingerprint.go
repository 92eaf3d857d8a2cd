// Package cache persists per-instance fingerprints so a re-run can skip
// task instances whose template, command, and resolved inputs are
// unchanged and whose outputs are already durably published.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/seqpipe/seqpipe/internal/pipeline"
)

// Domain prefix for fingerprint hashing. The version suffix leaves room to
// change the algorithm without colliding with stored fingerprints.
const fingerprintDomain = "seqpipe/task/v1"

// hashWithDomain computes SHA-256 over domain + 0x00 + data. The null
// separator keeps the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint derives the identity of one task instance execution:
// template name, command template, container image, and the content hash of
// every resolved input, in sorted input order. Any change to any of these
// yields a different fingerprint and forces re-execution.
func Fingerprint(t *pipeline.TaskTemplate, inputHashes map[string]string) (string, error) {
	names := make([]string, 0, len(inputHashes))
	for name := range inputHashes {
		names = append(names, name)
	}
	sort.Strings(names)

	inputs := make([]any, 0, len(names))
	for _, name := range names {
		inputs = append(inputs, map[string]any{"name": name, "hash": inputHashes[name]})
	}

	canonical, err := marshalCanonical(map[string]any{
		"template":  t.Name,
		"command":   t.Command,
		"container": t.Resources.Container,
		"inputs":    inputs,
	})
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", t.Name, err)
	}
	return hashWithDomain(fingerprintDomain, canonical), nil
}

// HashFile computes the content hash of one local input file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
