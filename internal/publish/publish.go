// Package publish copies completed task outputs to their durable location.
//
// The layout is {results_root}/{sample}/{template}/{artifact}. Publishing
// is idempotent: re-publishing identical content is a no-op, and a publish
// never partially overwrites a previously complete one (stage to a
// temporary location, then move atomically into place).
package publish

import (
	"context"
	"path"
	"strings"
)

// Publisher persists one artifact and returns its durable address.
type Publisher interface {
	// Publish copies srcPath to the location addressed by
	// (sample, template, artifact) and returns the final address
	// (a filesystem path or an object URI).
	Publish(ctx context.Context, sample, template, artifact, srcPath string) (string, error)
}

// Address joins the canonical artifact address below a results root.
// Value-scope instances (no sample) publish under the template directly.
func Address(root, sample, template, artifact string) string {
	if sample == "" {
		return path.Join(root, template, artifact)
	}
	return path.Join(root, sample, template, artifact)
}

// IsObjectStore reports whether a results root addresses an S3-compatible
// object store rather than a filesystem path.
func IsObjectStore(root string) bool {
	return strings.HasPrefix(root, "s3://")
}
