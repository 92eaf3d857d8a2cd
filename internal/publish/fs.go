package publish

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/seqpipe/seqpipe/internal/cache"
)

// FS publishes artifacts onto a local or mounted filesystem.
type FS struct {
	Root string
}

// NewFS creates a filesystem publisher rooted at root.
func NewFS(root string) *FS { return &FS{Root: root} }

// Publish copies srcPath into place. If the destination already exists
// with identical content the copy is skipped. Otherwise the file is staged
// as a uniquely named sibling and renamed in, so readers never observe a
// half-written artifact.
func (f *FS) Publish(ctx context.Context, sample, template, artifact, srcPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dest := Address(f.Root, sample, template, artifact)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("publish %s: %w", dest, err)
	}

	srcHash, err := cache.HashFile(srcPath)
	if err != nil {
		return "", fmt.Errorf("publish %s: hashing source: %w", dest, err)
	}
	if destHash, err := cache.HashFile(dest); err == nil && destHash == srcHash {
		return dest, nil // identical content already published
	}

	staging := dest + ".tmp-" + uuid.NewString()
	if err := copyFile(srcPath, staging); err != nil {
		os.Remove(staging)
		return "", fmt.Errorf("publish %s: %w", dest, err)
	}
	if err := os.Rename(staging, dest); err != nil {
		os.Remove(staging)
		return "", fmt.Errorf("publish %s: %w", dest, err)
	}
	return dest, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
