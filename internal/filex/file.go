// Package filex holds file system helpers shared by providers and the
// sync engine.
package filex

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// TempPrefix marks staging files; listings skip names with this prefix.
const TempPrefix = ".gophvault-"

// EnsureDir creates dir (and parents) with owner/group-only permissions
// and returns its absolute path.
func EnsureDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", abs, err)
	}
	return abs, nil
}

// Exists reports whether p names an existing file or directory.
func Exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// TempPath returns a unique staging path next to p.
func TempPath(p string) string {
	return filepath.Join(filepath.Dir(p), TempPrefix+uuid.NewString())
}

// WriteAtomically streams r into dst through a temp file in dst's
// directory, so readers never observe a partially written dst.
// Errors from creating the temp file keep their fs.ErrNotExist identity.
func WriteAtomically(ctx context.Context, r io.Reader, dst string) error {
	tmp := TempPath(dst)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	_, err = io.Copy(f, ctxReader{ctx: ctx, r: r})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename into %s: %w", dst, err)
	}
	return nil
}

// CopyFile copies src to dst atomically.
func CopyFile(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	return WriteAtomically(ctx, in, dst)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
