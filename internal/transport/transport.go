// Package transport implements the Remote File Transport boundary: file
// access against either the backup host (local) or the database host
// (local or over SSH), parameterised by a host selector per spec.md §6.
package transport

import (
	"context"
	"io"
	"os"
)

// FileInfo is the subset of os.FileInfo the transport surface needs,
// kept independent of the local os package so the SSH arm can populate
// it from a remote stat without a real os.FileInfo value.
type FileInfo struct {
	Name    string
	Size    int64
	Mode    os.FileMode
	IsDir   bool
	ModTime int64 // unix seconds
}

// Transport is the narrow file-access surface the coordinator and
// copier need against one host: open for read, create for write, stat,
// rename and unlink, plus directory creation and listing.
type Transport interface {
	// Open opens path for reading.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Create opens path for writing, truncating or creating with mode.
	Create(ctx context.Context, path string, mode os.FileMode) (io.WriteCloser, error)
	// Stat returns file metadata, or an error satisfying os.IsNotExist.
	Stat(ctx context.Context, path string) (FileInfo, error)
	// Rename atomically renames oldpath to newpath (same host).
	Rename(ctx context.Context, oldpath, newpath string) error
	// Unlink removes path.
	Unlink(ctx context.Context, path string) error
	// Mkdir creates path and any missing parents with mode.
	Mkdir(ctx context.Context, path string, mode os.FileMode) error
	// ReadDir lists the entries directly under path.
	ReadDir(ctx context.Context, path string) ([]FileInfo, error)
	// Chmod changes path's permission bits.
	Chmod(ctx context.Context, path string, mode os.FileMode) error
}

// ReadFile is a convenience wrapper reading the whole of path through t.
func ReadFile(ctx context.Context, t Transport, path string) ([]byte, error) {
	f, err := t.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// WriteFile is a convenience wrapper writing data to path through t.
func WriteFile(ctx context.Context, t Transport, path string, data []byte, mode os.FileMode) error {
	f, err := t.Create(ctx, path, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
