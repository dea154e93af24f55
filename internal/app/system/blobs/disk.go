package blobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dalemusser/waffle/pantry/storage"
)

// Disk stores blobs under a root directory and serves them below baseURL.
type Disk struct {
	root    string
	baseURL string
}

// NewDisk creates root if needed.
func NewDisk(root, baseURL string) (*Disk, error) {
	if root == "" {
		return nil, errors.New("blobs: empty root path")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blobs: create root: %w", err)
	}
	return &Disk{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// FullPath resolves path below the root, rejecting traversal.
func (d *Disk) FullPath(path string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(path))
	full := filepath.Join(d.root, clean)
	if !strings.HasPrefix(full, filepath.Clean(d.root)+string(filepath.Separator)) {
		return "", fmt.Errorf("blobs: path %q escapes root", path)
	}
	return full, nil
}

// Put writes r to path atomically via a temp file in the same directory.
func (d *Disk) Put(ctx context.Context, path string, r io.Reader, _ *storage.PutOptions) error {
	full, err := d.FullPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, ctxReader{ctx: ctx, r: r}); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), full)
}

// Delete removes path. A missing file is not an error.
func (d *Disk) Delete(_ context.Context, path string) error {
	full, err := d.FullPath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (d *Disk) URL(path string) string {
	return d.baseURL + "/" + strings.TrimLeft(path, "/")
}

// Handler serves stored blobs; mount it at baseURL.
func (d *Disk) Handler() http.Handler {
	return http.StripPrefix(d.baseURL, http.FileServer(http.Dir(d.root)))
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
