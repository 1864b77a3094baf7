package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileStorage keeps blobs on disk under a base directory.
type FileStorage struct {
	root string
}

// NewFileStorage creates the base directory if missing.
func NewFileStorage(root string) (*FileStorage, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("media root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media root: %w", err)
	}
	return &FileStorage{root: root}, nil
}

// Root returns the base directory.
func (f *FileStorage) Root() string {
	return f.root
}

func (f *FileStorage) full(p string) (string, error) {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return "", fmt.Errorf("invalid blob path %q", p)
	}
	return filepath.Join(f.root, filepath.FromSlash(clean[1:])), nil
}

func (f *FileStorage) Put(ctx context.Context, p string, r io.Reader, size int64) error {
	target, err := f.full(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: r}); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to store blob: %w", err)
	}
	return nil
}

func (f *FileStorage) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	target, err := f.full(p)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return file, nil
}

func (f *FileStorage) Stat(ctx context.Context, p string) (Info, error) {
	target, err := f.full(p)
	if err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, ErrNotExist
		}
		return Info{}, fmt.Errorf("failed to stat blob: %w", err)
	}
	if fi.IsDir() {
		return Info{}, ErrNotExist
	}
	return Info{Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

func (f *FileStorage) Delete(ctx context.Context, p string) error {
	target, err := f.full(p)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func (f *FileStorage) DeletePrefix(ctx context.Context, prefix string) error {
	target, err := f.full(prefix)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("failed to delete blob tree: %w", err)
	}
	return nil
}

func (f *FileStorage) Move(ctx context.Context, from, to string) error {
	src, err := f.full(from)
	if err != nil {
		return err
	}
	dst, err := f.full(to)
	if err != nil {
		return err
	}
	if src == dst {
		return nil
	}
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotExist
		}
		return fmt.Errorf("failed to stat blob: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create blob dir: %w", err)
	}
	if _, err := os.Stat(dst); errors.Is(err, fs.ErrNotExist) {
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("failed to move blob: %w", err)
		}
		return nil
	}
	return merge(src, dst)
}

// merge moves the contents of src into an existing dst, then removes src.
func merge(src, dst string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat blob: %w", err)
	}
	if !fi.IsDir() {
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("failed to move blob: %w", err)
		}
		return nil
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("failed to read blob dir: %w", err)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("failed to create blob dir: %w", err)
	}
	for _, entry := range entries {
		s, d := filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())
		if _, err := os.Stat(d); errors.Is(err, fs.ErrNotExist) {
			if err := os.Rename(s, d); err != nil {
				return fmt.Errorf("failed to move blob: %w", err)
			}
			continue
		}
		if err := merge(s, d); err != nil {
			return err
		}
	}
	return os.Remove(src)
}

func (f *FileStorage) List(ctx context.Context, prefix string) ([]string, error) {
	base, err := f.full(prefix)
	if err != nil {
		return nil, err
	}
	var paths []string
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	return paths, nil
}

// contextReader stops copying once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
