// Package localfs resolves source references to files under a base directory.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/document-scanner/internal/core/domain"
	"github.com/kirillkom/document-scanner/internal/core/ports"
)

var _ ports.ObjectStorage = (*Storage)(nil)

// Storage keys are slash separated paths relative to the base directory.
type Storage struct {
	basePath string
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/storage"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	return &Storage{basePath: abs}, nil
}

func (s *Storage) Save(ctx context.Context, key string, data io.Reader) (domain.SourceRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create parent dir: %w", err)
	}

	// write to a temp file first so readers never see a partial object
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("commit file: %w", err)
	}
	return domain.SourceRef(filepath.ToSlash(key)), nil
}

func (s *Storage) Stat(ctx context.Context, ref domain.SourceRef) (ports.SourceInfo, error) {
	if err := ctx.Err(); err != nil {
		return ports.SourceInfo{}, err
	}
	path, err := s.resolve(string(ref))
	if err != nil {
		return ports.SourceInfo{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return ports.SourceInfo{}, sourceError("stat", ref, err)
	}
	if !info.Mode().IsRegular() {
		return ports.SourceInfo{}, domain.WrapError(domain.ErrInvalidSource, "stat", fmt.Errorf("%s is not a regular file", ref))
	}
	return ports.SourceInfo{
		Name:       info.Name(),
		SizeBytes:  info.Size(),
		ModifiedAt: info.ModTime().UTC(),
	}, nil
}

func (s *Storage) Open(ctx context.Context, ref domain.SourceRef) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.resolve(string(ref))
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, sourceError("open", ref, err)
	}
	return f, nil
}

// Walk lists every regular file below the base directory as ingest items,
// in lexical order. Hidden files and directories are skipped.
func (s *Storage) Walk(ctx context.Context) ([]ports.IngestItem, error) {
	items := make([]ports.IngestItem, 0)
	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path != s.basePath && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		items = append(items, ports.IngestItem{
			Name:       d.Name(),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime().UTC(),
			Ref:        domain.SourceRef(filepath.ToSlash(rel)),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.basePath, err)
	}
	return items, nil
}

func (s *Storage) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", domain.WrapError(domain.ErrInvalidInput, "resolve storage key", fmt.Errorf("key %q escapes storage", key))
	}
	return filepath.Join(s.basePath, clean), nil
}

func sourceError(op string, ref domain.SourceRef, err error) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return domain.WrapError(domain.ErrInvalidSource, op, fmt.Errorf("ref=%s: %w", ref, err))
	}
	return fmt.Errorf("%s %s: %w", op, ref, err)
}
