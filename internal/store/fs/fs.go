// Package fs keeps results as plain files in the results area.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/devcubo3/trabalho-mae/internal/store"
	"github.com/devcubo3/trabalho-mae/internal/types"
)

const tempPrefix = ".result-"

var _ store.Results = (*Store)(nil)

type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create result dir: %w", err)
	}
	if err := store.CheckWritable(abs); err != nil {
		return nil, err
	}
	return &Store{dir: abs}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) CheckWritable() error {
	return store.CheckWritable(s.dir)
}

// Put writes to a temp file and renames it into place, so a download never observes a
// partially written document.
func (s *Store) Put(ctx context.Context, name string, r io.Reader) (types.Artifact, error) {
	if err := store.ValidName(name); err != nil {
		return types.Artifact{}, err
	}

	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return types.Artifact{}, err
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, ctxReader{ctx: ctx, r: r})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return types.Artifact{}, err
	}

	path := filepath.Join(s.dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return types.Artifact{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return types.Artifact{}, err
	}
	return artifactOf(name, size, info), nil
}

func (s *Store) Open(_ context.Context, name string) (types.ArtifactReader, error) {
	if err := store.ValidName(name); err != nil {
		return types.ArtifactReader{}, types.ErrFileNotExists{Name: name}
	}

	f, err := os.Open(filepath.Join(s.dir, name))
	if errors.Is(err, iofs.ErrNotExist) {
		return types.ArtifactReader{}, types.ErrFileNotExists{Name: name}
	}
	if err != nil {
		return types.ArtifactReader{}, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return types.ArtifactReader{}, err
	}
	if info.IsDir() {
		_ = f.Close()
		return types.ArtifactReader{}, types.ErrFileNotExists{Name: name}
	}

	return types.ArtifactReader{
		Artifact: artifactOf(name, info.Size(), info),
		Reader:   f,
	}, nil
}

func (s *Store) Delete(_ context.Context, name string) error {
	if err := store.ValidName(name); err != nil {
		return types.ErrFileNotExists{Name: name}
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if errors.Is(err, iofs.ErrNotExist) {
		return types.ErrFileNotExists{Name: name}
	}
	return err
}

// List skips temp files of writes still in progress.
func (s *Store) List(_ context.Context) ([]types.Artifact, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var artifacts []types.Artifact
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, artifactOf(entry.Name(), info.Size(), info))
	}
	return artifacts, nil
}

func artifactOf(name string, size int64, info iofs.FileInfo) types.Artifact {
	return types.Artifact{
		Name:        name,
		ContentType: store.ContentTypeOf(name),
		Size:        size,
		CreateAt:    info.ModTime().UTC(),
	}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
