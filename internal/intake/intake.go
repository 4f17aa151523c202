// Package intake persists uploaded statements under the uploads area.
//
// Every upload gets a fresh UUID and lands at <dir>/<uuid>.pdf through a temp file and a
// rename, so concurrent requests never see each other's partial writes and never collide.
package intake

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/devcubo3/trabalho-mae/internal/store"
	"github.com/devcubo3/trabalho-mae/internal/types"
)

const (
	extension    = ".pdf"
	tempPattern  = ".upload-*"
	maxNameLen   = 255
	pdfSignature = "%PDF-"
)

type Intake struct {
	dir     string
	maxSize int64
	logger  *slog.Logger
}

func New(dir string, maxSize int64, logger *slog.Logger) (*Intake, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	in := &Intake{
		dir:     abs,
		maxSize: maxSize,
		logger:  logger.With("component", "intake"),
	}
	if err := in.CheckWritable(); err != nil {
		return nil, err
	}
	return in, nil
}

func (in *Intake) Dir() string {
	return in.dir
}

// CheckWritable creates and removes a probe file in the uploads area.
func (in *Intake) CheckWritable() error {
	return store.CheckWritable(in.dir)
}

// Save validates the payload and stores it under a new ID.
func (in *Intake) Save(ctx context.Context, filename string, contentType string, r io.Reader) (types.Upload, error) {
	if err := ValidateFilename(filename); err != nil {
		return types.Upload{}, err
	}

	br := bufio.NewReader(r)
	head, err := br.Peek(len(pdfSignature))
	if len(head) == 0 {
		return types.Upload{}, fmt.Errorf("%w: file is empty", types.ErrInvalidUpload)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return types.Upload{}, err
	}
	if !bytes.Equal(head, []byte(pdfSignature)) {
		return types.Upload{}, fmt.Errorf("%w: file is not a PDF", types.ErrInvalidUpload)
	}

	tmp, err := os.CreateTemp(in.dir, tempPattern)
	if err != nil {
		return types.Upload{}, err
	}
	defer func() {
		// no-op once renamed
		_ = os.Remove(tmp.Name())
	}()

	limited := io.LimitReader(br, in.maxSize+1)
	size, err := io.Copy(tmp, contextReader{ctx: ctx, r: limited})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return types.Upload{}, err
	}
	if size > in.maxSize {
		return types.Upload{}, fmt.Errorf("%w: file exceeds %d bytes", types.ErrInvalidUpload, in.maxSize)
	}

	id := types.ID(uuid.New().String())
	path := in.path(id)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return types.Upload{}, err
	}

	in.logger.Debug("upload stored", "id", id, "filename", filename, "size", size)

	return types.Upload{
		ID:          id,
		Filename:    types.Filename(filename),
		ContentType: types.ContentType(contentType),
		Size:        size,
		Path:        path,
		CreateAt:    time.Now().UTC(),
	}, nil
}

// Open returns the stored upload for reading.
func (in *Intake) Open(id types.ID) (*os.File, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	f, err := os.Open(in.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, types.ErrFileNotExists{Name: string(id)}
	}
	return f, err
}

// Remove deletes the upload; removing a missing upload is not an error.
func (in *Intake) Remove(id types.ID) error {
	if err := validateID(id); err != nil {
		return err
	}
	err := os.Remove(in.path(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Stale lists uploads and abandoned temp files last modified before cutoff.
func (in *Intake) Stale(cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return nil, err
	}
	var stale []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, extension) && !strings.HasPrefix(name, ".upload-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, name)
		}
	}
	return stale, nil
}

// RemoveStale deletes what Stale reports, except uploads whose ID keep accepts, and returns
// how many files went away. A nil keep removes everything stale.
func (in *Intake) RemoveStale(ctx context.Context, cutoff time.Time, keep func(types.ID) bool) (int, error) {
	names, err := in.Stale(cutoff)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, name := range names {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if id, ok := strings.CutSuffix(name, extension); ok && keep != nil && keep(types.ID(id)) {
			continue
		}
		if err := os.Remove(filepath.Join(in.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			in.logger.Warn("failed to remove stale upload", "name", name, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (in *Intake) path(id types.ID) string {
	return filepath.Join(in.dir, string(id)+extension)
}

// ValidateFilename rejects client file names that are empty, relative references, paths or
// contain control characters. The name is only kept as metadata; it never reaches the disk.
func ValidateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("%w: filename is empty", types.ErrInvalidUpload)
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("%w: filename is too long", types.ErrInvalidUpload)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: illegal filename %q", types.ErrInvalidUpload, name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: illegal character in filename", types.ErrInvalidUpload)
		}
	}
	return nil
}

func validateID(id types.ID) error {
	if _, err := uuid.Parse(string(id)); err != nil {
		return fmt.Errorf("%w: bad upload ID %q", types.ErrInvalidUpload, id)
	}
	return nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
