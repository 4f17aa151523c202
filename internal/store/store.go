package store

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/devcubo3/trabalho-mae/internal/types"
)

// Results persists finished artifacts. Artifacts are immutable once Put returns, so any
// number of readers may Open the same name concurrently.
type Results interface {
	Put(ctx context.Context, name string, r io.Reader) (types.Artifact, error)
	Open(ctx context.Context, name string) (types.ArtifactReader, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]types.Artifact, error)
}

type Jobs interface {
	CreateJob(ctx context.Context, job types.Job) error
	UpdateJob(ctx context.Context, job types.Job) error
	GetJob(ctx context.Context, id types.ID) (types.Job, error)
	DeleteJob(ctx context.Context, id types.ID) error

	// ListFinishedJobs returns terminal jobs last updated before cutoff.
	ListFinishedJobs(ctx context.Context, cutoff time.Time) ([]types.Job, error)
}

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidName rejects artifact names that could escape the result area.
func ValidName(name string) error {
	if len(name) > 255 || !validName.MatchString(name) || filepath.Base(name) != name {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}

// ContentTypeOf guesses the content type from the artifact extension.
func ContentTypeOf(name string) types.ContentType {
	ext := filepath.Ext(name)
	if ext == ".docx" {
		return types.DocxContentType
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return types.ContentType(ct)
	}
	return "application/octet-stream"
}

// CheckWritable verifies dir accepts new files.
func CheckWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}

// Expired filters artifacts created before cutoff.
func Expired(artifacts []types.Artifact, cutoff time.Time) []types.Artifact {
	var out []types.Artifact
	for _, a := range artifacts {
		if a.CreateAt.Before(cutoff) {
			out = append(out, a)
		}
	}
	return out
}
