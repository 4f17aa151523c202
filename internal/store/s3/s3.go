// Package s3 keeps results in an S3 compatible bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/devcubo3/trabalho-mae/config"
	"github.com/devcubo3/trabalho-mae/internal/store"
	"github.com/devcubo3/trabalho-mae/internal/types"
)

// API is the part of the S3 client the store needs.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var _ store.Results = (*Store)(nil)

type Store struct {
	client API
	bucket string
	prefix string
}

// NewClient builds a path-style client, which works for AWS as well as MinIO and other
// S3 compatible endpoints.
func NewClient(cfg config.S3) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: true,
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if cfg.AccessKeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
	}
	return s3.New(opts)
}

func New(client API, bucket, prefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Put buffers the document so the upload has a known length and a seekable body for signing.
func (s *Store) Put(ctx context.Context, name string, r io.Reader) (types.Artifact, error) {
	if err := store.ValidName(name); err != nil {
		return types.Artifact{}, err
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return types.Artifact{}, err
	}

	contentType := store.ContentTypeOf(name)
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(name)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(string(contentType)),
	}); err != nil {
		return types.Artifact{}, fmt.Errorf("put %s: %w", name, err)
	}

	return types.Artifact{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(body)),
		CreateAt:    time.Now().UTC(),
	}, nil
}

func (s *Store) Open(ctx context.Context, name string) (types.ArtifactReader, error) {
	if err := store.ValidName(name); err != nil {
		return types.ArtifactReader{}, types.ErrFileNotExists{Name: name}
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if isNotFound(err) {
		return types.ArtifactReader{}, types.ErrFileNotExists{Name: name}
	}
	if err != nil {
		return types.ArtifactReader{}, fmt.Errorf("get %s: %w", name, err)
	}

	artifact := types.Artifact{
		Name:        name,
		ContentType: store.ContentTypeOf(name),
		Size:        aws.ToInt64(out.ContentLength),
		CreateAt:    aws.ToTime(out.LastModified).UTC(),
	}
	if ct := aws.ToString(out.ContentType); ct != "" {
		artifact.ContentType = types.ContentType(ct)
	}

	return types.ArtifactReader{
		Artifact: artifact,
		Reader:   out.Body,
	}, nil
}

// Delete reports a missing object, which a bare DeleteObject would not.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := store.ValidName(name); err != nil {
		return types.ErrFileNotExists{Name: name}
	}

	key := aws.String(s.key(name))
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: key})
	if isNotFound(err) {
		return types.ErrFileNotExists{Name: name}
	}
	if err != nil {
		return fmt.Errorf("head %s: %w", name, err)
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: key}); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]types.Artifact, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix + "/")
	}

	var artifacts []types.Artifact
	pages := s3.NewListObjectsV2Paginator(s.client, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", s.bucket, err)
		}
		for _, obj := range page.Contents {
			name := path.Base(aws.ToString(obj.Key))
			if store.ValidName(name) != nil {
				continue
			}
			artifacts = append(artifacts, types.Artifact{
				Name:        name,
				ContentType: store.ContentTypeOf(name),
				Size:        aws.ToInt64(obj.Size),
				CreateAt:    aws.ToTime(obj.LastModified).UTC(),
			})
		}
	}
	return artifacts, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}
