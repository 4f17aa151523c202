package file

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/devcubo3/trabalho-mae/internal/store/db/wrapper"
)

type reader struct {
	ctx        context.Context
	db         wrapper.Querier
	name       string
	fileLength int64
	offset     int64
	chunkSize  int64
	buf        *bytes.Buffer
}

// NewReader streams the chunks of name back in order, one chunk in memory at a time.
// An artifact with no chunks reads as empty.
func NewReader(ctx context.Context, db wrapper.Querier, name string, size int64) (io.ReadSeeker, error) {
	r := &reader{
		ctx:        ctx,
		db:         db,
		name:       name,
		fileLength: size,
		buf:        &bytes.Buffer{},
	}
	if size == 0 {
		return r, nil
	}

	if err := db.QueryRowContext(ctx, `
		SELECT
			LENGTH(chunk)
		FROM
			result_chunks
		WHERE
			name=?
		ORDER BY
			chunk_index ASC
		LIMIT 1
	`, name).Scan(&r.chunkSize); err != nil {
		return nil, fmt.Errorf("read chunk size of %s: %w", name, err)
	}

	return r, nil
}

func (r *reader) Read(p []byte) (int, error) {
	read := 0
	for read < len(p) {
		n, err := r.buf.Read(p[read:])
		read += n
		if err != io.EOF {
			continue
		}
		if r.offset >= r.fileLength {
			if read > 0 {
				return read, nil
			}
			return 0, io.EOF
		}
		if err := r.populateBuffer(); err != nil {
			return read, err
		}
	}
	return read, nil
}

func (r *reader) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = r.offset - int64(r.buf.Len()) + offset
	case io.SeekEnd:
		next = r.fileLength + offset
	default:
		return 0, fmt.Errorf("invalid whence value: %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative position %d", next)
	}

	r.buf = &bytes.Buffer{}
	r.offset = next
	return r.offset, nil
}

func (r *reader) populateBuffer() error {
	chunkIndex := r.offset / r.chunkSize

	var chunk []byte
	if err := r.db.QueryRowContext(r.ctx, `
		SELECT
			chunk
		FROM
			result_chunks
		WHERE
			name=? AND chunk_index=?
	`, r.name, chunkIndex).Scan(&chunk); err != nil {
		return fmt.Errorf("read chunk %d of %s: %w", chunkIndex, r.name, err)
	}

	readStart := r.offset % r.chunkSize
	if readStart >= int64(len(chunk)) {
		return io.ErrUnexpectedEOF
	}
	r.buf = bytes.NewBuffer(chunk[readStart:])
	r.offset += int64(len(chunk)) - readStart

	return nil
}
