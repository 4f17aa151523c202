package file

import (
	"context"
	"io"

	"github.com/devcubo3/trabalho-mae/internal/store/db/wrapper"
)

type writer struct {
	ctx     context.Context
	db      wrapper.SqlDB
	name    string
	buf     []byte
	written int
}

// NewWriter splits everything written into rows of at most chunkLen bytes in result_chunks,
// keyed by the artifact name and a zero-based chunk index.
func NewWriter(ctx context.Context, db wrapper.SqlDB, name string, chunkLen int) io.WriteCloser {
	return &writer{
		ctx:  ctx,
		db:   db,
		name: name,
		buf:  make([]byte, chunkLen),
	}
}

func (w *writer) Write(data []byte) (int, error) {
	bytesWritten := 0

	for bytesWritten < len(data) {
		bufferStart := w.written % len(w.buf)
		copySize := min(len(w.buf)-bufferStart, len(data)-bytesWritten)
		bufferEnd := bufferStart + copySize
		copy(w.buf[bufferStart:bufferEnd], data[bytesWritten:bytesWritten+copySize])

		if bufferEnd == len(w.buf) {
			if err := w.flush(len(w.buf)); err != nil {
				return bytesWritten, err
			}
		}

		w.written += copySize
		bytesWritten += copySize
	}

	return bytesWritten, nil
}

// Close flushes the trailing partial chunk.
func (w *writer) Close() error {
	unflushed := w.written % len(w.buf)
	if unflushed != 0 {
		return w.flush(unflushed)
	}
	return nil
}

func (w *writer) flush(n int) error {
	idx := w.written / len(w.buf)
	_, err := w.db.ExecContext(w.ctx, `
	INSERT INTO
		result_chunks
	(
		name,
		chunk_index,
		chunk
	)
	VALUES(?,?,?)
	`, w.name, idx, w.buf[0:n])
	return err
}
