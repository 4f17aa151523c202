package fake_db

import (
	"fmt"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/devcubo3/trabalho-mae/internal/store/db"
)

const optimizeForLitestream = false

// NewSqlWithChunk returns a migrated in-memory database that lives until the test ends.
func NewSqlWithChunk(t testing.TB, chunkSize int) *db.DB {
	t.Helper()
	d, err := db.New(ephemeralDbURI(), chunkSize, optimizeForLitestream, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = d.Close()
	})
	return d
}

func New(t testing.TB) *db.DB {
	return NewSqlWithChunk(t, 32*1024)
}

func ephemeralDbURI() string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
}
