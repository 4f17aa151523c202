package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/devcubo3/trabalho-mae/internal/store"
	"github.com/devcubo3/trabalho-mae/internal/store/db/file"
	"github.com/devcubo3/trabalho-mae/internal/types"
)

// fixed width so stored timestamps sort lexically
const timeFormat = "2006-01-02T15:04:05.000000000Z"

var (
	_ store.Jobs    = (*DB)(nil)
	_ store.Results = (*DB)(nil)
)

type DB struct {
	ctx       *sql.DB
	chunkSize int
	logger    *slog.Logger
}

//go:embed migrations/*.sql
var migrationsFs embed.FS

// New opens the sqlite database at path and migrates it to the latest schema.
func New(path string, chunkSize int, optimizeForLitestream bool, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("invalid chunk size %d", chunkSize)
	}
	logger = logger.With("component", "sqlite")
	logger.Info("opening database", "path", path)

	ctx, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers anyway; one connection keeps chunked writes and reads ordered
	ctx.SetMaxOpenConns(1)

	if _, err := ctx.Exec(`
		PRAGMA temp_store = FILE;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		_ = ctx.Close()
		return nil, fmt.Errorf("failed to set up pragmas: %w", err)
	}

	if optimizeForLitestream {
		if _, err := ctx.Exec(`
			PRAGMA synchronous = NORMAL;
			PRAGMA wal_autocheckpoint = 0;
		`); err != nil {
			_ = ctx.Close()
			return nil, fmt.Errorf("failed to set up Litestream pragmas: %w", err)
		}
	}

	if err := migrate(ctx); err != nil {
		_ = ctx.Close()
		return nil, err
	}

	return &DB{
		ctx:       ctx,
		chunkSize: chunkSize,
		logger:    logger,
	}, nil
}

func (d *DB) Close() error {
	return d.ctx.Close()
}

func (d *DB) Ping(ctx context.Context) error {
	return d.ctx.PingContext(ctx)
}

func (d *DB) CreateJob(ctx context.Context, job types.Job) error {
	_, err := d.ctx.ExecContext(ctx, `
	INSERT INTO
		jobs
	(
		id,
		status,
		source_name,
		bank,
		branch,
		account_number,
		pages,
		transactions,
		result,
		error,
		created_at,
		updated_at
	)
	VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		job.ID,
		job.Status,
		job.SourceName,
		job.Account.Bank,
		job.Account.Branch,
		job.Account.Number,
		job.Pages,
		job.Transactions,
		job.Result,
		job.Error,
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

func (d *DB) UpdateJob(ctx context.Context, job types.Job) error {
	res, err := d.ctx.ExecContext(ctx, `
		UPDATE jobs
		SET
			status = ?,
			pages = ?,
			transactions = ?,
			result = ?,
			error = ?,
			updated_at = ?
		WHERE
			id=?
	`, job.Status, job.Pages, job.Transactions, job.Result, job.Error, formatTime(job.UpdatedAt), job.ID)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return types.ErrJobNotFound{ID: job.ID}
	}

	return nil
}

const jobColumns = `
		id,
		status,
		source_name,
		bank,
		branch,
		account_number,
		pages,
		transactions,
		result,
		error,
		created_at,
		updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (types.Job, error) {
	var (
		job                  types.Job
		createdAt, updatedAt string
		err                  error
	)
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&job.SourceName,
		&job.Account.Bank,
		&job.Account.Branch,
		&job.Account.Number,
		&job.Pages,
		&job.Transactions,
		&job.Result,
		&job.Error,
		&createdAt,
		&updatedAt,
	); err != nil {
		return types.Job{}, err
	}
	if job.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return types.Job{}, err
	}
	if job.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return types.Job{}, err
	}
	return job, nil
}

func (d *DB) GetJob(ctx context.Context, id types.ID) (types.Job, error) {
	job, err := scanJob(d.ctx.QueryRowContext(ctx, `SELECT`+jobColumns+` FROM jobs WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Job{}, types.ErrJobNotFound{ID: id}
	}
	return job, err
}

func (d *DB) DeleteJob(ctx context.Context, id types.ID) error {
	res, err := d.ctx.ExecContext(ctx, `DELETE FROM jobs WHERE id=?`, id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return types.ErrJobNotFound{ID: id}
	}
	return nil
}

func (d *DB) ListFinishedJobs(ctx context.Context, cutoff time.Time) ([]types.Job, error) {
	rows, err := d.ctx.QueryContext(ctx, `SELECT`+jobColumns+`
		FROM
			jobs
		WHERE
			status IN (?, ?) AND updated_at < ?
		ORDER BY
			updated_at ASC`,
		types.StatusDone, types.StatusFailed, formatTime(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// FailUnfinishedJobs marks every queued or running job as failed with message. It is meant
// for startup, when no worker can own those jobs any more.
func (d *DB) FailUnfinishedJobs(ctx context.Context, message string, now time.Time) (int, error) {
	res, err := d.ctx.ExecContext(ctx, `
		UPDATE jobs
		SET
			status = ?,
			error = ?,
			updated_at = ?
		WHERE
			status IN (?, ?)
	`, types.StatusFailed, message, formatTime(now), types.StatusQueued, types.StatusRunning)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	return int(rows), err
}

// Put replaces any artifact stored under name. Chunks and metadata are written in one
// transaction, so readers see either the old artifact or the complete new one.
func (d *DB) Put(ctx context.Context, name string, r io.Reader) (types.Artifact, error) {
	if err := store.ValidName(name); err != nil {
		return types.Artifact{}, err
	}

	tx, err := d.ctx.BeginTx(ctx, nil)
	if err != nil {
		return types.Artifact{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM result_chunks WHERE name=?`, name); err != nil {
		return types.Artifact{}, err
	}

	w := file.NewWriter(ctx, tx, name, d.chunkSize)
	size, err := io.Copy(w, r)
	if err != nil {
		return types.Artifact{}, err
	}
	if err := w.Close(); err != nil {
		return types.Artifact{}, err
	}

	artifact := types.Artifact{
		Name:        name,
		ContentType: store.ContentTypeOf(name),
		Size:        size,
		CreateAt:    time.Now().UTC(),
	}

	if _, err := tx.ExecContext(ctx, `
	INSERT OR REPLACE INTO
		results
	(
		name,
		content_type,
		size,
		create_at
	)
	VALUES(?,?,?,?)`,
		artifact.Name,
		artifact.ContentType,
		artifact.Size,
		formatTime(artifact.CreateAt),
	); err != nil {
		d.logger.Error("failed to insert into results", "name", name, "error", err)
		return types.Artifact{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.Artifact{}, err
	}
	return artifact, nil
}

func (d *DB) Open(ctx context.Context, name string) (types.ArtifactReader, error) {
	artifact, err := d.metadata(ctx, name)
	if err != nil {
		return types.ArtifactReader{}, err
	}

	r, err := file.NewReader(ctx, d.ctx, name, artifact.Size)
	if err != nil {
		return types.ArtifactReader{}, err
	}

	return types.ArtifactReader{
		Artifact: artifact,
		Reader:   readSeekNopCloser{r},
	}, nil
}

func (d *DB) metadata(ctx context.Context, name string) (types.Artifact, error) {
	if err := store.ValidName(name); err != nil {
		return types.Artifact{}, types.ErrFileNotExists{Name: name}
	}

	var (
		artifact = types.Artifact{Name: name}
		createAt string
	)
	err := d.ctx.QueryRowContext(ctx, `
		SELECT
			content_type,
			size,
			create_at
		FROM
			results
		WHERE
			name=?`, name).Scan(&artifact.ContentType, &artifact.Size, &createAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Artifact{}, types.ErrFileNotExists{Name: name}
	}
	if err != nil {
		return types.Artifact{}, err
	}

	if artifact.CreateAt, err = time.Parse(timeFormat, createAt); err != nil {
		return types.Artifact{}, err
	}
	return artifact, nil
}

func (d *DB) Delete(ctx context.Context, name string) error {
	tx, err := d.ctx.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM results WHERE name=?`, name)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM result_chunks WHERE name=?`, name); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return types.ErrFileNotExists{Name: name}
	}
	return nil
}

func (d *DB) List(ctx context.Context) ([]types.Artifact, error) {
	rows, err := d.ctx.QueryContext(ctx, `
		SELECT
			name,
			content_type,
			size,
			create_at
		FROM
			results
		ORDER BY
			create_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []types.Artifact
	for rows.Next() {
		var (
			a        types.Artifact
			createAt string
		)
		if err := rows.Scan(&a.Name, &a.ContentType, &a.Size, &createAt); err != nil {
			return nil, err
		}
		if a.CreateAt, err = time.Parse(timeFormat, createAt); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFs)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

type readSeekNopCloser struct {
	io.ReadSeeker
}

func (readSeekNopCloser) Close() error { return nil }
