package catalog

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	UpsertMedia(ctx context.Context, m *Media) error
	GetMedia(ctx context.Context, id string) (*Media, error)
	GetMediaByPath(ctx context.Context, path string) (*Media, error)
	ListMedia(ctx context.Context) ([]*Media, error)
	DeleteMedia(ctx context.Context, id string) error
	CountMedia(ctx context.Context) (int, error)

	CreateExport(ctx context.Context, e *ExportRecord) error
	GetExport(ctx context.Context, id string) (*ExportRecord, error)
	ListExports(ctx context.Context, limit int) ([]*ExportRecord, error)
	UpdateExportProgress(ctx context.Context, id string, progress int) error
	FailExport(ctx context.Context, id, errorMsg string) error
	CompleteExport(ctx context.Context, id, artifactID string, artifactSize int64) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const mediaColumns = `id, kind, path, filename, size, mtime, fingerprint, duration_ms, width, height, created_at`

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) UpsertMedia(ctx context.Context, m *Media) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO media (`+mediaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			kind = excluded.kind,
			size = excluded.size,
			mtime = excluded.mtime,
			fingerprint = excluded.fingerprint,
			duration_ms = excluded.duration_ms,
			width = excluded.width,
			height = excluded.height
	`, m.ID, m.Kind, m.Path, m.Filename, m.Size, m.Mtime.UTC().Format(time.RFC3339), m.Fingerprint,
		m.DurationMs, m.Width, m.Height, m.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetMedia(ctx context.Context, id string) (*Media, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media WHERE id = ?`, id)
	return noRows(scanMedia(row))
}

func (r *SQLiteRepository) GetMediaByPath(ctx context.Context, path string) (*Media, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media WHERE path = ?`, path)
	return noRows(scanMedia(row))
}

func scanMedia(row scanner) (*Media, error) {
	var m Media
	var mtime, createdAt string
	err := row.Scan(&m.ID, &m.Kind, &m.Path, &m.Filename, &m.Size, &mtime, &m.Fingerprint,
		&m.DurationMs, &m.Width, &m.Height, &createdAt)
	if err != nil {
		return nil, err
	}
	m.Mtime, _ = time.Parse(time.RFC3339, mtime)
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &m, nil
}

func (r *SQLiteRepository) ListMedia(ctx context.Context) ([]*Media, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+mediaColumns+` FROM media ORDER BY created_at DESC, filename`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var media []*Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		media = append(media, m)
	}
	return media, rows.Err()
}

func (r *SQLiteRepository) DeleteMedia(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM media WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) CountMedia(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM media").Scan(&count)
	return count, err
}

const exportColumns = `id, video_media_id, audio_media_id, resolution, format, quality, status, progress, error, artifact_id, artifact_size, created_at, updated_at`

func (r *SQLiteRepository) CreateExport(ctx context.Context, e *ExportRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exports (`+exportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.VideoMediaID, nullString(e.AudioMediaID), e.Resolution, e.Format, e.Quality,
		e.Status, e.Progress, nullString(e.Error), nullString(e.ArtifactID), e.ArtifactSize,
		e.CreatedAt.UTC().Format(time.RFC3339), e.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetExport(ctx context.Context, id string) (*ExportRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+exportColumns+` FROM exports WHERE id = ?`, id)
	return noRows(scanExport(row))
}

func scanExport(row scanner) (*ExportRecord, error) {
	var e ExportRecord
	var audioID, errMsg, artifactID sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&e.ID, &e.VideoMediaID, &audioID, &e.Resolution, &e.Format, &e.Quality,
		&e.Status, &e.Progress, &errMsg, &artifactID, &e.ArtifactSize, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	e.AudioMediaID = audioID.String
	e.Error = errMsg.String
	e.ArtifactID = artifactID.String
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &e, nil
}

func (r *SQLiteRepository) ListExports(ctx context.Context, limit int) ([]*ExportRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+exportColumns+` FROM exports ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exports []*ExportRecord
	for rows.Next() {
		e, err := scanExport(rows)
		if err != nil {
			return nil, err
		}
		exports = append(exports, e)
	}
	return exports, rows.Err()
}

func (r *SQLiteRepository) UpdateExportProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE exports SET progress = ?, updated_at = ? WHERE id = ? AND status = 'running'
	`, progress, now(), id)
	return err
}

func (r *SQLiteRepository) FailExport(ctx context.Context, id, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE exports SET status = 'failed', progress = 0, error = ?, updated_at = ? WHERE id = ?
	`, nullString(errorMsg), now(), id)
	return err
}

func (r *SQLiteRepository) CompleteExport(ctx context.Context, id, artifactID string, artifactSize int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE exports SET status = 'completed', progress = 100, error = NULL,
			artifact_id = ?, artifact_size = ?, updated_at = ?
		WHERE id = ?
	`, artifactID, artifactSize, now(), id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// noRows maps sql.ErrNoRows to a nil result, as callers treat "missing" as nil.
func noRows[T any](v *T, err error) (*T, error) {
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
