package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/knowledgehub/internal/core"
	"github.com/markdave123-py/knowledgehub/internal/models"
)

const fileColumns = `
	id, user_id, workspace_id, filename, original_name, mime_type, size, file_type,
	file_path, status, extracted_text, error_message, content_hash,
	created_at, updated_at, processed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*models.FileRecord, error) {
	var f models.FileRecord
	err := row.Scan(
		&f.ID, &f.UserID, &f.WorkspaceID, &f.Filename, &f.OriginalName, &f.MimeType, &f.Size, &f.FileType,
		&f.FilePath, &f.Status, &f.ExtractedText, &f.ErrorMessage, &f.ContentHash,
		&f.CreatedAt, &f.UpdatedAt, &f.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *DatabaseClient) CreateFile(ctx context.Context, f *models.FileRecord) error {
	if f == nil {
		return errors.New("nil file record")
	}
	const q = `
		INSERT INTO files
			(id, user_id, workspace_id, filename, original_name, mime_type, size, file_type, file_path, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	return c.db.QueryRowContext(ctx, q,
		f.ID, f.UserID, f.WorkspaceID, f.Filename, f.OriginalName, f.MimeType, f.Size, f.FileType, f.FilePath, f.Status,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
}

func (c *DatabaseClient) GetFileByID(ctx context.Context, id string) (*models.FileRecord, error) {
	// ids are UUIDs; anything else can't exist and would fail the cast.
	if _, err := uuid.Parse(id); err != nil {
		return nil, core.ErrFileNotFound
	}
	q := `SELECT ` + fileColumns + ` FROM files WHERE id = $1`
	f, err := scanFile(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", id, err)
	}
	return f, nil
}

func (c *DatabaseClient) GetFileByPath(ctx context.Context, path string) (*models.FileRecord, error) {
	q := `SELECT ` + fileColumns + ` FROM files WHERE file_path = $1`
	f, err := scanFile(c.db.QueryRowContext(ctx, q, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file by path: %w", err)
	}
	return f, nil
}

// ListFiles returns the user's files, newest first. An empty workspaceID
// lists every workspace.
func (c *DatabaseClient) ListFiles(ctx context.Context, userID, workspaceID string) ([]models.FileRecord, error) {
	q := `SELECT ` + fileColumns + `
		FROM files
		WHERE user_id = $1 AND ($2 = '' OR workspace_id = $2)
		ORDER BY created_at DESC`

	rows, err := c.db.QueryContext(ctx, q, userID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	out := []models.FileRecord{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// DeleteFile removes the record; its chunks go with it (ON DELETE CASCADE).
func (c *DatabaseClient) DeleteFile(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return core.ErrFileNotFound
	}
	res, err := c.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete file %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrFileNotFound
	}
	return nil
}

func (c *DatabaseClient) MarkFileProcessing(ctx context.Context, id string) error {
	const q = `
		UPDATE files
		SET status = 'PROCESSING', updated_at = now()
		WHERE id = $1 AND status = 'UPLOADED'
	`
	return c.transition(ctx, id, q, id)
}

// MarkFileProcessed clamps processed_at to created_at so clock skew between
// the worker and the database can't produce a record processed before upload.
func (c *DatabaseClient) MarkFileProcessed(ctx context.Context, id, text, contentHash string, processedAt time.Time) error {
	const q = `
		UPDATE files
		SET status = 'PROCESSED',
		    extracted_text = $2,
		    content_hash = $3,
		    error_message = NULL,
		    processed_at = GREATEST($4::timestamptz, created_at),
		    updated_at = now()
		WHERE id = $1 AND status = 'PROCESSING'
	`
	return c.transition(ctx, id, q, id, text, contentHash, processedAt)
}

func (c *DatabaseClient) MarkFileFailed(ctx context.Context, id, reason string) error {
	const q = `
		UPDATE files
		SET status = 'FAILED', error_message = $2, updated_at = now()
		WHERE id = $1 AND status IN ('UPLOADED', 'PROCESSING')
	`
	return c.transition(ctx, id, q, id, reason)
}

// transition runs a compare-and-set status update. Zero affected rows means
// either the file is gone or it is not in the expected state.
func (c *DatabaseClient) transition(ctx context.Context, id, q string, args ...any) error {
	res, err := c.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update file %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update file %s: %w", id, err)
	}
	if n == 1 {
		return nil
	}

	var status string
	err = c.db.QueryRowContext(ctx, `SELECT status FROM files WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrFileNotFound
	}
	if err != nil {
		return fmt.Errorf("read file status %s: %w", id, err)
	}
	return fmt.Errorf("%w: file %s is %s", core.ErrStatusConflict, id, status)
}
