package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/knowledgehub/internal/models"
)

// ReplaceFileChunks deletes the file's existing chunks and inserts the new
// set in a single transaction, so re-indexing a file never leaves duplicates.
func (c *DatabaseClient) ReplaceFileChunks(ctx context.Context, fileID string, chunks []models.DocumentChunk) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE file_id = $1`, fileID); err != nil {
		return fmt.Errorf("clear chunks for %s: %w", fileID, err)
	}

	const q = `
		INSERT INTO document_chunks
			(id, file_id, position, text, token_count, source, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		if ch.FileID != fileID {
			return fmt.Errorf("chunk %d belongs to %s, not %s", ch.Position, ch.FileID, fileID)
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.FileID, ch.Position, ch.Text, ch.TokenCount, ch.Source, pgvector.NewVector(ch.Embedding),
		); err != nil {
			return fmt.Errorf("insert chunk %d: %w", ch.Position, err)
		}
	}
	return tx.Commit()
}

// SearchChunks returns the limit chunks closest to queryVec by cosine distance,
// restricted to files matching scope.
func (c *DatabaseClient) SearchChunks(ctx context.Context, queryVec []float32, limit int, scope models.SearchScope) ([]models.DocumentChunk, error) {
	const q = `
		SELECT c.id, c.file_id, c.position, c.text, c.token_count, COALESCE(c.source, ''), c.embedding, c.created_at
		FROM document_chunks c
		JOIN files f ON f.id = c.file_id
		WHERE ($3::text = '' OR f.user_id = $3)
		  AND ($4::text = '' OR f.workspace_id = $4)
		ORDER BY c.embedding <=> $1
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, q, pgvector.NewVector(queryVec), limit, scope.UserID, scope.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var (
			ch  models.DocumentChunk
			emb pgvector.Vector
		)
		if err := rows.Scan(&ch.ID, &ch.FileID, &ch.Position, &ch.Text, &ch.TokenCount, &ch.Source, &emb, &ch.CreatedAt); err != nil {
			return nil, err
		}
		ch.Embedding = emb.Slice()
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) DeleteFileChunks(ctx context.Context, fileID string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE file_id = $1`, fileID); err != nil {
		return fmt.Errorf("delete chunks for %s: %w", fileID, err)
	}
	return nil
}
