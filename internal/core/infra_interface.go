package core

import (
	"context"
	"io"
	"time"

	"github.com/markdave123-py/knowledgehub/internal/models"
)

// FileRepository persists FileRecords. Status changes are compare-and-set:
// a transition from an unexpected state returns ErrStatusConflict.
type FileRepository interface {
	CreateFile(ctx context.Context, f *models.FileRecord) error
	GetFileByID(ctx context.Context, id string) (*models.FileRecord, error)
	GetFileByPath(ctx context.Context, path string) (*models.FileRecord, error)
	ListFiles(ctx context.Context, userID, workspaceID string) ([]models.FileRecord, error)
	DeleteFile(ctx context.Context, id string) error

	MarkFileProcessing(ctx context.Context, id string) error
	MarkFileProcessed(ctx context.Context, id, text, contentHash string, processedAt time.Time) error
	MarkFileFailed(ctx context.Context, id, reason string) error
}

// ChunkRepository stores embedded chunks in pgvector.
type ChunkRepository interface {
	// ReplaceFileChunks swaps every chunk of fileID for chunks in one transaction.
	ReplaceFileChunks(ctx context.Context, fileID string, chunks []models.DocumentChunk) error
	SearchChunks(ctx context.Context, queryVec []float32, limit int, scope models.SearchScope) ([]models.DocumentChunk, error)
	DeleteFileChunks(ctx context.Context, fileID string) error
}

// DbClient abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	FileRepository
	ChunkRepository

	Ping(ctx context.Context) error
	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data io.Reader, size int64, contentType string) error
	GetFile(ctx context.Context, key string) ([]byte, error)
	DeleteFile(ctx context.Context, key string) error
}
