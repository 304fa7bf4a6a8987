package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/knowledgehub/internal/core"
	"github.com/markdave123-py/knowledgehub/internal/core/ingestion_engine"
	"github.com/markdave123-py/knowledgehub/internal/core/queue"
	"github.com/markdave123-py/knowledgehub/internal/models"
)

const (
	DefaultWorkspace  = "default"
	DefaultMaxUpload  = 10 << 20
	UploadSuccessText = "File uploaded successfully. Processing in background..."
)

// ErrValidation marks input rejected before anything is stored.
var ErrValidation = errors.New("validation failed")

type UploadInput struct {
	Filename string
	MimeType string
	Size     int64
	Body     io.Reader
}

type UploadResult struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// FileService owns the lifecycle of uploaded files up to the point a
// worker picks them up.
type FileService struct {
	db      core.DbClient
	storage core.ObjectClient
	queue   queue.Queue
	maxSize int64
	logger  *slog.Logger
}

func NewFileService(db core.DbClient, storage core.ObjectClient, q queue.Queue, maxSize int64, logger *slog.Logger) *FileService {
	if maxSize <= 0 {
		maxSize = DefaultMaxUpload
	}
	return &FileService{
		db:      db,
		storage: storage,
		queue:   q,
		maxSize: maxSize,
		logger:  logger.With("component", "files"),
	}
}

// MaxSize is the largest accepted upload in bytes.
func (s *FileService) MaxSize() int64 { return s.maxSize }

// Upload validates, stores and enqueues a file. Nothing is written when the
// type or size is rejected.
func (s *FileService) Upload(ctx context.Context, userID, workspaceID string, in UploadInput) (*UploadResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user", ErrValidation)
	}
	name := sanitizeFilename(in.Filename)
	if name == "" {
		return nil, fmt.Errorf("%w: missing filename", ErrValidation)
	}
	fileType, ok := models.FileTypeForMime(in.MimeType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedFileType, in.MimeType)
	}
	if in.Size > s.maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", core.ErrFileTooLarge, in.Size, s.maxSize)
	}
	if workspaceID = strings.TrimSpace(workspaceID); workspaceID == "" {
		workspaceID = DefaultWorkspace
	}
	if strings.ContainsAny(workspaceID, `/\`) || workspaceID == ".." {
		return nil, fmt.Errorf("%w: invalid workspace id", ErrValidation)
	}

	id := uuid.NewString()
	key := objectKey(userID, workspaceID, id, name)

	if err := s.storage.UploadFile(ctx, key, in.Body, in.Size, in.MimeType); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	rec := &models.FileRecord{
		ID:           id,
		UserID:       userID,
		WorkspaceID:  workspaceID,
		Filename:     name,
		OriginalName: in.Filename,
		MimeType:     in.MimeType,
		Size:         in.Size,
		FileType:     fileType,
		FilePath:     key,
		Status:       models.StatusUploaded,
	}
	if err := s.db.CreateFile(ctx, rec); err != nil {
		s.removeObject(ctx, key)
		return nil, fmt.Errorf("create file record: %w", err)
	}

	payload, err := ingestion_engine.FileJob{
		Filename:    name,
		Destination: path.Dir(key),
		Path:        key,
	}.Encode()
	if err == nil {
		_, err = s.queue.Add(ctx, ingestion_engine.ProcessFileName, payload)
	}
	if err != nil {
		// The record would otherwise sit in UPLOADED forever.
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if ferr := s.db.MarkFileFailed(mctx, id, "enqueue: "+err.Error()); ferr != nil {
			s.logger.Error("mark file failed", slog.String("file_id", id), slog.Any("error", ferr))
		}
		return nil, fmt.Errorf("enqueue %s: %w", id, err)
	}

	s.logger.Info("file uploaded",
		slog.String("file_id", id),
		slog.String("user_id", userID),
		slog.String("workspace_id", workspaceID),
		slog.String("path", key),
		slog.Int64("size", in.Size),
	)
	return &UploadResult{ID: id, Message: UploadSuccessText}, nil
}

// List returns the user's files, newest first. An empty workspace lists all.
func (s *FileService) List(ctx context.Context, userID, workspaceID string) ([]models.FileRecord, error) {
	files, err := s.db.ListFiles(ctx, userID, strings.TrimSpace(workspaceID))
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	if files == nil {
		files = []models.FileRecord{}
	}
	return files, nil
}

// Get returns a file owned by userID. Files of other users are reported as
// not found.
func (s *FileService) Get(ctx context.Context, id, userID string) (*models.FileRecord, error) {
	rec, err := s.db.GetFileByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, core.ErrFileNotFound
	}
	return rec, nil
}

// Delete removes a file's chunks, its stored bytes and its record.
func (s *FileService) Delete(ctx context.Context, id, userID string) error {
	rec, err := s.Get(ctx, id, userID)
	if err != nil {
		return err
	}
	if err := s.db.DeleteFileChunks(ctx, rec.ID); err != nil {
		return fmt.Errorf("delete chunks of %s: %w", rec.ID, err)
	}
	s.removeObject(ctx, rec.FilePath)
	if err := s.db.DeleteFile(ctx, rec.ID); err != nil {
		return fmt.Errorf("delete file %s: %w", rec.ID, err)
	}
	s.logger.Info("file deleted", slog.String("file_id", rec.ID), slog.String("user_id", userID))
	return nil
}

func (s *FileService) removeObject(ctx context.Context, key string) {
	if err := s.storage.DeleteFile(ctx, key); err != nil {
		s.logger.Warn("delete object", slog.String("path", key), slog.Any("error", err))
	}
}

func objectKey(userID, workspaceID, fileID, filename string) string {
	return path.Join("users", userID, "workspaces", workspaceID, fileID, filename)
}

// sanitizeFilename drops any directory part and replaces spaces.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return strings.ReplaceAll(name, " ", "_")
}
