package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	middleware "github.com/markdave123-py/knowledgehub/internal/api/middlewares"
	"github.com/markdave123-py/knowledgehub/internal/api/response"
	"github.com/markdave123-py/knowledgehub/internal/models"
	"github.com/markdave123-py/knowledgehub/internal/services"
)

// multipartOverhead leaves room for boundaries and part headers on top of
// the file itself.
const multipartOverhead = 1 << 20

type FileService interface {
	Upload(ctx context.Context, userID, workspaceID string, in services.UploadInput) (*services.UploadResult, error)
	List(ctx context.Context, userID, workspaceID string) ([]models.FileRecord, error)
	Get(ctx context.Context, id, userID string) (*models.FileRecord, error)
	Delete(ctx context.Context, id, userID string) error
	MaxSize() int64
}

type FileHandler struct {
	files  FileService
	logger *slog.Logger
}

func NewFileHandler(files FileService, logger *slog.Logger) *FileHandler {
	return &FileHandler{files: files, logger: logger.With("component", "file_handler")}
}

// Upload accepts a multipart form with the document in field "file" and
// answers as soon as the ingestion job is queued.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		response.Error(w, r, h.logger, response.ErrUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.files.MaxSize()+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.Error(w, r, h.logger, err)
			return
		}
		response.Error(w, r, h.logger, fmt.Errorf("%w: multipart field \"file\" is required", services.ErrValidation))
		return
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	res, err := h.files.Upload(r.Context(), userID, r.URL.Query().Get("workspaceId"), services.UploadInput{
		Filename: header.Filename,
		MimeType: mediaType(header.Header.Get("Content-Type"), header.Filename),
		Size:     header.Size,
		Body:     file,
	})
	if err != nil {
		response.Error(w, r, h.logger, err)
		return
	}
	response.Success(w, r, http.StatusCreated, res)
}

func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		response.Error(w, r, h.logger, response.ErrUnauthorized)
		return
	}
	files, err := h.files.List(r.Context(), userID, r.URL.Query().Get("workspaceId"))
	if err != nil {
		response.Error(w, r, h.logger, err)
		return
	}
	response.Success(w, r, http.StatusOK, files)
}

func (h *FileHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		response.Error(w, r, h.logger, response.ErrUnauthorized)
		return
	}
	rec, err := h.files.Get(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		response.Error(w, r, h.logger, err)
		return
	}
	response.Success(w, r, http.StatusOK, rec)
}

func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		response.Error(w, r, h.logger, response.ErrUnauthorized)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.files.Delete(r.Context(), id, userID); err != nil {
		response.Error(w, r, h.logger, err)
		return
	}
	response.Success(w, r, http.StatusOK, map[string]string{"id": id})
}

// mediaType strips parameters from the declared type and falls back to the
// file extension when the client sent nothing useful.
func mediaType(declared, filename string) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
		return mt
	}
	switch filepath.Ext(filename) {
	case ".pdf":
		return models.MimePDF
	case ".docx":
		return models.MimeDOCX
	case ".txt":
		return models.MimeTXT
	}
	return declared
}
