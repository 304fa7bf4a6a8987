package models

import (
	"time"
)

// FileStatus is the ingestion state of an uploaded file.
// It only moves forward: UPLOADED -> PROCESSING -> PROCESSED | FAILED.
type FileStatus string

const (
	StatusUploaded   FileStatus = "UPLOADED"
	StatusProcessing FileStatus = "PROCESSING"
	StatusProcessed  FileStatus = "PROCESSED"
	StatusFailed     FileStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s FileStatus) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

type FileType string

const (
	FileTypePDF  FileType = "PDF"
	FileTypeDOCX FileType = "DOCX"
	FileTypeTXT  FileType = "TXT"
)

const (
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeTXT  = "text/plain"
)

var mimeFileTypes = map[string]FileType{
	MimePDF:  FileTypePDF,
	MimeDOCX: FileTypeDOCX,
	MimeTXT:  FileTypeTXT,
}

// FileTypeForMime maps an accepted MIME type to its FileType.
func FileTypeForMime(mime string) (FileType, bool) {
	ft, ok := mimeFileTypes[mime]
	return ft, ok
}

// FileRecord represents one uploaded document and its ingestion state.
type FileRecord struct {
	ID            string     `db:"id" json:"id"`
	UserID        string     `db:"user_id" json:"userId"`
	WorkspaceID   string     `db:"workspace_id" json:"workspaceId"`
	Filename      string     `db:"filename" json:"filename"`
	OriginalName  string     `db:"original_name" json:"originalName"`
	MimeType      string     `db:"mime_type" json:"mimeType"`
	Size          int64      `db:"size" json:"size"`
	FileType      FileType   `db:"file_type" json:"fileType"`
	FilePath      string     `db:"file_path" json:"filePath"` // object storage key
	Status        FileStatus `db:"status" json:"status"`
	ExtractedText *string    `db:"extracted_text" json:"extractedText,omitempty"`
	ErrorMessage  *string    `db:"error_message" json:"errorMessage,omitempty"`
	ContentHash   *string    `db:"content_hash" json:"contentHash,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updatedAt"`
	ProcessedAt   *time.Time `db:"processed_at" json:"processedAt,omitempty"`
}

// DocumentChunk represents one embedded text chunk of a file.
type DocumentChunk struct {
	ID         string    `db:"id" json:"id"`
	FileID     string    `db:"file_id" json:"fileId"`
	Position   int       `db:"position" json:"position"`
	Text       string    `db:"text" json:"text"`
	TokenCount int       `db:"token_count" json:"tokenCount"`
	Source     string    `db:"source" json:"source"`
	Embedding  []float32 `db:"embedding" json:"-"` // pgvector column
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// VectorDocument is what the vector store indexes and returns.
// Metadata keys: file_id, source, position, token_count.
type VectorDocument struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

const (
	MetaFileID     = "file_id"
	MetaSource     = "source"
	MetaPosition   = "position"
	MetaTokenCount = "token_count"
)

// SearchScope limits retrieval to one user's files and, when WorkspaceID is
// set, to one workspace. The zero value searches every file.
type SearchScope struct {
	UserID      string
	WorkspaceID string
}

// ChatOutcome tells callers which quality tier produced an answer.
type ChatOutcome string

const (
	OutcomeGenerated ChatOutcome = "generated"
	OutcomeHeuristic ChatOutcome = "degraded_heuristic"
	OutcomeFailed    ChatOutcome = "failed"
)

// ReasonModelsUnavailable is reported when no model produced an answer. The
// model errors themselves stay in the server log.
const ReasonModelsUnavailable = "models_unavailable"

type Reference struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

// ChatResult is the transient answer to one question. It is never stored.
type ChatResult struct {
	Response   string      `json:"response"`
	References []Reference `json:"references"`
	Outcome    ChatOutcome `json:"outcome"`
	Reason     string      `json:"reason,omitempty"`
}
