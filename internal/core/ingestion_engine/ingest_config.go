package ingestion_engine

import (
	"log/slog"
	"time"

	"github.com/markdave123-py/knowledgehub/internal/core"
)

// IngestConfig tunes the ingestion pipeline.
//
// TargetTokens:  approximate tokens per chunk (e.g., 200).
// OverlapTokens: token overlap between consecutive chunks (e.g., 20).
type IngestConfig struct {
	TargetTokens  int
	OverlapTokens int
}

func (c *IngestConfig) withDefaults() *IngestConfig {
	out := IngestConfig{TargetTokens: 200, OverlapTokens: 20}
	if c != nil {
		if c.TargetTokens > 0 {
			out.TargetTokens = c.TargetTokens
		}
		if c.OverlapTokens >= 0 && c.OverlapTokens < out.TargetTokens {
			out.OverlapTokens = c.OverlapTokens
		} else {
			out.OverlapTokens = out.TargetTokens / 10
		}
	}
	return &out
}

// Chunk is one piece of a document as it moves through the pipeline.
//
// Pos:      stable, zero-based position of the chunk inside the document.
// Text:     chunk content (built from one or more fragments).
// TokenCnt: approximate token count.
type Chunk struct {
	Pos      int
	Text     string
	TokenCnt int
}

// FileProcessor runs queued file jobs through extraction, chunking and indexing.
//
// files:     FileRecord persistence and status transitions.
// obj:       object storage holding the uploaded bytes.
// extractor: MIME-dispatched text extraction.
// store:     vector store the chunks are indexed into.
type FileProcessor struct {
	files     core.FileRepository
	obj       core.ObjectClient
	extractor core.DocumentExtractor
	store     core.VectorStore
	cfg       *IngestConfig
	logger    *slog.Logger
	locks     *keyedMutex
	now       func() time.Time
}
