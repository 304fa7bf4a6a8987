// Package vectorstore indexes document chunks as pgvector embeddings and
// answers nearest-neighbour queries over them.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/knowledgehub/internal/core"
	"github.com/markdave123-py/knowledgehub/internal/models"
)

var _ core.VectorStore = (*PgVectorStore)(nil)

type Options struct {
	Dimensions int
	CacheSize  int
	CacheTTL   time.Duration
}

type PgVectorStore struct {
	chunks   core.ChunkRepository
	embedder core.EmbeddingProvider
	cache    *queryCache
	dim      int
	logger   *slog.Logger
}

func NewPgVectorStore(chunks core.ChunkRepository, embedder core.EmbeddingProvider, opts Options, logger *slog.Logger) *PgVectorStore {
	return &PgVectorStore{
		chunks:   chunks,
		embedder: embedder,
		cache:    newQueryCache(opts.CacheSize, opts.CacheTTL),
		dim:      opts.Dimensions,
		logger:   logger.With("component", "vectorstore"),
	}
}

// ChunkID derives a stable chunk id from its file and position, so the same
// chunk always maps to the same row.
func ChunkID(fileID string, position int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fileID+":"+strconv.Itoa(position))).String()
}

// Index embeds docs and stores them. Documents are grouped by file_id and each
// file's chunk set replaces whatever was stored for it before.
func (s *PgVectorStore) Index(ctx context.Context, docs []models.VectorDocument) error {
	if len(docs) == 0 {
		return nil
	}

	var order []string
	byFile := make(map[string][]int)
	for i, d := range docs {
		fileID := d.Metadata[models.MetaFileID]
		if fileID == "" {
			return fmt.Errorf("document %d: missing %s metadata", i, models.MetaFileID)
		}
		if _, seen := byFile[fileID]; !seen {
			order = append(order, fileID)
		}
		byFile[fileID] = append(byFile[fileID], i)
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	start := time.Now()
	vecs, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}
	if len(vecs) != len(docs) {
		return fmt.Errorf("embed documents: got %d vectors for %d documents", len(vecs), len(docs))
	}

	for _, fileID := range order {
		chunks := make([]models.DocumentChunk, 0, len(byFile[fileID]))
		for _, i := range byFile[fileID] {
			d := docs[i]
			if err := s.checkDim(vecs[i]); err != nil {
				return err
			}
			pos, err := metaInt(d.Metadata, models.MetaPosition, len(chunks))
			if err != nil {
				return err
			}
			tokens, err := metaInt(d.Metadata, models.MetaTokenCount, 0)
			if err != nil {
				return err
			}
			chunks = append(chunks, models.DocumentChunk{
				ID:         ChunkID(fileID, pos),
				FileID:     fileID,
				Position:   pos,
				Text:       d.Content,
				TokenCount: tokens,
				Source:     d.Metadata[models.MetaSource],
				Embedding:  vecs[i],
			})
		}
		if err := s.chunks.ReplaceFileChunks(ctx, fileID, chunks); err != nil {
			return fmt.Errorf("store chunks for %s: %w", fileID, err)
		}
	}

	s.logger.Debug("indexed documents",
		slog.Int("documents", len(docs)),
		slog.Int("files", len(order)),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

// Search embeds query (through the cache) and returns the k nearest chunks
// inside scope.
func (s *PgVectorStore) Search(ctx context.Context, query string, k int, scope models.SearchScope) ([]models.VectorDocument, error) {
	if k <= 0 {
		return nil, nil
	}

	vec, ok := s.cache.get(query)
	if !ok {
		var err error
		vec, err = s.embedder.EmbedQuery(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		if err := s.checkDim(vec); err != nil {
			return nil, err
		}
		s.cache.add(query, vec)
	}

	chunks, err := s.chunks.SearchChunks(ctx, vec, k, scope)
	if err != nil {
		return nil, err
	}

	out := make([]models.VectorDocument, 0, len(chunks))
	for _, ch := range chunks {
		out = append(out, models.VectorDocument{
			Content: ch.Text,
			Metadata: map[string]string{
				models.MetaFileID:     ch.FileID,
				models.MetaSource:     ch.Source,
				models.MetaPosition:   strconv.Itoa(ch.Position),
				models.MetaTokenCount: strconv.Itoa(ch.TokenCount),
			},
		})
	}
	return out, nil
}

func (s *PgVectorStore) checkDim(vec []float32) error {
	if s.dim > 0 && len(vec) != s.dim {
		return fmt.Errorf("embedding has %d dimensions, store expects %d", len(vec), s.dim)
	}
	return nil
}

func metaInt(meta map[string]string, key string, def int) (int, error) {
	v, ok := meta[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("metadata %s=%q is not an int", key, v)
	}
	return n, nil
}
