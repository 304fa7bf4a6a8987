package vectorstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/knowledgehub/internal/models"
)

type fakeChunks struct {
	stored    map[string][]models.DocumentChunk
	replaces  int
	searchFn  func(vec []float32, limit int) ([]models.DocumentChunk, error)
	lastScope models.SearchScope
}

func (f *fakeChunks) ReplaceFileChunks(_ context.Context, fileID string, chunks []models.DocumentChunk) error {
	if f.stored == nil {
		f.stored = map[string][]models.DocumentChunk{}
	}
	f.replaces++
	f.stored[fileID] = chunks
	return nil
}

func (f *fakeChunks) SearchChunks(_ context.Context, vec []float32, limit int, scope models.SearchScope) ([]models.DocumentChunk, error) {
	f.lastScope = scope
	return f.searchFn(vec, limit)
}

func (f *fakeChunks) DeleteFileChunks(_ context.Context, fileID string) error {
	delete(f.stored, fileID)
	return nil
}

type fakeEmbedder struct {
	queryCalls int
	docsFn     func(texts []string) ([][]float32, error)
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.docsFn != nil {
		return f.docsFn(texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.queryCalls++
	return []float32{float32(len(text)), 0}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func doc(fileID, pos, content string) models.VectorDocument {
	return models.VectorDocument{
		Content: content,
		Metadata: map[string]string{
			models.MetaFileID:     fileID,
			models.MetaPosition:   pos,
			models.MetaSource:     "a.txt",
			models.MetaTokenCount: "3",
		},
	}
}

func TestIndex_GroupsByFileAndReplaces(t *testing.T) {
	chunks := &fakeChunks{}
	s := NewPgVectorStore(chunks, &fakeEmbedder{}, Options{Dimensions: 2}, discardLogger())
	ctx := context.Background()

	docs := []models.VectorDocument{doc("f1", "0", "one"), doc("f2", "0", "three"), doc("f1", "1", "two!")}
	require.NoError(t, s.Index(ctx, docs))
	require.NoError(t, s.Index(ctx, docs))

	require.Len(t, chunks.stored["f1"], 2)
	require.Len(t, chunks.stored["f2"], 1)
	assert.Equal(t, 4, chunks.replaces)

	first := chunks.stored["f1"][0]
	assert.Equal(t, ChunkID("f1", 0), first.ID)
	assert.Equal(t, "one", first.Text)
	assert.Equal(t, []float32{3, 1}, first.Embedding)
	assert.Equal(t, 3, first.TokenCount)
	assert.Equal(t, "a.txt", first.Source)
	assert.Equal(t, []float32{4, 1}, chunks.stored["f1"][1].Embedding)
}

func TestIndex_Errors(t *testing.T) {
	ctx := context.Background()

	s := NewPgVectorStore(&fakeChunks{}, &fakeEmbedder{}, Options{}, discardLogger())
	err := s.Index(ctx, []models.VectorDocument{{Content: "x"}})
	assert.ErrorContains(t, err, "missing file_id")

	s = NewPgVectorStore(&fakeChunks{}, &fakeEmbedder{}, Options{Dimensions: 768}, discardLogger())
	err = s.Index(ctx, []models.VectorDocument{doc("f1", "0", "x")})
	assert.ErrorContains(t, err, "expects 768")

	embedErr := errors.New("quota exceeded")
	s = NewPgVectorStore(&fakeChunks{}, &fakeEmbedder{docsFn: func([]string) ([][]float32, error) { return nil, embedErr }}, Options{}, discardLogger())
	assert.ErrorIs(t, s.Index(ctx, []models.VectorDocument{doc("f1", "0", "x")}), embedErr)
}

func TestSearch_MapsMetadataAndCachesQuery(t *testing.T) {
	chunks := &fakeChunks{searchFn: func(vec []float32, limit int) ([]models.DocumentChunk, error) {
		assert.Equal(t, 2, limit)
		return []models.DocumentChunk{
			{FileID: "f1", Position: 4, Text: "nearest", TokenCount: 2, Source: "a.pdf"},
			{FileID: "f2", Position: 0, Text: "next"},
		}, nil
	}}
	emb := &fakeEmbedder{}
	s := NewPgVectorStore(chunks, emb, Options{CacheSize: 8, CacheTTL: time.Minute}, discardLogger())
	ctx := context.Background()

	scope := models.SearchScope{UserID: "u1", WorkspaceID: "ws"}
	res, err := s.Search(ctx, "who wrote it?", 2, scope)
	require.NoError(t, err)
	assert.Equal(t, scope, chunks.lastScope)
	require.Len(t, res, 2)
	assert.Equal(t, "nearest", res[0].Content)
	assert.Equal(t, "a.pdf", res[0].Metadata[models.MetaSource])
	assert.Equal(t, "4", res[0].Metadata[models.MetaPosition])
	assert.Equal(t, "", res[1].Metadata[models.MetaSource])

	_, err = s.Search(ctx, "who wrote it?", 2, models.SearchScope{UserID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, 1, emb.queryCalls)
}

func TestSearch_ZeroK(t *testing.T) {
	s := NewPgVectorStore(&fakeChunks{}, &fakeEmbedder{}, Options{}, discardLogger())
	res, err := s.Search(context.Background(), "q", 0, models.SearchScope{})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestChunkID_Deterministic(t *testing.T) {
	assert.Equal(t, ChunkID("f", 1), ChunkID("f", 1))
	assert.NotEqual(t, ChunkID("f", 1), ChunkID("f", 2))
}
