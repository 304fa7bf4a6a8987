package core

import (
	"context"

	"github.com/markdave123-py/knowledgehub/internal/models"
)

type EmbeddingProvider interface {
	// EmbedDocuments embeds texts for storage, one vector per text, in order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
	ModelName() string
}

// VectorStore indexes documents and returns the k most similar to a query
// within scope, nearest first.
type VectorStore interface {
	Index(ctx context.Context, docs []models.VectorDocument) error
	Search(ctx context.Context, query string, k int, scope models.SearchScope) ([]models.VectorDocument, error)
}
