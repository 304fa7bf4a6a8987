package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/markdave123-py/knowledgehub/internal/core"
	"github.com/markdave123-py/knowledgehub/internal/models"
)

const (
	DefaultChatLimit = 5
	MaxChatLimit     = 20
	unknownSource    = "Unknown"
)

var chatAnswers = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "kh_chat_answers_total",
		Help: "Chat answers by outcome.",
	},
	[]string{"outcome"},
)

const systemPrompt = `You are a helpful assistant that reads the user's uploaded documents and answers questions about them in a natural, conversational way.

Instructions:
1. Answer the question directly, as someone who has read the documents would.
2. When asked for specific facts such as names, dates or numbers, give the exact value.
3. When asked who wrote a document or what the author's name is, reply with the exact name.
4. If the documents do not contain the answer, say so plainly.
5. Do not summarise the documents when a direct answer is possible.`

// ChatService answers questions from the indexed documents.
type ChatService struct {
	store    core.VectorStore
	primary  core.LLMProvider
	fallback core.LLMProvider
	logger   *slog.Logger
}

// NewChatService wires the retrieval and generation clients. fallback may be nil.
func NewChatService(store core.VectorStore, primary, fallback core.LLMProvider, logger *slog.Logger) *ChatService {
	return &ChatService{
		store:    store,
		primary:  primary,
		fallback: fallback,
		logger:   logger.With("component", "chat"),
	}
}

// Answer retrieves up to limit chunks from the caller's files and asks the
// models about them. Model failures never surface as errors: the result
// degrades to a heuristic answer and Outcome says so. Only a retrieval
// failure is returned.
func (s *ChatService) Answer(ctx context.Context, scope models.SearchScope, question string, limit int) (*models.ChatResult, error) {
	if scope.UserID == "" {
		return nil, fmt.Errorf("%w: missing user", ErrValidation)
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: message is required", ErrValidation)
	}
	limit = clampLimit(limit)

	docs, err := s.store.Search(ctx, question, limit, scope)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	if len(docs) > limit {
		docs = docs[:limit]
	}

	res := &models.ChatResult{References: references(docs)}

	prompt := buildPrompt(question, docs)
	answer, err := s.generate(ctx, prompt)
	switch {
	case err == nil:
		res.Response = answer
		res.Outcome = models.OutcomeGenerated
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		s.logger.Error("all models failed, answering heuristically",
			slog.Int("documents", len(docs)),
			slog.Any("error", err),
		)
		res.Response = heuristicAnswer(question, docs)
		res.Reason = models.ReasonModelsUnavailable
		res.Outcome = models.OutcomeHeuristic
		if len(docs) == 0 {
			res.Outcome = models.OutcomeFailed
		}
	}

	chatAnswers.WithLabelValues(string(res.Outcome)).Inc()
	return res, nil
}

// generate tries the primary model, then the fallback once.
func (s *ChatService) generate(ctx context.Context, prompt string) (string, error) {
	var errs []error
	for _, m := range []core.LLMProvider{s.primary, s.fallback} {
		if m == nil {
			continue
		}
		text, err := m.Generate(ctx, systemPrompt, prompt)
		if err == nil && strings.TrimSpace(text) == "" {
			err = errors.New("empty response")
		}
		if err == nil {
			return strings.TrimSpace(text), nil
		}
		s.logger.Warn("model failed", slog.String("model", m.ModelName()), slog.Any("error", err))
		errs = append(errs, fmt.Errorf("%s: %w", m.ModelName(), err))
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return "", errors.New("no model configured")
	}
	return "", errs[len(errs)-1]
}

func buildPrompt(question string, docs []models.VectorDocument) string {
	blocks := make([]string, 0, len(docs))
	for i, d := range docs {
		blocks = append(blocks, "Document "+strconv.Itoa(i+1)+":\n"+d.Content)
	}
	return fmt.Sprintf("Context from the uploaded documents:\n%s\n\nUser question: %s\n\nResponse:",
		strings.Join(blocks, "\n\n"), question)
}

func references(docs []models.VectorDocument) []models.Reference {
	refs := make([]models.Reference, 0, len(docs))
	for _, d := range docs {
		src := d.Metadata[models.MetaSource]
		if src == "" {
			src = unknownSource
		}
		refs = append(refs, models.Reference{Content: d.Content, Source: src})
	}
	return refs
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultChatLimit
	case limit > MaxChatLimit:
		return MaxChatLimit
	}
	return limit
}
