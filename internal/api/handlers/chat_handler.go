package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	middleware "github.com/markdave123-py/knowledgehub/internal/api/middlewares"
	"github.com/markdave123-py/knowledgehub/internal/api/response"
	"github.com/markdave123-py/knowledgehub/internal/models"
	"github.com/markdave123-py/knowledgehub/internal/services"
)

const maxChatBody = 64 << 10

type ChatService interface {
	Answer(ctx context.Context, scope models.SearchScope, question string, limit int) (*models.ChatResult, error)
}

type ChatHandler struct {
	chat   ChatService
	logger *slog.Logger
}

func NewChatHandler(chat ChatService, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, logger: logger.With("component", "chat_handler")}
}

type ChatRequest struct {
	Message     string `json:"message"`
	Limit       int    `json:"limit,omitempty"`
	WorkspaceID string `json:"workspaceId,omitempty"`
}

// Chat answers a question from the caller's indexed documents.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		response.Error(w, r, h.logger, response.ErrUnauthorized)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		response.Error(w, r, h.logger, fmt.Errorf("%w: invalid request body", services.ErrValidation))
		return
	}

	scope := models.SearchScope{UserID: userID, WorkspaceID: strings.TrimSpace(req.WorkspaceID)}
	res, err := h.chat.Answer(r.Context(), scope, req.Message, req.Limit)
	if err != nil {
		response.Error(w, r, h.logger, err)
		return
	}
	response.Success(w, r, http.StatusOK, res)
}
