package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-tcp/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// APIHandlers provides HTTP handlers for REST API endpoints.
type APIHandlers struct {
	history store.MessageStore
	users   UserLister
	log     *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(history store.MessageStore, users UserLister, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		history: history,
		users:   users,
		log:     logger,
	}
}

// MessageResponse is a stored chat message.
type MessageResponse struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryResponse wraps a list of messages.
type HistoryResponse struct {
	Messages []MessageResponse `json:"messages"`
}

// UsersResponse lists the registered usernames.
type UsersResponse struct {
	Users []string `json:"users"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// History returns the most recent messages, newest first.
// GET /api/history?limit=N
func (h *APIHandlers) History(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	msgs, err := h.history.Recent(c.Request.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Int("limit", limit).Msg("failed to load history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{Messages: toMessageResponses(msgs)})
}

// HistorySince returns messages created after ts, oldest first.
// GET /api/history/since?ts=RFC3339
func (h *APIHandlers) HistorySince(c *gin.Context) {
	ts, err := time.Parse(time.RFC3339Nano, c.Query("ts"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "ts must be an RFC 3339 timestamp"})
		return
	}

	msgs, err := h.history.Since(c.Request.Context(), ts)
	if err != nil {
		h.log.Error().Err(err).Time("ts", ts).Msg("failed to load history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{Messages: toMessageResponses(msgs)})
}

// ListUsers returns the registered usernames, sorted.
// GET /api/users
func (h *APIHandlers) ListUsers(c *gin.Context) {
	names, err := h.users.Users(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list users")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "chat hub unavailable"})
		return
	}
	c.JSON(http.StatusOK, UsersResponse{Users: names})
}

func toMessageResponses(msgs []store.StoredMessage) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageResponse{
			ID:        m.ID,
			Type:      m.Type.String(),
			Sender:    m.Sender,
			Content:   m.Content,
			CreatedAt: m.CreatedAt.UTC(),
		})
	}
	return out
}
