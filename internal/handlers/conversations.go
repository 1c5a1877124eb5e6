package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/convoflow/convoflow/internal/conversation"
)

// ConversationsHandler exposes read-only operational queries over the
// conversation store.
type ConversationsHandler struct {
	store  *conversation.Store
	logger *slog.Logger
}

func NewConversationsHandler(log *slog.Logger, store *conversation.Store) *ConversationsHandler {
	return &ConversationsHandler{
		store:  store,
		logger: log.With(slog.String("handler", "conversations")),
	}
}

func (h *ConversationsHandler) Register(e *echo.Echo) {
	group := e.Group("/v1/conversations")
	group.GET("/:primary/:id", h.Get)
	group.GET("", h.List)
}

func (h *ConversationsHandler) Get(c echo.Context) error {
	rec, err := h.store.Get(c.Request().Context(), c.Param("primary"), c.Param("id"))
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "conversation not found"})
		}
		h.logger.Error("get conversation failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
	return c.JSON(http.StatusOK, rec)
}

// List serves two query shapes: ?company_id=&project_id= or ?status=.
func (h *ConversationsHandler) List(c echo.Context) error {
	limit := int32(50)
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
		}
		limit = int32(n)
	}

	ctx := c.Request().Context()
	companyID, projectID := c.QueryParam("company_id"), c.QueryParam("project_id")
	status := c.QueryParam("status")

	switch {
	case companyID != "" && projectID != "":
		recs, err := h.store.ListByProject(ctx, companyID, projectID, limit)
		if err != nil {
			h.logger.Error("list by project failed", slog.Any("error", err))
			return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		}
		return c.JSON(http.StatusOK, recs)
	case status != "":
		recs, err := h.store.ListByStatus(ctx, status, limit)
		if err != nil {
			h.logger.Error("list by status failed", slog.Any("error", err))
			return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		}
		return c.JSON(http.StatusOK, recs)
	default:
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "company_id+project_id or status query is required"})
	}
}
