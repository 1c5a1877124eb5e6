package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/convoflow/convoflow/internal/request"
	"github.com/convoflow/convoflow/internal/router"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RouteHandler exposes the router over HTTP.
type RouteHandler struct {
	router *router.Router
	logger *slog.Logger
}

func NewRouteHandler(log *slog.Logger, r *router.Router) *RouteHandler {
	return &RouteHandler{
		router: r,
		logger: log.With(slog.String("handler", "route")),
	}
}

func (h *RouteHandler) Register(e *echo.Echo) {
	e.POST("/v1/route", h.Route)
}

// Route accepts an inbound communication request and acknowledges enqueueing.
// The response never reflects downstream processing; that state lives in the
// conversation store.
func (h *RouteHandler) Route(c echo.Context) error {
	var req request.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	ack, err := h.router.Route(c.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, request.ErrInvalid):
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		case errors.Is(err, router.ErrConfigNotFound):
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		case errors.Is(err, router.ErrProjectInactive),
			errors.Is(err, router.ErrChannelNotAllowed):
			return c.JSON(http.StatusForbidden, ErrorResponse{Error: err.Error()})
		case errors.Is(err, router.ErrDispatch):
			return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
		default:
			h.logger.Error("route failed", slog.Any("error", err))
			return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		}
	}

	return c.JSON(http.StatusAccepted, ack)
}
