package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/convoflow/convoflow/internal/healthcheck"
)

// HealthHandler reports dependency health for readiness probes.
type HealthHandler struct {
	checkers []healthcheck.Checker
	logger   *slog.Logger
}

func NewHealthHandler(log *slog.Logger, checkers ...healthcheck.Checker) *HealthHandler {
	return &HealthHandler{
		checkers: checkers,
		logger:   log.With(slog.String("handler", "health")),
	}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/v1/health", h.Health)
}

func (h *HealthHandler) Health(c echo.Context) error {
	report := healthcheck.Run(c.Request().Context(), 5*time.Second, h.checkers...)
	code := http.StatusOK
	if report.Status != healthcheck.StatusOK {
		h.logger.Warn("dependency check failed", slog.Any("checks", report.Checks))
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, report)
}
