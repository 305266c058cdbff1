package session

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/eleven-am/echolens/internal/shared"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	manager *Manager
	store   *Store
	logger  *slog.Logger
}

// NewHandler serves the session API. store may be nil when redis is not
// configured; the usage endpoints then answer 503.
func NewHandler(manager *Manager, store *Store, logger *slog.Logger) *Handler {
	return &Handler{
		manager: manager,
		store:   store,
		logger:  logger,
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/reset", h.Reset)
}

func (h *Handler) RegisterMetricsRoutes(g *echo.Group) {
	g.GET("/narration", h.GetUsage)
	g.GET("/narration/summary", h.GetSummary)
}

type listResponse struct {
	Sessions []Info `json:"sessions"`
	Count    int    `json:"count"`
}

func notFound(id string) error {
	return shared.NewAPIError("session_not_found", "session not found").
		WithDetails(map[string]string{"session_id": id}).
		ToHTTP(http.StatusNotFound)
}

func (h *Handler) Create(c echo.Context) error {
	sess := h.manager.Create()
	return c.JSON(http.StatusCreated, sess.Info(false))
}

func (h *Handler) List(c echo.Context) error {
	infos := h.manager.List()
	return c.JSON(http.StatusOK, listResponse{Sessions: infos, Count: len(infos)})
}

func (h *Handler) Get(c echo.Context) error {
	id := c.Param("id")
	sess, err := h.manager.Get(id)
	if err != nil {
		return notFound(id)
	}
	return c.JSON(http.StatusOK, sess.Info(true))
}

func (h *Handler) Delete(c echo.Context) error {
	id := c.Param("id")
	if err := h.manager.Close(id); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return notFound(id)
		}
		h.logger.Error("failed to close session", "error", err, "session_id", id)
		return shared.InternalError("close_failed", "failed to close session")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Reset(c echo.Context) error {
	id := c.Param("id")
	sess, err := h.manager.Reset(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return notFound(id)
		}
		return err
	}
	return c.JSON(http.StatusOK, sess.Info(false))
}

func parseHours(c echo.Context, fallback int) int {
	hours := fallback
	if hoursStr := c.QueryParam("hours"); hoursStr != "" {
		if hr, err := strconv.Atoi(hoursStr); err == nil && hr > 0 && hr <= 168 {
			hours = hr
		}
	}
	return hours
}

type usageResponse struct {
	Hours int      `json:"hours"`
	Usage []*Usage `json:"usage"`
}

func (h *Handler) GetUsage(c echo.Context) error {
	if h.store == nil {
		return shared.ServiceUnavailable("metrics_unavailable", "usage metrics require redis")
	}

	hours := parseHours(c, 24)
	usage, err := h.store.GetUsage(c.Request().Context(), hours)
	if err != nil {
		h.logger.Error("failed to get usage", "error", err)
		return shared.InternalError("get_metrics_failed", "failed to get metrics")
	}
	if usage == nil {
		usage = []*Usage{}
	}
	return c.JSON(http.StatusOK, usageResponse{Hours: hours, Usage: usage})
}

func (h *Handler) GetSummary(c echo.Context) error {
	if h.store == nil {
		return shared.ServiceUnavailable("metrics_unavailable", "usage metrics require redis")
	}

	summary, err := h.store.GetSummary(c.Request().Context(), parseHours(c, 7*24))
	if err != nil {
		h.logger.Error("failed to get usage summary", "error", err)
		return shared.InternalError("get_metrics_failed", "failed to get metrics")
	}
	return c.JSON(http.StatusOK, summary)
}
