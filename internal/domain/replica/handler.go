package replica

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/chartsync/chartsync/internal/platform/auth"
	"github.com/chartsync/chartsync/pkg/pagination"
)

// LiveSearcher is the live (database-backed) tier of the patient lookup.
type LiveSearcher interface {
	SearchPatients(ctx context.Context, query string, limit int) ([]map[string]any, error)
}

type Handler struct {
	store     *Store
	scheduler *Scheduler
	live      LiveSearcher
	log       zerolog.Logger
}

func NewHandler(store *Store, scheduler *Scheduler, live LiveSearcher, logger zerolog.Logger) *Handler {
	return &Handler{store: store, scheduler: scheduler, live: live, log: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	readGroup.GET("/patients/search", h.SearchPatients)
	readGroup.GET("/cache/status", h.CacheStatus)

	adminGroup := api.Group("", auth.RequireRole("admin"))
	adminGroup.POST("/cache/sync", h.TriggerSync)
}

// SearchPatients serves the multi-tier lookup: the live database first,
// falling back to the local replica when the live tier fails.
func (h *Handler) SearchPatients(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "q required"})
	}
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()

	if h.live != nil {
		results, err := h.live.SearchPatients(ctx, query, pg.Limit)
		if err == nil {
			if results == nil {
				results = []map[string]any{}
			}
			return c.JSON(http.StatusOK, map[string]any{"data": results, "source": "live"})
		}
		h.log.Warn().Err(err).Msg("live patient search failed, falling back to replica")
	}

	results, err := h.store.SearchPatients(ctx, query, pg.Limit)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}
	if results == nil {
		results = []map[string]any{}
	}
	return c.JSON(http.StatusOK, map[string]any{"data": results, "source": "replica"})
}

func (h *Handler) CacheStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.Status(c.Request().Context()))
}

func (h *Handler) TriggerSync(c echo.Context) error {
	report, err := h.scheduler.SyncOnce(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, report)
}
