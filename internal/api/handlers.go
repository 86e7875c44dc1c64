package api

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"time"

	"github.com/citynews/pulse/internal/logger"
	"github.com/citynews/pulse/internal/models"
	"github.com/citynews/pulse/internal/pipeline"
	"github.com/citynews/pulse/internal/store"
	"github.com/gofiber/fiber/v2"
)

// Runner triggers one pipeline pass
type Runner interface {
	Run(ctx context.Context, force bool) pipeline.Result
}

// ReadStore is the slice of the store the HTTP surface reads from
type ReadStore interface {
	Ping(ctx context.Context) error
	CollectStats(ctx context.Context) (store.Stats, error)
	PublishedClusters(ctx context.Context, f store.ClusterFilter) ([]models.Cluster, error)
	ClusterBySlug(ctx context.Context, slug string) (models.Cluster, error)
	SummaryByCluster(ctx context.Context, clusterID string) (models.Summary, error)
}

// Handlers holds the HTTP handlers and their dependencies
type Handlers struct {
	store  ReadStore
	runner Runner
	// busy guards against a second trigger piling onto a running pass in
	// this process; cross-process exclusion is the database lock's job
	busy atomic.Bool
}

func NewHandlers(store ReadStore, runner Runner) *Handlers {
	return &Handlers{store: store, runner: runner}
}

// TriggerRun runs the pipeline synchronously and returns its result.
// POST /api/v1/pipeline/run?force=true
func (h *Handlers) TriggerRun(c *fiber.Ctx) error {
	if !h.busy.CompareAndSwap(false, true) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"ok":      true,
			"skipped": true,
			"reason":  pipeline.ReasonLocked,
		})
	}
	defer h.busy.Store(false)

	force := c.QueryBool("force", false)
	logger.Get().Info().Bool("force", force).Str("ip", c.IP()).Msg("Pipeline run triggered")

	result := h.runner.Run(c.UserContext(), force)
	if result.Error != "" {
		return c.Status(fiber.StatusInternalServerError).JSON(result)
	}
	return c.JSON(result)
}

// ListClusters returns published clusters, newest first.
// GET /api/v1/clusters?lang=en&topic=politics&since=2026-08-01T00:00:00Z&limit=20
func (h *Handlers) ListClusters(c *fiber.Ctx) error {
	filter := store.ClusterFilter{
		Language: c.Query("lang"),
		Topic:    c.Query("topic"),
		Limit:    c.QueryInt("limit", 20),
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid since, expected RFC3339 timestamp",
			})
		}
		filter.Since = t
	}

	clusters, err := h.store.PublishedClusters(c.UserContext(), filter)
	if err != nil {
		logger.Get().Error().Err(err).Msg("Failed to list clusters")
		return fiber.ErrInternalServerError
	}
	if clusters == nil {
		clusters = []models.Cluster{}
	}

	return c.JSON(fiber.Map{
		"clusters": clusters,
		"count":    len(clusters),
	})
}

// GetCluster returns one cluster with its summary.
// GET /api/v1/clusters/:slug
func (h *Handlers) GetCluster(c *fiber.Ctx) error {
	slug := c.Params("slug")

	cluster, err := h.store.ClusterBySlug(c.UserContext(), slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "cluster not found",
			})
		}
		logger.Get().Error().Str("slug", slug).Err(err).Msg("Failed to load cluster")
		return fiber.ErrInternalServerError
	}
	if cluster.Status != models.ClusterStatusPublished {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "cluster not found",
		})
	}

	resp := fiber.Map{"cluster": cluster}
	if sum, err := h.store.SummaryByCluster(c.UserContext(), cluster.ID); err == nil {
		resp["summary"] = sum
	} else if !errors.Is(err, sql.ErrNoRows) {
		logger.Get().Warn().Str("cluster", cluster.ID).Err(err).Msg("Failed to load summary")
	}

	return c.JSON(resp)
}

// Health reports process and database liveness.
// GET /api/v1/health
func (h *Handlers) Health(c *fiber.Ctx) error {
	if err := h.store.Ping(c.UserContext()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "degraded",
			"error":  "database unreachable",
		})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// GetStats returns operational counters.
// GET /api/v1/stats
func (h *Handlers) GetStats(c *fiber.Ctx) error {
	stats, err := h.store.CollectStats(c.UserContext())
	if err != nil {
		logger.Get().Error().Err(err).Msg("Failed to collect stats")
		return fiber.ErrInternalServerError
	}
	return c.JSON(stats)
}
