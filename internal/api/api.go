// Package api implements the read-only query API (C9): recent verdicts and
// a Redis-cached dashboard summary, served over Fiber.
package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noctisids/noctis/internal/hybrid"
)

const dashboardCacheTTL = 10 * time.Second

// Store is the narrow read contract the API needs.
type Store interface {
	RecentVerdicts(ctx context.Context, limit int) ([]hybrid.Verdict, error)
}

// Cache is the narrow caching contract the API needs, satisfied by
// store.Cache.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Server wires the read-only HTTP surface onto a Fiber app.
type Server struct {
	store Store
	cache Cache
	app   *fiber.App
}

func New(store Store, cache Cache) *Server {
	s := &Server{store: store, cache: cache, app: fiber.New(fiber.Config{DisableStartupMessage: true})}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/healthz", s.handleHealth)
	s.app.Get("/api/v1/verdicts", s.handleRecentVerdicts)
	s.app.Get("/api/v1/dashboard", s.handleDashboard)
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleRecentVerdicts(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	verdicts, err := s.store.RecentVerdicts(c.Context(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(verdicts)
}

// DashboardSummary is the C9-facing aggregate view, cached in Redis since
// it is read far more often than the underlying verdicts change.
type DashboardSummary struct {
	TotalVerdicts int            `json:"total_verdicts"`
	BySeverity    map[string]int `json:"by_severity"`
	GeneratedAt   float64        `json:"generated_at"`
}

func (s *Server) handleDashboard(c *fiber.Ctx) error {
	const cacheKey = "dashboard:summary"
	var summary DashboardSummary
	if hit, err := s.cache.GetJSON(c.Context(), cacheKey, &summary); err == nil && hit {
		return c.JSON(summary)
	}

	verdicts, err := s.store.RecentVerdicts(c.Context(), 500)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	summary = summarize(verdicts)

	_ = s.cache.SetJSON(c.Context(), cacheKey, summary, dashboardCacheTTL)
	return c.JSON(summary)
}

func summarize(verdicts []hybrid.Verdict) DashboardSummary {
	summary := DashboardSummary{BySeverity: make(map[string]int)}
	var latest float64
	for _, v := range verdicts {
		summary.TotalVerdicts++
		summary.BySeverity[string(v.Severity)]++
		if v.Timestamp > latest {
			latest = v.Timestamp
		}
	}
	summary.GeneratedAt = latest
	return summary
}
