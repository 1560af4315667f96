package routes

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/any-proxy/internal/cache"
	"github.com/any-hub/any-proxy/internal/policy"
	"github.com/any-hub/any-proxy/internal/server"
)

// Deps 是诊断接口依赖的只读组件，任一字段为空时对应接口返回 503。
type Deps struct {
	Stats    *server.Stats
	Pool     *server.WorkerPool
	Store    cache.Store
	Gate     *policy.Gate
	CacheTTL time.Duration
}

// RegisterDiagnosticRoutes 暴露 /-/stats、/-/cache 与 /-/policy，供运维查询代理状态。
func RegisterDiagnosticRoutes(app *fiber.App, deps Deps) {
	if app == nil {
		return
	}

	app.Get("/-/stats", func(c fiber.Ctx) error {
		if deps.Stats == nil {
			return unavailable(c, "stats_unavailable")
		}
		return c.JSON(encodeStats(deps.Stats, deps.Pool))
	})

	app.Get("/-/cache", func(c fiber.Ctx) error {
		if deps.Store == nil {
			return unavailable(c, "cache_unavailable")
		}
		host := strings.TrimSpace(c.Query("host"))
		path := c.Query("path")
		if host == "" || path == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "host_and_path_required"})
		}

		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		entry, err := deps.Store.Stat(ctx, cache.Key{Host: host, Path: path})
		if err != nil {
			if errors.Is(err, cache.ErrNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "cache_entry_not_found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_stat_failed"})
		}
		return c.JSON(encodeEntry(entry, deps.CacheTTL, time.Now()))
	})

	app.Get("/-/policy", func(c fiber.Ctx) error {
		if deps.Gate == nil {
			return unavailable(c, "policy_unavailable")
		}
		return c.JSON(deps.Gate.Snapshot())
	})
}

func unavailable(c fiber.Ctx, code string) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": code})
}

type statsPayload struct {
	UptimeSeconds int64            `json:"uptime_seconds"`
	Accepted      int64            `json:"accepted"`
	Outcomes      []outcomePayload `json:"outcomes"`
	Workers       int              `json:"workers"`
	Active        int64            `json:"active"`
	Queued        int              `json:"queued"`
	QueueCapacity int              `json:"queue_capacity"`
}

type outcomePayload struct {
	Outcome string `json:"outcome"`
	Count   int64  `json:"count"`
}

type entryPayload struct {
	URL       string    `json:"url"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	StoredAt  time.Time `json:"stored_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Fresh     bool      `json:"fresh"`
}

func encodeStats(stats *server.Stats, pool *server.WorkerPool) statsPayload {
	outcomes := stats.Outcomes()
	names := make([]string, 0, len(outcomes))
	for name := range outcomes {
		names = append(names, name)
	}
	sort.Strings(names)

	payload := statsPayload{
		UptimeSeconds: int64(stats.Uptime() / time.Second),
		Accepted:      stats.Accepted(),
		Outcomes:      make([]outcomePayload, 0, len(names)),
	}
	for _, name := range names {
		payload.Outcomes = append(payload.Outcomes, outcomePayload{Outcome: name, Count: outcomes[name]})
	}
	if pool != nil {
		payload.Workers = pool.Workers()
		payload.Active = pool.Active()
		payload.Queued = pool.Queued()
		payload.QueueCapacity = pool.Capacity()
	}
	return payload
}

func encodeEntry(entry *cache.Entry, ttl time.Duration, now time.Time) entryPayload {
	return entryPayload{
		URL:       entry.Key.URL(),
		FilePath:  entry.FilePath,
		SizeBytes: entry.SizeBytes,
		StoredAt:  entry.StoredAt,
		ExpiresAt: entry.ExpiresAt(ttl),
		Fresh:     entry.Fresh(now, ttl),
	}
}
