// Package http exposes a small operational API over the background
// processor and the result cache: health, stats, queue control, and
// on-demand extraction.
package http

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"mailmind/adapter/in/worker"
	"mailmind/core/port/out"
	"mailmind/core/service/cache"
	"mailmind/pkg/apperr"
)

// Handler serves the ops API.
type Handler struct {
	processor *worker.Processor
	cache     *cache.ResultCache
	llm       out.Inference
}

func NewHandler(processor *worker.Processor, resultCache *cache.ResultCache, llm out.Inference) *Handler {
	return &Handler{processor: processor, cache: resultCache, llm: llm}
}

func (h *Handler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)

	v1 := app.Group("/v1")
	v1.Get("/stats", h.Stats)
	v1.Get("/queue", h.QueueStats)
	v1.Post("/queue/start", h.StartQueue)
	v1.Post("/queue/stop", h.StopQueue)
	v1.Post("/queue/clear", h.ClearQueue)
	v1.Post("/analyze/:id", h.Analyze)
	v1.Get("/results/:id", h.GetResult)
	v1.Delete("/cache", h.ClearCache)
	v1.Delete("/cache/:id", h.DeleteEntry)
}

func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready additionally checks the inference server.
func (h *Handler) Ready(c *fiber.Ctx) error {
	checks := make(map[string]string)
	healthy := true

	if err := h.llm.Ping(c.Context()); err != nil {
		checks["inference"] = "unhealthy: " + err.Error()
		healthy = false
	} else {
		checks["inference"] = "healthy"
	}

	status := fiber.StatusOK
	if !healthy {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{"checks": checks})
}

func (h *Handler) Stats(c *fiber.Ctx) error {
	stats, err := h.cache.GetStats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "cache unavailable"})
	}
	return c.JSON(fiber.Map{
		"cache": stats,
		"queue": h.processor.Queue().GetStats(),
	})
}

func (h *Handler) QueueStats(c *fiber.Ctx) error {
	return c.JSON(h.processor.Queue().GetStats())
}

func (h *Handler) StartQueue(c *fiber.Ctx) error {
	wasEmpty := h.processor.Queue().Start()
	if wasEmpty {
		// Detached: fiber reclaims the request context when the handler
		// returns.
		go h.processor.Backfill(context.Background())
	}
	return c.JSON(fiber.Map{"state": h.processor.Queue().State()})
}

func (h *Handler) StopQueue(c *fiber.Ctx) error {
	h.processor.Queue().Stop()
	return c.JSON(fiber.Map{"state": h.processor.Queue().State()})
}

func (h *Handler) ClearQueue(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"dropped": h.processor.Queue().Clear()})
}

// Analyze runs a foreground extraction, preempting background work.
func (h *Handler) Analyze(c *fiber.Ctx) error {
	messageID := c.Params("id")
	result, err := h.processor.ExtractNow(c.Context(), messageID)
	if err != nil {
		if errors.Is(err, out.ErrMessageNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "message not found"})
		}
		status := fiber.StatusBadGateway
		if !apperr.IsTransient(err) {
			status = fiber.StatusUnprocessableEntity
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
			"code":  apperr.Code(err),
		})
	}
	return c.JSON(result)
}

func (h *Handler) GetResult(c *fiber.Ctx) error {
	result := h.cache.Get(c.Context(), c.Params("id"))
	if result == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no cached result"})
	}
	return c.JSON(fiber.Map{
		"message_id": result.MessageID,
		"timestamp":  result.Timestamp,
		"payload":    result.Payload,
	})
}

func (h *Handler) ClearCache(c *fiber.Ctx) error {
	cleared, err := h.cache.ClearAll(c.Context())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"cleared": cleared})
}

func (h *Handler) DeleteEntry(c *fiber.Ctx) error {
	if err := h.cache.Delete(c.Context(), c.Params("id")); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}
