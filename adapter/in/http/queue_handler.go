package http

import (
	"github.com/gofiber/fiber/v2"

	"mailgrouper/core/port/in"
)

type QueueHandler struct {
	service in.QueueOpsService
}

func NewQueueHandler(service in.QueueOpsService) *QueueHandler {
	return &QueueHandler{service: service}
}

func (h *QueueHandler) Register(router fiber.Router) {
	router.Get("/queue", h.Stats)
	router.Post("/queue/process", h.ProcessOne)

	admin := router.Group("/admin/queue")
	admin.Get("/dead", h.ListDead)
}

// Stats handles GET /queue
func (h *QueueHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.Context())
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return c.JSON(stats)
}

// ProcessOne handles POST /queue/process
func (h *QueueHandler) ProcessOne(c *fiber.Ctx) error {
	processed, err := h.service.ProcessOne(c.Context())
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{"processed": processed})
}

// ListDead handles GET /admin/queue/dead?queue=processing&limit=50. This is
// the admin dead-letter inspection surface spec.md §4.4 requires the dead
// status stay reachable through ("inspected via an admin interface only").
func (h *QueueHandler) ListDead(c *fiber.Ctx) error {
	queue := c.Query("queue", "processing")
	limit := c.QueryInt("limit", 50)
	items, err := h.service.ListDead(c.Context(), queue, limit)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{"queue": queue, "items": items, "total": len(items)})
}
