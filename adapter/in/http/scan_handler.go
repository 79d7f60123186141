package http

import (
	"github.com/gofiber/fiber/v2"

	"mailgrouper/core/port/in"
	"mailgrouper/pkg/apperr"
)

type ScanHandler struct {
	service in.ScanService
}

func NewScanHandler(service in.ScanService) *ScanHandler {
	return &ScanHandler{service: service}
}

func (h *ScanHandler) Register(router fiber.Router) {
	scan := router.Group("/scan")
	scan.Post("/ondemand", h.OnDemand)
	scan.Post("/retroactive", h.Retroactive)
}

// OnDemand handles POST /scan/ondemand?limit=N
func (h *ScanHandler) OnDemand(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return AppErrorResponse(c, apperr.Unauthorized("missing authorization"))
	}
	limit := c.QueryInt("limit", 0)
	count, err := h.service.OnDemand(c.Context(), userID, limit)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{"queued": count})
}

type retroactiveScanRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Retroactive handles POST /scan/retroactive {start, end}
func (h *ScanHandler) Retroactive(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return AppErrorResponse(c, apperr.Unauthorized("missing authorization"))
	}
	var req retroactiveScanRequest
	if err := c.BodyParser(&req); err != nil {
		return AppErrorResponse(c, apperr.BadRequest("invalid request body"))
	}
	start, err := parseTime(req.Start)
	if err != nil {
		return AppErrorResponse(c, apperr.InvalidInput("start", "must be RFC3339"))
	}
	end, err := parseTime(req.End)
	if err != nil {
		return AppErrorResponse(c, apperr.InvalidInput("end", "must be RFC3339"))
	}
	if !end.After(start) {
		return AppErrorResponse(c, apperr.ValidationFailed("end must be after start"))
	}
	if err := h.service.Retroactive(c.Context(), userID, start, end); err != nil {
		return AppErrorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}
