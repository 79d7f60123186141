package http

import (
	"github.com/gofiber/fiber/v2"

	"mailgrouper/core/domain"
	"mailgrouper/core/port/in"
	"mailgrouper/pkg/apperr"
)

type ProjectHandler struct {
	service in.ProjectService
}

func NewProjectHandler(service in.ProjectService) *ProjectHandler {
	return &ProjectHandler{service: service}
}

func (h *ProjectHandler) Register(router fiber.Router) {
	projects := router.Group("/projects")
	projects.Get("/", h.List)
	projects.Get("/review", h.ListNeedsReview)
	projects.Get("/:id", h.Get)
	projects.Post("/:id/emails", h.AssignEmail)
	projects.Delete("/:id/emails/:mid", h.UnassignEmail)
	projects.Patch("/:id", h.Patch)
	projects.Post("/:id/merge", h.Merge)
	projects.Post("/:id/split", h.Split)
}

// List handles GET /projects?status=…
func (h *ProjectHandler) List(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return AppErrorResponse(c, apperr.Unauthorized("missing authorization"))
	}
	status := domain.ProjectStatus(c.Query("status"))
	projects, err := h.service.List(c.Context(), userID, status)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{"projects": projects, "total": len(projects)})
}

// Get handles GET /projects/{id}
func (h *ProjectHandler) Get(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return AppErrorResponse(c, apperr.Unauthorized("missing authorization"))
	}
	project, err := h.service.Get(c.Context(), userID, c.Params("id"))
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return c.JSON(project)
}

// ListNeedsReview handles GET /projects/review — mappings awaiting a human
// decision, including unassigned multi_project_detected ones (§4.7, §6).
func (h *ProjectHandler) ListNeedsReview(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return AppErrorResponse(c, apperr.Unauthorized("missing authorization"))
	}
	mappings, err := h.service.ListNeedsReview(c.Context(), userID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{"mappings": mappings, "total": len(mappings)})
}

type assignEmailRequest struct {
	MessageID string `json:"message_id"`
	Reason    string `json:"reason"`
}

// AssignEmail handles POST /projects/{id}/emails
func (h *ProjectHandler) AssignEmail(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return AppErrorResponse(c, apperr.Unauthorized("missing authorization"))
	}
	var req assignEmailRequest
	if err := c.BodyParser(&req); err != nil || req.MessageID == "" {
		return AppErrorResponse(c, apperr.MissingField("message_id"))
	}
	if err := h.service.AssignEmail(c.Context(), userID, c.Params("id"), req.MessageID, req.Reason); err != nil {
		return AppErrorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UnassignEmail handles DELETE /projects/{id}/emails/{mid}
func (h *ProjectHandler) UnassignEmail(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return AppErrorResponse(c, apperr.Unauthorized("missing authorization"))
	}
	reason := c.Query("reason")
	if err := h.service.UnassignEmail(c.Context(), userID, c.Params("id"), c.Params("mid"), reason); err != nil {
		return AppErrorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type patchProjectRequest struct {
	Name   *string               `json:"name"`
	Alias  *string               `json:"alias"`
	Status *domain.ProjectStatus `json:"status"`
}

// Patch handles PATCH /projects/{id}
func (h *ProjectHandler) Patch(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return AppErrorResponse(c, apperr.Unauthorized("missing authorization"))
	}
	var req patchProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return AppErrorResponse(c, apperr.BadRequest("invalid request body"))
	}
	patch := in.ProjectPatch{Name: req.Name, Alias: req.Alias, Status: req.Status}
	if err := h.service.Patch(c.Context(), userID, c.Params("id"), patch); err != nil {
		return AppErrorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Merge handles POST /projects/{id}/merge?target=…
func (h *ProjectHandler) Merge(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return AppErrorResponse(c, apperr.Unauthorized("missing authorization"))
	}
	target := c.Query("target")
	if target == "" {
		return AppErrorResponse(c, apperr.MissingField("target"))
	}
	reason := c.Query("reason")
	if err := h.service.Merge(c.Context(), userID, c.Params("id"), target, reason); err != nil {
		return AppErrorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type splitProjectRequest struct {
	MessageIDs []string `json:"message_ids"`
	NewName    string   `json:"new_name"`
	Reason     string   `json:"reason"`
}

// Split handles POST /projects/{id}/split
func (h *ProjectHandler) Split(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return AppErrorResponse(c, apperr.Unauthorized("missing authorization"))
	}
	var req splitProjectRequest
	if err := c.BodyParser(&req); err != nil || len(req.MessageIDs) == 0 || req.NewName == "" {
		return AppErrorResponse(c, apperr.ValidationFailed("message_ids and new_name are required"))
	}
	if err := h.service.Split(c.Context(), userID, c.Params("id"), req.MessageIDs, req.NewName, req.Reason); err != nil {
		return AppErrorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
