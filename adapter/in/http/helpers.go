// Package http implements adapter/in/http: the Fiber router that fronts the
// project-grouping pipeline (spec §6). Handlers depend only on the
// core/port/in service interfaces, never on a concrete service or adapter.
package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"mailgrouper/pkg/apperr"
)

var ErrUnauthorized = errors.New("unauthorized")

// GetUserID extracts the caller's id, set by JWTAuth from the token's "sub"
// claim.
func GetUserID(c *fiber.Ctx) (string, error) {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return "", ErrUnauthorized
	}
	return userID, nil
}

// AppErrorResponse translates an apperr.AppError (or any error, via
// apperr.AsAppError's fallback) into the standard envelope.
func AppErrorResponse(c *fiber.Ctx, err error) error {
	appErr := apperr.AsAppError(err)
	return c.Status(appErr.HTTPStatus()).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    appErr.Code,
			"message": appErr.Message,
		},
	})
}

func ErrorResponse(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": fiber.Map{"message": message}})
}

func GetPaginationParams(c *fiber.Ctx, defaultLimit int) (limit, offset int) {
	limit = c.QueryInt("limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > 200 {
		limit = 200
	}
	offset = c.QueryInt("offset", 0)
	return limit, offset
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
