package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/rcondori/haultrack/internal/core/domain"
)

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`    // Error code: bad_request, not_found, internal_error, etc.
	Message   string `json:"message"` // Human-readable message
	RequestID string `json:"request_id,omitempty"`
}

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	reqID, _ := c.Locals("requestid").(string)
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: reqID,
	})
}

// errBadRequest returns a 400 error.
func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, 400, "bad_request", msg)
}

// errNotFound returns a 404 error.
func errNotFound(c *fiber.Ctx, msg string) error {
	return newError(c, 404, "not_found", msg)
}

// errInternal returns a 500 error.
func errInternal(c *fiber.Ctx, msg string) error {
	return newError(c, 500, "internal_error", msg)
}

// errUnauthorized returns a 401 error.
func errUnauthorized(c *fiber.Ctx, msg string) error {
	return newError(c, 401, "unauthorized", msg)
}

// errForbidden returns a 403 error.
func errForbidden(c *fiber.Ctx, msg string) error {
	return newError(c, 403, "forbidden", msg)
}

// errConflict returns a 409 error.
func errConflict(c *fiber.Ctx, msg string) error {
	return newError(c, 409, "conflict", msg)
}

// mapDomainError translates tracking errors into API responses. Unrecognized
// errors become 500s with a generic message.
func mapDomainError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidLocation):
		return newError(c, 400, "invalid_location", err.Error())
	case errors.Is(err, domain.ErrEmptyBatch):
		return newError(c, 400, "empty_batch", err.Error())
	case errors.Is(err, domain.ErrTripNotFound):
		return newError(c, 404, "trip_not_found", err.Error())
	case errors.Is(err, domain.ErrCheckpointNotFound):
		return newError(c, 404, "checkpoint_not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		return newError(c, 409, "invalid_transition", err.Error())
	case errors.Is(err, domain.ErrTooFarFromCheckpoint):
		return newError(c, 422, "too_far_from_checkpoint", err.Error())
	default:
		return errInternal(c, "unexpected error")
	}
}
