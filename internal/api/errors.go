package api

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/prepwise/voice-interview/internal/observability"
	"github.com/prepwise/voice-interview/internal/store"
)

var (
	// ErrNotPending is returned when a worker token is requested for a started interview.
	ErrNotPending = errors.New("interview is not pending")
	// ErrInterviewClosed is returned when a websocket token is requested for a finished interview.
	ErrInterviewClosed = errors.New("interview has already ended")
)

// ErrorHandler renders every error as the JSON envelope.
func ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"

	var fe *fiber.Error
	var ve validator.ValidationErrors
	switch {
	case errors.As(err, &fe):
		code, message = fe.Code, fe.Message
	case errors.As(err, &ve):
		code, message = fiber.StatusBadRequest, validationMessage(ve)
	case errors.Is(err, store.ErrNotFound):
		code, message = fiber.StatusNotFound, "interview not found"
	case errors.Is(err, ErrNotPending), errors.Is(err, ErrInterviewClosed), errors.Is(err, store.ErrInvalidTransition):
		code, message = fiber.StatusConflict, err.Error()
	default:
		logger := observability.GetLogger()
		logger.Error().Err(err).Str("path", ctx.Path()).Msg("request failed")
	}

	return ctx.Status(code).JSON(Response[any]{Success: false, Message: message})
}

func validationMessage(ve validator.ValidationErrors) string {
	fields := make([]string, 0, len(ve))
	for _, fe := range ve {
		fields = append(fields, fe.Field()+" failed "+fe.Tag())
	}
	return "invalid request: " + strings.Join(fields, ", ")
}
