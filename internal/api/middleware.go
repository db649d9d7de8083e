package api

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/prepwise/voice-interview/internal/auth"
	"github.com/prepwise/voice-interview/internal/observability"
)

const localUserID = "user_id"

// JWTMiddleware accepts user-scoped bearer tokens and stores the caller's id in Locals.
func JWTMiddleware(issuer *auth.Issuer) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		token, ok := auth.BearerToken(ctx.Get(fiber.HeaderAuthorization))
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "missing token")
		}
		claims, err := issuer.Verify(token, auth.ScopeUser)
		if err != nil || claims.UserID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}
		ctx.Locals(localUserID, claims.UserID)
		return ctx.Next()
	}
}

func userID(ctx *fiber.Ctx) string {
	id, _ := ctx.Locals(localUserID).(string)
	return id
}

// RequestLogger logs one line per request through the global zerolog logger.
func RequestLogger() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		start := time.Now()
		err := ctx.Next()

		logger := observability.GetLogger()
		event := logger.Info()
		if status := ctx.Response().StatusCode(); status >= fiber.StatusInternalServerError {
			event = logger.Error()
		} else if status >= fiber.StatusBadRequest {
			event = logger.Warn()
		}
		event.
			Str("method", ctx.Method()).
			Str("path", ctx.Path()).
			Int("status", ctx.Response().StatusCode()).
			Dur("duration", time.Since(start)).
			Msg("http request")
		return err
	}
}
