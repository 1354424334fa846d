package server

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"threadline/internal/models"
	"threadline/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// UserIDHeader carries the authenticated caller set by the upstream gateway.
const UserIDHeader = "X-User-ID"

// UpstreamIdentity copies X-User-ID into the userID local.
func UpstreamIdentity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if raw := c.Get(UserIDHeader); raw != "" {
			if id, err := strconv.ParseUint(raw, 10, 64); err == nil && id > 0 {
				c.Locals("userID", uint(id))
			}
		}
		return c.Next()
	}
}

// ContextMiddleware injects request ID and user ID from Fiber locals into the request context.
func ContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		if rid, ok := c.Locals("requestid").(string); ok {
			ctx = context.WithValue(ctx, observability.RequestIDKey, rid)
		}
		if uid, ok := c.Locals("userID").(uint); ok {
			ctx = observability.WithUserID(ctx, uid)
		}
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// StructuredLogger logs one line per request.
func StructuredLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		fields := []any{
			slog.Int("status", status),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("ip", c.IP()),
			slog.Duration("latency", time.Since(start)),
		}
		if err != nil {
			fields = append(fields, slog.String("error", err.Error()))
		}

		switch {
		case status >= fiber.StatusInternalServerError:
			observability.Logger.ErrorContext(c.UserContext(), "request failed", fields...)
		case status >= fiber.StatusBadRequest:
			observability.Logger.WarnContext(c.UserContext(), "request rejected", fields...)
		default:
			observability.Logger.InfoContext(c.UserContext(), "request handled", fields...)
		}
		return err
	}
}

// RequireUser rejects requests without an upstream identity.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := c.Locals("userID").(uint); !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse{
				Error: "missing " + UserIDHeader,
				Code:  "UNAUTHORIZED",
			})
		}
		return c.Next()
	}
}

// ModeratorRequired limits a route to MODERATOR_IDS.
func (s *Server) ModeratorRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, _ := c.Locals("userID").(uint)
		if !s.isModerator(uid) {
			return c.Status(fiber.StatusForbidden).JSON(models.ErrorResponse{
				Error: "moderator access required",
				Code:  "FORBIDDEN",
			})
		}
		return c.Next()
	}
}

// WebsocketUpgrade rejects plain HTTP requests on websocket routes.
func WebsocketUpgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func userID(c *fiber.Ctx) uint {
	uid, _ := c.Locals("userID").(uint)
	return uid
}
