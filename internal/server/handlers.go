package server

import (
	"context"
	"log/slog"
	"strconv"

	"threadline/internal/models"
	"threadline/internal/notifications"
	"threadline/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// ListNotifications returns the caller's unread inbox.
func (s *Server) ListNotifications(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	items, err := s.deps.Inbox.Unread(c.UserContext(), userID(c), limit)
	if err != nil {
		return models.RespondWithError(c, models.StatusFor(err), err)
	}
	return c.JSON(items)
}

// MarkNotificationRead marks one notification read.
func (s *Server) MarkNotificationRead(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid notification ID"))
	}
	if err := s.deps.Inbox.MarkRead(c.UserContext(), userID(c), id); err != nil {
		return models.RespondWithError(c, models.StatusFor(err), err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MarkAllNotificationsRead marks the whole inbox read.
func (s *Server) MarkAllNotificationsRead(c *fiber.Ctx) error {
	n, err := s.deps.Inbox.MarkAllRead(c.UserContext(), userID(c))
	if err != nil {
		return models.RespondWithError(c, models.StatusFor(err), err)
	}
	return c.JSON(fiber.Map{"updated": n})
}

// GetReviewQueue lists reported comments in triage order.
func (s *Server) GetReviewQueue(c *fiber.Ctx) error {
	items, err := s.deps.Comments.ListReviewQueue(c.UserContext(), c.QueryInt("limit", 50))
	if err != nil {
		return models.RespondWithError(c, models.StatusFor(err), err)
	}
	return c.JSON(items)
}

// ThreadSocket subscribes the caller to a post's comment thread until the
// connection closes.
func (s *Server) ThreadSocket() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		postID, err := strconv.ParseUint(conn.Params("postId"), 10, 64)
		if err != nil || postID == 0 {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"Invalid post ID"}`))
			_ = conn.Close()
			return
		}
		s.serveGroup(conn, notifications.ThreadGroup(uint(postID)))
	})
}

// ModerationSocket streams moderation-queue alerts to moderators.
func (s *Server) ModerationSocket() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		s.serveGroup(conn, notifications.ModerationQueueGroup)
	})
}

func (s *Server) serveGroup(conn *websocket.Conn, group string) {
	uid, ok := conn.Locals("userID").(uint)
	if !ok || s.deps.Hub == nil || s.deps.Transport == nil {
		_ = conn.Close()
		return
	}

	client, err := s.deps.Hub.Register(uid, conn)
	if err != nil {
		observability.Logger.Warn("websocket registration refused",
			slog.Uint64("user_id", uint64(uid)),
			slog.String("error", err.Error()),
		)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
		_ = conn.Close()
		return
	}
	defer s.deps.Hub.UnregisterClient(client)

	ctx := observability.WithUserID(context.Background(), uid)
	leave, err := s.subscribe(ctx, group, client)
	if err != nil {
		observability.Logger.ErrorContext(ctx, "join group failed",
			slog.String("group", group),
			slog.String("error", err.Error()),
		)
		return
	}
	defer leave()

	go client.WritePump()
	client.ReadPump()
}

// subscribe joins client, and only client, to group. The returned func undoes
// it; sibling connections of the same user keep their subscriptions.
func (s *Server) subscribe(ctx context.Context, group string, client *notifications.Client) (func(), error) {
	if err := s.deps.Transport.JoinGroup(ctx, group, client.UserID); err != nil {
		return nil, err
	}
	s.deps.Hub.Subscribe(group, client)
	return func() {
		s.deps.Hub.Unsubscribe(group, client)
		if err := s.deps.Transport.LeaveGroup(ctx, group, client.UserID); err != nil {
			observability.Logger.WarnContext(ctx, "leave group failed",
				slog.String("group", group),
				slog.String("error", err.Error()),
			)
		}
	}, nil
}
