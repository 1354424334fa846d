package notifications

import (
	"context"

	"threadline/internal/models"
	"threadline/internal/repository"
)

// Payload is one durable notification for a recipient.
type Payload struct {
	EventID   string
	Kind      string
	CommentID uint
	PostID    uint
	ActorID   uint
	Body      []byte
}

// Store persists notifications for offline retrieval.
type Store interface {
	Persist(ctx context.Context, recipientID uint, p Payload) (string, error)
}

// GormStore is the Store and inbox backed by the notifications table.
type GormStore struct {
	repo repository.NotificationRepository
}

// NewGormStore wraps repo.
func NewGormStore(repo repository.NotificationRepository) *GormStore {
	return &GormStore{repo: repo}
}

// Persist implements Store. Replaying an (event, recipient) pair returns the
// id of the row that already exists.
func (s *GormStore) Persist(ctx context.Context, recipientID uint, p Payload) (string, error) {
	return s.repo.Persist(ctx, &models.Notification{
		UserID:    recipientID,
		EventID:   p.EventID,
		Kind:      p.Kind,
		CommentID: p.CommentID,
		PostID:    p.PostID,
		ActorID:   p.ActorID,
		Payload:   string(p.Body),
	})
}

// Unread lists a user's unread notifications, newest first.
func (s *GormStore) Unread(ctx context.Context, userID uint, limit int) ([]*models.Notification, error) {
	return s.repo.ListUnread(ctx, userID, limit)
}

// MarkRead marks one of userID's notifications read.
func (s *GormStore) MarkRead(ctx context.Context, userID uint, id string) error {
	return s.repo.MarkRead(ctx, userID, id)
}

// MarkAllRead marks every unread notification of userID read.
func (s *GormStore) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID)
}
