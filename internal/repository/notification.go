package repository

import (
	"context"
	"errors"

	"threadline/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NotificationRepository is the durable inbox store.
type NotificationRepository interface {
	// Persist stores n and returns its id. Persisting the same (event, user)
	// twice returns the id of the existing row.
	Persist(ctx context.Context, n *models.Notification) (string, error)
	ListUnread(ctx context.Context, userID uint, limit int) ([]*models.Notification, error)
	MarkRead(ctx context.Context, userID uint, id string) error
	MarkAllRead(ctx context.Context, userID uint) (int64, error)
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new NotificationRepository
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Persist(ctx context.Context, n *models.Notification) (string, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	err := r.db.WithContext(ctx).Create(n).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		var existing models.Notification
		if err := r.db.WithContext(ctx).
			Where("event_id = ? AND user_id = ?", n.EventID, n.UserID).
			First(&existing).Error; err != nil {
			return "", err
		}
		return existing.ID, nil
	}
	if err != nil {
		return "", err
	}
	return n.ID, nil
}

func (r *notificationRepository) ListUnread(ctx context.Context, userID uint, limit int) ([]*models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*models.Notification
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_read = ?", userID, false).
		Order("created_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *notificationRepository) MarkRead(ctx context.Context, userID uint, id string) error {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Notification", id)
	}
	return nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}
