package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store groups the repositories that share one connection or transaction.
type Store struct {
	db            *gorm.DB
	Comments      CommentRepository
	Likes         LikeRepository
	Reports       ReportRepository
	Notifications NotificationRepository
}

// NewStore builds every repository over db.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:            db,
		Comments:      NewCommentRepository(db),
		Likes:         NewLikeRepository(db),
		Reports:       NewReportRepository(db),
		Notifications: NewNotificationRepository(db),
	}
}

// Transaction runs fn with a Store bound to one transaction. fn must only use
// the Store it is given.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
