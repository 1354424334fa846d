package repository

import (
	"context"
	"errors"

	"threadline/internal/models"

	"gorm.io/gorm"
)

// ErrAlreadyLiked is returned when the (comment, user) like already exists.
var ErrAlreadyLiked = errors.New("comment already liked")

// ErrNotLiked is returned when removing a like that does not exist.
var ErrNotLiked = errors.New("comment not liked")

// LikeRepository stores the (comment, user) like relation.
type LikeRepository interface {
	Create(ctx context.Context, like *models.CommentLike) error
	Delete(ctx context.Context, commentID, userID uint) error
	Exists(ctx context.Context, commentID, userID uint) (bool, error)
	DeleteByComment(ctx context.Context, commentID uint) error
}

type likeRepository struct {
	db *gorm.DB
}

// NewLikeRepository creates a new LikeRepository
func NewLikeRepository(db *gorm.DB) LikeRepository {
	return &likeRepository{db: db}
}

func (r *likeRepository) Create(ctx context.Context, like *models.CommentLike) error {
	err := r.db.WithContext(ctx).Create(like).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAlreadyLiked
	}
	return err
}

func (r *likeRepository) Delete(ctx context.Context, commentID, userID uint) error {
	res := r.db.WithContext(ctx).
		Where("comment_id = ? AND user_id = ?", commentID, userID).
		Delete(&models.CommentLike{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotLiked
	}
	return nil
}

func (r *likeRepository) Exists(ctx context.Context, commentID, userID uint) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.CommentLike{}).
		Where("comment_id = ? AND user_id = ?", commentID, userID).
		Count(&n).Error
	return n > 0, err
}

func (r *likeRepository) DeleteByComment(ctx context.Context, commentID uint) error {
	return r.db.WithContext(ctx).Where("comment_id = ?", commentID).Delete(&models.CommentLike{}).Error
}
