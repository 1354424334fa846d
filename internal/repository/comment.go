// Package repository provides the gorm-backed data access layer.
package repository

import (
	"context"
	"errors"
	"time"

	"threadline/internal/models"
	"threadline/internal/observability"

	"gorm.io/gorm"
)

// StatusChange is a moderation write applied under the optimistic version guard.
type StatusChange struct {
	Status       models.CommentStatus
	ModeratorID  uint
	Reason       string
	ResetReports bool
}

// Guard pins the row state a counter write was decided on. A guarded write
// also requires the comment not to be deleted. Zero fields are not checked.
type Guard struct {
	Version int64
	Status  models.CommentStatus
}

func (g Guard) scope(q *gorm.DB) *gorm.DB {
	if g.Version != 0 {
		q = q.Where("version = ? AND deleted = ?", g.Version, false)
	}
	if g.Status != "" {
		q = q.Where("status = ?", g.Status)
	}
	return q
}

func (g Guard) holds(c *models.Comment) bool {
	if g.Version != 0 && (c.Version != g.Version || c.Deleted) {
		return false
	}
	return g.Status == "" || c.Status == g.Status
}

// CommentRepository defines the comment aggregate's storage operations.
// Counter methods are single UPDATE statements and return the stored value.
type CommentRepository interface {
	Create(ctx context.Context, comment *models.Comment) error
	GetByID(ctx context.Context, id uint) (*models.Comment, error)
	ListByPost(ctx context.Context, postID uint) ([]*models.Comment, error)
	ListByIDs(ctx context.Context, ids []uint) ([]*models.Comment, error)
	ListChildren(ctx context.Context, parentID uint) ([]*models.Comment, error)
	AdjustLikeCount(ctx context.Context, id uint, delta int64, g Guard) (int64, error)
	IncrementReportCount(ctx context.Context, id uint, g Guard) (int64, error)
	AdjustReplyCount(ctx context.Context, id uint, delta int64) error
	UpdateStatus(ctx context.Context, comment *models.Comment, change StatusChange) error
	SoftDelete(ctx context.Context, comment *models.Comment, deleterID uint, reason string) error
	HardDelete(ctx context.Context, id uint) error
}

type commentRepository struct {
	db *gorm.DB
}

// NewCommentRepository creates a new CommentRepository
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db}
}

func (r *commentRepository) Create(ctx context.Context, comment *models.Comment) error {
	ctx, span := observability.TraceRepositoryMethod(ctx, "Create", "comments")
	defer span.End()
	if comment.Version == 0 {
		comment.Version = 1
	}
	return r.db.WithContext(ctx).Create(comment).Error
}

func (r *commentRepository) GetByID(ctx context.Context, id uint) (*models.Comment, error) {
	ctx, span := observability.TraceRepositoryMethod(ctx, "GetByID", "comments")
	defer span.End()

	var comment models.Comment
	if err := r.db.WithContext(ctx).First(&comment, id).Error; err != nil {
		return nil, notFound(err, "Comment", id)
	}
	return &comment, nil
}

func (r *commentRepository) ListByPost(ctx context.Context, postID uint) ([]*models.Comment, error) {
	var comments []*models.Comment
	err := r.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at asc, id asc").
		Find(&comments).Error
	return comments, err
}

func (r *commentRepository) ListByIDs(ctx context.Context, ids []uint) ([]*models.Comment, error) {
	var comments []*models.Comment
	if len(ids) == 0 {
		return comments, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&comments).Error
	return comments, err
}

func (r *commentRepository) ListChildren(ctx context.Context, parentID uint) ([]*models.Comment, error) {
	var comments []*models.Comment
	err := r.db.WithContext(ctx).
		Where("parent_id = ?", parentID).
		Order("id asc").
		Find(&comments).Error
	return comments, err
}

// AdjustLikeCount adds delta to like_count. A decrement never takes the count
// below zero; it is a no-op on a zero count. A write whose guard no longer
// holds fails with a conflict.
func (r *commentRepository) AdjustLikeCount(ctx context.Context, id uint, delta int64, g Guard) (int64, error) {
	ctx, span := observability.TraceRepositoryMethod(ctx, "AdjustLikeCount", "comments")
	defer span.End()
	return r.adjustCounter(ctx, id, "like_count", delta, g)
}

func (r *commentRepository) IncrementReportCount(ctx context.Context, id uint, g Guard) (int64, error) {
	ctx, span := observability.TraceRepositoryMethod(ctx, "IncrementReportCount", "comments")
	defer span.End()
	return r.adjustCounter(ctx, id, "report_count", 1, g)
}

func (r *commentRepository) AdjustReplyCount(ctx context.Context, id uint, delta int64) error {
	_, err := r.adjustCounter(ctx, id, "reply_count", delta, Guard{})
	return err
}

func (r *commentRepository) adjustCounter(ctx context.Context, id uint, column string, delta int64, g Guard) (int64, error) {
	var value int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := g.scope(tx.Model(&models.Comment{}).Where("id = ?", id))
		if delta < 0 {
			q = q.Where(column+" >= ?", -delta)
		}
		res := q.UpdateColumn(column, gorm.Expr(column+" + ?", delta))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var current models.Comment
			if err := tx.Select("id", "version", "status", "deleted").First(&current, id).Error; err != nil {
				return notFound(err, "Comment", id)
			}
			if !g.holds(&current) {
				return models.NewConflictError("Comment", id)
			}
		}
		return tx.Model(&models.Comment{}).Where("id = ?", id).Pluck(column, &value).Error
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}

// UpdateStatus applies change only if the stored version still equals
// comment.Version. On success comment reflects the stored row.
func (r *commentRepository) UpdateStatus(ctx context.Context, comment *models.Comment, change StatusChange) error {
	ctx, span := observability.TraceRepositoryMethod(ctx, "UpdateStatus", "comments")
	defer span.End()

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":       change.Status,
		"version":      gorm.Expr("version + 1"),
		"moderated_at": now,
	}
	if change.ModeratorID != 0 {
		updates["moderated_by"] = change.ModeratorID
	} else {
		updates["moderated_by"] = nil
	}
	if change.Reason != "" {
		updates["moderation_reason"] = change.Reason
	}
	if change.ResetReports {
		updates["report_count"] = 0
	}

	res := r.db.WithContext(ctx).Model(&models.Comment{}).
		Where("id = ? AND version = ?", comment.ID, comment.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		exists, err := r.exists(ctx, comment.ID)
		if err != nil {
			return err
		}
		if !exists {
			return models.NewNotFoundError("Comment", comment.ID)
		}
		return models.NewConflictError("Comment", comment.ID)
	}

	comment.Status = change.Status
	comment.Version++
	comment.ModeratedAt = &now
	if change.ModeratorID != 0 {
		id := change.ModeratorID
		comment.ModeratedBy = &id
	} else {
		comment.ModeratedBy = nil
	}
	if change.Reason != "" {
		reason := change.Reason
		comment.ModerationReason = &reason
	}
	if change.ResetReports {
		comment.ReportCount = 0
	}
	return nil
}

// SoftDelete flags the comment deleted and keeps the row in its thread.
func (r *commentRepository) SoftDelete(ctx context.Context, comment *models.Comment, deleterID uint, reason string) error {
	ctx, span := observability.TraceRepositoryMethod(ctx, "SoftDelete", "comments")
	defer span.End()

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"deleted":    true,
		"deleted_at": now,
		"version":    gorm.Expr("version + 1"),
	}
	if deleterID != 0 {
		updates["deleted_by"] = deleterID
	}
	if reason != "" {
		updates["delete_reason"] = reason
	}

	res := r.db.WithContext(ctx).Model(&models.Comment{}).
		Where("id = ? AND version = ? AND deleted = ?", comment.ID, comment.Version, false).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		exists, err := r.exists(ctx, comment.ID)
		if err != nil {
			return err
		}
		if !exists {
			return models.NewNotFoundError("Comment", comment.ID)
		}
		return models.NewConflictError("Comment", comment.ID)
	}

	comment.Deleted = true
	comment.DeletedAt = &now
	comment.Version++
	if deleterID != 0 {
		id := deleterID
		comment.DeletedBy = &id
	}
	if reason != "" {
		comment.DeleteReason = &reason
	}
	return nil
}

func (r *commentRepository) HardDelete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Comment{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Comment", id)
	}
	return nil
}

func (r *commentRepository) exists(ctx context.Context, id uint) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Comment{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func notFound(err error, resource string, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(resource, id)
	}
	return err
}
