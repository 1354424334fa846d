// Package models contains data structures for the comment lifecycle domain.
package models

import (
	"time"
)

// CommentStatus defines the moderation state of a comment.
type CommentStatus string

const (
	// StatusPending indicates a comment is awaiting review.
	StatusPending CommentStatus = "pending"
	// StatusPublished indicates a comment is publicly visible.
	StatusPublished CommentStatus = "published"
	// StatusHidden indicates a comment was hidden by moderation.
	StatusHidden CommentStatus = "hidden"
	// StatusSpam indicates a comment was classified as spam.
	StatusSpam CommentStatus = "spam"
)

// Valid reports whether s is one of the known statuses.
func (s CommentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPublished, StatusHidden, StatusSpam:
		return true
	}
	return false
}

// Comment is the aggregate root for a user comment on a post.
// Comments on one post form a forest linked by ParentID; children are never
// held as live references and are resolved through the repository.
type Comment struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	PostID   uint   `gorm:"not null;index:idx_comments_post_parent" json:"post_id"`
	ParentID *uint  `gorm:"index:idx_comments_post_parent" json:"parent_id,omitempty"`
	UserID   uint   `gorm:"not null;index" json:"user_id"`
	Content  string `gorm:"type:text;not null" json:"content"`
	Depth    int    `gorm:"not null;default:0" json:"depth"`

	Status CommentStatus `gorm:"type:varchar(16);not null;index" json:"status"`

	// Soft delete is orthogonal to Status so the row keeps its place in the thread.
	Deleted      bool       `gorm:"not null;default:false;index" json:"deleted"`
	DeleteReason *string    `gorm:"size:500" json:"delete_reason,omitempty"`
	DeletedBy    *uint      `json:"deleted_by,omitempty"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`

	LikeCount   int64 `gorm:"not null;default:0" json:"like_count"`
	ReportCount int64 `gorm:"not null;default:0" json:"report_count"`
	ReplyCount  int64 `gorm:"not null;default:0" json:"reply_count"`

	ModerationReason *string    `gorm:"size:500" json:"moderation_reason,omitempty"`
	ModeratedBy      *uint      `json:"moderated_by,omitempty"`
	ModeratedAt      *time.Time `json:"moderated_at,omitempty"`

	// Version guards moderation transitions against concurrent writers.
	Version int64 `gorm:"not null;default:1" json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (Comment) TableName() string {
	return "comments"
}

// IsRoot reports whether the comment starts a thread.
func (c *Comment) IsRoot() bool {
	return c.ParentID == nil
}

// ReplyDepth returns the depth a direct reply to parent must carry.
// A nil parent yields depth 0.
func ReplyDepth(parent *Comment) int {
	if parent == nil {
		return 0
	}
	return parent.Depth + 1
}

// AuthoredBy reports whether userID wrote the comment.
func (c *Comment) AuthoredBy(userID uint) bool {
	return userID != 0 && c.UserID == userID
}
