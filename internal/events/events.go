// Package events defines the immutable domain events emitted after a comment
// mutation commits, and the classification predicates consumers use to route them.
package events

import (
	"time"

	"threadline/internal/models"

	"github.com/google/uuid"
)

// Kind names an event type on the wire and in metrics.
type Kind string

const (
	KindLiked     Kind = "comment.liked"
	KindModerated Kind = "comment.moderated"
	KindDeleted   Kind = "comment.deleted"
	KindReported  Kind = "comment.reported"

	// KindPopular is a thread-wide broadcast derived from a Liked event; it is
	// never emitted on its own.
	KindPopular Kind = "comment.popular"
)

// Event is implemented by every domain event.
type Event interface {
	ID() string
	Kind() Kind
	Subject() CommentSnapshot
	Actor() uint
	OccurredAt() time.Time
}

// CommentSnapshot is a denormalized copy of a comment at emission time.
type CommentSnapshot struct {
	ID          uint                 `json:"id"`
	PostID      uint                 `json:"post_id"`
	ParentID    *uint                `json:"parent_id,omitempty"`
	AuthorID    uint                 `json:"author_id"`
	Content     string               `json:"content"`
	Depth       int                  `json:"depth"`
	Status      models.CommentStatus `json:"status"`
	Deleted     bool                 `json:"deleted"`
	LikeCount   int64                `json:"like_count"`
	ReportCount int64                `json:"report_count"`
	ReplyCount  int64                `json:"reply_count"`
	Version     int64                `json:"version"`
	CreatedAt   time.Time            `json:"created_at"`
}

// Snapshot copies c. The result shares no memory with c.
func Snapshot(c *models.Comment) CommentSnapshot {
	s := CommentSnapshot{
		ID:          c.ID,
		PostID:      c.PostID,
		AuthorID:    c.UserID,
		Content:     c.Content,
		Depth:       c.Depth,
		Status:      c.Status,
		Deleted:     c.Deleted,
		LikeCount:   c.LikeCount,
		ReportCount: c.ReportCount,
		ReplyCount:  c.ReplyCount,
		Version:     c.Version,
		CreatedAt:   c.CreatedAt,
	}
	if c.ParentID != nil {
		p := *c.ParentID
		s.ParentID = &p
	}
	return s
}

// Base holds the fields common to every event.
type Base struct {
	EventID   string          `json:"event_id"`
	Comment   CommentSnapshot `json:"comment"`
	ActorID   uint            `json:"actor_id"`
	Timestamp time.Time       `json:"timestamp"`
}

func newBase(c *models.Comment, actorID uint) Base {
	return Base{
		EventID:   uuid.NewString(),
		Comment:   Snapshot(c),
		ActorID:   actorID,
		Timestamp: time.Now().UTC(),
	}
}

func (b Base) ID() string               { return b.EventID }
func (b Base) Subject() CommentSnapshot { return b.Comment }
func (b Base) Actor() uint              { return b.ActorID }
func (b Base) OccurredAt() time.Time    { return b.Timestamp }
