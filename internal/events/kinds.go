package events

import (
	"encoding/json"

	"threadline/internal/models"
	"threadline/internal/moderation"
)

const (
	// DefaultPopularThreshold is the like count at which a comment counts as popular.
	DefaultPopularThreshold int64 = 10
	// DefaultReviewThreshold is the report count that forces immediate review.
	DefaultReviewThreshold int64 = 5
)

// Liked is emitted for every committed like or unlike.
type Liked struct {
	Base
	IsUnlike     bool  `json:"is_unlike"`
	NewLikeCount int64 `json:"new_like_count"`
}

// NewLiked snapshots c after the like count changed.
func NewLiked(c *models.Comment, actorID uint, unlike bool) Liked {
	return Liked{Base: newBase(c, actorID), IsUnlike: unlike, NewLikeCount: c.LikeCount}
}

func (Liked) Kind() Kind { return KindLiked }

// ShouldNotifyAuthor is true for a like by someone other than the author.
func (e Liked) ShouldNotifyAuthor() bool {
	return !e.IsUnlike && e.ActorID != e.Comment.AuthorID
}

// IsPopularComment reports whether a like pushed the count to threshold or
// beyond. A non-positive threshold uses DefaultPopularThreshold.
func (e Liked) IsPopularComment(threshold int64) bool {
	if threshold <= 0 {
		threshold = DefaultPopularThreshold
	}
	return !e.IsUnlike && e.NewLikeCount >= threshold
}

// Moderated is emitted for every applied moderation decision, including
// decisions that left the status unchanged.
type Moderated struct {
	Base
	PreviousStatus models.CommentStatus `json:"previous_status"`
	NewStatus      models.CommentStatus `json:"new_status"`
	Action         moderation.Action    `json:"action"`
	ModeratorRole  string               `json:"moderator_role,omitempty"`
	Reason         string               `json:"reason,omitempty"`
	IsAutomated    bool                 `json:"is_automated"`
	Triggers       []string             `json:"triggers,omitempty"`
}

// ModeratedInput describes a committed moderation decision.
type ModeratedInput struct {
	Comment        *models.Comment
	PreviousStatus models.CommentStatus
	ModeratorID    uint
	ModeratorRole  string
	Reason         string
	Automated      bool
	Triggers       []string
	// Action overrides the transition table. Only deletions set it.
	Action moderation.Action
}

// NewModerated snapshots in.Comment after the decision was applied.
func NewModerated(in ModeratedInput) Moderated {
	action := in.Action
	if action == "" {
		action = moderation.ActionFor(in.PreviousStatus, in.Comment.Status)
	}
	var triggers []string
	if len(in.Triggers) > 0 {
		triggers = append([]string(nil), in.Triggers...)
	}
	return Moderated{
		Base:           newBase(in.Comment, in.ModeratorID),
		PreviousStatus: in.PreviousStatus,
		NewStatus:      in.Comment.Status,
		Action:         action,
		ModeratorRole:  in.ModeratorRole,
		Reason:         in.Reason,
		IsAutomated:    in.Automated,
		Triggers:       triggers,
	}
}

func (Moderated) Kind() Kind { return KindModerated }

// ShouldNotifyAuthor is true when the comment ended up hidden or spam.
func (e Moderated) ShouldNotifyAuthor() bool {
	return e.NewStatus == models.StatusHidden || e.NewStatus == models.StatusSpam
}

func (e Moderated) IsPunitive() bool    { return e.Action.IsPunitive() }
func (e Moderated) IsRestorative() bool { return e.Action.IsRestorative() }

// StatusChanged reports whether the decision altered the stored status.
func (e Moderated) StatusChanged() bool { return e.PreviousStatus != e.NewStatus }

// DeletionType classifies who removed a comment.
type DeletionType string

const (
	AuthorDelete    DeletionType = "author"
	SystemDelete    DeletionType = "system"
	AdminDelete     DeletionType = "admin"
	ModeratorDelete DeletionType = "moderator"
	BatchDelete     DeletionType = "batch"
)

// DeleteContext is the surface a deletion request came through.
type DeleteContext string

const (
	ContextUser      DeleteContext = "user"
	ContextAdmin     DeleteContext = "admin"
	ContextModerator DeleteContext = "moderator"
	ContextBatch     DeleteContext = "batch"
)

// ClassifyDeletion picks the deletion type. deleterID 0 means no identified actor.
func ClassifyDeletion(deleterID, authorID uint, dctx DeleteContext) DeletionType {
	switch {
	case deleterID == 0:
		return SystemDelete
	case deleterID == authorID:
		return AuthorDelete
	}
	switch dctx {
	case ContextAdmin:
		return AdminDelete
	case ContextBatch:
		return BatchDelete
	default:
		return ModeratorDelete
	}
}

// Deleted is emitted when a comment is soft or hard deleted.
type Deleted struct {
	Base
	IsSoftDelete  bool
	DeletionType  DeletionType
	Reason        string
	ChildrenCount int
	children      []uint
	childAuthors  []uint
}

// DeletedInput describes a committed deletion.
type DeletedInput struct {
	Comment        *models.Comment
	DeleterID      uint
	Context        DeleteContext
	Soft           bool
	Reason         string
	Children       []uint
	ChildAuthorIDs []uint
}

// NewDeleted snapshots in.Comment as it was when the deletion committed.
func NewDeleted(in DeletedInput) Deleted {
	return Deleted{
		Base:          newBase(in.Comment, in.DeleterID),
		IsSoftDelete:  in.Soft,
		DeletionType:  ClassifyDeletion(in.DeleterID, in.Comment.UserID, in.Context),
		Reason:        in.Reason,
		ChildrenCount: len(in.Children),
		children:      append([]uint(nil), in.Children...),
		childAuthors:  append([]uint(nil), in.ChildAuthorIDs...),
	}
}

func (Deleted) Kind() Kind { return KindDeleted }

// AffectedChildrenIDs returns a copy of the ids of direct children at deletion time.
func (e Deleted) AffectedChildrenIDs() []uint {
	return append([]uint(nil), e.children...)
}

// AffectedAuthorIDs returns a copy of the distinct authors of those children.
func (e Deleted) AffectedAuthorIDs() []uint {
	return append([]uint(nil), e.childAuthors...)
}

// ShouldNotifyUsers is true for admin deletions and for deletions that affected replies.
func (e Deleted) ShouldNotifyUsers() bool {
	return e.DeletionType == AdminDelete || e.ChildrenCount > 0
}

func (e Deleted) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Base
		IsSoftDelete        bool         `json:"is_soft_delete"`
		DeletionType        DeletionType `json:"deletion_type"`
		Reason              string       `json:"reason,omitempty"`
		ChildrenCount       int          `json:"children_count"`
		AffectedChildrenIDs []uint       `json:"affected_children_ids"`
	}{e.Base, e.IsSoftDelete, e.DeletionType, e.Reason, e.ChildrenCount, e.AffectedChildrenIDs()})
}

// Reported is emitted for every accepted report, duplicates included.
type Reported struct {
	Base
	ReportID                uint                `json:"report_id"`
	Reason                  models.ReportReason `json:"reason"`
	Description             string              `json:"description,omitempty"`
	NewReportCount          int64               `json:"new_report_count"`
	IsDuplicateReport       bool                `json:"is_duplicate_report"`
	AutoModerationTriggered bool                `json:"auto_moderation_triggered"`
}

// NewReported snapshots c after the report was stored.
func NewReported(c *models.Comment, r *models.CommentReport, autoModerated bool) Reported {
	return Reported{
		Base:                    newBase(c, r.ReporterID),
		ReportID:                r.ID,
		Reason:                  r.Reason,
		Description:             r.Description,
		NewReportCount:          c.ReportCount,
		IsDuplicateReport:       r.IsDuplicate,
		AutoModerationTriggered: autoModerated,
	}
}

func (Reported) Kind() Kind { return KindReported }

// RequiresImmediateReview uses DefaultReviewThreshold.
func (e Reported) RequiresImmediateReview() bool {
	return e.RequiresImmediateReviewAt(DefaultReviewThreshold)
}

// RequiresImmediateReviewAt is true when the count reached threshold or the
// reason is hate speech or harassment.
func (e Reported) RequiresImmediateReviewAt(threshold int64) bool {
	if e.NewReportCount >= threshold {
		return true
	}
	return e.Reason == models.ReasonHateSpeech || e.Reason == models.ReasonHarassment
}

// Priority is GetPriority of the report reason.
func (e Reported) Priority() int { return GetPriority(e.Reason) }

// GetPriority maps a report reason to its triage priority, 5 highest.
func GetPriority(reason models.ReportReason) int {
	switch reason {
	case models.ReasonHateSpeech, models.ReasonHarassment:
		return 5
	case models.ReasonInappropriateContent:
		return 4
	case models.ReasonMisinformation, models.ReasonCopyrightViolation:
		return 3
	case models.ReasonSpam:
		return 2
	default:
		return 1
	}
}
