// Package service orchestrates the comment lifecycle: it consults the rate
// guard, mutates the aggregate inside a store transaction, and emits immutable
// events once the mutation has committed.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"threadline/internal/config"
	"threadline/internal/events"
	"threadline/internal/guard"
	"threadline/internal/models"
	"threadline/internal/moderation"
	"threadline/internal/observability"
	"threadline/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

const (
	maxReasonLen      = 500
	maxDescriptionLen = 1000
	lockStripes       = 64

	defaultQueueLimit = 50
	maxQueueLimit     = 200
)

// Emitter receives committed events.
type Emitter interface {
	Emit(ctx context.Context, ev events.Event)
}

// Config holds the write-path policy.
type Config struct {
	RequireApproval    bool
	MaxDepth           int
	MaxCommentLength   int
	LikeRateMax        int
	LikeRateWindow     time.Duration
	LikeBucket         string
	ReportRateMax      int
	ReportRateWindow   time.Duration
	ReportDedupeWindow time.Duration
}

// ConfigFrom extracts the service policy from the application config.
func ConfigFrom(c *config.Config) Config {
	return Config{
		RequireApproval:    c.RequireApproval,
		MaxDepth:           c.MaxDepth,
		MaxCommentLength:   c.MaxCommentLength,
		LikeRateMax:        c.LikeRateMax,
		LikeRateWindow:     c.LikeRateWindow,
		LikeBucket:         c.LikeBucket,
		ReportRateMax:      c.ReportRateMax,
		ReportRateWindow:   c.ReportRateWindow,
		ReportDedupeWindow: c.ReportDedupeWindow,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxCommentLength <= 0 {
		c.MaxCommentLength = 10000
	}
	if c.LikeRateMax <= 0 {
		c.LikeRateMax = 30
	}
	if c.LikeRateWindow <= 0 {
		c.LikeRateWindow = time.Minute
	}
	if c.LikeBucket == "" {
		c.LikeBucket = config.LikeBucketShared
	}
	if c.ReportRateMax <= 0 {
		c.ReportRateMax = 5
	}
	if c.ReportRateWindow <= 0 {
		c.ReportRateWindow = 10 * time.Minute
	}
	if c.ReportDedupeWindow <= 0 {
		c.ReportDedupeWindow = 24 * time.Hour
	}
	return c
}

// commentLocks serializes mutations of one comment within this process.
type commentLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *commentLocks) lock(id uint) func() {
	m := &l.stripes[id%lockStripes]
	m.Lock()
	return m.Unlock
}

// CommentService is the entry point for every comment mutation.
type CommentService struct {
	store   *repository.Store
	guard   guard.RateGuard
	dedupe  guard.Deduper
	engine  *moderation.Engine
	emitter Emitter
	cfg     Config
	locks   commentLocks
}

// NewCommentService wires the collaborators. dedupe may be nil, in which case
// duplicate reports are detected from storage alone.
func NewCommentService(
	store *repository.Store,
	rateGuard guard.RateGuard,
	dedupe guard.Deduper,
	engine *moderation.Engine,
	emitter Emitter,
	cfg Config,
) *CommentService {
	return &CommentService{
		store:   store,
		guard:   rateGuard,
		dedupe:  dedupe,
		engine:  engine,
		emitter: emitter,
		cfg:     cfg.withDefaults(),
	}
}

// CreateCommentInput describes a new top-level comment or reply.
type CreateCommentInput struct {
	PostID   uint
	UserID   uint
	ParentID *uint
	Content  string
}

// CreateComment stores a comment in the status the approval policy and the
// automated signals call for. Replies must belong to the parent's post.
func (s *CommentService) CreateComment(ctx context.Context, in CreateCommentInput) (*models.Comment, error) {
	span, ctx := observability.NewSpan(ctx, "CommentService.CreateComment",
		attribute.Int64("post.id", int64(in.PostID)),
	)
	defer span.End()

	content := strings.TrimSpace(in.Content)
	switch {
	case in.PostID == 0:
		return nil, models.NewValidationError("post_id is required")
	case in.UserID == 0:
		return nil, models.NewValidationError("user_id is required")
	case content == "":
		return nil, models.NewValidationError("Content is required")
	case utf8.RuneCountInString(content) > s.cfg.MaxCommentLength:
		return nil, models.NewValidationError(fmt.Sprintf("Comment too long (max %d characters)", s.cfg.MaxCommentLength))
	case in.ParentID != nil && *in.ParentID == 0:
		return nil, models.NewValidationError("parent_id must not be zero")
	}

	initial := models.StatusPublished
	if s.cfg.RequireApproval {
		initial = models.StatusPending
	}
	decision, flagged := s.engine.Decide(initial, nil, s.engine.Evaluate(ctx, content, 0))
	status := initial
	if flagged {
		status = decision.Status
	}

	if in.ParentID != nil {
		unlock := s.locks.lock(*in.ParentID)
		defer unlock()
	}

	var comment *models.Comment
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		var parent *models.Comment
		if in.ParentID != nil {
			p, err := tx.Comments.GetByID(ctx, *in.ParentID)
			if err != nil {
				return err
			}
			if p.PostID != in.PostID {
				return models.NewValidationError("parent comment belongs to a different post")
			}
			if p.Deleted {
				return models.NewValidationError("cannot reply to a deleted comment")
			}
			parent = p
		}

		depth := models.ReplyDepth(parent)
		if depth > s.cfg.MaxDepth {
			return models.NewValidationError(fmt.Sprintf("replies are limited to depth %d", s.cfg.MaxDepth))
		}

		c := &models.Comment{
			PostID:   in.PostID,
			ParentID: in.ParentID,
			UserID:   in.UserID,
			Content:  content,
			Depth:    depth,
			Status:   status,
		}
		if flagged {
			now := time.Now().UTC()
			reason := decision.Reason
			c.ModerationReason = &reason
			c.ModeratedAt = &now
		}
		if err := tx.Comments.Create(ctx, c); err != nil {
			return err
		}
		if parent != nil {
			if err := tx.Comments.AdjustReplyCount(ctx, parent.ID, 1); err != nil {
				return err
			}
		}
		comment = c
		return ctx.Err()
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	if flagged {
		ev := events.NewModerated(events.ModeratedInput{
			Comment:        comment,
			PreviousStatus: initial,
			Reason:         decision.Reason,
			Automated:      true,
			Triggers:       decision.Triggers,
		})
		observability.ModerationDecisions.WithLabelValues(string(ev.Action), "automated").Inc()
		s.emit(ctx, ev)
	}
	return comment, nil
}

// DeleteInput describes a deletion request. DeleterID 0 is a system deletion.
type DeleteInput struct {
	CommentID     uint
	DeleterID     uint
	Context       events.DeleteContext
	ModeratorRole string
	Reason        string
	Hard          bool
}

// Delete removes a comment. A hard delete of a comment that still has replies
// degrades to a soft delete so the thread stays intact.
func (s *CommentService) Delete(ctx context.Context, in DeleteInput) (events.Deleted, error) {
	span, ctx := observability.NewSpan(ctx, "CommentService.Delete",
		observability.CommentAttr(in.CommentID),
	)
	defer span.End()

	if in.CommentID == 0 {
		return events.Deleted{}, models.NewValidationError("comment_id is required")
	}
	if in.Context == "" {
		in.Context = events.ContextUser
	}
	switch in.Context {
	case events.ContextUser, events.ContextAdmin, events.ContextModerator, events.ContextBatch:
	default:
		return events.Deleted{}, models.NewValidationError(fmt.Sprintf("unknown delete context %q", in.Context))
	}
	if len(in.Reason) > maxReasonLen {
		return events.Deleted{}, models.NewValidationError("reason is too long")
	}

	unlock := s.locks.lock(in.CommentID)
	defer unlock()

	var (
		snapshot     models.Comment
		childIDs     []uint
		childAuthors []uint
		soft         bool
	)
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		c, err := tx.Comments.GetByID(ctx, in.CommentID)
		if err != nil {
			return err
		}
		if c.Deleted {
			return models.NewValidationError("comment is already deleted")
		}

		children, err := tx.Comments.ListChildren(ctx, c.ID)
		if err != nil {
			return err
		}
		childIDs, childAuthors = childIDs[:0], childAuthors[:0]
		seen := make(map[uint]struct{}, len(children))
		for _, child := range children {
			childIDs = append(childIDs, child.ID)
			if _, ok := seen[child.UserID]; !ok && child.UserID != 0 {
				seen[child.UserID] = struct{}{}
				childAuthors = append(childAuthors, child.UserID)
			}
		}

		soft = !in.Hard || len(children) > 0
		if soft {
			if err := tx.Comments.SoftDelete(ctx, c, in.DeleterID, in.Reason); err != nil {
				return err
			}
		} else {
			if err := tx.Likes.DeleteByComment(ctx, c.ID); err != nil {
				return err
			}
			if err := tx.Comments.HardDelete(ctx, c.ID); err != nil {
				return err
			}
			if c.ParentID != nil {
				if err := tx.Comments.AdjustReplyCount(ctx, *c.ParentID, -1); err != nil && !models.IsNotFound(err) {
					return err
				}
			}
		}
		if _, err := tx.Reports.Resolve(ctx, c.ID); err != nil {
			return err
		}
		snapshot = *c
		return ctx.Err()
	})
	if err != nil {
		span.SetError(err)
		return events.Deleted{}, err
	}

	ev := events.NewDeleted(events.DeletedInput{
		Comment:        &snapshot,
		DeleterID:      in.DeleterID,
		Context:        in.Context,
		Soft:           soft,
		Reason:         in.Reason,
		Children:       childIDs,
		ChildAuthorIDs: childAuthors,
	})
	s.emit(ctx, ev)

	if ev.DeletionType == events.AdminDelete || ev.DeletionType == events.ModeratorDelete {
		logged := events.NewModerated(events.ModeratedInput{
			Comment:        &snapshot,
			PreviousStatus: snapshot.Status,
			ModeratorID:    in.DeleterID,
			ModeratorRole:  in.ModeratorRole,
			Reason:         in.Reason,
			Action:         moderation.ActionDelete,
		})
		observability.ModerationDecisions.WithLabelValues(string(logged.Action), "manual").Inc()
		s.emit(ctx, logged)
	}
	return ev, nil
}

// ReviewItem is one comment waiting in the moderation queue.
type ReviewItem struct {
	Comment        *models.Comment     `json:"comment"`
	TopReason      models.ReportReason `json:"top_reason"`
	Priority       int                 `json:"priority"`
	OpenReports    int                 `json:"open_reports"`
	OldestReportAt time.Time           `json:"oldest_report_at"`
}

// ListReviewQueue returns reported comments ordered by reason priority, then
// report count, then the age of their oldest open report.
func (s *CommentService) ListReviewQueue(ctx context.Context, limit int) ([]ReviewItem, error) {
	if limit <= 0 {
		limit = defaultQueueLimit
	}
	if limit > maxQueueLimit {
		limit = maxQueueLimit
	}

	reports, err := s.store.Reports.ListOpen(ctx)
	if err != nil {
		return nil, err
	}

	byComment := make(map[uint]*ReviewItem)
	ids := make([]uint, 0)
	for _, r := range reports {
		item, ok := byComment[r.CommentID]
		if !ok {
			item = &ReviewItem{OldestReportAt: r.CreatedAt}
			byComment[r.CommentID] = item
			ids = append(ids, r.CommentID)
		}
		item.OpenReports++
		if p := events.GetPriority(r.Reason); p > item.Priority {
			item.Priority = p
			item.TopReason = r.Reason
		}
		if r.CreatedAt.Before(item.OldestReportAt) {
			item.OldestReportAt = r.CreatedAt
		}
	}

	comments, err := s.store.Comments.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	items := make([]ReviewItem, 0, len(comments))
	for _, c := range comments {
		if c.Deleted {
			continue
		}
		item := byComment[c.ID]
		item.Comment = c
		items = append(items, *item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Comment.ReportCount != b.Comment.ReportCount {
			return a.Comment.ReportCount > b.Comment.ReportCount
		}
		if !a.OldestReportAt.Equal(b.OldestReportAt) {
			return a.OldestReportAt.Before(b.OldestReportAt)
		}
		return a.Comment.ID < b.Comment.ID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// emit hands ev to the emitter. The mutation has committed, so a cancelled
// caller context must not stop the event.
func (s *CommentService) emit(ctx context.Context, ev events.Event) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(context.WithoutCancel(ctx), ev)
}

// allow consults the rate guard. A guard outage fails open.
func (s *CommentService) allow(ctx context.Context, action string, userID uint, max int, window time.Duration) error {
	if s.guard == nil {
		return nil
	}
	ok, err := s.guard.IsActionAllowed(ctx, action, fmt.Sprintf("user:%d", userID), max, window)
	if err != nil {
		observability.Logger.WarnContext(ctx, "rate guard unavailable; allowing action",
			slog.String("action", action),
			slog.Uint64("user_id", uint64(userID)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !ok {
		return models.NewRateLimitedError(action)
	}
	return nil
}
