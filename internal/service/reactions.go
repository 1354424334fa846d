package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"threadline/internal/config"
	"threadline/internal/events"
	"threadline/internal/models"
	"threadline/internal/observability"
	"threadline/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// Rate guard action kinds.
const (
	ActionLike   = "like"
	ActionUnlike = "unlike"
	ActionReport = "report"
)

// LikeInput identifies a like or unlike request.
type LikeInput struct {
	CommentID uint
	UserID    uint
	IP        string
	UserAgent string
}

// Like records a like and returns the committed event.
func (s *CommentService) Like(ctx context.Context, in LikeInput) (events.Liked, error) {
	return s.react(ctx, in, false)
}

// Unlike removes a like and returns the committed event.
func (s *CommentService) Unlike(ctx context.Context, in LikeInput) (events.Liked, error) {
	return s.react(ctx, in, true)
}

// likeAction returns the guard bucket for a like or unlike.
func (s *CommentService) likeAction(unlike bool) string {
	if unlike && s.cfg.LikeBucket == config.LikeBucketSeparate {
		return ActionUnlike
	}
	return ActionLike
}

func (s *CommentService) react(ctx context.Context, in LikeInput, unlike bool) (events.Liked, error) {
	span, ctx := observability.NewSpan(ctx, "CommentService.react",
		observability.CommentAttr(in.CommentID),
		attribute.Bool("unlike", unlike),
	)
	defer span.End()

	if in.CommentID == 0 || in.UserID == 0 {
		return events.Liked{}, models.NewValidationError("comment_id and user_id are required")
	}
	if err := s.allow(ctx, s.likeAction(unlike), in.UserID, s.cfg.LikeRateMax, s.cfg.LikeRateWindow); err != nil {
		return events.Liked{}, err
	}

	unlock := s.locks.lock(in.CommentID)
	defer unlock()

	var comment *models.Comment
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		c, err := tx.Comments.GetByID(ctx, in.CommentID)
		if err != nil {
			return err
		}
		if c.Deleted {
			return models.NewValidationError("comment has been deleted")
		}

		// The counter write re-checks the state read here, so a concurrent
		// hide or delete from another process turns this into a conflict.
		delta, want := int64(1), repository.Guard{Version: c.Version, Status: models.StatusPublished}
		if unlike {
			want.Status = ""
			delta = -1
			if err := tx.Likes.Delete(ctx, c.ID, in.UserID); err != nil {
				if errors.Is(err, repository.ErrNotLiked) {
					return models.NewValidationError("comment is not liked")
				}
				return err
			}
		} else {
			if c.Status != models.StatusPublished {
				return models.NewValidationError("only published comments can be liked")
			}
			like := &models.CommentLike{CommentID: c.ID, UserID: in.UserID, IP: in.IP, UserAgent: in.UserAgent}
			if err := tx.Likes.Create(ctx, like); err != nil {
				if errors.Is(err, repository.ErrAlreadyLiked) {
					return models.NewValidationError("comment already liked")
				}
				return err
			}
		}

		n, err := tx.Comments.AdjustLikeCount(ctx, c.ID, delta, want)
		if err != nil {
			return err
		}
		c.LikeCount = n
		comment = c
		return ctx.Err()
	})
	if err != nil {
		span.SetError(err)
		return events.Liked{}, err
	}

	ev := events.NewLiked(comment, in.UserID, unlike)
	s.emit(ctx, ev)
	return ev, nil
}

// ReportInput describes an abuse report.
type ReportInput struct {
	CommentID   uint
	ReporterID  uint
	Reason      models.ReportReason
	Description string
	IP          string
	UserAgent   string
}

// Report stores a report. A repeat report by the same user inside the dedupe
// window is stored and emitted with IsDuplicateReport set, but it does not
// raise the comment's report count or trigger auto-moderation.
func (s *CommentService) Report(ctx context.Context, in ReportInput) (events.Reported, error) {
	span, ctx := observability.NewSpan(ctx, "CommentService.Report",
		observability.CommentAttr(in.CommentID),
		attribute.String("reason", string(in.Reason)),
	)
	defer span.End()

	switch {
	case in.CommentID == 0 || in.ReporterID == 0:
		return events.Reported{}, models.NewValidationError("comment_id and reporter_id are required")
	case !in.Reason.Valid():
		return events.Reported{}, models.NewValidationError(fmt.Sprintf("unknown report reason %q", in.Reason))
	case len(in.Description) > maxDescriptionLen:
		return events.Reported{}, models.NewValidationError("description is too long")
	}
	if err := s.allow(ctx, ActionReport, in.ReporterID, s.cfg.ReportRateMax, s.cfg.ReportRateWindow); err != nil {
		return events.Reported{}, err
	}

	unlock := s.locks.lock(in.CommentID)
	defer unlock()

	duplicate := s.claimedBefore(ctx, in.CommentID, in.ReporterID)

	var (
		comment *models.Comment
		report  *models.CommentReport
	)
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		c, err := tx.Comments.GetByID(ctx, in.CommentID)
		if err != nil {
			return err
		}
		if c.Deleted {
			return models.NewValidationError("comment has been deleted")
		}

		dup := duplicate
		if !dup {
			n, err := tx.Reports.CountRecent(ctx, c.ID, in.ReporterID, time.Now().Add(-s.cfg.ReportDedupeWindow))
			if err != nil {
				return err
			}
			dup = n > 0
		}

		r := &models.CommentReport{
			CommentID:   c.ID,
			ReporterID:  in.ReporterID,
			Reason:      in.Reason,
			Description: in.Description,
			IP:          in.IP,
			UserAgent:   in.UserAgent,
			IsDuplicate: dup,
		}
		if err := tx.Reports.Create(ctx, r); err != nil {
			return err
		}
		if !dup {
			n, err := tx.Comments.IncrementReportCount(ctx, c.ID, repository.Guard{Version: c.Version})
			if err != nil {
				return err
			}
			c.ReportCount = n
		}
		comment, report = c, r
		return ctx.Err()
	})
	if err != nil {
		span.SetError(err)
		return events.Reported{}, err
	}

	reported := *comment
	var moderated *events.Moderated
	if !report.IsDuplicate {
		moderated, err = s.autoModerateLocked(ctx, comment)
		if err != nil {
			observability.Logger.WarnContext(ctx, "auto-moderation after report failed",
				slog.Uint64("comment_id", uint64(comment.ID)),
				slog.String("error", err.Error()),
			)
		}
		// Reports past the threshold re-evaluate to the status already held.
		if moderated != nil && !moderated.StatusChanged() {
			moderated = nil
		}
	}

	ev := events.NewReported(&reported, report, moderated != nil)
	s.emit(ctx, ev)
	if moderated != nil {
		s.emit(ctx, *moderated)
	}
	return ev, nil
}

// claimedBefore reports whether the dedupe store already saw this reporter on
// this comment inside the window. Store errors fall back to the database check.
func (s *CommentService) claimedBefore(ctx context.Context, commentID, reporterID uint) bool {
	if s.dedupe == nil {
		return false
	}
	first, err := s.dedupe.FirstSeen(ctx, fmt.Sprintf("report:%d:%d", commentID, reporterID), s.cfg.ReportDedupeWindow)
	if err != nil {
		observability.Logger.WarnContext(ctx, "report dedupe unavailable; using stored reports",
			slog.Uint64("comment_id", uint64(commentID)),
			slog.String("error", err.Error()),
		)
		return false
	}
	return !first
}
