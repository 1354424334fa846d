package service

import (
	"context"
	"fmt"

	"threadline/internal/events"
	"threadline/internal/models"
	"threadline/internal/moderation"
	"threadline/internal/observability"
	"threadline/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// ModerateInput is a moderator command. ExpectedVersion, when set, must match
// the stored version or the command fails with a Conflict.
type ModerateInput struct {
	CommentID       uint
	ModeratorID     uint
	ModeratorRole   string
	Target          models.CommentStatus
	Reason          string
	ResetReports    bool
	ExpectedVersion int64
}

// Moderate applies a manual decision. Commands always override automated
// signals. A decision that keeps the current status leaves the comment row
// untouched, still resolves open reports unless the target is pending, and is
// still emitted.
func (s *CommentService) Moderate(ctx context.Context, in ModerateInput) (events.Moderated, error) {
	span, ctx := observability.NewSpan(ctx, "CommentService.Moderate",
		observability.CommentAttr(in.CommentID),
		attribute.String("target", string(in.Target)),
	)
	defer span.End()

	switch {
	case in.CommentID == 0:
		return events.Moderated{}, models.NewValidationError("comment_id is required")
	case in.ModeratorID == 0:
		return events.Moderated{}, models.NewValidationError("moderator_id is required")
	case !in.Target.Valid():
		return events.Moderated{}, models.NewValidationError(fmt.Sprintf("unknown status %q", in.Target))
	case len(in.Reason) > maxReasonLen:
		return events.Moderated{}, models.NewValidationError("reason is too long")
	case in.ResetReports && in.Target != models.StatusPublished:
		return events.Moderated{}, models.NewValidationError("reports can only be reset when publishing a comment")
	}

	unlock := s.locks.lock(in.CommentID)
	defer unlock()

	cmd := &moderation.Command{
		ModeratorID:  in.ModeratorID,
		Target:       in.Target,
		Reason:       in.Reason,
		ResetReports: in.ResetReports,
	}

	var (
		comment  *models.Comment
		previous models.CommentStatus
	)
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		c, err := tx.Comments.GetByID(ctx, in.CommentID)
		if err != nil {
			return err
		}
		if c.Deleted {
			return models.NewValidationError("comment has been deleted")
		}
		if in.ExpectedVersion != 0 && in.ExpectedVersion != c.Version {
			return models.NewConflictError("Comment", c.ID)
		}

		previous = c.Status
		decision, _ := s.engine.Decide(c.Status, cmd, moderation.Signals{})
		if decision.Status != previous || decision.ResetReports {
			if err := tx.Comments.UpdateStatus(ctx, c, repository.StatusChange{
				Status:       decision.Status,
				ModeratorID:  decision.ModeratorID,
				Reason:       decision.Reason,
				ResetReports: decision.ResetReports,
			}); err != nil {
				return err
			}
		}
		if decision.Status != models.StatusPending {
			if _, err := tx.Reports.Resolve(ctx, c.ID); err != nil {
				return err
			}
		}
		comment = c
		return ctx.Err()
	})
	if err != nil {
		span.SetError(err)
		return events.Moderated{}, err
	}

	ev := events.NewModerated(events.ModeratedInput{
		Comment:        comment,
		PreviousStatus: previous,
		ModeratorID:    in.ModeratorID,
		ModeratorRole:  in.ModeratorRole,
		Reason:         in.Reason,
	})
	observability.ModerationDecisions.WithLabelValues(string(ev.Action), "manual").Inc()
	s.emit(ctx, ev)
	return ev, nil
}

// AutoModerate evaluates the automated signals for a comment and applies the
// resulting decision. It returns nil when no threshold was crossed.
func (s *CommentService) AutoModerate(ctx context.Context, commentID uint) (*events.Moderated, error) {
	span, ctx := observability.NewSpan(ctx, "CommentService.AutoModerate",
		observability.CommentAttr(commentID),
	)
	defer span.End()

	if commentID == 0 {
		return nil, models.NewValidationError("comment_id is required")
	}

	unlock := s.locks.lock(commentID)
	defer unlock()

	c, err := s.store.Comments.GetByID(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if c.Deleted {
		return nil, models.NewValidationError("comment has been deleted")
	}

	ev, err := s.autoModerateLocked(ctx, c)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	if ev != nil {
		s.emit(ctx, *ev)
	}
	return ev, nil
}

// autoModerateLocked applies the automated decision for c. The caller holds
// the comment lock and emits the returned event.
func (s *CommentService) autoModerateLocked(ctx context.Context, c *models.Comment) (*events.Moderated, error) {
	decision, ok := s.engine.Decide(c.Status, nil, s.engine.Evaluate(ctx, c.Content, c.ReportCount))
	if !ok {
		return nil, nil
	}

	next := *c
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		if decision.Status != c.Status {
			if err := tx.Comments.UpdateStatus(ctx, &next, repository.StatusChange{
				Status: decision.Status,
				Reason: decision.Reason,
			}); err != nil {
				return err
			}
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}

	ev := events.NewModerated(events.ModeratedInput{
		Comment:        &next,
		PreviousStatus: c.Status,
		Reason:         decision.Reason,
		Automated:      true,
		Triggers:       decision.Triggers,
	})
	observability.ModerationDecisions.WithLabelValues(string(ev.Action), "automated").Inc()
	return &ev, nil
}
