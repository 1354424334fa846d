// Package moderation classifies comment status transitions and decides the next
// status of a comment from moderator commands and automated abuse signals.
package moderation

import "threadline/internal/models"

// Action is the moderation verb an event reports for a status transition.
type Action string

const (
	ActionApprove    Action = "approve"
	ActionHide       Action = "hide"
	ActionMarkAsSpam Action = "mark_as_spam"
	ActionRestore    Action = "restore"
	ActionReview     Action = "review"
	// ActionDelete is never derived from a transition; moderator deletions carry it.
	ActionDelete Action = "delete"
)

// ActionFor maps a (previous, next) status pair to its action.
// Rows are checked in order and unmatched pairs fall through to ActionReview.
func ActionFor(previous, next models.CommentStatus) Action {
	switch {
	case previous == models.StatusPending && next == models.StatusPublished:
		return ActionApprove
	case previous == models.StatusPublished && next == models.StatusHidden:
		return ActionHide
	case previous == models.StatusPublished && next == models.StatusSpam:
		return ActionMarkAsSpam
	case previous == models.StatusHidden && next == models.StatusPublished:
		return ActionRestore
	case previous == models.StatusSpam && next == models.StatusPublished:
		return ActionRestore
	case next == models.StatusPending:
		return ActionReview
	default:
		return ActionReview
	}
}

// IsPunitive reports whether the action removes or restricts content.
func (a Action) IsPunitive() bool {
	switch a {
	case ActionHide, ActionMarkAsSpam, ActionDelete:
		return true
	}
	return false
}

// IsRestorative reports whether the action makes content visible again.
func (a Action) IsRestorative() bool {
	switch a {
	case ActionApprove, ActionRestore:
		return true
	}
	return false
}

// severity orders statuses from most visible to most restricted.
func severity(s models.CommentStatus) int {
	switch s {
	case models.StatusPending:
		return 1
	case models.StatusHidden:
		return 2
	case models.StatusSpam:
		return 3
	default:
		return 0
	}
}
