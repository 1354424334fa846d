package notifications

import (
	"sort"

	"threadline/internal/events"
)

// RecipientPolicy decides who is notified about an event.
type RecipientPolicy struct {
	Moderators       []uint
	ReviewThreshold  int64
	PopularThreshold int64
}

// Popular reports whether ev is the like that first carried a comment to the
// popular threshold. Such likes are broadcast to the whole thread.
func (p RecipientPolicy) Popular(ev events.Event) bool {
	liked, ok := ev.(events.Liked)
	if !ok {
		return false
	}
	threshold := p.PopularThreshold
	if threshold <= 0 {
		threshold = events.DefaultPopularThreshold
	}
	return liked.IsPopularComment(threshold) && liked.NewLikeCount == threshold
}

// ThreadBroadcast reports whether ev changes what thread viewers see. Reports
// are private to moderators and never broadcast.
func (RecipientPolicy) ThreadBroadcast(ev events.Event) bool {
	switch e := ev.(type) {
	case events.Liked:
		return true
	case events.Moderated:
		return e.StatusChanged()
	case events.Deleted:
		return true
	default:
		return false
	}
}

// Recipients returns the sorted, distinct recipients of ev and whether the
// moderation queue should be alerted. The acting user is never a recipient.
func (p RecipientPolicy) Recipients(ev events.Event) (users []uint, alertModerators bool) {
	author := ev.Subject().AuthorID
	set := make(map[uint]struct{})
	add := func(ids ...uint) {
		for _, id := range ids {
			if id != 0 {
				set[id] = struct{}{}
			}
		}
	}

	switch e := ev.(type) {
	case events.Liked:
		if e.ShouldNotifyAuthor() {
			add(author)
		}
	case events.Moderated:
		if e.ShouldNotifyAuthor() {
			add(author)
		}
		alertModerators = e.IsPunitive()
	case events.Deleted:
		if e.ShouldNotifyUsers() {
			add(author)
			add(e.AffectedAuthorIDs()...)
			alertModerators = true
		}
	case events.Reported:
		threshold := p.ReviewThreshold
		if threshold <= 0 {
			threshold = events.DefaultReviewThreshold
		}
		alertModerators = e.RequiresImmediateReviewAt(threshold)
	}

	if alertModerators {
		add(p.Moderators...)
	}
	delete(set, ev.Actor())

	users = make([]uint, 0, len(set))
	for id := range set {
		users = append(users, id)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, alertModerators
}
