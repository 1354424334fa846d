// Package notifications delivers committed domain events to real-time
// subscribers, the durable inbox, and audit sinks.
package notifications

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"threadline/internal/events"
	"threadline/internal/models"
)

// ModerationQueueGroup is the group moderators watch for review work.
const ModerationQueueGroup = "moderation:queue"

// Transport is the real-time group contract. JoinGroup and LeaveGroup track
// presence once per connection, so a user with two sockets in a group stays a
// member until both leave. Sends are fire-and-forget.
type Transport interface {
	JoinGroup(ctx context.Context, groupKey string, subscriberID uint) error
	LeaveGroup(ctx context.Context, groupKey string, subscriberID uint) error
	SendToGroup(ctx context.Context, groupKey string, message []byte) error
}

// ThreadGroup derives the group key for a post's comment thread.
func ThreadGroup(postID uint) string {
	return "post:" + strconv.FormatUint(uint64(postID), 10) + ":comments"
}

const userGroupPrefix = "user:"

// UserGroup derives the personal group key of a user. Every connection of the
// user receives it without joining.
func UserGroup(userID uint) string {
	return userGroupPrefix + strconv.FormatUint(uint64(userID), 10)
}

func parseUserGroup(groupKey string) (uint, bool) {
	rest, ok := strings.CutPrefix(groupKey, userGroupPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// Message is the envelope written to real-time subscribers.
type Message struct {
	Type        string          `json:"type"`
	EventID     string          `json:"event_id"`
	RecipientID uint            `json:"recipient_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// ThreadUpdate is the public view of a comment change sent to everyone
// watching the thread. It never carries reporter or moderator details.
type ThreadUpdate struct {
	CommentID  uint                 `json:"comment_id"`
	PostID     uint                 `json:"post_id"`
	Status     models.CommentStatus `json:"status"`
	Deleted    bool                 `json:"deleted"`
	LikeCount  int64                `json:"like_count"`
	ReplyCount int64                `json:"reply_count"`
}

func newThreadUpdate(ev events.Event) ThreadUpdate {
	c := ev.Subject()
	return ThreadUpdate{
		CommentID:  c.ID,
		PostID:     c.PostID,
		Status:     c.Status,
		Deleted:    c.Deleted,
		LikeCount:  c.LikeCount,
		ReplyCount: c.ReplyCount,
	}
}

func encodeMessage(kind, eventID string, recipientID uint, payload []byte) ([]byte, error) {
	return json.Marshal(Message{
		Type:        kind,
		EventID:     eventID,
		RecipientID: recipientID,
		Payload:     payload,
	})
}
