package models

import "time"

// Notification is a durable inbox entry for one recipient.
// (EventID, UserID) is unique so a replayed event cannot create a second row.
type Notification struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    uint      `gorm:"not null;index;uniqueIndex:idx_notification_event_user" json:"user_id"`
	EventID   string    `gorm:"size:36;not null;uniqueIndex:idx_notification_event_user" json:"event_id"`
	Kind      string    `gorm:"size:32;not null" json:"kind"`
	CommentID uint      `gorm:"not null" json:"comment_id"`
	PostID    uint      `gorm:"not null" json:"post_id"`
	ActorID   uint      `json:"actor_id"`
	Payload   string    `gorm:"type:text;not null" json:"payload"`
	IsRead    bool      `gorm:"not null;default:false;index" json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM.
func (Notification) TableName() string {
	return "notifications"
}
