package models

import "time"

// ReportReason enumerates why a comment was reported.
type ReportReason string

const (
	ReasonHateSpeech           ReportReason = "hate_speech"
	ReasonHarassment           ReportReason = "harassment"
	ReasonInappropriateContent ReportReason = "inappropriate_content"
	ReasonMisinformation       ReportReason = "misinformation"
	ReasonCopyrightViolation   ReportReason = "copyright_violation"
	ReasonSpam                 ReportReason = "spam"
	ReasonOther                ReportReason = "other"
)

// ReportReasons lists every reason in declaration order.
var ReportReasons = []ReportReason{
	ReasonHateSpeech,
	ReasonHarassment,
	ReasonInappropriateContent,
	ReasonMisinformation,
	ReasonCopyrightViolation,
	ReasonSpam,
	ReasonOther,
}

// Valid reports whether r is one of the enumerated reasons.
func (r ReportReason) Valid() bool {
	for _, known := range ReportReasons {
		if r == known {
			return true
		}
	}
	return false
}

// ReportStatus tracks whether a report still needs attention.
type ReportStatus string

const (
	// ReportStatusOpen means the report is waiting in the review queue.
	ReportStatusOpen ReportStatus = "open"
	// ReportStatusResolved means a moderator acted on the comment.
	ReportStatusResolved ReportStatus = "resolved"
)

// CommentReport is one abuse report filed against a comment.
// Several rows may exist for the same (reporter, comment) pair; IsDuplicate marks
// the ones that arrived inside the dedupe window and were not counted.
type CommentReport struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	CommentID   uint         `gorm:"not null;index:idx_report_comment_reporter" json:"comment_id"`
	ReporterID  uint         `gorm:"not null;index:idx_report_comment_reporter" json:"reporter_id"`
	Reason      ReportReason `gorm:"type:varchar(32);not null" json:"reason"`
	Description string       `gorm:"size:1000" json:"description,omitempty"`
	IP          string       `gorm:"size:64" json:"-"`
	UserAgent   string       `gorm:"size:512" json:"-"`
	IsDuplicate bool         `gorm:"not null;default:false" json:"is_duplicate"`
	Status      ReportStatus `gorm:"type:varchar(16);not null;default:'open';index" json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
}

// TableName specifies the table name for GORM.
func (CommentReport) TableName() string {
	return "comment_reports"
}
