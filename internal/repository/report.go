package repository

import (
	"context"
	"time"

	"threadline/internal/models"

	"gorm.io/gorm"
)

// maxOpenReports bounds one review-queue scan.
const maxOpenReports = 1000

// ReportRepository stores abuse reports.
type ReportRepository interface {
	Create(ctx context.Context, report *models.CommentReport) error
	CountRecent(ctx context.Context, commentID, reporterID uint, since time.Time) (int64, error)
	ListOpen(ctx context.Context) ([]*models.CommentReport, error)
	Resolve(ctx context.Context, commentID uint) (int64, error)
}

type reportRepository struct {
	db *gorm.DB
}

// NewReportRepository creates a new ReportRepository
func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepository{db: db}
}

func (r *reportRepository) Create(ctx context.Context, report *models.CommentReport) error {
	if report.Status == "" {
		report.Status = models.ReportStatusOpen
	}
	return r.db.WithContext(ctx).Create(report).Error
}

// CountRecent counts counted (non-duplicate) reports by reporterID on commentID since since.
func (r *reportRepository) CountRecent(ctx context.Context, commentID, reporterID uint, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.CommentReport{}).
		Where("comment_id = ? AND reporter_id = ? AND is_duplicate = ? AND created_at >= ?", commentID, reporterID, false, since).
		Count(&n).Error
	return n, err
}

// ListOpen returns open, counted reports oldest first.
func (r *reportRepository) ListOpen(ctx context.Context) ([]*models.CommentReport, error) {
	var reports []*models.CommentReport
	err := r.db.WithContext(ctx).
		Where("status = ? AND is_duplicate = ?", models.ReportStatusOpen, false).
		Order("created_at asc, id asc").
		Limit(maxOpenReports).
		Find(&reports).Error
	return reports, err
}

// Resolve closes every open report on commentID.
func (r *reportRepository) Resolve(ctx context.Context, commentID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.CommentReport{}).
		Where("comment_id = ? AND status = ?", commentID, models.ReportStatusOpen).
		Update("status", models.ReportStatusResolved)
	return res.RowsAffected, res.Error
}
