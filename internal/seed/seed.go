// Package seed generates demo comment threads for development. Every write goes
// through the comment service so the generated data obeys the same invariants
// as production traffic.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"threadline/internal/database"
	"threadline/internal/models"
	"threadline/internal/observability"
	"threadline/internal/service"

	"gorm.io/gorm"
)

// Options sizes a seeding run.
type Options struct {
	Posts        int
	Users        int
	RootsPerPost int
	MaxReplies   int
	// LikeRatio and ReportRatio are per-comment probabilities in [0,1].
	LikeRatio   float64
	ReportRatio float64
	// Seed makes a run reproducible. Zero picks a random seed.
	Seed int64
}

// DefaultOptions is a small thread set suitable for local testing.
func DefaultOptions() Options {
	return Options{
		Posts:        5,
		Users:        20,
		RootsPerPost: 6,
		MaxReplies:   3,
		LikeRatio:    0.6,
		ReportRatio:  0.1,
	}
}

// Summary counts what a run produced.
type Summary struct {
	Comments int
	Replies  int
	Likes    int
	Reports  int
	// Skipped counts writes the service refused (rate limits, duplicates).
	Skipped int
}

// Seeder drives CommentService with fake users and content.
type Seeder struct {
	db    *gorm.DB
	svc   *service.CommentService
	faker *Factory
	opts  Options
}

// NewSeeder returns a Seeder writing through svc. db is only used by ClearAll.
func NewSeeder(db *gorm.DB, svc *service.CommentService, opts Options) *Seeder {
	if opts.Users <= 0 {
		opts.Users = 1
	}
	return &Seeder{db: db, svc: svc, faker: NewFactory(opts.Seed), opts: opts}
}

// ClearAll removes every row the pipeline owns.
func (s *Seeder) ClearAll(ctx context.Context) error {
	tx := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true})
	tables := database.PersistentModels()
	for i := len(tables) - 1; i >= 0; i-- {
		if err := tx.Delete(tables[i]).Error; err != nil {
			return fmt.Errorf("clear %T: %w", tables[i], err)
		}
	}
	observability.Logger.InfoContext(ctx, "seed data cleared")
	return nil
}

// Run creates threads for every post and reacts to them.
func (s *Seeder) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	for post := 1; post <= s.opts.Posts; post++ {
		if err := s.seedPost(ctx, uint(post), &sum); err != nil {
			return sum, err
		}
	}
	observability.Logger.InfoContext(ctx, "seeding complete",
		slog.Int("comments", sum.Comments),
		slog.Int("replies", sum.Replies),
		slog.Int("likes", sum.Likes),
		slog.Int("reports", sum.Reports),
		slog.Int("skipped", sum.Skipped),
	)
	return sum, nil
}

func (s *Seeder) seedPost(ctx context.Context, postID uint, sum *Summary) error {
	for i := 0; i < s.opts.RootsPerPost; i++ {
		root, err := s.svc.CreateComment(ctx, service.CreateCommentInput{
			PostID:  postID,
			UserID:  s.faker.UserID(s.opts.Users),
			Content: s.faker.CommentContent(),
		})
		if err != nil {
			return fmt.Errorf("seed root comment on post %d: %w", postID, err)
		}
		sum.Comments++
		s.react(ctx, root, sum)

		parent := root
		for r := s.faker.Intn(s.opts.MaxReplies + 1); r > 0; r-- {
			reply, err := s.svc.CreateComment(ctx, service.CreateCommentInput{
				PostID:   postID,
				UserID:   s.faker.UserID(s.opts.Users),
				ParentID: &parent.ID,
				Content:  s.faker.ReplyContent(),
			})
			if models.IsValidation(err) {
				// Depth limit reached; continue the thread from the root.
				sum.Skipped++
				parent = root
				continue
			}
			if err != nil {
				return fmt.Errorf("seed reply to %d: %w", parent.ID, err)
			}
			sum.Comments++
			sum.Replies++
			s.react(ctx, reply, sum)
			if s.faker.Chance(0.5) {
				parent = reply
			}
		}
	}
	return nil
}

func (s *Seeder) react(ctx context.Context, c *models.Comment, sum *Summary) {
	if c.Status != models.StatusPublished {
		return
	}
	for _, uid := range s.faker.DistinctUsers(s.opts.Users, s.opts.LikeRatio) {
		if uid == c.UserID {
			continue
		}
		if _, err := s.svc.Like(ctx, service.LikeInput{CommentID: c.ID, UserID: uid}); s.skip(ctx, err, sum) {
			continue
		}
		sum.Likes++
	}

	if !s.faker.Chance(s.opts.ReportRatio) {
		return
	}
	_, err := s.svc.Report(ctx, service.ReportInput{
		CommentID:   c.ID,
		ReporterID:  s.faker.UserID(s.opts.Users),
		Reason:      s.faker.ReportReason(),
		Description: s.faker.Sentence(8),
	})
	if !s.skip(ctx, err, sum) {
		sum.Reports++
	}
}

// skip reports whether err refused the write, logging anything unexpected.
func (s *Seeder) skip(ctx context.Context, err error, sum *Summary) bool {
	if err == nil {
		return false
	}
	sum.Skipped++
	if !models.IsValidation(err) && !models.IsRateLimited(err) {
		observability.Logger.WarnContext(ctx, "seed write failed", slog.String("error", err.Error()))
	}
	return true
}
