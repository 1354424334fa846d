// Command seed fills the database with demo comment threads.
package main

import (
	"context"
	"flag"
	"log"

	"threadline/internal/config"
	"threadline/internal/database"
	"threadline/internal/events"
	"threadline/internal/guard"
	"threadline/internal/moderation"
	"threadline/internal/notifications"
	"threadline/internal/repository"
	"threadline/internal/seed"
	"threadline/internal/service"
)

func main() {
	defaults := seed.DefaultOptions()
	posts := flag.Int("posts", defaults.Posts, "Number of posts to create threads on")
	users := flag.Int("users", defaults.Users, "Number of distinct fake users")
	roots := flag.Int("roots", defaults.RootsPerPost, "Top-level comments per post")
	replies := flag.Int("replies", defaults.MaxReplies, "Maximum replies per top-level comment")
	likeRatio := flag.Float64("like-ratio", defaults.LikeRatio, "Probability that a user likes a comment")
	reportRatio := flag.Float64("report-ratio", defaults.ReportRatio, "Probability that a comment is reported")
	randSeed := flag.Int64("seed", 0, "Random seed (0 = time based)")
	shouldClean := flag.Bool("clean", true, "Clean comment tables before seeding")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	sensitive, err := moderation.ParseOutcome(cfg.SensitiveOutcome)
	if err != nil {
		log.Fatalf("Invalid moderation config: %v", err)
	}
	engine := moderation.NewEngine(moderation.Thresholds{
		Spam:             cfg.SpamThreshold,
		Toxicity:         cfg.ToxicityThreshold,
		ReportReview:     cfg.ReportReviewThreshold,
		ReportHide:       cfg.ReportHideThreshold,
		SensitiveOutcome: sensitive,
	}, nil, nil)

	// Seeding writes are audited to the log only; no realtime fan-out runs here.
	svcCfg := service.ConfigFrom(cfg)
	svcCfg.LikeRateMax = 1 << 20
	svcCfg.ReportRateMax = 1 << 20
	comments := service.NewCommentService(
		repository.NewStore(db),
		guard.NewMemoryGuard(),
		guard.NewMemoryDeduper(),
		engine,
		events.NewEmitter(auditSink{}),
		svcCfg,
	)

	s := seed.NewSeeder(db, comments, seed.Options{
		Posts:        *posts,
		Users:        *users,
		RootsPerPost: *roots,
		MaxReplies:   *replies,
		LikeRatio:    *likeRatio,
		ReportRatio:  *reportRatio,
		Seed:         *randSeed,
	})

	ctx := context.Background()
	if *shouldClean {
		if err := s.ClearAll(ctx); err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
	}
	sum, err := s.Run(ctx)
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	log.Printf("Seeded %d comments (%d replies), %d likes, %d reports; %d writes skipped",
		sum.Comments, sum.Replies, sum.Likes, sum.Reports, sum.Skipped)
}

// auditSink adapts the log audit sink to the emitter.
type auditSink struct{}

func (auditSink) Publish(ev events.Event) bool {
	return notifications.LogSink{}.Record(context.Background(), ev) == nil
}
