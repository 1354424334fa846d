package seed

import (
	"context"
	"testing"

	"threadline/internal/events"
	"threadline/internal/guard"
	"threadline/internal/models"
	"threadline/internal/moderation"
	"threadline/internal/repository"
	"threadline/internal/service"
	"threadline/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_Deterministic(t *testing.T) {
	a, b := NewFactory(42), NewFactory(42)
	assert.Equal(t, a.CommentContent(), b.CommentContent())
	assert.Equal(t, a.UserID(10), b.UserID(10))
	assert.Equal(t, a.ReportReason(), b.ReportReason())
}

func TestFactory_Ranges(t *testing.T) {
	f := NewFactory(7)
	for i := 0; i < 200; i++ {
		id := f.UserID(5)
		assert.GreaterOrEqual(t, id, uint(1))
		assert.LessOrEqual(t, id, uint(5))
		assert.True(t, f.ReportReason().Valid())
		assert.Less(t, f.Intn(3), 3)
	}
	assert.Zero(t, f.Intn(0))
	assert.False(t, f.Chance(0))
	assert.True(t, f.Chance(1))
	assert.Len(t, f.DistinctUsers(8, 1), 8)
	assert.Empty(t, f.DistinctUsers(8, 0))
}

func TestSeeder_RunAndClear(t *testing.T) {
	db := testkit.NewSQLiteDB(t)
	store := repository.NewStore(db)
	rec := &events.Recorder{}
	svc := service.NewCommentService(store, guard.NewMemoryGuard(), guard.NewMemoryDeduper(),
		moderation.NewEngine(moderation.DefaultThresholds(), nil, nil), events.NewEmitter(rec),
		service.Config{MaxDepth: 2, LikeRateMax: 1000, ReportRateMax: 1000})

	s := NewSeeder(db, svc, Options{Posts: 2, Users: 6, RootsPerPost: 3, MaxReplies: 4, LikeRatio: 0.5, ReportRatio: 1, Seed: 1})
	ctx := context.Background()

	sum, err := s.Run(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sum.Comments, 6)
	assert.Equal(t, sum.Comments-6, sum.Replies)
	assert.Positive(t, sum.Reports)

	var comments []models.Comment
	require.NoError(t, db.Find(&comments).Error)
	assert.Len(t, comments, sum.Comments)
	for _, c := range comments {
		assert.LessOrEqual(t, c.Depth, 2)
	}

	var likes int64
	require.NoError(t, db.Model(&models.CommentLike{}).Count(&likes).Error)
	assert.Equal(t, int64(sum.Likes), likes)
	assert.NotEmpty(t, rec.Events())

	require.NoError(t, s.ClearAll(ctx))
	var left int64
	require.NoError(t, db.Model(&models.Comment{}).Count(&left).Error)
	assert.Zero(t, left)
}
