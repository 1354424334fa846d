package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"threadline/internal/models"
	"threadline/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLikeRepository(t *testing.T) {
	store := NewStore(testkit.NewSQLiteDB(t))
	ctx := context.Background()

	require.NoError(t, store.Likes.Create(ctx, &models.CommentLike{CommentID: 1, UserID: 2}))
	assert.ErrorIs(t, store.Likes.Create(ctx, &models.CommentLike{CommentID: 1, UserID: 2}), ErrAlreadyLiked)

	ok, err := store.Likes.Exists(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Likes.Delete(ctx, 1, 2))
	assert.ErrorIs(t, store.Likes.Delete(ctx, 1, 2), ErrNotLiked)

	require.NoError(t, store.Likes.Create(ctx, &models.CommentLike{CommentID: 1, UserID: 3}))
	require.NoError(t, store.Likes.DeleteByComment(ctx, 1))
	ok, _ = store.Likes.Exists(ctx, 1, 3)
	assert.False(t, ok)
}

func TestReportRepository(t *testing.T) {
	store := NewStore(testkit.NewSQLiteDB(t))
	ctx := context.Background()
	since := time.Now().Add(-time.Hour)

	require.NoError(t, store.Reports.Create(ctx, &models.CommentReport{CommentID: 1, ReporterID: 2, Reason: models.ReasonSpam}))
	require.NoError(t, store.Reports.Create(ctx, &models.CommentReport{CommentID: 1, ReporterID: 2, Reason: models.ReasonSpam, IsDuplicate: true}))
	require.NoError(t, store.Reports.Create(ctx, &models.CommentReport{CommentID: 3, ReporterID: 4, Reason: models.ReasonHarassment}))

	n, err := store.Reports.CountRecent(ctx, 1, 2, since)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	open, err := store.Reports.ListOpen(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	resolved, err := store.Reports.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), resolved)

	open, err = store.Reports.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, uint(3), open[0].CommentID)
}

func TestNotificationRepository(t *testing.T) {
	store := NewStore(testkit.NewSQLiteDB(t))
	ctx := context.Background()

	id, err := store.Notifications.Persist(ctx, &models.Notification{UserID: 5, EventID: "evt-1", Kind: "comment.liked", CommentID: 1, PostID: 1, Payload: "{}"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	again, err := store.Notifications.Persist(ctx, &models.Notification{UserID: 5, EventID: "evt-1", Kind: "comment.liked", CommentID: 1, PostID: 1, Payload: "{}"})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	_, err = store.Notifications.Persist(ctx, &models.Notification{UserID: 5, EventID: "evt-2", Kind: "comment.moderated", CommentID: 1, PostID: 1, Payload: "{}"})
	require.NoError(t, err)

	unread, err := store.Notifications.ListUnread(ctx, 5, 0)
	require.NoError(t, err)
	assert.Len(t, unread, 2)

	require.NoError(t, store.Notifications.MarkRead(ctx, 5, id))
	assert.True(t, models.IsNotFound(store.Notifications.MarkRead(ctx, 6, id)))

	n, err := store.Notifications.MarkAllRead(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	unread, err = store.Notifications.ListUnread(ctx, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestStore_TransactionRollsBack(t *testing.T) {
	store := NewStore(testkit.NewSQLiteDB(t))
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Transaction(ctx, func(tx *Store) error {
		if err := tx.Likes.Create(ctx, &models.CommentLike{CommentID: 1, UserID: 1}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	ok, err := store.Likes.Exists(ctx, 1, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}
