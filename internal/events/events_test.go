package events

import (
	"context"
	"encoding/json"
	"testing"

	"threadline/internal/models"
	"threadline/internal/moderation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func comment(status models.CommentStatus) *models.Comment {
	parent := uint(3)
	return &models.Comment{
		ID:       10,
		PostID:   1,
		ParentID: &parent,
		UserID:   100,
		Content:  "hello",
		Depth:    1,
		Status:   status,
		Version:  2,
	}
}

func TestSnapshot_IsIndependentOfComment(t *testing.T) {
	c := comment(models.StatusPublished)
	c.LikeCount = 4
	ev := NewLiked(c, 200, false)

	c.LikeCount = 99
	c.Status = models.StatusHidden
	*c.ParentID = 77

	assert.Equal(t, int64(4), ev.Comment.LikeCount)
	assert.Equal(t, models.StatusPublished, ev.Comment.Status)
	assert.Equal(t, uint(3), *ev.Comment.ParentID)
	assert.NotEmpty(t, ev.ID())
	assert.Equal(t, KindLiked, ev.Kind())
}

func TestLiked_ShouldNotifyAuthor(t *testing.T) {
	c := comment(models.StatusPublished)

	assert.True(t, NewLiked(c, 200, false).ShouldNotifyAuthor())
	assert.False(t, NewLiked(c, 100, false).ShouldNotifyAuthor(), "self-like")
	assert.False(t, NewLiked(c, 200, true).ShouldNotifyAuthor(), "unlike")
}

func TestLiked_IsPopularComment(t *testing.T) {
	c := comment(models.StatusPublished)
	c.LikeCount = 10

	assert.True(t, NewLiked(c, 200, false).IsPopularComment(0))
	assert.False(t, NewLiked(c, 200, false).IsPopularComment(11))
	assert.False(t, NewLiked(c, 200, true).IsPopularComment(0))

	c.LikeCount = 9
	assert.False(t, NewLiked(c, 200, false).IsPopularComment(DefaultPopularThreshold))
}

func TestModerated_ShouldNotifyAuthor(t *testing.T) {
	tests := []struct {
		next models.CommentStatus
		want bool
	}{
		{models.StatusHidden, true},
		{models.StatusSpam, true},
		{models.StatusPublished, false},
		{models.StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.next), func(t *testing.T) {
			ev := NewModerated(ModeratedInput{Comment: comment(tt.next), PreviousStatus: models.StatusPublished, ModeratorID: 5})
			assert.Equal(t, tt.want, ev.ShouldNotifyAuthor())
		})
	}
}

// Approve is listed among the restorative actions, so a pending comment that a
// moderator approves yields a restorative event that does not notify the author.
func TestModerated_ApprovePendingComment(t *testing.T) {
	c := comment(models.StatusPublished)
	ev := NewModerated(ModeratedInput{Comment: c, PreviousStatus: models.StatusPending, ModeratorID: 5, ModeratorRole: "moderator"})

	assert.Equal(t, moderation.ActionApprove, ev.Action)
	assert.True(t, ev.IsRestorative())
	assert.False(t, ev.IsPunitive())
	assert.False(t, ev.ShouldNotifyAuthor())
	assert.True(t, ev.StatusChanged())
}

func TestModerated_SameStatusStillProducesEvent(t *testing.T) {
	c := comment(models.StatusHidden)
	ev := NewModerated(ModeratedInput{Comment: c, PreviousStatus: models.StatusHidden, Automated: true, Triggers: []string{"report_count_hide"}})

	assert.False(t, ev.StatusChanged())
	assert.Equal(t, moderation.ActionReview, ev.Action)
	assert.True(t, ev.IsAutomated)
	assert.Equal(t, []string{"report_count_hide"}, ev.Triggers)
}

func TestModerated_DeleteActionOverride(t *testing.T) {
	c := comment(models.StatusPublished)
	ev := NewModerated(ModeratedInput{Comment: c, PreviousStatus: models.StatusPublished, ModeratorID: 5, Action: moderation.ActionDelete})

	assert.Equal(t, moderation.ActionDelete, ev.Action)
	assert.True(t, ev.IsPunitive())
}

func TestClassifyDeletion(t *testing.T) {
	tests := []struct {
		name    string
		deleter uint
		ctx     DeleteContext
		want    DeletionType
	}{
		{"author", 100, ContextUser, AuthorDelete},
		{"author via admin surface", 100, ContextAdmin, AuthorDelete},
		{"system", 0, ContextBatch, SystemDelete},
		{"admin", 9, ContextAdmin, AdminDelete},
		{"moderator", 9, ContextModerator, ModeratorDelete},
		{"batch", 9, ContextBatch, BatchDelete},
		{"unknown surface", 9, ContextUser, ModeratorDelete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyDeletion(tt.deleter, 100, tt.ctx))
		})
	}
}

func TestDeleted_ChildrenRoundTrip(t *testing.T) {
	children := []uint{11, 12, 13}
	ev := NewDeleted(DeletedInput{
		Comment:        comment(models.StatusPublished),
		DeleterID:      100,
		Context:        ContextUser,
		Soft:           true,
		Children:       children,
		ChildAuthorIDs: []uint{201, 202},
	})

	children[0] = 999
	ids := ev.AffectedChildrenIDs()
	assert.Equal(t, []uint{11, 12, 13}, ids)
	assert.Equal(t, ev.ChildrenCount, len(ids))

	ids[1] = 0
	assert.Equal(t, []uint{11, 12, 13}, ev.AffectedChildrenIDs())
	assert.Equal(t, []uint{201, 202}, ev.AffectedAuthorIDs())
	assert.True(t, ev.ShouldNotifyUsers())
	assert.True(t, ev.IsSoftDelete)
	assert.Equal(t, AuthorDelete, ev.DeletionType)
}

func TestDeleted_ShouldNotifyUsers(t *testing.T) {
	c := comment(models.StatusPublished)
	assert.True(t, NewDeleted(DeletedInput{Comment: c, DeleterID: 9, Context: ContextAdmin}).ShouldNotifyUsers())
	assert.False(t, NewDeleted(DeletedInput{Comment: c, DeleterID: 100}).ShouldNotifyUsers())
	assert.False(t, NewDeleted(DeletedInput{Comment: c, DeleterID: 9, Context: ContextModerator}).ShouldNotifyUsers())
}

func TestDeleted_MarshalJSON(t *testing.T) {
	ev := NewDeleted(DeletedInput{Comment: comment(models.StatusPublished), DeleterID: 9, Context: ContextAdmin, Children: []uint{4}})
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "admin", out["deletion_type"])
	assert.Equal(t, float64(1), out["children_count"])
	assert.Equal(t, []any{float64(4)}, out["affected_children_ids"])
	assert.Equal(t, ev.EventID, out["event_id"])
}

func TestGetPriority(t *testing.T) {
	want := map[models.ReportReason]int{
		models.ReasonHateSpeech:           5,
		models.ReasonHarassment:           5,
		models.ReasonInappropriateContent: 4,
		models.ReasonMisinformation:       3,
		models.ReasonCopyrightViolation:   3,
		models.ReasonSpam:                 2,
		models.ReasonOther:                1,
	}
	require.Len(t, want, len(models.ReportReasons))
	for _, r := range models.ReportReasons {
		p, ok := want[r]
		require.True(t, ok, "reason %s has no expected priority", r)
		assert.Equal(t, p, GetPriority(r), string(r))
	}
}

func TestReported_FiveSpamReportsRequireReview(t *testing.T) {
	c := comment(models.StatusPublished)
	var last Reported
	for i := 1; i <= 5; i++ {
		c.ReportCount = int64(i)
		last = NewReported(c, &models.CommentReport{ID: uint(i), ReporterID: uint(500 + i), Reason: models.ReasonSpam}, false)
		if i < 5 {
			assert.False(t, last.RequiresImmediateReview(), "report %d", i)
		}
	}
	assert.True(t, last.RequiresImmediateReview())
	assert.Equal(t, int64(5), last.NewReportCount)
	assert.Equal(t, 2, last.Priority())
}

func TestReported_SevereReasonsAlwaysRequireReview(t *testing.T) {
	c := comment(models.StatusPublished)
	c.ReportCount = 1
	for _, r := range []models.ReportReason{models.ReasonHateSpeech, models.ReasonHarassment} {
		ev := NewReported(c, &models.CommentReport{ReporterID: 2, Reason: r}, false)
		assert.True(t, ev.RequiresImmediateReviewAt(100))
	}
	ev := NewReported(c, &models.CommentReport{ReporterID: 2, Reason: models.ReasonMisinformation}, false)
	assert.False(t, ev.RequiresImmediateReviewAt(2))
}

func TestReported_DuplicateFlagCarried(t *testing.T) {
	c := comment(models.StatusPublished)
	c.ReportCount = 1
	ev := NewReported(c, &models.CommentReport{ReporterID: 2, Reason: models.ReasonOther, IsDuplicate: true}, false)
	assert.True(t, ev.IsDuplicateReport)
	assert.Equal(t, int64(1), ev.NewReportCount)
	assert.Equal(t, uint(2), ev.Actor())
}

type rejectingSink struct{}

func (rejectingSink) Publish(Event) bool { return false }

func TestEmitter_DeliversToAllSinks(t *testing.T) {
	rec := &Recorder{}
	em := NewEmitter(rejectingSink{}, rec)

	ev := NewLiked(comment(models.StatusPublished), 2, false)
	em.Emit(context.Background(), ev)

	got := rec.Events()
	require.Len(t, got, 1)
	assert.Equal(t, ev.ID(), got[0].ID())

	rec.Reset()
	assert.Empty(t, rec.Events())

	var nilEmitter *Emitter
	assert.NotPanics(t, func() { nilEmitter.Emit(context.Background(), ev) })
}
