package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"threadline/internal/events"
	"threadline/internal/guard"
	"threadline/internal/models"
	"threadline/internal/repository"
	"threadline/internal/testkit"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	group string
	msg   Message
}

type transportStub struct {
	mu       sync.Mutex
	sent     []sentMessage
	failures int32
}

func (s *transportStub) JoinGroup(context.Context, string, uint) error  { return nil }
func (s *transportStub) LeaveGroup(context.Context, string, uint) error { return nil }

func (s *transportStub) SendToGroup(_ context.Context, group string, message []byte) error {
	if atomic.AddInt32(&s.failures, -1) >= 0 {
		return errors.New("transport unavailable")
	}
	var m Message
	if err := json.Unmarshal(message, &m); err != nil {
		return err
	}
	s.mu.Lock()
	s.sent = append(s.sent, sentMessage{group: group, msg: m})
	s.mu.Unlock()
	return nil
}

func (s *transportStub) Sent() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type storeStub struct {
	mu        sync.Mutex
	persisted map[uint][]Payload
	err       error
}

func (s *storeStub) Persist(_ context.Context, recipientID uint, p Payload) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persisted == nil {
		s.persisted = make(map[uint][]Payload)
	}
	s.persisted[recipientID] = append(s.persisted[recipientID], p)
	return p.EventID, nil
}

func (s *storeStub) For(userID uint) []Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Payload(nil), s.persisted[userID]...)
}

type auditStub struct {
	count atomic.Int32
	err   error
}

func (a *auditStub) Record(context.Context, events.Event) error {
	a.count.Add(1)
	return a.err
}

func testComment() *models.Comment {
	return &models.Comment{ID: 10, PostID: 3, UserID: 100, Status: models.StatusPublished, LikeCount: 1, Version: 1}
}

func newTestDispatcher(tr Transport, st Store, audit AuditSink) *Dispatcher {
	return NewDispatcher(DispatcherConfig{
		QueueSize:     16,
		Workers:       2,
		BatchSize:     4,
		FlushInterval: 10 * time.Millisecond,
		MaxRetries:    3,
		RetryInterval: time.Millisecond,
	}, RecipientPolicy{Moderators: []uint{900, 901}}, tr, st, audit, guard.NewMemoryDeduper())
}

func TestRecipientPolicy(t *testing.T) {
	p := RecipientPolicy{Moderators: []uint{900, 901}}
	c := testComment()

	users, alert := p.Recipients(events.NewLiked(c, 200, false))
	assert.Equal(t, []uint{100}, users)
	assert.False(t, alert)

	users, _ = p.Recipients(events.NewLiked(c, 100, false))
	assert.Empty(t, users, "self-like")

	hidden := *c
	hidden.Status = models.StatusHidden
	users, alert = p.Recipients(events.NewModerated(events.ModeratedInput{Comment: &hidden, PreviousStatus: models.StatusPublished, ModeratorID: 900}))
	assert.Equal(t, []uint{100, 901}, users, "acting moderator excluded")
	assert.True(t, alert)

	users, alert = p.Recipients(events.NewModerated(events.ModeratedInput{Comment: c, PreviousStatus: models.StatusPending, ModeratorID: 900}))
	assert.Empty(t, users)
	assert.False(t, alert)

	users, alert = p.Recipients(events.NewDeleted(events.DeletedInput{Comment: c, DeleterID: 100, Soft: true, Children: []uint{11, 12}, ChildAuthorIDs: []uint{201, 100}}))
	assert.Equal(t, []uint{201, 900, 901}, users)
	assert.True(t, alert)

	users, _ = p.Recipients(events.NewDeleted(events.DeletedInput{Comment: c, DeleterID: 100}))
	assert.Empty(t, users)

	reported := *c
	reported.ReportCount = 5
	users, alert = p.Recipients(events.NewReported(&reported, &models.CommentReport{ReporterID: 300, Reason: models.ReasonSpam}, false))
	assert.Equal(t, []uint{900, 901}, users)
	assert.True(t, alert)

	reported.ReportCount = 1
	users, _ = p.Recipients(events.NewReported(&reported, &models.CommentReport{ReporterID: 300, Reason: models.ReasonOther}, false))
	assert.Empty(t, users)
}

func TestDispatcher_DeliversRealtimeAndDurable(t *testing.T) {
	tr := &transportStub{}
	st := &storeStub{}
	audit := &auditStub{}
	d := newTestDispatcher(tr, st, audit)
	require.NoError(t, d.Start(context.Background()))

	ev := events.NewLiked(testComment(), 200, false)
	require.True(t, d.Publish(ev))

	assert.Eventually(t, func() bool { return len(st.For(100)) == 1 }, testEventuallyTimeout, testPollInterval)
	require.NoError(t, d.Stop(context.Background()))

	personal := sentTo(tr, UserGroup(100))
	require.Len(t, personal, 1)
	assert.Equal(t, uint(100), personal[0].msg.RecipientID)
	assert.Equal(t, string(events.KindLiked), personal[0].msg.Type)

	thread := sentTo(tr, ThreadGroup(3))
	require.Len(t, thread, 1)
	assert.Zero(t, thread[0].msg.RecipientID)
	var update ThreadUpdate
	require.NoError(t, json.Unmarshal(thread[0].msg.Payload, &update))
	assert.Equal(t, ThreadUpdate{CommentID: 10, PostID: 3, Status: models.StatusPublished, LikeCount: 1}, update)

	assert.Equal(t, ev.ID(), st.For(100)[0].EventID)
	assert.Equal(t, int32(1), audit.count.Load())
}

func TestDispatcher_AtMostOncePerRecipient(t *testing.T) {
	tr := &transportStub{}
	st := &storeStub{}
	d := newTestDispatcher(tr, st, &auditStub{})

	ev := events.NewLiked(testComment(), 200, false)
	require.NoError(t, d.Deliver(context.Background(), ev))
	require.NoError(t, d.Deliver(context.Background(), ev))

	assert.Len(t, st.For(100), 1)
	assert.Len(t, sentTo(tr, UserGroup(100)), 1)
	assert.Len(t, sentTo(tr, ThreadGroup(3)), 1)
}

func TestDispatcher_RetriesTransientFailures(t *testing.T) {
	tr := &transportStub{failures: 2}
	st := &storeStub{}
	d := newTestDispatcher(tr, st, &auditStub{})

	require.NoError(t, d.Deliver(context.Background(), events.NewLiked(testComment(), 200, false)))
	assert.Len(t, tr.Sent(), 2)
	assert.Len(t, st.For(100), 1)
}

func TestDispatcher_FailuresAreReportedNotPanicked(t *testing.T) {
	tr := &transportStub{failures: 100}
	st := &storeStub{err: models.NewValidationError("bad payload")}
	audit := &auditStub{err: errors.New("audit down")}
	d := newTestDispatcher(tr, st, audit)

	err := d.Deliver(context.Background(), events.NewLiked(testComment(), 200, false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit")
	assert.Contains(t, err.Error(), "thread broadcast")
	assert.Contains(t, err.Error(), "realtime recipient 100")
	assert.Contains(t, err.Error(), "durable recipient 100")
}

func TestDispatcher_ModerationQueueAlert(t *testing.T) {
	tr := &transportStub{}
	st := &storeStub{}
	d := newTestDispatcher(tr, st, &auditStub{})

	c := testComment()
	c.ReportCount = 5
	ev := events.NewReported(c, &models.CommentReport{ID: 1, ReporterID: 300, Reason: models.ReasonSpam}, false)
	require.NoError(t, d.Deliver(context.Background(), ev))

	assert.Len(t, sentTo(tr, ModerationQueueGroup), 1)
	assert.Len(t, sentTo(tr, UserGroup(900)), 1)
	assert.Len(t, sentTo(tr, UserGroup(901)), 1)
	assert.Empty(t, sentTo(tr, ThreadGroup(3)), "reports are never broadcast")
	assert.Len(t, st.For(900), 1)
	assert.Len(t, st.For(901), 1)
	assert.Empty(t, st.For(100))
}

func TestDispatcher_PublishAfterStopAndBackpressure(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{QueueSize: 1}, RecipientPolicy{}, &transportStub{}, &storeStub{}, nil, guard.NewMemoryDeduper())

	ev := events.NewLiked(testComment(), 200, false)
	assert.True(t, d.Publish(ev))
	assert.False(t, d.Publish(ev), "queue full before Start")

	require.NoError(t, d.Stop(context.Background()))
	assert.False(t, d.Publish(ev))
	assert.ErrorIs(t, d.Start(context.Background()), ErrDispatcherStopped)
	assert.NoError(t, d.Stop(context.Background()))
}

func TestDispatcher_StopDrainsQueue(t *testing.T) {
	st := &storeStub{}
	d := NewDispatcher(DispatcherConfig{
		QueueSize:     64,
		Workers:       1,
		BatchSize:     100,
		FlushInterval: time.Hour,
		RetryInterval: time.Millisecond,
	}, RecipientPolicy{}, &transportStub{}, st, &auditStub{}, guard.NewMemoryDeduper())
	require.NoError(t, d.Start(context.Background()))

	for i := 0; i < 10; i++ {
		require.True(t, d.Publish(events.NewLiked(testComment(), uint(200+i), false)))
	}
	require.NoError(t, d.Stop(context.Background()))
	assert.Len(t, st.For(100), 10)
}

func TestGormStore_PersistAndInbox(t *testing.T) {
	store := NewGormStore(repository.NewNotificationRepository(testkit.NewSQLiteDB(t)))
	ctx := context.Background()

	id, err := store.Persist(ctx, 7, Payload{EventID: "e1", Kind: "comment.liked", CommentID: 1, PostID: 2, ActorID: 3, Body: []byte(`{"x":1}`)})
	require.NoError(t, err)

	again, err := store.Persist(ctx, 7, Payload{EventID: "e1", Kind: "comment.liked", CommentID: 1, PostID: 2, Body: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	unread, err := store.Unread(ctx, 7, 10)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, `{"x":1}`, unread[0].Payload)

	require.NoError(t, store.MarkRead(ctx, 7, id))
	n, err := store.MarkAllRead(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type publisherStub struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
}

func (p *publisherStub) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	p.exchange, p.key, p.msg = exchange, key, msg
	return p.err
}

func TestAMQPSink_Record(t *testing.T) {
	pub := &publisherStub{}
	sink := &AMQPSink{exchange: "comment_audit", ch: pub}

	ev := events.NewLiked(testComment(), 200, false)
	require.NoError(t, sink.Record(context.Background(), ev))

	assert.Equal(t, "comment_audit", pub.exchange)
	assert.Equal(t, string(events.KindLiked), pub.key)
	assert.Equal(t, ev.ID(), pub.msg.MessageId)
	assert.Equal(t, amqp.Persistent, pub.msg.DeliveryMode)

	var decoded events.Liked
	require.NoError(t, json.Unmarshal(pub.msg.Body, &decoded))
	assert.Equal(t, ev.EventID, decoded.EventID)
	assert.Equal(t, int64(1), decoded.NewLikeCount)
	assert.NoError(t, sink.Close())
}

func TestMultiSink_JoinsErrors(t *testing.T) {
	bad := &publisherStub{err: errors.New("channel closed")}
	sink := MultiSink{LogSink{}, &AMQPSink{exchange: "x", ch: bad}}

	err := sink.Record(context.Background(), events.NewLiked(testComment(), 200, false))
	assert.ErrorContains(t, err, "channel closed")
}

func TestDispatcher_PopularBroadcastOnce(t *testing.T) {
	tr := &transportStub{}
	st := &storeStub{}
	d := NewDispatcher(DispatcherConfig{MaxRetries: 1, RetryInterval: time.Millisecond},
		RecipientPolicy{PopularThreshold: 3}, tr, st, &auditStub{}, guard.NewMemoryDeduper())

	ctx := context.Background()
	c := testComment()
	c.LikeCount = 3
	require.NoError(t, d.Deliver(ctx, events.NewLiked(c, 200, false)))
	c.LikeCount = 2
	require.NoError(t, d.Deliver(ctx, events.NewLiked(c, 200, true)))
	c.LikeCount = 3
	require.NoError(t, d.Deliver(ctx, events.NewLiked(c, 200, false)))
	c.LikeCount = 4
	require.NoError(t, d.Deliver(ctx, events.NewLiked(c, 201, false)))

	var popular []sentMessage
	for _, s := range tr.Sent() {
		if s.msg.Type == string(events.KindPopular) {
			popular = append(popular, s)
		}
	}
	require.Len(t, popular, 1)
	assert.Equal(t, ThreadGroup(3), popular[0].group)
	assert.Zero(t, popular[0].msg.RecipientID)
	assert.Len(t, st.For(100), 3)
	assert.Len(t, sentTo(tr, ThreadGroup(3)), 5, "four like-count updates and one popular broadcast")
}

func sentTo(tr *transportStub, group string) []sentMessage {
	var out []sentMessage
	for _, s := range tr.Sent() {
		if s.group == group {
			out = append(out, s)
		}
	}
	return out
}

// hubTransport delivers straight to a local Hub.
type hubTransport struct{ *Hub }

func (hubTransport) JoinGroup(context.Context, string, uint) error  { return nil }
func (hubTransport) LeaveGroup(context.Context, string, uint) error { return nil }

func drain(c *Client) []Message {
	var out []Message
	for {
		select {
		case raw := <-c.Send:
			var m Message
			if err := json.Unmarshal(raw, &m); err == nil {
				out = append(out, m)
			}
		default:
			return out
		}
	}
}

func TestDispatcher_ReportDetailsReachModeratorsOnly(t *testing.T) {
	hub := NewHub()
	d := newTestDispatcher(hubTransport{hub}, &storeStub{}, &auditStub{})

	viewer, err := hub.Register(555, nil)
	require.NoError(t, err)
	hub.Subscribe(ThreadGroup(3), viewer)

	modThread, err := hub.Register(900, nil)
	require.NoError(t, err)
	hub.Subscribe(ThreadGroup(3), modThread)
	modQueue, err := hub.Register(900, nil)
	require.NoError(t, err)
	hub.Subscribe(ModerationQueueGroup, modQueue)

	c := testComment()
	c.ReportCount = 5
	ev := events.NewReported(c, &models.CommentReport{ID: 1, ReporterID: 42, Reason: models.ReasonSpam, Description: "secret complaint"}, false)
	require.NoError(t, d.Deliver(context.Background(), ev))

	assert.Empty(t, drain(viewer))

	onThread := drain(modThread)
	require.Len(t, onThread, 1)
	assert.Equal(t, uint(900), onThread[0].RecipientID)

	onQueue := drain(modQueue)
	require.Len(t, onQueue, 2)
	var recipients []uint
	for _, m := range onQueue {
		recipients = append(recipients, m.RecipientID)
	}
	assert.ElementsMatch(t, []uint{0, 900}, recipients)

	_ = hub.Shutdown(context.Background())
}

func TestDispatcher_ThreadBroadcastOncePerEvent(t *testing.T) {
	hub := NewHub()
	d := newTestDispatcher(hubTransport{hub}, &storeStub{}, &auditStub{})

	viewer, err := hub.Register(555, nil)
	require.NoError(t, err)
	hub.Subscribe(ThreadGroup(3), viewer)

	c := testComment()
	c.Status = models.StatusHidden
	ev := events.NewModerated(events.ModeratedInput{Comment: c, PreviousStatus: models.StatusPublished, ModeratorID: 900, Reason: "internal note"})
	require.NoError(t, d.Deliver(context.Background(), ev))
	require.NoError(t, d.Deliver(context.Background(), ev))

	got := drain(viewer)
	require.Len(t, got, 1)
	assert.Equal(t, string(events.KindModerated), got[0].Type)
	assert.NotContains(t, string(got[0].Payload), "internal note")

	same := events.NewModerated(events.ModeratedInput{Comment: c, PreviousStatus: models.StatusHidden, ModeratorID: 900})
	require.NoError(t, d.Deliver(context.Background(), same))
	assert.Empty(t, drain(viewer), "unchanged status is not broadcast")
}

func TestNewDispatcher_DefaultsDedupe(t *testing.T) {
	tr := &transportStub{}
	st := &storeStub{}
	d := NewDispatcher(DispatcherConfig{RetryInterval: time.Millisecond}, RecipientPolicy{}, tr, st, nil, nil)

	ev := events.NewLiked(testComment(), 200, false)
	require.NotPanics(t, func() {
		require.NoError(t, d.Deliver(context.Background(), ev))
		require.NoError(t, d.Deliver(context.Background(), ev))
	})
	assert.Len(t, st.For(100), 1)
}
