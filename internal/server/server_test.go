package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"threadline/internal/config"
	"threadline/internal/events"
	"threadline/internal/guard"
	"threadline/internal/models"
	"threadline/internal/moderation"
	"threadline/internal/notifications"
	"threadline/internal/repository"
	"threadline/internal/service"
	"threadline/internal/testkit"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	srv   *Server
	store *repository.Store
	inbox *notifications.GormStore
	svc   *service.CommentService
	hub   *notifications.Hub
	mr    *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testkit.NewSQLiteDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := repository.NewStore(db)
	hub := notifications.NewHub()
	inbox := notifications.NewGormStore(store.Notifications)
	svc := service.NewCommentService(store, guard.NewMemoryGuard(), nil,
		moderation.NewEngine(moderation.DefaultThresholds(), nil, nil), events.NewEmitter(), service.Config{})

	srv, err := NewServer(&config.Config{Port: "0", ModeratorIDs: "900"}, Deps{
		DB:        db,
		Redis:     rdb,
		Hub:       hub,
		Transport: notifications.NewRedisTransport(rdb, hub),
		Inbox:     inbox,
		Comments:  svc,
	})
	require.NoError(t, err)
	return &testEnv{srv: srv, store: store, inbox: inbox, svc: svc, hub: hub, mr: mr}
}

func (e *testEnv) do(t *testing.T, method, path, user string) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if user != "" {
		req.Header.Set(UserIDHeader, user)
	}
	resp, err := e.srv.App().Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp, body
}

func TestHealthChecks(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(t, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"redis":"healthy"`)

	env.mr.SetError("redis down")
	resp, body = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), `"redis":"unhealthy"`)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/health/live", "")

	resp, body := env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "threadline")
}

func TestAPIRequiresUpstreamIdentity(t *testing.T) {
	env := newTestEnv(t)

	for _, user := range []string{"", "abc", "0"} {
		resp, _ := env.do(t, http.MethodGet, "/api/notifications", user)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "user %q", user)
	}
}

func TestNotificationInbox(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.inbox.Persist(ctx, 7, notifications.Payload{EventID: "e1", Kind: "comment.liked", CommentID: 1, PostID: 1, Body: []byte(`{}`)})
	require.NoError(t, err)
	_, err = env.inbox.Persist(ctx, 7, notifications.Payload{EventID: "e2", Kind: "comment.moderated", CommentID: 1, PostID: 1, Body: []byte(`{}`)})
	require.NoError(t, err)

	resp, body := env.do(t, http.MethodGet, "/api/notifications", "7")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var unread []models.Notification
	require.NoError(t, json.Unmarshal(body, &unread))
	assert.Len(t, unread, 2)

	resp, _ = env.do(t, http.MethodGet, "/api/notifications", "8")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/notifications/"+first+"/read", "8")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "other users cannot mark it")

	resp, _ = env.do(t, http.MethodPost, "/api/notifications/"+first+"/read", "7")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = env.do(t, http.MethodPost, "/api/notifications/read-all", "7")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"updated":1}`, string(body))
}

func TestReviewQueueRequiresModerator(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := &models.Comment{PostID: 1, UserID: 100, Content: "hello", Status: models.StatusPublished}
	require.NoError(t, env.store.Comments.Create(ctx, c))
	_, err := env.svc.Report(ctx, service.ReportInput{CommentID: c.ID, ReporterID: 5, Reason: models.ReasonHarassment})
	require.NoError(t, err)

	resp, _ := env.do(t, http.MethodGet, "/api/moderation/queue", "5")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := env.do(t, http.MethodGet, "/api/moderation/queue", "900")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var items []service.ReviewItem
	require.NoError(t, json.Unmarshal(body, &items))
	require.Len(t, items, 1)
	assert.Equal(t, c.ID, items[0].Comment.ID)
	assert.Equal(t, 5, items[0].Priority)
}

func TestWebsocketRoutesRequireUpgrade(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/ws/threads/1", "7")
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/ws/threads/1", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNewServer_InvalidModerators(t *testing.T) {
	_, err := NewServer(&config.Config{ModeratorIDs: "x"}, Deps{})
	assert.Error(t, err)
}

func TestSubscribe_SocketsKeepTheirOwnGroups(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	transport := env.srv.deps.Transport.(*notifications.RedisTransport)

	a, err := env.hub.Register(7, nil)
	require.NoError(t, err)
	b, err := env.hub.Register(7, nil)
	require.NoError(t, err)
	other, err := env.hub.Register(7, nil)
	require.NoError(t, err)

	leaveA, err := env.srv.subscribe(ctx, notifications.ThreadGroup(1), a)
	require.NoError(t, err)
	defer leaveA()
	leaveB, err := env.srv.subscribe(ctx, notifications.ThreadGroup(1), b)
	require.NoError(t, err)
	leaveOther, err := env.srv.subscribe(ctx, notifications.ThreadGroup(2), other)
	require.NoError(t, err)
	defer leaveOther()

	leaveB()
	members, err := transport.Members(ctx, notifications.ThreadGroup(1))
	require.NoError(t, err)
	assert.Equal(t, []uint{7}, members)

	require.NoError(t, env.hub.SendToGroup(ctx, notifications.ThreadGroup(1), []byte("one")))
	assert.Len(t, a.Send, 1)
	assert.Len(t, b.Send, 0)
	assert.Len(t, other.Send, 0)
}
