package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"

	"threadline/internal/observability"

	"github.com/redis/go-redis/v9"
)

const groupChannelPrefix = "group:"

// RedisTransport spreads group sends across nodes: presence lives in Redis
// hashes counting connections per user, and sends go out on pub/sub, where
// each node's subscriber hands them to its local Hub.
type RedisTransport struct {
	rdb *redis.Client
	hub *Hub
}

// NewRedisTransport returns a transport that delivers locally through hub.
func NewRedisTransport(rdb *redis.Client, hub *Hub) *RedisTransport {
	return &RedisTransport{rdb: rdb, hub: hub}
}

// GroupChannel is the pub/sub channel for groupKey.
func GroupChannel(groupKey string) string {
	return groupChannelPrefix + groupKey
}

func membersKey(groupKey string) string {
	return groupChannelPrefix + groupKey + ":members"
}

// leaveScript decrements one connection and drops the field at zero.
var leaveScript = redis.NewScript(`
local n = redis.call("HINCRBY", KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call("HDEL", KEYS[1], ARGV[1])
end
return n
`)

// JoinGroup implements Transport.
func (t *RedisTransport) JoinGroup(ctx context.Context, groupKey string, subscriberID uint) error {
	field := strconv.FormatUint(uint64(subscriberID), 10)
	if err := t.rdb.HIncrBy(ctx, membersKey(groupKey), field, 1).Err(); err != nil {
		return fmt.Errorf("join group %s: %w", groupKey, err)
	}
	return nil
}

// LeaveGroup implements Transport.
func (t *RedisTransport) LeaveGroup(ctx context.Context, groupKey string, subscriberID uint) error {
	field := strconv.FormatUint(uint64(subscriberID), 10)
	if err := leaveScript.Run(ctx, t.rdb, []string{membersKey(groupKey)}, field).Err(); err != nil {
		return fmt.Errorf("leave group %s: %w", groupKey, err)
	}
	return nil
}

// SendToGroup implements Transport.
func (t *RedisTransport) SendToGroup(ctx context.Context, groupKey string, message []byte) error {
	ctx, span := observability.TraceRedisOperation(ctx, "publish")
	defer span.End()
	return t.rdb.Publish(ctx, GroupChannel(groupKey), message).Err()
}

// Members returns the cluster-wide members of groupKey.
func (t *RedisTransport) Members(ctx context.Context, groupKey string) ([]uint, error) {
	raw, err := t.rdb.HGetAll(ctx, membersKey(groupKey)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]uint, 0, len(raw))
	for field, count := range raw {
		id, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			continue
		}
		if n, err := strconv.ParseInt(count, 10, 64); err != nil || n <= 0 {
			continue
		}
		out = append(out, uint(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Start subscribes to every group channel and forwards messages to the local
// Hub until ctx is cancelled. It returns once the subscription is confirmed.
func (t *RedisTransport) Start(ctx context.Context) error {
	sub := t.rdb.PSubscribe(ctx, groupChannelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe group channels: %w", err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				t.forward(ctx, msg)
			}
		}
	}()
	return nil
}

func (t *RedisTransport) forward(ctx context.Context, msg *redis.Message) {
	defer func() {
		if r := recover(); r != nil {
			observability.Logger.Error("panic in group subscriber",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	groupKey := strings.TrimPrefix(msg.Channel, groupChannelPrefix)
	if groupKey == msg.Channel || strings.HasSuffix(groupKey, ":members") {
		return
	}
	_ = t.hub.SendToGroup(ctx, groupKey, []byte(msg.Payload))
}
