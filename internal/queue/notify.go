package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Notifier wakes dispatcher workers when tasks are enqueued, so a claim miss
// does not devolve into tight polling. Notifications are advisory: losing one
// only delays work until the next poll tick.
type Notifier interface {
	Notify(ctx context.Context)
	Wait(ctx context.Context, timeout time.Duration)
	Close() error
}

// LocalNotifier is the in-process fallback used when Redis is not
// configured. A buffered channel of one coalesces bursts of notifications.
type LocalNotifier struct {
	signal chan struct{}
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{signal: make(chan struct{}, 1)}
}

func (n *LocalNotifier) Notify(_ context.Context) {
	select {
	case n.signal <- struct{}{}:
	default:
	}
}

func (n *LocalNotifier) Wait(ctx context.Context, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-n.signal:
	}
}

func (n *LocalNotifier) Close() error {
	return nil
}

type RedisNotifierConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisNotifier fans wake-ups out across processes via pub/sub, so an API
// instance enqueueing work wakes workers running elsewhere.
type RedisNotifier struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	channel string
}

func NewRedisNotifier(ctx context.Context, cfg RedisNotifierConfig) (*RedisNotifier, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Channel == "" {
		cfg.Channel = "docpare_tasks"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisNotifier{
		client:  client,
		pubsub:  client.Subscribe(ctx, cfg.Channel),
		channel: cfg.Channel,
	}, nil
}

func (n *RedisNotifier) Notify(ctx context.Context) {
	_ = n.client.Publish(ctx, n.channel, "wake").Err()
}

func (n *RedisNotifier) Wait(ctx context.Context, timeout time.Duration) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, _ = n.pubsub.ReceiveMessage(waitCtx)
}

func (n *RedisNotifier) Close() error {
	_ = n.pubsub.Close()
	return n.client.Close()
}
