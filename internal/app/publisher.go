package app

import (
	"context"
	"fmt"
	"time"

	"lyricsync/internal/output"
	"lyricsync/pkg/redis"
)

const (
	SnapshotKey     = "lyricsync:snapshot"
	SnapshotChannel = "lyricsync:snapshots"
)

// RedisPublisher mirrors the latest snapshot into redis for out-of-process
// consumers. The key expires after the staleness window, so a missing key
// means the engine stopped updating.
type RedisPublisher struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPublisher(client *redis.Client, staleness time.Duration) *RedisPublisher {
	return &RedisPublisher{client: client, ttl: staleness}
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Publish(ctx context.Context, s output.Snapshot) error {
	payload, err := s.Marshal()
	if err != nil {
		return err
	}
	if err := p.client.SetWithExpiration(ctx, SnapshotKey, payload, p.ttl); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	if err := p.client.Publish(ctx, SnapshotChannel, payload); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}
