package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lyricsync/pkg/redis"
)

// MirrorKey is where out-of-process pollers read the credential.
const MirrorKey = "lyricsync:credential"

// Mirror is a write-through copy of the credential for other processes.
// Entries expire with the access token, so a reader never sees a token
// older than its own lifetime.
type Mirror interface {
	Save(ctx context.Context, c Credential, ttl time.Duration) error
	Load(ctx context.Context) (*Credential, error)
	Delete(ctx context.Context) error
}

// NopMirror 不做镜像
type NopMirror struct{}

func (NopMirror) Save(context.Context, Credential, time.Duration) error { return nil }
func (NopMirror) Load(context.Context) (*Credential, error)            { return nil, nil }
func (NopMirror) Delete(context.Context) error                         { return nil }

// RedisMirror mirrors the credential into redis.
type RedisMirror struct {
	client *redis.Client
	key    string
}

func NewRedisMirror(client *redis.Client) *RedisMirror {
	return &RedisMirror{client: client, key: MirrorKey}
}

func (m *RedisMirror) Save(ctx context.Context, c Credential, ttl time.Duration) error {
	if ttl <= 0 {
		return m.Delete(ctx)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return m.client.SetWithExpiration(ctx, m.key, data, ttl)
}

func (m *RedisMirror) Load(ctx context.Context) (*Credential, error) {
	data, err := m.client.GetBytes(ctx, m.key)
	if err != nil || data == nil {
		return nil, err
	}
	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode mirrored credential: %w", err)
	}
	return &c, nil
}

func (m *RedisMirror) Delete(ctx context.Context) error {
	_, err := m.client.Del(ctx, m.key)
	return err
}
