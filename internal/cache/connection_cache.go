package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"memoryvault/internal/model"
)

// ConnectionCache keeps active connection rows in redis so the bot does not
// hit MySQL for every inbound message. Only positive entries are cached;
// connect and disconnect invalidate the key.
type ConnectionCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewConnectionCache(client *redisv9.Client, ttl time.Duration) *ConnectionCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ConnectionCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *ConnectionCache) Get(ctx context.Context, telegramUserID int64) (*model.TelegramConnection, bool, error) {
	raw, err := c.client.Get(ctx, c.key(telegramUserID)).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get connection failed: %w", err)
	}

	var conn model.TelegramConnection
	if err := json.Unmarshal([]byte(raw), &conn); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached connection failed: %w", err)
	}
	return &conn, true, nil
}

func (c *ConnectionCache) Set(ctx context.Context, conn *model.TelegramConnection) error {
	payload, err := json.Marshal(conn)
	if err != nil {
		return fmt.Errorf("marshal connection cache failed: %w", err)
	}
	if err := c.client.Set(ctx, c.key(conn.TelegramUserID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set connection failed: %w", err)
	}
	return nil
}

func (c *ConnectionCache) Delete(ctx context.Context, telegramUserID int64) error {
	if err := c.client.Del(ctx, c.key(telegramUserID)).Err(); err != nil {
		return fmt.Errorf("redis delete connection failed: %w", err)
	}
	return nil
}

func (c *ConnectionCache) key(telegramUserID int64) string {
	return fmt.Sprintf("telegram:connection:%d", telegramUserID)
}
