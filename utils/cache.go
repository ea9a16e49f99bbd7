package utils

import (
	"context"
	"fmt"
	"time"

	"psychology/config"

	"github.com/go-redis/redis/v8"
)

var (
	// AlertCacheClient backs the shared alert throttle.
	AlertCacheClient *redis.Client
)

// NewRedisClient connects to the configured Redis on the given DB and pings it.
func NewRedisClient(ctx context.Context, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis (db %d): %w", db, err)
	}
	return client, nil
}

// GetAlertCacheClient lazily connects the alert throttle client.
func GetAlertCacheClient(ctx context.Context) (*redis.Client, error) {
	if AlertCacheClient != nil {
		return AlertCacheClient, nil
	}
	client, err := NewRedisClient(ctx, config.AppConfig.RedisAlertDB)
	if err != nil {
		return nil, err
	}
	AlertCacheClient = client
	return client, nil
}
