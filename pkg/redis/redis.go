// Package redis connects to Redis with startup retries and a health check
// helper.
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrParseURL       = errors.New("redis: failed to parse connection URL")
	ErrOpenConnection = errors.New("redis: failed to open connection")
)

const (
	retryAttempts = 3
	retryInterval = 2 * time.Second
)

// Connect opens a Redis client and verifies it with a ping, retrying
// transient startup failures.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Join(ErrParseURL, err)
	}

	client := redis.NewClient(opts)
	for i := range retryAttempts {
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}

		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, errors.Join(ErrOpenConnection, ctx.Err())
		case <-time.After(time.Duration(i+1) * retryInterval):
		}
	}

	_ = client.Close()
	return nil, ErrOpenConnection
}

// Healthcheck returns a health probe bound to the client.
func Healthcheck(client *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
