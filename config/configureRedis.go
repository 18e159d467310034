package config

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// InitRedisServer connects to addr and pings it.
func InitRedisServer(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}
