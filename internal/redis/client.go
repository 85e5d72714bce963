package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type ClientOptions struct {
	Addr     string
	Username string
	Password string
	// PoolSize bounds concurrent lock round trips; zero picks 10.
	PoolSize int
}

// NewRedisClient connects and pings once so a bad address fails at startup
// rather than on the first booking.
func NewRedisClient(ctx context.Context, opts ClientOptions) (*redis.Client, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address is empty")
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     opts.PoolSize,
		MinIdleConns: 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	return rdb, nil
}
