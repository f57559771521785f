package rdx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func Connect(ctx context.Context, addr, password string) (*redis.Client, error) {
	conn := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return conn, nil
}

// SetNXGet sets key to value if it is absent and returns whichever value
// holds the key afterwards. won reports whether value was the one stored.
func SetNXGet(ctx context.Context, conn redis.Cmdable, key, value string, ttl time.Duration) (current string, won bool, err error) {
	won, err = conn.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("setnx %s: %w", key, err)
	}
	if won {
		return value, true, nil
	}
	current, err = conn.Get(ctx, key).Result()
	if err == redis.Nil {
		// expired between SETNX and GET; try once more
		won, err = conn.SetNX(ctx, key, value, ttl).Result()
		if err != nil {
			return "", false, fmt.Errorf("setnx %s: %w", key, err)
		}
		if won {
			return value, true, nil
		}
		current, err = conn.Get(ctx, key).Result()
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return current, false, nil
}
