package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hoopvision/overfit/config"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient dials cfg and pings it once.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, errors.New("redis host is empty")
	}

	port := cfg.Port
	if port == 0 {
		port = 6379
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed (host=%s port=%d db=%d): %w", host, port, cfg.DB, err)
	}
	return client, nil
}

// RedisSink adds every record to a Redis stream. Entries carry the epoch,
// the validation accuracy and the full record as JSON.
type RedisSink struct {
	client     redis.Cmdable
	stream     string
	experiment string
}

func NewRedisSink(client redis.Cmdable, stream, experiment string) *RedisSink {
	if stream == "" {
		stream = "overfit:history"
	}
	return &RedisSink{client: client, stream: stream, experiment: experiment}
}

func (s *RedisSink) Stream() string {
	return s.stream
}

func (s *RedisSink) Append(ctx context.Context, rec Record) error {
	if s.client == nil {
		return errors.New("redis client is nil")
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal history record failed: %w", err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"experiment": s.experiment,
			"epoch":      rec.Epoch,
			"val_acc":    rec.ValAcc,
			"record":     string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd %s failed: %w", s.stream, err)
	}
	return nil
}
