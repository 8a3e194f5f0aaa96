package provision

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	signalKeyPrefix = "provision:signal:"

	// signalTTL bounds how long an abandoned flag can linger after a tab
	// is closed mid-provisioning.
	signalTTL = 30 * time.Minute
)

// RedisSignals stores provisioning flags in Redis so resolver and
// provisioner need not share a process.
type RedisSignals struct {
	client *redis.Client
}

// NewRedisSignals creates a Redis-backed signal store.
func NewRedisSignals(client *redis.Client) *RedisSignals {
	return &RedisSignals{client: client}
}

func (s *RedisSignals) Put(ctx context.Context, flowID string, f Flags) error {
	key := signalKeyPrefix + flowID
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "in_flight", boolField(f.InFlight), "just_completed", boolField(f.JustCompleted))
	pipe.Expire(ctx, key, signalTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisSignals) Get(ctx context.Context, flowID string) (Flags, error) {
	fields, err := s.client.HGetAll(ctx, signalKeyPrefix+flowID).Result()
	if err != nil {
		return Flags{}, err
	}
	return Flags{
		InFlight:      fields["in_flight"] == "1",
		JustCompleted: fields["just_completed"] == "1",
	}, nil
}

func (s *RedisSignals) Clear(ctx context.Context, flowID string) error {
	return s.client.Del(ctx, signalKeyPrefix+flowID).Err()
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
