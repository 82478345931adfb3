package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures a Redis-backed store.
type RedisConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	Password     string        `json:"password" yaml:"password"`
	DB           int           `json:"db" yaml:"db"`
	KeyPrefix    string        `json:"key_prefix" yaml:"key_prefix"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// DefaultRedisConfig returns a localhost configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		KeyPrefix:    "agentloop:",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisStore persists checkpoints in Redis. A per-loop INCR sequence
// assigns monotonic checkpoint IDs; entries are never rewritten.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "agentloop:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With(zap.String("component", "redis_checkpoint_store")),
	}, nil
}

// NewRedisStoreWithClient wraps an existing client (used in tests).
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyPrefix == "" {
		keyPrefix = "agentloop:"
	}
	return &RedisStore{
		client: client,
		prefix: keyPrefix,
		logger: logger.With(zap.String("component", "redis_checkpoint_store")),
	}
}

func (s *RedisStore) seqKey(loopID string) string {
	return s.prefix + "ckpt:seq:" + loopID
}

func (s *RedisStore) dataKey(loopID string, id uint64) string {
	return fmt.Sprintf("%sckpt:%s:%d", s.prefix, loopID, id)
}

func (s *RedisStore) loopsKey() string {
	return s.prefix + "ckpt:loops"
}

func (s *RedisStore) Save(ctx context.Context, cp *Checkpoint) (uint64, error) {
	if cp == nil || cp.LoopID == "" {
		return 0, &WriteError{Err: fmt.Errorf("checkpoint has no loop id")}
	}

	next, err := s.client.Incr(ctx, s.seqKey(cp.LoopID)).Uint64()
	if err != nil {
		return 0, &WriteError{LoopID: cp.LoopID, Err: err}
	}

	stored := cloneCheckpoint(cp)
	stored.ID = next
	stored.CreatedAt = nowUTC()
	data, err := json.Marshal(stored)
	if err != nil {
		return 0, &WriteError{LoopID: cp.LoopID, Err: err}
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.dataKey(cp.LoopID, next), data, 0)
	pipe.SAdd(ctx, s.loopsKey(), cp.LoopID)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, &WriteError{LoopID: cp.LoopID, Err: err}
	}

	s.logger.Debug("checkpoint saved",
		zap.String("loop_id", cp.LoopID),
		zap.Uint64("checkpoint_id", next))
	return next, nil
}

func (s *RedisStore) Load(ctx context.Context, loopID string) (*Checkpoint, error) {
	last, err := s.client.Get(ctx, s.seqKey(loopID)).Uint64()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: loop %s", ErrNotFound, loopID)
	}
	if err != nil {
		return nil, err
	}
	return s.LoadAt(ctx, loopID, last)
}

func (s *RedisStore) LoadAt(ctx context.Context, loopID string, id uint64) (*Checkpoint, error) {
	data, err := s.client.Get(ctx, s.dataKey(loopID, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: loop %s checkpoint %d", ErrNotFound, loopID, id)
	}
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %d for loop %s: %w", id, loopID, err)
	}
	return &cp, nil
}

func (s *RedisStore) List(ctx context.Context, loopID string) ([]*Checkpoint, error) {
	last, err := s.client.Get(ctx, s.seqKey(loopID)).Uint64()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]*Checkpoint, 0, last)
	for id := uint64(1); id <= last; id++ {
		cp, err := s.LoadAt(ctx, loopID, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *RedisStore) Loops(ctx context.Context) ([]string, error) {
	loops, err := s.client.SMembers(ctx, s.loopsKey()).Result()
	if err != nil {
		return nil, err
	}
	return loops, nil
}

func (s *RedisStore) Delete(ctx context.Context, loopID string) error {
	last, err := s.client.Get(ctx, s.seqKey(loopID)).Uint64()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	keys := make([]string, 0, last+1)
	for id := uint64(1); id <= last; id++ {
		keys = append(keys, s.dataKey(loopID, id))
	}
	keys = append(keys, s.seqKey(loopID))

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.SRem(ctx, s.loopsKey(), loopID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
