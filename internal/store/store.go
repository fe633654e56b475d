package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bookbridge/storefront-adapter/pkg/model"
)

// ErrPostgresUnavailable is returned by reads that need the audit database
// when the store was built without one.
var ErrPostgresUnavailable = errors.New("postgres unavailable")

// Store defines the contract for short-lived coordination state in Redis and
// the status-change audit trail in Postgres.
type Store interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) error
	TryLock(ctx context.Context, key string, ttl time.Duration) (Lock, bool, error)
	Unlock(ctx context.Context, l Lock) error
	GetVerification(ctx context.Context, reference string) (*model.VerificationResult, error)
	PutVerification(ctx context.Context, reference string, result model.VerificationResult, ttl time.Duration) error
	RecordStatusChange(ctx context.Context, change model.StatusChange) error
	ListStatusChanges(ctx context.Context, orderID model.ID) ([]model.StatusChange, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// Lock is a held Redis lock. Release only deletes the key while it still
// carries this holder's token.
type Lock struct {
	Key   string
	Token string
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ Store = (*HybridStore)(nil)

type HybridStore struct {
	redis  *redis.Client
	PG     *pgxpool.Pool
	logger *zap.Logger
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// RedisConfig addresses the coordination cache.
type RedisConfig struct {
	Addr     string
	DB       int
	Password string
}

// NewHybrid creates a Redis-first store with an optional Postgres audit trail.
func NewHybrid(rc RedisConfig, pgURL string, pgPoolConfig PGPoolConfig, logger *zap.Logger) (*HybridStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		DB:       rc.DB,
		Password: rc.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	var pgPool *pgxpool.Pool
	if pgURL != "" {
		cfg, err := pgxpool.ParseConfig(pgURL)
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		if pgPoolConfig.MaxConns > 0 {
			cfg.MaxConns = pgPoolConfig.MaxConns
		}
		if pgPoolConfig.MinConns > 0 {
			cfg.MinConns = pgPoolConfig.MinConns
		}
		if pgPoolConfig.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = pgPoolConfig.MaxConnLifetime
		}
		if pgPoolConfig.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = pgPoolConfig.MaxConnIdleTime
		}
		if pgPoolConfig.HealthCheckPeriod > 0 {
			cfg.HealthCheckPeriod = pgPoolConfig.HealthCheckPeriod
		}
		pgPool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	return &HybridStore{redis: rdb, PG: pgPool, logger: logger}, nil
}

// NewWithClient wraps an existing Redis client, without Postgres.
func NewWithClient(rdb *redis.Client, logger *zap.Logger) *HybridStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridStore{redis: rdb, logger: logger}
}

func (s *HybridStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

func (s *HybridStore) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// TryLock takes key for ttl if nobody holds it. ok is false when it is held.
func (s *HybridStore) TryLock(ctx context.Context, key string, ttl time.Duration) (Lock, bool, error) {
	token := uuid.NewString()
	ok, err := s.redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return Lock{}, false, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return Lock{}, false, nil
	}
	return Lock{Key: key, Token: token}, true, nil
}

// Unlock releases l if it is still held by this holder.
func (s *HybridStore) Unlock(ctx context.Context, l Lock) error {
	if l.Key == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, s.redis, []string{l.Key}, l.Token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Warn("store.redis.unlock_failed", zap.String("key", l.Key), zap.Error(err))
		return err
	}
	return nil
}

func verificationKey(reference string) string {
	return "storefront:verification:" + reference
}

// GetVerification returns the memoised outcome for a gateway reference, or nil.
func (s *HybridStore) GetVerification(ctx context.Context, reference string) (*model.VerificationResult, error) {
	var res model.VerificationResult
	err := s.GetJSON(ctx, verificationKey(reference), &res)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// PutVerification memoises a terminal outcome so repeated verifies are idempotent.
func (s *HybridStore) PutVerification(ctx context.Context, reference string, result model.VerificationResult, ttl time.Duration) error {
	return s.SetJSON(ctx, verificationKey(reference), result, ttl)
}

// RecordStatusChange inserts an immutable row into storefront.order_status_audit.
func (s *HybridStore) RecordStatusChange(ctx context.Context, change model.StatusChange) error {
	if s.PG == nil {
		return nil
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO storefront.order_status_audit (
			order_id, status, actor, accepted, message, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, change.OrderID.String(), string(change.Status), change.Actor, change.Accepted, change.Message, change.CreatedAt)
	if err != nil {
		s.logger.Error("store.pg.insert_status_change_failed", zap.Error(err))
	}
	return err
}

// ListStatusChanges returns the audit trail of an order, newest first.
func (s *HybridStore) ListStatusChanges(ctx context.Context, orderID model.ID) ([]model.StatusChange, error) {
	if s.PG == nil {
		return nil, ErrPostgresUnavailable
	}
	rows, err := s.PG.Query(ctx, `
		SELECT order_id, status, actor, accepted, message, recorded_at
		FROM storefront.order_status_audit
		WHERE order_id = $1
		ORDER BY recorded_at DESC;
	`, orderID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []model.StatusChange{}
	for rows.Next() {
		var (
			c       model.StatusChange
			id      string
			status  string
			message *string
		)
		if err := rows.Scan(&id, &status, &c.Actor, &c.Accepted, &message, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.OrderID = model.ID(id)
		c.Status = model.OrderStatus(status)
		if message != nil {
			c.Message = *message
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.PG != nil {
		if err := s.PG.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
