package redis

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// Key names for namespacing in Redis
const (
	keyHeader            = "distributor:ledger:header"
	keyClaimed           = "distributor:claimed"
	keyTransferred       = "distributor:transferred"
	keyEvents            = "distributor:events"
	keySchemaVersion     = "distributor:metadata:schema_version"
	currentSchemaVersion = "v1"

	defaultTimeout = 5 * time.Second
)

// RedisPersistence is an ILedgerPersistence on Redis, for deployments where the
// node's state must live outside the host. Updates are MULTI/EXEC transactions
// guarded by WATCH on the header key.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is prepended to every key so several ledgers can share one database,
	// e.g. "airdrop-1:" gives keys like "airdrop-1:distributor:ledger:header".
	KeyPrefix string
}

// NewRedisPersistence connects to Redis and validates the schema version.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if cfg.KeyPrefix != "" {
		logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)
	} else {
		logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB)
	}

	return rp, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisPersistence) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

// initSchema initializes or validates the schema version
func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	// SETNX so two nodes starting together agree on the value
	if err := r.client.SetNX(ctx, schemaKey, currentSchemaVersion, 0).Err(); err != nil {
		return fmt.Errorf("failed to write schema version: %w", err)
	}

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}
	return nil
}

func accountField(account common.Address) string {
	return strings.ToLower(account.Hex())
}

// ApplyUpdate commits the update with WATCH/MULTI/EXEC.
func (r *RedisPersistence) ApplyUpdate(update *persistence.LedgerUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}

	headerData, err := persistence.MarshalHeader(update.Header)
	if err != nil {
		return err
	}
	var eventData []byte
	if update.Event != nil {
		if eventData, err = persistence.MarshalEvent(update.Event); err != nil {
			return err
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	headerKey := r.prefixKey(keyHeader)
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := loadHeader(ctx, tx, headerKey)
		if err != nil {
			return err
		}
		if seq := persistence.CurrentSequence(current); seq != update.ExpectedSequence {
			return fmt.Errorf("%w: stored %d, expected %d", persistence.ErrSequenceMismatch, seq, update.ExpectedSequence)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, headerKey, headerData, 0)
			for account, amount := range update.ClaimedAmounts {
				pipe.HSet(ctx, r.prefixKey(keyClaimed), accountField(account), hexutil.EncodeBig(amount))
			}
			for account, amount := range update.Transferred {
				pipe.HSet(ctx, r.prefixKey(keyTransferred), accountField(account), hexutil.EncodeBig(amount))
			}
			if eventData != nil {
				pipe.ZAdd(ctx, r.prefixKey(keyEvents), redis.Z{
					Score:  float64(update.Event.Sequence),
					Member: string(eventData),
				})
			}
			return nil
		})
		return err
	}, headerKey)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: concurrent update committed first", persistence.ErrSequenceMismatch)
	}
	if err != nil {
		return fmt.Errorf("failed to apply ledger update %d: %w", update.Header.Sequence, err)
	}
	return nil
}

// stringGetter is satisfied by both *redis.Client and *redis.Tx
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func loadHeader(ctx context.Context, c stringGetter, key string) (*types.LedgerHeader, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return persistence.UnmarshalHeader(data)
}

// LoadHeader retrieves the ledger header
func (r *RedisPersistence) LoadHeader() (*types.LedgerHeader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	header, err := loadHeader(ctx, r.client, r.prefixKey(keyHeader))
	if err != nil {
		return nil, fmt.Errorf("failed to load LedgerHeader: %w", err)
	}
	return header, nil
}

// LoadClaimedAmount retrieves the claimed amount for account
func (r *RedisPersistence) LoadClaimedAmount(account common.Address) (*big.Int, error) {
	return r.loadAmount(keyClaimed, account)
}

// LoadTransferred retrieves the transferred total for account
func (r *RedisPersistence) LoadTransferred(account common.Address) (*big.Int, error) {
	return r.loadAmount(keyTransferred, account)
}

func (r *RedisPersistence) loadAmount(hashKey string, account common.Address) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	raw, err := r.client.HGet(ctx, r.prefixKey(hashKey), accountField(account)).Result()
	if errors.Is(err, redis.Nil) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s for %s: %w", hashKey, account.Hex(), err)
	}

	v, err := hexutil.DecodeBig(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount for %s: %w", account.Hex(), err)
	}
	return v, nil
}

// ListEvents reads the event sorted set by score range
func (r *RedisPersistence) ListEvents(fromSequence uint64, limit int) ([]*types.LedgerEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	rangeBy := &redis.ZRangeBy{
		Min: strconv.FormatUint(fromSequence, 10),
		Max: "+inf",
	}
	if limit > 0 {
		rangeBy.Count = int64(limit)
	}

	members, err := r.client.ZRangeByScore(ctx, r.prefixKey(keyEvents), rangeBy).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list LedgerEvents: %w", err)
	}

	events := make([]*types.LedgerEvent, 0, len(members))
	for _, member := range members {
		event, err := persistence.UnmarshalEvent([]byte(member))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal LedgerEvent, skipping", "error", err)
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Close shuts down the persistence layer
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	_, err := r.client.Get(ctx, r.prefixKey(keySchemaVersion)).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}
	return nil
}
