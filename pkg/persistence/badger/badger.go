package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// Key prefixes for namespacing
const (
	keyHeader             = "ledger:header"
	keyPrefixClaimed      = "claimed:"
	keyPrefixTransferred  = "transferred:"
	keyPrefixEvent        = "event:"
	keySchemaVersion      = "metadata:schema_version"
	currentSchemaVersion  = "v1"
	defaultGCInterval     = 5 * time.Minute
	defaultGCDiscardRatio = 0.5
)

// BadgerPersistence is a durable ILedgerPersistence on a local Badger database.
// Every ledger update is one Badger transaction.
type BadgerPersistence struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// NewBadgerPersistence opens (or creates) the ledger database at dataPath.
// SyncWrites is enabled so a committed update survives a crash.
// A background goroutine is started for value log garbage collection.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bp := &BadgerPersistence{
		db:     db,
		logger: logger,
	}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go bp.runGC(ctx)

	logger.Sugar().Infow("Badger persistence initialized", "path", absPath)

	return bp, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}
		return nil
	})
}

func (b *BadgerPersistence) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(defaultGCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(defaultGCDiscardRatio)
			if err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func accountKey(prefix string, account common.Address) []byte {
	return []byte(prefix + strings.ToLower(account.Hex()))
}

// eventKey sorts lexicographically in sequence order
func eventKey(seq uint64) []byte {
	key := make([]byte, len(keyPrefixEvent)+8)
	copy(key, keyPrefixEvent)
	binary.BigEndian.PutUint64(key[len(keyPrefixEvent):], seq)
	return key
}

// ApplyUpdate writes the update in one transaction after checking the stored sequence.
func (b *BadgerPersistence) ApplyUpdate(update *persistence.LedgerUpdate) error {
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

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	err = b.db.Update(func(txn *badgerdb.Txn) error {
		current, err := readHeader(txn)
		if err != nil {
			return err
		}
		if seq := persistence.CurrentSequence(current); seq != update.ExpectedSequence {
			return fmt.Errorf("%w: stored %d, expected %d", persistence.ErrSequenceMismatch, seq, update.ExpectedSequence)
		}

		if err := txn.Set([]byte(keyHeader), headerData); err != nil {
			return err
		}
		for account, amount := range update.ClaimedAmounts {
			if err := setAmount(txn, accountKey(keyPrefixClaimed, account), amount); err != nil {
				return err
			}
		}
		for account, amount := range update.Transferred {
			if err := setAmount(txn, accountKey(keyPrefixTransferred, account), amount); err != nil {
				return err
			}
		}
		if eventData != nil {
			if err := txn.Set(eventKey(update.Event.Sequence), eventData); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badgerdb.ErrConflict) {
		return fmt.Errorf("%w: concurrent update committed first", persistence.ErrSequenceMismatch)
	}
	if err != nil {
		return fmt.Errorf("failed to apply ledger update %d: %w", update.Header.Sequence, err)
	}
	return nil
}

func setAmount(txn *badgerdb.Txn, key []byte, amount *big.Int) error {
	data, err := persistence.EncodeAmount(amount)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func readHeader(txn *badgerdb.Txn) (*types.LedgerHeader, error) {
	data, err := readValue(txn, []byte(keyHeader))
	if err != nil || data == nil {
		return nil, err
	}
	return persistence.UnmarshalHeader(data)
}

// readValue returns a copy of the value at key, or nil if it does not exist
func readValue(txn *badgerdb.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// LoadHeader retrieves the ledger header
func (b *BadgerPersistence) LoadHeader() (*types.LedgerHeader, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	var header *types.LedgerHeader
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		header, err = readHeader(txn)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load LedgerHeader: %w", err)
	}
	return header, nil
}

// LoadClaimedAmount retrieves the claimed amount for account
func (b *BadgerPersistence) LoadClaimedAmount(account common.Address) (*big.Int, error) {
	return b.loadAmount(accountKey(keyPrefixClaimed, account))
}

// LoadTransferred retrieves the transferred total for account
func (b *BadgerPersistence) LoadTransferred(account common.Address) (*big.Int, error) {
	return b.loadAmount(accountKey(keyPrefixTransferred, account))
}

func (b *BadgerPersistence) loadAmount(key []byte) (*big.Int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		data, err = readValue(txn, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load amount %s: %w", string(key), err)
	}
	if data == nil {
		return new(big.Int), nil
	}
	return persistence.DecodeAmount(data)
}

// ListEvents iterates the event log starting at fromSequence
func (b *BadgerPersistence) ListEvents(fromSequence uint64, limit int) ([]*types.LedgerEvent, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	events := make([]*types.LedgerEvent, 0)
	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixEvent)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(eventKey(fromSequence)); it.Valid(); it.Next() {
			if limit > 0 && len(events) >= limit {
				return nil
			}
			item := it.Item()

			data, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			event, err := persistence.UnmarshalEvent(data)
			if err != nil {
				b.logger.Sugar().Warnw("Failed to unmarshal LedgerEvent, skipping",
					"key", fmt.Sprintf("%x", item.Key()), "error", err)
				continue
			}
			events = append(events, event)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list LedgerEvents: %w", err)
	}
	return events, nil
}

// Close shuts down the persistence layer
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (b *BadgerPersistence) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
