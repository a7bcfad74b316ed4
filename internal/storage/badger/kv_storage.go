package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
)

// Key layout for the transient namespace:
//
//	st:{stream}:{id}          undelivered stream entries, id sorts by arrival
//	pd:{stream}:{group}:{id}  pending (delivered, unacked) entries
//	kv:{key}                  TTL response keys
//	ls:{key}:{id}             list entries
//	ct:{key}                  counters
type pendingEntry struct {
	Consumer  string    `json:"consumer"`
	Value     []byte    `json:"value"`
	Delivered int       `json:"delivered"`
	LastRead  time.Time `json:"last_read"`
}

// KVStorage implements the KVStorage interface over raw Badger, which gives
// native TTL entries the badgerhold layer does not expose.
type KVStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	seq uint64
	mu  sync.Mutex // serializes stream read-modify-write across consumers
}

// NewKVStorage creates a new KVStorage instance
func NewKVStorage(db *BadgerDB, logger arbor.ILogger) interfaces.KVStorage {
	return &KVStorage{
		db:     db,
		logger: logger,
	}
}

func (s *KVStorage) badger() *badgerdb.DB {
	return s.db.Store().Badger()
}

// nextID produces ids that sort lexicographically by arrival order.
func (s *KVStorage) nextID() string {
	n := atomic.AddUint64(&s.seq, 1)
	return fmt.Sprintf("%019d-%08d", time.Now().UnixNano(), n)
}

func streamKey(stream, id string) []byte {
	return []byte("st:" + stream + ":" + id)
}

func pendingKey(stream, group, id string) []byte {
	return []byte("pd:" + stream + ":" + group + ":" + id)
}

// StreamAdd appends a value, trimming the oldest entries past maxLen.
func (s *KVStorage) StreamAdd(ctx context.Context, stream string, value []byte, maxLen int) (string, error) {
	id := s.nextID()
	prefix := []byte("st:" + stream + ":")
	err := s.badger().Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(streamKey(stream, id), value); err != nil {
			return err
		}
		if maxLen <= 0 {
			return nil
		}
		// Count and trim from the oldest end.
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for i := 0; len(keys)-i > maxLen; i++ {
			if err := txn.Delete(keys[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to add to stream %s: %w", stream, err)
	}
	return id, nil
}

func (s *KVStorage) StreamLen(ctx context.Context, stream string) (int, error) {
	return s.countPrefix("st:" + stream + ":")
}

// StreamReadGroup moves up to count undelivered entries into the group's
// pending set and returns them.
func (s *KVStorage) StreamReadGroup(ctx context.Context, stream, group, consumer string, count int) ([]interfaces.StreamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := []byte("st:" + stream + ":")
	var entries []interfaces.StreamEntry
	err := s.badger().Update(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(entries) < count; it.Next() {
			item := it.Item()
			id := string(item.Key()[len(prefix):])
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			pending := pendingEntry{
				Consumer:  consumer,
				Value:     value,
				Delivered: 1,
				LastRead:  time.Now(),
			}
			encoded, err := json.Marshal(&pending)
			if err != nil {
				return err
			}
			if err := txn.Set(pendingKey(stream, group, id), encoded); err != nil {
				return err
			}
			if err := txn.Delete(item.KeyCopy(nil)); err != nil {
				return err
			}
			entries = append(entries, interfaces.StreamEntry{ID: id, Value: value, Delivered: 1})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read stream %s: %w", stream, err)
	}
	return entries, nil
}

func (s *KVStorage) StreamAck(ctx context.Context, stream, group, id string) error {
	err := s.badger().Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(pendingKey(stream, group, id))
	})
	if err != nil {
		return fmt.Errorf("failed to ack %s on stream %s: %w", id, stream, err)
	}
	return nil
}

// StreamReclaim re-delivers pending entries whose last read is older than
// minIdle, bumping their delivery count.
func (s *KVStorage) StreamReclaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]interfaces.StreamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := []byte("pd:" + stream + ":" + group + ":")
	cutoff := time.Now().Add(-minIdle)
	var entries []interfaces.StreamEntry
	err := s.badger().Update(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(entries) < count; it.Next() {
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var pending pendingEntry
			if err := json.Unmarshal(raw, &pending); err != nil {
				return err
			}
			if pending.LastRead.After(cutoff) {
				continue
			}
			pending.Consumer = consumer
			pending.Delivered++
			pending.LastRead = time.Now()
			encoded, err := json.Marshal(&pending)
			if err != nil {
				return err
			}
			if err := txn.Set(item.KeyCopy(nil), encoded); err != nil {
				return err
			}
			id := string(item.Key()[len(prefix):])
			entries = append(entries, interfaces.StreamEntry{ID: id, Value: pending.Value, Delivered: pending.Delivered})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reclaim on stream %s: %w", stream, err)
	}
	return entries, nil
}

func (s *KVStorage) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.badger().Update(func(txn *badgerdb.Txn) error {
		entry := badgerdb.NewEntry([]byte("kv:"+key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (s *KVStorage) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.badger().View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte("kv:" + key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badgerdb.ErrKeyNotFound {
		return nil, interfaces.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return value, nil
}

func (s *KVStorage) Delete(ctx context.Context, key string) error {
	err := s.badger().Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte("kv:" + key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (s *KVStorage) ListPush(ctx context.Context, key string, value []byte) error {
	id := s.nextID()
	err := s.badger().Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte("ls:"+key+":"+id), value)
	})
	if err != nil {
		return fmt.Errorf("failed to push to list %s: %w", key, err)
	}
	return nil
}

func (s *KVStorage) ListRange(ctx context.Context, key string, limit int) ([][]byte, error) {
	prefix := []byte("ls:" + key + ":")
	var values [][]byte
	err := s.badger().View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(values) >= limit {
				break
			}
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			values = append(values, value)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to range list %s: %w", key, err)
	}
	return values, nil
}

func (s *KVStorage) ListLen(ctx context.Context, key string) (int, error) {
	return s.countPrefix("ls:" + key + ":")
}

// IncrWithTTL increments a counter, attaching the TTL on first increment so
// daily budgets roll over on their own.
func (s *KVStorage) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result int64
	fullKey := []byte("ct:" + key)
	err := s.badger().Update(func(txn *badgerdb.Txn) error {
		var current int64
		var expiresAt uint64
		item, err := txn.Get(fullKey)
		if err == nil {
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(raw, &current); err != nil {
				return err
			}
			expiresAt = item.ExpiresAt()
		} else if err != badgerdb.ErrKeyNotFound {
			return err
		}
		result = current + 1
		encoded, err := json.Marshal(result)
		if err != nil {
			return err
		}
		entry := badgerdb.NewEntry(fullKey, encoded)
		if expiresAt > 0 {
			// Preserve the original expiry.
			remaining := time.Until(time.Unix(int64(expiresAt), 0))
			if remaining > 0 {
				entry = entry.WithTTL(remaining)
			}
		} else if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", key, err)
	}
	return result, nil
}

func (s *KVStorage) GetCounter(ctx context.Context, key string) (int64, error) {
	var value int64
	viewErr := s.badger().View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte("ct:" + key))
		if err != nil {
			return err
		}
		encoded, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(encoded, &value)
	})
	if viewErr == badgerdb.ErrKeyNotFound {
		return 0, nil
	}
	if viewErr != nil {
		return 0, fmt.Errorf("failed to get counter %s: %w", key, viewErr)
	}
	return value, nil
}

func (s *KVStorage) countPrefix(prefix string) (int, error) {
	p := []byte(prefix)
	count := 0
	err := s.badger().View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count prefix %s: %w", prefix, err)
	}
	return count, nil
}
