package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// badger 键空间：
//
//	active               -> 当前生效的缓存名
//	n/<name>             -> 缓存创建时间（用于 Names）
//	r/<name>             -> ready 标记
//	e/<name>\x00<sha1>   -> 单条缓存（与磁盘格式一致）
const (
	badgerActiveKey   = "active"
	badgerNamePrefix  = "n/"
	badgerReadyPrefix = "r/"
	badgerEntryPrefix = "e/"
)

// NewBadgerStorage 打开 badger 数据库作为缓存后端；inMemory 主要供测试使用。
func NewBadgerStorage(path string, inMemory bool) (Storage, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if path == "" {
			return nil, errors.New("storage path required")
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create storage path: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger storage: %w", err)
	}
	return &badgerStorage{db: db}, nil
}

type badgerStorage struct {
	db *badger.DB
}

func (s *badgerStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	nameKey := []byte(badgerNamePrefix + name)
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(nameKey); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(nameKey, []byte(time.Now().UTC().Format(time.RFC3339Nano)))
	})
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", name, err)
	}
	return &badgerStore{db: s.db, name: name}, nil
}

func (s *badgerStorage) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys, err := s.scanKeys([]byte(badgerNamePrefix))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, strings.TrimPrefix(string(key), badgerNamePrefix))
	}
	sort.Strings(names)
	return names, nil
}

func (s *badgerStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validateName(name); err != nil {
		return false, err
	}
	nameKey := []byte(badgerNamePrefix + name)
	existed := true
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(nameKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			existed = false
			return nil
		}
		return err
	})
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}

	entries, err := s.scanKeys(entryPrefix(name))
	if err != nil {
		return true, err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range entries {
		if err := wb.Delete(key); err != nil {
			return true, fmt.Errorf("delete cache %s: %w", name, err)
		}
	}
	if err := wb.Delete([]byte(badgerReadyPrefix + name)); err != nil {
		return true, fmt.Errorf("delete cache %s: %w", name, err)
	}
	if err := wb.Delete(nameKey); err != nil {
		return true, fmt.Errorf("delete cache %s: %w", name, err)
	}
	if err := wb.Flush(); err != nil {
		return true, fmt.Errorf("delete cache %s: %w", name, err)
	}
	return true, nil
}

func (s *badgerStorage) ActiveName(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	value, err := getValue(s.db, []byte(badgerActiveKey))
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(value), nil
}

func (s *badgerStorage) SetActiveName(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerActiveKey), []byte(name))
	})
}

func (s *badgerStorage) Close() error {
	return s.db.Close()
}

func (s *badgerStorage) scanKeys(prefix []byte) ([][]byte, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}

type badgerStore struct {
	db   *badger.DB
	name string
}

func (s *badgerStore) Name() string {
	return s.name
}

func (s *badgerStore) Match(ctx context.Context, key Key) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := getValue(s.db, s.entryKey(key))
	if err != nil {
		return nil, err
	}
	stored, resp, err := decodeEntry(data)
	if err != nil {
		return nil, err
	}
	if stored != key {
		return nil, ErrNotFound
	}
	return resp, nil
}

func (s *badgerStore) Put(ctx context.Context, key Key, resp *Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeEntry(key, resp)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.entryKey(key), data)
	})
}

func (s *badgerStore) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.entryKey(key))
	})
}

func (s *badgerStore) Keys(ctx context.Context) ([]Key, error) {
	var keys []Key
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = entryPrefix(s.name)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			key, _, err := decodeEntry(data)
			if err != nil {
				return err
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys, nil
}

func (s *badgerStore) MarkReady(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerReadyPrefix+s.name), []byte(time.Now().UTC().Format(time.RFC3339Nano)))
	})
}

func (s *badgerStore) Ready(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := getValue(s.db, []byte(badgerReadyPrefix+s.name))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *badgerStore) entryKey(key Key) []byte {
	return append(entryPrefix(s.name), key.digest()...)
}

func entryPrefix(name string) []byte {
	return []byte(badgerEntryPrefix + name + "\x00")
}

func getValue(db *badger.DB, key []byte) ([]byte, error) {
	var value []byte
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}
