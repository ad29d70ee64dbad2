package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/peakml/gradient/experiment"
	"github.com/peakml/gradient/pkg/errors"
	"github.com/peakml/gradient/runner"
)

const (
	defaultBoltDir  = "./data"
	boltFileMode    = 0o600
	boltOpenTimeout = time.Second
)

// storedValue wraps a value with its Go type so Get can return the concrete
// struct the service layer expects.
type storedValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type boltStorage struct {
	db     *bolt.DB
	bucket []byte
}

// NewBoltStorage opens (creating if needed) a bbolt-backed store. Each
// logical store gets its own bucket within the shared file.
func NewBoltStorage(dataDir, bucket string) (Storage, error) {
	if dataDir == "" {
		dataDir = defaultBoltDir
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dataDir, "gradient.db"), boltFileMode, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	return NewBoltStorageWithDB(db, bucket)
}

// NewBoltStorageWithDB wraps an already-open database. Several stores can
// share one DB handle with distinct buckets.
func NewBoltStorageWithDB(db *bolt.DB, bucket string) (Storage, error) {
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))

		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to create bucket %q: %w", bucket, err)
	}

	return &boltStorage{db: db, bucket: []byte(bucket)}, nil
}

func (s *boltStorage) Create(_ context.Context, key string, value any) error {
	if key == "" {
		return errors.ErrEmptyKey
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b.Get([]byte(key)) != nil {
			return errors.ErrEntityExists
		}

		return putValue(b, key, value)
	})
}

func (s *boltStorage) Get(_ context.Context, key string) (any, error) {
	if key == "" {
		return nil, errors.ErrEmptyKey
	}

	var result any
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(s.bucket).Get([]byte(key))
		if data == nil {
			return errors.ErrNotFound
		}

		var err error
		result, err = decodeValue(data)

		return err
	})

	return result, err
}

func (s *boltStorage) Update(_ context.Context, key string, value any) error {
	if key == "" {
		return errors.ErrEmptyKey
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b.Get([]byte(key)) == nil {
			return errors.ErrNotFound
		}

		return putValue(b, key, value)
	})
}

func (s *boltStorage) List(_ context.Context, offset, limit uint64) (result []any, total uint64, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)

		keys := make([]string, 0)
		if err := b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))

			return nil
		}); err != nil {
			return err
		}
		sort.Strings(keys)

		total = uint64(len(keys))
		if offset >= total {
			return nil
		}
		end := offset + limit
		if end > total {
			end = total
		}

		result = make([]any, 0, end-offset)
		for i := offset; i < end; i++ {
			value, err := decodeValue(b.Get([]byte(keys[i])))
			if err != nil {
				return err
			}
			result = append(result, value)
		}

		return nil
	})

	return result, total, err
}

func (s *boltStorage) Delete(_ context.Context, key string) error {
	if key == "" {
		return errors.ErrEmptyKey
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	})
}

func putValue(b *bolt.Bucket, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	data, err := json.Marshal(storedValue{
		Type:  typeName(value),
		Value: raw,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal stored value: %w", err)
	}

	return b.Put([]byte(key), data)
}

func typeName(value any) string {
	if value == nil {
		return "nil"
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	return t.String()
}

func decodeValue(data []byte) (any, error) {
	var stored storedValue
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored value: %w", err)
	}

	switch stored.Type {
	case "experiment.Experiment":
		var e experiment.Experiment
		if err := json.Unmarshal(stored.Value, &e); err != nil {
			return nil, err
		}

		return e, nil
	case "runner.Runner":
		var r runner.Runner
		if err := json.Unmarshal(stored.Value, &r); err != nil {
			return nil, err
		}

		return r, nil
	case "string":
		var s string
		if err := json.Unmarshal(stored.Value, &s); err != nil {
			return nil, err
		}

		return s, nil
	default:
		var v any
		if err := json.Unmarshal(stored.Value, &v); err != nil {
			return nil, err
		}

		return v, nil
	}
}
