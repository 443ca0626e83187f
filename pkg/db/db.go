package db

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

const SchemaVersion = 1

// DB is the on-disk index behind the download cache.
type DB struct {
	db   *bolt.DB
	path string
}

// Path returns the index location for the given cache directory.
func Path(cacheDir string) string {
	return filepath.Join(cacheDir, "db", "imagetool.db")
}

// Open creates the index under cacheDir if it does not exist yet.
func Open(cacheDir string) (*DB, error) {
	dbPath := Path(cacheDir)
	eb := oops.With("db_path", dbPath)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, eb.Wrapf(err, "mkdir error")
	}

	bdb, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, eb.Wrapf(err, "failed to open db")
	}
	return &DB{db: bdb, path: dbPath}, nil
}

func (d *DB) Path() string {
	return d.path
}

func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return xerrors.Errorf("failed to close DB: %w", err)
	}
	return nil
}

// Put stores value as JSON under bucket/key, overwriting any previous value.
func (d *DB) Put(bucket, key string, value any) error {
	err := d.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucket, key, value)
	})
	if err != nil {
		return xerrors.Errorf("error in db update: %w", err)
	}
	return nil
}

// Get decodes bucket/key into value. It reports false when nothing is stored.
func (d *DB) Get(bucket, key string, value any) (bool, error) {
	var raw []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			// bolt values are only valid inside the transaction
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return false, xerrors.Errorf("failed to get data from db: %w", err)
	}
	if raw == nil {
		return false, nil
	}
	if err = json.Unmarshal(raw, value); err != nil {
		return false, oops.With("bucket", bucket, "key", key).Wrapf(err, "json unmarshal error")
	}
	return true, nil
}

// ForEach calls fn for every key in bucket in byte order.
func (d *DB) ForEach(bucket string, fn func(key string, value []byte) error) error {
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
	if err != nil {
		return xerrors.Errorf("failed to get all key/value in the specified bucket: %w", err)
	}
	return nil
}

func put(tx *bolt.Tx, bucket, key string, value any) error {
	eb := oops.With("bucket", bucket, "key", key)
	b, err := tx.CreateBucketIfNotExists([]byte(bucket))
	if err != nil {
		return eb.Wrapf(err, "failed to create a bucket")
	}
	v, err := json.Marshal(value)
	if err != nil {
		return eb.Wrapf(err, "json marshal error")
	}
	return b.Put([]byte(key), v)
}
