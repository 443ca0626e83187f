package cache

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"
	"golang.org/x/sync/singleflight"
	"golang.org/x/xerrors"
	"k8s.io/utils/clock"

	"github.com/imagetool/imagetool/pkg/db"
	"github.com/imagetool/imagetool/pkg/log"
	"github.com/imagetool/imagetool/pkg/metadata"
	"github.com/imagetool/imagetool/pkg/utils"
)

const (
	// KeySeparator joins the bug name and the release id of a cache key.
	KeySeparator = "##"

	patchBucket = "patch"
)

// Key builds the cache key of a patch artifact.
func Key(bugName, releaseID string) string {
	return bugName + KeySeparator + releaseID
}

// Entry maps a cache key to a downloaded file.
type Entry struct {
	Key          string    `json:"-"`
	Path         string    `json:"path"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// FetchFunc downloads an artifact to path.
type FetchFunc func(ctx context.Context, path string) error

// Cache is a persistent, append-only index of downloaded artifacts.
// Ensure is safe for concurrent use.
type Cache struct {
	dir    string
	db     *db.DB
	meta   metadata.Client
	clock  clock.Clock
	group  singleflight.Group
	logger *log.Logger

	metaMu sync.Mutex
}

type Option func(*Cache)

func WithClock(clock clock.Clock) Option {
	return func(c *Cache) {
		c.clock = clock
	}
}

// Open loads the index stored under dir, creating it on first use.
func Open(dir string, opts ...Option) (*Cache, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, xerrors.Errorf("cache dir error: %w", err)
	}

	c := &Cache{
		dir:    dir,
		clock:  clock.RealClock{},
		logger: log.WithPrefix("cache"),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.db, err = db.Open(dir)
	if err != nil {
		return nil, xerrors.Errorf("failed to open cache index: %w", err)
	}
	c.meta = metadata.NewClient(filepath.Dir(c.db.Path()))

	if err = c.checkSchema(); err != nil {
		_ = c.db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) checkSchema() error {
	meta, err := c.meta.Get()
	if errors.Is(err, fs.ErrNotExist) {
		return c.touch()
	} else if err != nil {
		return xerrors.Errorf("failed to read cache metadata: %w", err)
	}
	if meta.Version != db.SchemaVersion {
		return oops.With("dir", c.dir, "version", meta.Version).
			Errorf("unsupported cache schema version, expected %d", db.SchemaVersion)
	}
	return nil
}

func (c *Cache) touch() error {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	return c.meta.Update(metadata.Metadata{
		Version:   db.SchemaVersion,
		UpdatedAt: c.clock.Now().UTC(),
	})
}

// Dir is the absolute cache root where artifacts are stored.
func (c *Cache) Dir() string {
	return c.dir
}

// Close flushes and releases the index.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the recorded entry for key, whether or not its file still exists.
func (c *Cache) Get(key string) (Entry, bool, error) {
	var e Entry
	found, err := c.db.Get(patchBucket, key, &e)
	if err != nil {
		return Entry{}, false, xerrors.Errorf("cache lookup error: %w", err)
	}
	e.Key = key
	return e, found, nil
}

// Put records key → path, overwriting any previous entry.
func (c *Cache) Put(key, path string) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return xerrors.Errorf("cache path error: %w", err)
	}
	e := Entry{Path: path, DownloadedAt: c.clock.Now().UTC()}
	if err = c.db.Put(patchBucket, key, e); err != nil {
		return oops.With("key", key).Wrapf(err, "failed to add cache entry")
	}
	return c.touch()
}

// List returns all entries ordered by key.
func (c *Cache) List() ([]Entry, error) {
	var entries []Entry
	err := c.db.ForEach(patchBucket, func(key string, _ []byte) error {
		e, _, err := c.Get(key)
		if err != nil {
			return err
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to list cache: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Lookup reports a hit only when the entry points at expectedPath and the file
// is still on disk. A stale entry is a miss, not an error.
func (c *Cache) Lookup(key, expectedPath string) (bool, error) {
	e, found, err := c.Get(key)
	if err != nil || !found {
		return false, err
	}
	if e.Path != expectedPath {
		return false, nil
	}
	exists, err := utils.Exists(e.Path)
	if err != nil {
		return false, oops.With("key", key).Wrapf(err, "stat error")
	}
	return exists, nil
}

// Ensure returns expectedPath, calling fetch first unless the cache already
// holds it. Concurrent calls for the same key and path share a single fetch.
// A caller that waited on a failed fetch looks the entry up again and fetches
// under its own context.
func (c *Cache) Ensure(ctx context.Context, key, expectedPath string, fetch FetchFunc) (string, error) {
	expectedPath, err := filepath.Abs(expectedPath)
	if err != nil {
		return "", xerrors.Errorf("cache path error: %w", err)
	}

	flight := key + "\x00" + expectedPath
	for attempt := 0; ; attempt++ {
		var led bool
		ch := c.group.DoChan(flight, func() (any, error) {
			led = true
			return c.ensure(ctx, key, expectedPath, fetch)
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case res = <-ch:
		}
		if res.Err == nil {
			return res.Val.(string), nil
		}
		// The caller that ran fetch keeps its error. A waiter retries once.
		if led || attempt > 0 || ctx.Err() != nil {
			return "", res.Err
		}
		c.logger.Debug("Shared fetch failed, retrying", log.Key(key), log.Err(res.Err))
	}
}

func (c *Cache) ensure(ctx context.Context, key, expectedPath string, fetch FetchFunc) (string, error) {
	hit, err := c.Lookup(key, expectedPath)
	if err != nil {
		return "", err
	} else if hit {
		c.logger.Info("Patch already downloaded", log.Key(key), log.FilePath(expectedPath))
		return expectedPath, nil
	}

	c.logger.Debug("Cache miss", log.Key(key), log.FilePath(expectedPath))
	if err = fetch(ctx, expectedPath); err != nil {
		return "", oops.With("key", key).Wrapf(err, "fetch error")
	}
	if err = c.Put(key, expectedPath); err != nil {
		return "", err
	}
	return expectedPath, nil
}
