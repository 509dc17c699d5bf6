package trajectory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/samuelfneumann/goloco/internal/ctxlog"
	"github.com/samuelfneumann/goloco/kinematics"
	"github.com/samuelfneumann/goloco/physics"
)

// EntryExt is the file extension of cache entries
const EntryExt = ".loco"

// Stats counts the work done by a Cache
type Stats struct {
	// Fetches is the number of calls to the Source
	Fetches int64

	// Expansions is the number of forward kinematics expansions
	Expansions int64

	// Hits is the number of requests served from memory or disk
	Hits int64
}

// Cache is a content addressed store of expanded trajectories. An
// entry is keyed by the trajectory, the identity of the model it was
// expanded against and the kinematics version. Concurrent requests for
// the same key are coalesced so that the key is fetched and expanded at
// most once.
//
// Entries are kept in memory and, if the Cache has a directory, on
// disk. Disk entries are written to a temporary file and renamed into
// place, so processes sharing a directory never read partial entries.
type Cache struct {
	dir    string
	src    Source
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*Expanded
	group   singleflight.Group

	fetches    atomic.Int64
	expansions atomic.Int64
	hits       atomic.Int64
}

// Option configures a Cache
type Option func(*Cache)

// WithLogger sets the logger used when a request carries none in its
// context
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// NewCache returns a new Cache storing entries under dir and fetching
// missing trajectories from src. If dir is empty entries are kept in
// memory only.
func NewCache(dir string, src Source, opts ...Option) (*Cache, error) {
	if src == nil {
		return nil, fmt.Errorf("newCache: source must not be nil")
	}
	c := &Cache{
		dir:     dir,
		src:     src,
		entries: make(map[string]*Expanded),
	}
	for _, opt := range opts {
		opt(c)
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("newCache: %v", err)
		}
	}
	return c, nil
}

// Key returns the content key of trajectory id expanded against the
// model with the given identity
func Key(id ID, identity string) string {
	h := sha256.New()
	h.Write([]byte(id.String()))
	h.Write([]byte{0})
	h.Write([]byte(identity))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(kinematics.Version)))
	return hex.EncodeToString(h.Sum(nil))
}

// Dir returns the directory of the cache, or "" for a memory cache
func (c *Cache) Dir() string {
	return c.dir
}

// Path returns the file of the disk entry with the given key
func (c *Cache) Path(key string) string {
	return filepath.Join(c.dir, key[:2], key+EntryExt)
}

// Stats returns the work done by the cache so far
func (c *Cache) Stats() Stats {
	return Stats{
		Fetches:    c.fetches.Load(),
		Expansions: c.expansions.Load(),
		Hits:       c.hits.Load(),
	}
}

// Get returns trajectory id expanded against model m. Cancelling ctx
// abandons the wait but not the fetch and expansion, which complete for
// the benefit of other callers.
func (c *Cache) Get(ctx context.Context, id ID, m *physics.Compiled) (
	*Expanded, error) {
	key := Key(id, m.Identity)
	if e, ok := c.memory(key); ok {
		c.hits.Add(1)
		c.log(ctx).Debug("trajectory cache hit", "id", id.String(),
			"key", key)
		return e, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		return c.load(context.WithoutCancel(ctx), key, id, m)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("get: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("get: %w", res.Err)
		}
		return res.Val.(*Expanded), nil
	}
}

// Trajectory returns the compact form of trajectory id for model m
func (c *Cache) Trajectory(ctx context.Context, id ID, m *physics.Compiled) (
	*Trajectory, error) {
	e, err := c.Get(ctx, id, m)
	if err != nil {
		return nil, err
	}
	return e.Compact(), nil
}

// Populate expands every trajectory of ids against m using up to
// workers concurrent requests. All trajectories are attempted; the
// failures are joined into the returned error. done, if non-nil, is
// called after each trajectory with its error.
func (c *Cache) Populate(ctx context.Context, m *physics.Compiled, ids []ID,
	workers int, done func(id ID, err error)) error {
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	errs := make([]error, len(ids))
	var mu sync.Mutex
	for i, id := range ids {
		g.Go(func() error {
			_, err := c.Get(ctx, id, m)
			errs[i] = err
			if done != nil {
				mu.Lock()
				done(id, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("populate: %w", err)
	}
	return nil
}

// Forget drops the in-memory entry of trajectory id for model m. The
// disk entry is kept.
func (c *Cache) Forget(id ID, m *physics.Compiled) {
	c.mu.Lock()
	delete(c.entries, Key(id, m.Identity))
	c.mu.Unlock()
}

func (c *Cache) memory(key string) (*Expanded, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *Cache) remember(key string, e *Expanded) {
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

func (c *Cache) log(ctx context.Context) *slog.Logger {
	logger := ctxlog.FromContext(ctx)
	if logger == slog.Default() && c.logger != nil {
		return c.logger
	}
	return logger
}

// load runs once per key at a time. It serves the key from memory or
// disk if possible, and otherwise fetches, verifies, expands and stores
// the trajectory.
func (c *Cache) load(ctx context.Context, key string, id ID,
	m *physics.Compiled) (*Expanded, error) {
	ctx = ctxlog.WithLogger(ctx, c.log(ctx))
	logger := ctxlog.FromContext(ctx).With("id", id.String(), "key", key)

	// A flight for the key may have finished since the memory check
	if e, ok := c.memory(key); ok {
		c.hits.Add(1)
		return e, nil
	}
	if e, ok := c.readEntry(logger, key, id, m); ok {
		c.hits.Add(1)
		c.remember(key, e)
		return e, nil
	}

	t, err := c.fetch(ctx, logger, id)
	if err != nil {
		return nil, err
	}

	e, err := Expand(t, m.Tree, m.Identity)
	if err != nil {
		return nil, err
	}
	c.expansions.Add(1)
	logger.Info("expanded trajectory", "frames", t.Frames(),
		"bodies", len(e.Bodies))

	if c.dir != "" {
		if err := c.writeEntry(key, e); err != nil {
			logger.Warn("could not write cache entry", "error", err)
		}
	}
	c.remember(key, e)
	return e, nil
}

// fetch fetches and verifies trajectory id. A corrupt archive is
// fetched once more before giving up.
func (c *Cache) fetch(ctx context.Context, logger *slog.Logger, id ID) (
	*Trajectory, error) {
	var corrupt error
	for attempt := 0; attempt < 2; attempt++ {
		c.fetches.Add(1)
		data, err := c.src.Fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		logger.Info("fetched trajectory", "bytes", len(data))

		t, err := Decode(data)
		if err == nil && t.ID != id {
			err = fmt.Errorf("%w: archive holds trajectory %v",
				errCorruptArchive, t.ID)
		}
		if err == nil {
			return t, nil
		}
		corrupt = err
		logger.Warn("fetched trajectory is corrupt", "attempt", attempt+1,
			"error", err)
	}
	return nil, &DatasetCorruptionError{ID: id, Err: corrupt}
}

// readEntry reads the disk entry of a key. Entries which fail
// verification are deleted.
func (c *Cache) readEntry(logger *slog.Logger, key string, id ID,
	m *physics.Compiled) (*Expanded, bool) {
	if c.dir == "" {
		return nil, false
	}
	path := c.Path(key)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false
	} else if err != nil {
		logger.Warn("could not read cache entry", "path", path, "error", err)
		return nil, false
	}

	e, err := decodeExpanded(data)
	if err == nil {
		err = e.check(id, m)
	}
	if err != nil {
		logger.Warn("deleting corrupt cache entry", "path", path,
			"error", err)
		if err := os.Remove(path); err != nil &&
			!errors.Is(err, os.ErrNotExist) {
			logger.Warn("could not delete cache entry", "path", path,
				"error", err)
		}
		return nil, false
	}
	logger.Debug("read cache entry", "path", path)
	return e, true
}

// writeEntry atomically writes the disk entry of a key
func (c *Cache) writeEntry(key string, e *Expanded) error {
	data, err := encodeExpanded(e)
	if err != nil {
		return fmt.Errorf("writeEntry: %v", err)
	}

	path := c.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("writeEntry: %v", err)
	}
	tmp := filepath.Join(filepath.Dir(path), ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writeEntry: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writeEntry: %v", err)
	}
	return nil
}

// check verifies that a decoded entry is the expansion of id against m
func (e *Expanded) check(id ID, m *physics.Compiled) error {
	switch {
	case e.ID != id:
		return fmt.Errorf("%w: entry holds trajectory %v", errCorruptArchive,
			e.ID)
	case e.Model != m.Identity:
		return fmt.Errorf("%w: entry was expanded against model %v",
			errCorruptArchive, e.Model)
	case e.FKVersion != kinematics.Version:
		return fmt.Errorf("%w: entry has kinematics version %d",
			errCorruptArchive, e.FKVersion)
	case len(e.Bodies) != len(m.Tree.Bodies):
		return fmt.Errorf("%w: entry has %d bodies, model has %d",
			errCorruptArchive, len(e.Bodies), len(m.Tree.Bodies))
	}
	return nil
}
