package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"domamart/pkg/platform/sentinel"
)

// Remote is a shared second-level cache. Get returns sentinel.ErrNotFound on a miss.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// LoadFunc fetches the authoritative value for key.
type LoadFunc[V any] func(ctx context.Context, key string) (V, error)

type loaderOptions struct {
	remote    Remote
	remoteTTL time.Duration
	prefix    string
	logger    *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*loaderOptions)

// WithRemote adds a shared cache consulted after the local one. Values are
// stored JSON-encoded under prefix+key.
func WithRemote(remote Remote, prefix string, ttl time.Duration) LoaderOption {
	return func(o *loaderOptions) {
		o.remote = remote
		o.prefix = prefix
		if ttl > 0 {
			o.remoteTTL = ttl
		}
	}
}

// WithLoaderLogger sets the logger for remote cache failures.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(o *loaderOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Loader is a read-through cache. Concurrent Gets for the same missing key share
// one call to the load function. Errors are returned to every waiter and never cached.
// A value loaded while its key was invalidated is returned but not cached.
type Loader[V any] struct {
	local *TTLCache[string, V]
	load  LoadFunc[V]
	group singleflight.Group
	opts  loaderOptions

	genMu sync.Mutex
	gen   map[string]uint64
}

// NewLoader wraps load with the local cache.
func NewLoader[V any](local *TTLCache[string, V], load LoadFunc[V], opts ...LoaderOption) (*Loader[V], error) {
	if local == nil {
		return nil, errors.New("local cache is required")
	}
	if load == nil {
		return nil, errors.New("load func is required")
	}
	o := loaderOptions{
		remoteTTL: DefaultTTL,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &Loader[V]{local: local, load: load, opts: o, gen: make(map[string]uint64)}, nil
}

// Get returns the cached value for key, loading it on a miss.
func (l *Loader[V]) Get(ctx context.Context, key string) (V, error) {
	if v, ok := l.local.Get(key); ok {
		return v, nil
	}

	res, err, _ := l.group.Do(key, func() (any, error) {
		// Another caller may have filled the cache while we waited for the group.
		if v, ok := l.local.Get(key); ok {
			return v, nil
		}
		gen := l.generation(key)
		if v, ok := l.fromRemote(ctx, key); ok {
			if l.generation(key) == gen {
				l.local.Set(key, v)
			}
			return v, nil
		}

		v, err := l.load(ctx, key)
		if err != nil {
			return nil, err
		}
		if l.generation(key) == gen {
			l.local.Set(key, v)
			l.toRemote(ctx, key, v)
		}
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	v, _ := res.(V)
	return v, nil
}

// Invalidate drops key from both cache levels. A load of key already in
// flight is detached so the next Get loads again.
func (l *Loader[V]) Invalidate(ctx context.Context, key string) error {
	l.genMu.Lock()
	l.gen[key]++
	l.genMu.Unlock()
	l.group.Forget(key)

	l.local.Delete(key)
	if l.opts.remote == nil {
		return nil
	}
	if err := l.opts.remote.Delete(ctx, l.opts.prefix+key); err != nil {
		return fmt.Errorf("invalidate remote cache: %w", err)
	}
	return nil
}

func (l *Loader[V]) generation(key string) uint64 {
	l.genMu.Lock()
	defer l.genMu.Unlock()
	return l.gen[key]
}

func (l *Loader[V]) fromRemote(ctx context.Context, key string) (V, bool) {
	var zero V
	if l.opts.remote == nil {
		return zero, false
	}
	b, err := l.opts.remote.Get(ctx, l.opts.prefix+key)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			l.opts.logger.WarnContext(ctx, "remote cache read failed", "key", key, "error", err)
		}
		return zero, false
	}
	var v V
	if err := json.Unmarshal(b, &v); err != nil {
		l.opts.logger.WarnContext(ctx, "remote cache entry undecodable", "key", key, "error", err)
		return zero, false
	}
	return v, true
}

func (l *Loader[V]) toRemote(ctx context.Context, key string, v V) {
	if l.opts.remote == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		l.opts.logger.WarnContext(ctx, "remote cache encode failed", "key", key, "error", err)
		return
	}
	if err := l.opts.remote.Set(ctx, l.opts.prefix+key, b, l.opts.remoteTTL); err != nil {
		l.opts.logger.WarnContext(ctx, "remote cache write failed", "key", key, "error", err)
	}
}
