// Package storage is the engine binding consumed by the soma collection core.
//
// It provides the three primitives the core composes: a shared Context built
// from an opaque configuration map, versioned metadata Groups, and
// schema-bearing Arrays. All objects are addressed by URI; the scheme selects
// a blobstore backend (mem, file, or anything registered by the caller).
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/TileDB-Inc/TileDB-SOMA/blobstore"
	"github.com/TileDB-Inc/TileDB-SOMA/codec"
)

// Recognized configuration keys. Unrecognized keys are retained but ignored.
const (
	// ConfigCodec selects the encoding of manifests and chunk payloads:
	// "json" (default) or "msgpack".
	ConfigCodec = "soma.codec"

	// ConfigCompression selects the chunk compression filter:
	// "zstd" (default), "lz4" or "none".
	ConfigCompression = "soma.compression"

	// ConfigIORateLimitMB caps blob read/write throughput in MiB/s.
	// Zero or absent means unlimited.
	ConfigIORateLimitMB = "soma.io_rate_limit_mb"
)

// Context is the immutable engine configuration shared by every object
// accessing the store. It is long-lived and caller-owned: many collections
// may hold the same Context, and it must outlive all of them.
//
// All mem:// URIs resolved through one Context share a single in-memory
// backend, so objects created through one collection are visible to any
// other collection built from the same Context.
type Context struct {
	cfg    map[string]string
	codec  codec.Codec
	filter Filter

	limiter *rate.Limiter
	logger  *slog.Logger

	mu       sync.RWMutex
	backends map[string]blobstore.Backend
}

// ContextOptions holds optional Context collaborators.
type ContextOptions struct {
	// Logger receives engine-level debug output. Defaults to a discard logger.
	Logger *slog.Logger

	// Backends maps URI schemes to additional backends, e.g. "s3" or "minio".
	// The "mem" and "file" schemes are always present.
	Backends map[string]blobstore.Backend
}

// NewContext builds a Context from an engine configuration map.
func NewContext(cfg map[string]string, optFns ...func(o *ContextOptions)) (*Context, error) {
	opts := ContextOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	cfgCopy := make(map[string]string, len(cfg))
	for k, v := range cfg {
		cfgCopy[k] = v
	}

	codecName := cfgCopy[ConfigCodec]
	if codecName == "" {
		codecName = codec.Default.Name()
	}
	c, ok := codec.ByName(codecName)
	if !ok {
		return nil, fmt.Errorf("storage: unknown codec %q", codecName)
	}

	filterName := cfgCopy[ConfigCompression]
	if filterName == "" {
		filterName = "zstd"
	}
	f, err := FilterByName(filterName)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if s := cfgCopy[ConfigIORateLimitMB]; s != "" {
		mb, err := strconv.Atoi(s)
		if err != nil || mb < 0 {
			return nil, fmt.Errorf("storage: invalid %s value %q", ConfigIORateLimitMB, s)
		}
		if mb > 0 {
			bytesPerSec := mb << 20
			limiter = rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	backends := map[string]blobstore.Backend{
		"mem":  blobstore.NewMemoryBackend(),
		"file": blobstore.NewLocalBackend(""),
	}
	for scheme, b := range opts.Backends {
		backends[scheme] = b
	}

	return &Context{
		cfg:      cfgCopy,
		codec:    c,
		filter:   f,
		limiter:  limiter,
		logger:   logger,
		backends: backends,
	}, nil
}

// Config returns a copy of the configuration map the Context was built from.
func (c *Context) Config() map[string]string {
	out := make(map[string]string, len(c.cfg))
	for k, v := range c.cfg {
		out[k] = v
	}
	return out
}

// Codec returns the configured payload codec.
func (c *Context) Codec() codec.Codec { return c.codec }

// Filter returns the configured compression filter.
func (c *Context) Filter() Filter { return c.filter }

// Logger returns the engine logger.
func (c *Context) Logger() *slog.Logger { return c.logger }

// RegisterBackend registers a backend for a URI scheme, replacing any
// previous backend for that scheme.
func (c *Context) RegisterBackend(scheme string, b blobstore.Backend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backends[scheme] = b
}

// Resolve maps a URI to its backend and backend-local key.
func (c *Context) Resolve(uri string) (blobstore.Backend, string, error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok || scheme == "" {
		return nil, "", fmt.Errorf("storage: URI %q has no scheme", uri)
	}

	c.mu.RLock()
	b, found := c.backends[scheme]
	c.mu.RUnlock()
	if !found {
		return nil, "", fmt.Errorf("storage: no backend registered for scheme %q", scheme)
	}
	return b, rest, nil
}

func (c *Context) throttle(ctx context.Context, n int) error {
	if c.limiter == nil || n <= 0 {
		return nil
	}
	// Single waits must fit the burst; split oversized requests.
	burst := c.limiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := c.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

func (c *Context) putBlob(ctx context.Context, uri, name string, data []byte) error {
	b, key, err := c.Resolve(uri)
	if err != nil {
		return err
	}
	if err := c.throttle(ctx, len(data)); err != nil {
		return err
	}
	return b.Put(ctx, path.Join(key, name), data)
}

func (c *Context) readBlob(ctx context.Context, uri, name string) ([]byte, error) {
	b, key, err := c.Resolve(uri)
	if err != nil {
		return nil, err
	}
	data, err := blobstore.ReadAll(ctx, b, path.Join(key, name))
	if err != nil {
		return nil, err
	}
	if err := c.throttle(ctx, len(data)); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Context) statBlob(ctx context.Context, uri, name string) (int64, error) {
	b, key, err := c.Resolve(uri)
	if err != nil {
		return 0, err
	}
	return b.Stat(ctx, path.Join(key, name))
}

func (c *Context) listBlobs(ctx context.Context, uri, prefix string) ([]string, error) {
	b, key, err := c.Resolve(uri)
	if err != nil {
		return nil, err
	}
	full := path.Join(key, prefix)
	names, err := b.List(ctx, full)
	if err != nil {
		return nil, err
	}
	base := path.Join(key, "/") + "/"
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, strings.TrimPrefix(n, base))
	}
	return out, nil
}
