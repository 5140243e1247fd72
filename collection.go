package soma

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/TileDB-Inc/TileDB-SOMA/storage"
)

// Collection is a named, open/closable container mapping string keys to
// member URIs, backed by a storage-engine group.
//
// A Collection exclusively owns its group handle; handles are never shared
// between two Collection values. Use Collection by pointer only: the zero
// value is not usable and copying would alias the open group handle.
//
// Registry mutators (Set, Del, AddNew*) require write mode; readers (Get,
// Has, Count, MemberToURIMapping) work in either mode. Every operation on a
// closed collection fails with ErrInvalidState.
type Collection struct {
	uri       string
	typ       string
	sctx      *storage.Context
	group     *storage.Group
	mode      storage.Mode
	timestamp uint64
	closed    bool
	logger    *Logger
}

// CreateCollection initializes a new, empty collection at uri and returns it
// open in write mode.
//
// If sctx is nil, a context is built from the WithConfig option, mirroring
// the config-map constructor of the engine.
func CreateCollection(ctx context.Context, uri string, sctx *storage.Context, optFns ...Option) (*Collection, error) {
	opts := applyOptions(optFns)
	sctx, err := resolveContext(sctx, opts)
	if err != nil {
		return nil, err
	}
	return createCollection(ctx, uri, CollectionType, sctx, opts.logger)
}

func createCollection(ctx context.Context, uri, typ string, sctx *storage.Context, logger *Logger) (*Collection, error) {
	if err := storage.CreateGroup(ctx, uri, typ, sctx); err != nil {
		return nil, translateError("create", uri, err)
	}
	group, err := storage.OpenGroup(ctx, uri, storage.ModeWrite, sctx, 0)
	if err != nil {
		return nil, translateError("create", uri, err)
	}

	c := &Collection{
		uri:    uri,
		typ:    typ,
		sctx:   sctx,
		group:  group,
		mode:   storage.ModeWrite,
		logger: logger,
	}
	logger.LogOpen(ctx, uri, storage.ModeWrite, nil)
	return c, nil
}

// OpenCollection opens the collection stored at uri in the given mode.
// It fails with ErrNotFound if nothing exists at uri and with
// ErrTypeMismatch if the stored object is not a collection kind.
func OpenCollection(ctx context.Context, uri string, mode storage.Mode, sctx *storage.Context, optFns ...Option) (*Collection, error) {
	opts := applyOptions(optFns)
	sctx, err := resolveContext(sctx, opts)
	if err != nil {
		return nil, err
	}

	group, err := storage.OpenGroup(ctx, uri, mode, sctx, opts.timestamp)
	if err != nil {
		err = translateError("open", uri, err)
		opts.logger.LogOpen(ctx, uri, mode, err)
		return nil, err
	}
	typ, err := group.ObjectType(ctx)
	if err != nil {
		return nil, translateError("open", uri, err)
	}
	switch typ {
	case CollectionType, ExperimentType, MeasurementType:
	default:
		return nil, fmt.Errorf("%w: %s stores %q, want a collection kind", ErrTypeMismatch, uri, typ)
	}

	c := &Collection{
		uri:       uri,
		typ:       typ,
		sctx:      sctx,
		group:     group,
		mode:      mode,
		timestamp: opts.timestamp,
		logger:    opts.logger,
	}
	opts.logger.LogOpen(ctx, uri, mode, nil)
	return c, nil
}

// Type returns the stored object type tag, "SOMACollection" for plain
// collections. It never changes after construction.
func (c *Collection) Type() string { return c.typ }

// URI returns the collection location. It never changes after construction.
func (c *Collection) URI() string { return c.uri }

// Ctx returns the shared storage context.
func (c *Collection) Ctx() *storage.Context { return c.sctx }

// Timestamp returns the snapshot pin, or zero when reading latest.
func (c *Collection) Timestamp() uint64 { return c.timestamp }

// Open re-opens the collection in a new mode, keeping the snapshot pin.
func (c *Collection) Open(ctx context.Context, mode storage.Mode) error {
	if err := c.group.Reopen(ctx, mode, c.timestamp); err != nil {
		err = translateError("open", c.uri, err)
		c.logger.LogOpen(ctx, c.uri, mode, err)
		return err
	}
	c.mode = mode
	c.closed = false
	c.logger.LogOpen(ctx, c.uri, mode, nil)
	return nil
}

// Close releases the underlying group handle. Closing an already-closed
// collection is an error, matching the strictness of the engine handle.
func (c *Collection) Close() error {
	if c.closed {
		err := fmt.Errorf("%w: %s is already closed", ErrInvalidState, c.uri)
		c.logger.LogClose(c.uri, err)
		return err
	}
	if err := c.group.Close(); err != nil {
		return translateError("close", c.uri, err)
	}
	c.closed = true
	c.logger.LogClose(c.uri, nil)
	return nil
}

func (c *Collection) requireOpen(op string) error {
	if c.closed {
		return fmt.Errorf("%w: %s on closed collection %s", ErrInvalidState, op, c.uri)
	}
	return nil
}

func (c *Collection) requireWrite(op string) error {
	if err := c.requireOpen(op); err != nil {
		return err
	}
	if c.mode != storage.ModeWrite {
		return fmt.Errorf("%w: %s requires write mode, collection %s is open read-only", ErrInvalidState, op, c.uri)
	}
	return nil
}

// Set registers or overwrites the member entry for key. Last writer wins.
//
// The target URI is not checked for existence: the operation is
// metadata-only and the caller is responsible for the URI being valid.
// The relative flag is preserved verbatim.
func (c *Collection) Set(ctx context.Context, uri string, relative bool, key string) error {
	if err := c.requireWrite("set"); err != nil {
		return err
	}
	err := translateError("set", c.uri, c.group.AddMember(ctx, uri, relative, key, ""))
	c.logger.LogSet(ctx, key, uri, err)
	return err
}

// Get resolves the member registered under key into a concrete typed handle,
// opened in read mode, and returns ownership to the caller.
//
// The stored kind drives dispatch over the closed set of member kinds; an
// unrecognized kind is a CorruptMetadataError, never a guess. Fails with
// ErrKeyNotFound if key is absent.
//
// A snapshot pin on this collection is forwarded to the member, where it
// scopes member registries only: collection-kind members list their entries
// as of the pinned time, while dataframe and ndarray members always read
// their latest data.
func (c *Collection) Get(ctx context.Context, key string) (Object, error) {
	if err := c.requireOpen("get"); err != nil {
		return nil, err
	}

	m, err := c.group.Member(ctx, key)
	if err != nil {
		err = translateError("get", c.uri, err)
		c.logger.LogGet(ctx, key, "", err)
		return nil, err
	}

	target := resolveURI(c.uri, m.URI, m.Relative)
	kind := m.Kind
	if kind == "" {
		// Linked via Set: the entry carries no kind, probe the stored object.
		kind, err = storage.ProbeObjectType(ctx, target, c.sctx)
		if err != nil {
			err = translateError("get", target, err)
			c.logger.LogGet(ctx, key, "", err)
			return nil, err
		}
	}

	obj, err := openMember(ctx, kind, key, target, c.sctx,
		WithTimestamp(c.timestamp), WithLogger(c.logger))
	c.logger.LogGet(ctx, key, kind, err)
	return obj, err
}

// Has reports whether a member is registered under key. It never
// instantiates the member object.
func (c *Collection) Has(ctx context.Context, key string) (bool, error) {
	if err := c.requireOpen("has"); err != nil {
		return false, err
	}
	_, err := c.group.Member(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, translateError("has", c.uri, err)
	}
	return true, nil
}

// Count returns the live number of registered members.
func (c *Collection) Count(ctx context.Context) (uint64, error) {
	if err := c.requireOpen("count"); err != nil {
		return 0, err
	}
	n, err := c.group.MemberCount(ctx)
	return n, translateError("count", c.uri, err)
}

// Del removes the member entry for key. The storage object the entry
// pointed to is never deleted. Fails with ErrKeyNotFound if key is absent.
func (c *Collection) Del(ctx context.Context, key string) error {
	if err := c.requireWrite("del"); err != nil {
		return err
	}
	err := translateError("del", c.uri, c.group.RemoveMember(ctx, key))
	c.logger.LogDel(ctx, key, err)
	return err
}

// MemberToURIMapping returns a consistent point-in-time snapshot of the
// key→URI mapping. URIs are returned as stored, with relative flags intact
// on the underlying entries.
func (c *Collection) MemberToURIMapping(ctx context.Context) (map[string]string, error) {
	if err := c.requireOpen("member_to_uri_mapping"); err != nil {
		return nil, err
	}
	members, err := c.group.Members(ctx)
	if err != nil {
		return nil, translateError("member_to_uri_mapping", c.uri, err)
	}
	out := make(map[string]string, len(members))
	for _, m := range members {
		out[m.Key] = m.URI
	}
	return out, nil
}

// AddNewCollection creates a collection at uri and registers it under key in
// one logical operation, returning it open in write mode.
//
// Creation and registration are two engine operations, not one transaction:
// if registration fails the created object remains on storage, unregistered.
func (c *Collection) AddNewCollection(ctx context.Context, key, uri string, relative bool, sctx *storage.Context) (*Collection, error) {
	sctx = c.childCtx(sctx)
	if err := c.requireWrite("add_new_collection"); err != nil {
		return nil, err
	}

	child, err := createCollection(ctx, resolveURI(c.uri, uri, relative), CollectionType, sctx, c.logger)
	if err != nil {
		c.logger.LogAddNew(ctx, CollectionType, key, uri, err)
		return nil, err
	}
	if err := c.register(ctx, child, key, uri, relative, CollectionType); err != nil {
		return nil, err
	}
	return child, nil
}

// AddNewExperiment creates an experiment at uri, pre-populating its obs
// dataframe (from schema) and ms collection, and registers it under key.
func (c *Collection) AddNewExperiment(ctx context.Context, key, uri string, relative bool, sctx *storage.Context, schema *storage.ArraySchema) (*Experiment, error) {
	sctx = c.childCtx(sctx)
	if err := c.requireWrite("add_new_experiment"); err != nil {
		return nil, err
	}

	child, err := createExperiment(ctx, resolveURI(c.uri, uri, relative), sctx, schema, c.logger)
	if err != nil {
		c.logger.LogAddNew(ctx, ExperimentType, key, uri, err)
		return nil, err
	}
	if err := c.register(ctx, child, key, uri, relative, ExperimentType); err != nil {
		return nil, err
	}
	return child, nil
}

// AddNewMeasurement creates a measurement at uri, pre-populating its var
// dataframe (from schema) and X/obsm/obsp/varm/varp collections, and
// registers it under key.
func (c *Collection) AddNewMeasurement(ctx context.Context, key, uri string, relative bool, sctx *storage.Context, schema *storage.ArraySchema) (*Measurement, error) {
	sctx = c.childCtx(sctx)
	if err := c.requireWrite("add_new_measurement"); err != nil {
		return nil, err
	}

	child, err := createMeasurement(ctx, resolveURI(c.uri, uri, relative), sctx, schema, c.logger)
	if err != nil {
		c.logger.LogAddNew(ctx, MeasurementType, key, uri, err)
		return nil, err
	}
	if err := c.register(ctx, child, key, uri, relative, MeasurementType); err != nil {
		return nil, err
	}
	return child, nil
}

// AddNewDataFrame creates a dataframe at uri with the given schema and
// registers it under key.
func (c *Collection) AddNewDataFrame(ctx context.Context, key, uri string, relative bool, sctx *storage.Context, schema *storage.ArraySchema) (*DataFrame, error) {
	sctx = c.childCtx(sctx)
	if err := c.requireWrite("add_new_dataframe"); err != nil {
		return nil, err
	}

	child, err := createDataFrame(ctx, resolveURI(c.uri, uri, relative), sctx, schema, c.logger)
	if err != nil {
		c.logger.LogAddNew(ctx, DataFrameType, key, uri, err)
		return nil, err
	}
	if err := c.register(ctx, child, key, uri, relative, DataFrameType); err != nil {
		return nil, err
	}
	return child, nil
}

// AddNewDenseNDArray creates a dense ndarray at uri with the given schema
// and registers it under key.
func (c *Collection) AddNewDenseNDArray(ctx context.Context, key, uri string, relative bool, sctx *storage.Context, schema *storage.ArraySchema) (*DenseNDArray, error) {
	sctx = c.childCtx(sctx)
	if err := c.requireWrite("add_new_dense_ndarray"); err != nil {
		return nil, err
	}

	child, err := createDenseNDArray(ctx, resolveURI(c.uri, uri, relative), sctx, schema, c.logger)
	if err != nil {
		c.logger.LogAddNew(ctx, DenseNDArrayType, key, uri, err)
		return nil, err
	}
	if err := c.register(ctx, child, key, uri, relative, DenseNDArrayType); err != nil {
		return nil, err
	}
	return child, nil
}

// AddNewSparseNDArray creates a sparse ndarray at uri with the given schema
// and registers it under key.
func (c *Collection) AddNewSparseNDArray(ctx context.Context, key, uri string, relative bool, sctx *storage.Context, schema *storage.ArraySchema) (*SparseNDArray, error) {
	sctx = c.childCtx(sctx)
	if err := c.requireWrite("add_new_sparse_ndarray"); err != nil {
		return nil, err
	}

	child, err := createSparseNDArray(ctx, resolveURI(c.uri, uri, relative), sctx, schema, c.logger)
	if err != nil {
		c.logger.LogAddNew(ctx, SparseNDArrayType, key, uri, err)
		return nil, err
	}
	if err := c.register(ctx, child, key, uri, relative, SparseNDArrayType); err != nil {
		return nil, err
	}
	return child, nil
}

// childCtx picks the context for a factory child: the explicit one if given,
// otherwise the parent's.
func (c *Collection) childCtx(sctx *storage.Context) *storage.Context {
	if sctx != nil {
		return sctx
	}
	return c.sctx
}

// register is phase two of the factory contract. On failure the created
// object is closed and left on storage for manual reconciliation.
func (c *Collection) register(ctx context.Context, child Object, key, uri string, relative bool, kind string) error {
	if err := c.group.AddMember(ctx, uri, relative, key, kind); err != nil {
		_ = child.Close()
		err = fmt.Errorf("%w (object created at %s remains unregistered)",
			translateError("register", c.uri, err), child.URI())
		c.logger.LogAddNew(ctx, kind, key, uri, err)
		return err
	}
	c.logger.LogAddNew(ctx, kind, key, uri, nil)
	return nil
}

// resolveURI resolves a member URI against its parent. Relative entries may
// be stored either as bare names or, as some writers do, already qualified
// under the parent; anything carrying a scheme passes through unchanged.
func resolveURI(parent, uri string, relative bool) string {
	if !relative || strings.Contains(uri, "://") {
		return uri
	}
	return strings.TrimSuffix(parent, "/") + "/" + strings.TrimPrefix(uri, "/")
}
