package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/TileDB-Inc/TileDB-SOMA/blobstore"
	"github.com/TileDB-Inc/TileDB-SOMA/codec"
)

const (
	schemaBlobName  = "__schema"
	chunkBlobPrefix = "data/chunk-"
	auxBlobPrefix   = "aux/"

	descriptorFormatVersion = 1
)

// arrayDescriptor is the on-store header of an array. It is always encoded
// as JSON so it can be decoded before the payload codec is known; the codec
// and filter names it records are authoritative for all chunk IO.
type arrayDescriptor struct {
	Version    int          `json:"version"`
	ObjectType string       `json:"object_type"`
	Codec      string       `json:"codec"`
	Filter     string       `json:"filter"`
	CreatedAt  uint64       `json:"created_at"`
	Schema     *ArraySchema `json:"schema"`
}

// Array is a handle on a schema-bearing typed data container.
//
// Chunk payloads are encoded with the codec and compression filter recorded
// in the array descriptor at creation time, independent of the context that
// opens the array later.
type Array struct {
	uri  string
	sctx *Context
	mode Mode
	open bool

	objectType string
	schema     *ArraySchema
	codec      codec.Codec
	filter     Filter
}

// CreateArray initializes a new array at uri with the given stored object
// type tag and schema, and returns it open for write.
// It fails with ErrAlreadyExists if any object is already stored at uri.
func CreateArray(ctx context.Context, uri, objectType string, schema *ArraySchema, sctx *Context) (*Array, error) {
	if err := schema.Validate(); err != nil {
		return nil, opErr("create array", uri, err)
	}
	if exists, err := objectExists(ctx, uri, sctx); err != nil {
		return nil, opErr("create array", uri, err)
	} else if exists {
		return nil, opErr("create array", uri, ErrAlreadyExists)
	}

	desc := arrayDescriptor{
		Version:    descriptorFormatVersion,
		ObjectType: objectType,
		Codec:      sctx.codec.Name(),
		Filter:     sctx.filter.Name(),
		CreatedAt:  uint64(time.Now().UnixMilli()),
		Schema:     schema,
	}
	data, err := (codec.JSON{}).Marshal(desc)
	if err != nil {
		return nil, opErr("create array", uri, err)
	}
	if err := sctx.putBlob(ctx, uri, schemaBlobName, data); err != nil {
		return nil, opErr("create array", uri, err)
	}
	sctx.logger.DebugContext(ctx, "array created", "uri", uri, "object_type", objectType)

	return &Array{
		uri:        uri,
		sctx:       sctx,
		mode:       ModeWrite,
		open:       true,
		objectType: objectType,
		schema:     schema,
		codec:      sctx.codec,
		filter:     sctx.filter,
	}, nil
}

// OpenArray opens the array at uri.
// It fails with ErrNotFound if nothing exists at uri, and with
// ErrWrongObjectType if the stored object is a group.
func OpenArray(ctx context.Context, uri string, mode Mode, sctx *Context) (*Array, error) {
	desc, err := readDescriptor(ctx, uri, sctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if ok, statErr := groupExists(ctx, uri, sctx); statErr == nil && ok {
				return nil, opErr("open array", uri, ErrWrongObjectType)
			}
		}
		return nil, opErr("open array", uri, err)
	}

	c, ok := codec.ByName(desc.Codec)
	if !ok {
		return nil, opErr("open array", uri, fmt.Errorf("unknown codec %q in descriptor", desc.Codec))
	}
	f, err := FilterByName(desc.Filter)
	if err != nil {
		return nil, opErr("open array", uri, err)
	}

	return &Array{
		uri:        uri,
		sctx:       sctx,
		mode:       mode,
		open:       true,
		objectType: desc.ObjectType,
		schema:     desc.Schema,
		codec:      c,
		filter:     f,
	}, nil
}

func readDescriptor(ctx context.Context, uri string, sctx *Context) (*arrayDescriptor, error) {
	data, err := sctx.readBlob(ctx, uri, schemaBlobName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var desc arrayDescriptor
	if err := (codec.JSON{}).Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("decode array descriptor: %w", err)
	}
	if desc.Version != descriptorFormatVersion {
		return nil, fmt.Errorf("unsupported array descriptor version %d", desc.Version)
	}
	return &desc, nil
}

func arrayExists(ctx context.Context, uri string, sctx *Context) (bool, error) {
	_, err := sctx.statBlob(ctx, uri, schemaBlobName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// URI returns the array URI.
func (a *Array) URI() string { return a.uri }

// Mode returns the current open mode.
func (a *Array) Mode() Mode { return a.mode }

// Context returns the storage context the array was opened with.
func (a *Array) Context() *Context { return a.sctx }

// ObjectType returns the stored object type tag.
func (a *Array) ObjectType() string { return a.objectType }

// Schema returns the array schema.
func (a *Array) Schema() *ArraySchema { return a.schema }

// Reopen re-opens the handle in a new mode.
func (a *Array) Reopen(_ context.Context, mode Mode) error {
	a.mode = mode
	a.open = true
	return nil
}

// Close releases the handle. Closing a closed handle is an error.
func (a *Array) Close() error {
	if !a.open {
		return opErr("close array", a.uri, ErrClosed)
	}
	a.open = false
	return nil
}

func (a *Array) requireOpen() error {
	if !a.open {
		return opErr("array", a.uri, ErrClosed)
	}
	return nil
}

func (a *Array) requireWrite() error {
	if err := a.requireOpen(); err != nil {
		return err
	}
	if a.mode != ModeWrite {
		return opErr("array", a.uri, fmt.Errorf("%w: not opened for write", ErrClosed))
	}
	return nil
}

// ChunkCount returns the number of committed chunks.
func (a *Array) ChunkCount(ctx context.Context) (int, error) {
	if err := a.requireOpen(); err != nil {
		return 0, err
	}
	names, err := a.sctx.listBlobs(ctx, a.uri, chunkBlobPrefix)
	if err != nil {
		return 0, opErr("list chunks", a.uri, err)
	}
	return len(names), nil
}

// WriteChunk appends a new chunk holding the encoded value.
func (a *Array) WriteChunk(ctx context.Context, v any) error {
	if err := a.requireWrite(); err != nil {
		return err
	}
	names, err := a.sctx.listBlobs(ctx, a.uri, chunkBlobPrefix)
	if err != nil {
		return opErr("write chunk", a.uri, err)
	}
	sort.Strings(names)
	next := len(names)

	raw, err := a.codec.Marshal(v)
	if err != nil {
		return opErr("write chunk", a.uri, err)
	}
	enc, err := a.filter.Encode(raw)
	if err != nil {
		return opErr("write chunk", a.uri, err)
	}

	name := fmt.Sprintf("%s%06d", chunkBlobPrefix, next)
	if err := a.sctx.putBlob(ctx, a.uri, name, enc); err != nil {
		return opErr("write chunk", a.uri, err)
	}
	return nil
}

// ReadChunk decodes chunk i into v.
func (a *Array) ReadChunk(ctx context.Context, i int, v any) error {
	if err := a.requireOpen(); err != nil {
		return err
	}
	name := fmt.Sprintf("%s%06d", chunkBlobPrefix, i)
	data, err := a.sctx.readBlob(ctx, a.uri, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return opErr("read chunk", a.uri, ErrNotFound)
		}
		return opErr("read chunk", a.uri, err)
	}
	raw, err := a.filter.Decode(data)
	if err != nil {
		return opErr("read chunk", a.uri, err)
	}
	if err := a.codec.Unmarshal(raw, v); err != nil {
		return opErr("read chunk", a.uri, err)
	}
	return nil
}

// WriteAux writes a named auxiliary blob verbatim, bypassing codec and
// filter. Used for payloads with their own serialization, e.g. bitmaps.
func (a *Array) WriteAux(ctx context.Context, name string, data []byte) error {
	if err := a.requireWrite(); err != nil {
		return err
	}
	if err := a.sctx.putBlob(ctx, a.uri, auxBlobPrefix+name, data); err != nil {
		return opErr("write aux", a.uri, err)
	}
	return nil
}

// ReadAux reads a named auxiliary blob, or ErrNotFound.
func (a *Array) ReadAux(ctx context.Context, name string) ([]byte, error) {
	if err := a.requireOpen(); err != nil {
		return nil, err
	}
	data, err := a.sctx.readBlob(ctx, a.uri, auxBlobPrefix+name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, opErr("read aux", a.uri, ErrNotFound)
		}
		return nil, opErr("read aux", a.uri, err)
	}
	return data, nil
}
