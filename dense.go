package soma

import (
	"context"
	"fmt"

	"github.com/TileDB-Inc/TileDB-SOMA/storage"
)

// DenseNDArray is a fixed-shape numeric member. Each Write commits a full
// snapshot of the array in row-major order; Read returns the most recent
// snapshot.
type DenseNDArray struct {
	arr    *storage.Array
	logger *Logger
}

// CreateDenseNDArray initializes a dense ndarray at uri with the given
// schema and returns it open in write mode.
func CreateDenseNDArray(ctx context.Context, uri string, sctx *storage.Context, schema *storage.ArraySchema, optFns ...Option) (*DenseNDArray, error) {
	opts := applyOptions(optFns)
	sctx, err := resolveContext(sctx, opts)
	if err != nil {
		return nil, err
	}
	return createDenseNDArray(ctx, uri, sctx, schema, opts.logger)
}

func createDenseNDArray(ctx context.Context, uri string, sctx *storage.Context, schema *storage.ArraySchema, logger *Logger) (*DenseNDArray, error) {
	if schema != nil && !schema.IsNDArray() {
		return nil, fmt.Errorf("%w: dataframe schema passed to ndarray create at %s", ErrTypeMismatch, uri)
	}
	arr, err := storage.CreateArray(ctx, uri, DenseNDArrayType, schema, sctx)
	if err != nil {
		return nil, translateError("create", uri, err)
	}
	logger.LogOpen(ctx, uri, storage.ModeWrite, nil)
	return &DenseNDArray{arr: arr, logger: logger}, nil
}

// OpenDenseNDArray opens the dense ndarray stored at uri. It fails with
// ErrTypeMismatch if the stored object is not tagged as a dense ndarray.
func OpenDenseNDArray(ctx context.Context, uri string, mode storage.Mode, sctx *storage.Context, optFns ...Option) (*DenseNDArray, error) {
	opts := applyOptions(optFns)
	sctx, err := resolveContext(sctx, opts)
	if err != nil {
		return nil, err
	}

	arr, err := storage.OpenArray(ctx, uri, mode, sctx)
	if err != nil {
		err = translateError("open", uri, err)
		opts.logger.LogOpen(ctx, uri, mode, err)
		return nil, err
	}
	if arr.ObjectType() != DenseNDArrayType {
		_ = arr.Close()
		return nil, fmt.Errorf("%w: %s stores %q, want %q", ErrTypeMismatch, uri, arr.ObjectType(), DenseNDArrayType)
	}
	opts.logger.LogOpen(ctx, uri, mode, nil)
	return &DenseNDArray{arr: arr, logger: opts.logger}, nil
}

// Type returns "SOMADenseNDArray".
func (a *DenseNDArray) Type() string { return DenseNDArrayType }

// URI returns the array location.
func (a *DenseNDArray) URI() string { return a.arr.URI() }

// Ctx returns the storage context.
func (a *DenseNDArray) Ctx() *storage.Context { return a.arr.Context() }

// Shape returns the fixed dimension extents.
func (a *DenseNDArray) Shape() []int64 { return a.arr.Schema().Shape }

// Open re-opens the array in a new mode.
func (a *DenseNDArray) Open(ctx context.Context, mode storage.Mode) error {
	if err := a.arr.Reopen(ctx, mode); err != nil {
		return translateError("open", a.arr.URI(), err)
	}
	a.logger.LogOpen(ctx, a.arr.URI(), mode, nil)
	return nil
}

// Close releases the handle. Closing twice is an error.
func (a *DenseNDArray) Close() error {
	err := translateError("close", a.arr.URI(), a.arr.Close())
	a.logger.LogClose(a.arr.URI(), err)
	return err
}

// Write commits a full snapshot of the array. The value slice is the
// row-major flattening of the shape and must match the cell count exactly.
func (a *DenseNDArray) Write(ctx context.Context, values []float64) error {
	want := a.arr.Schema().NumCells()
	if int64(len(values)) != want {
		return &ShapeMismatchError{Expected: want, Actual: int64(len(values))}
	}
	return translateError("write", a.arr.URI(), a.arr.WriteChunk(ctx, values))
}

// Read returns the most recent snapshot in row-major order, or ErrNotFound
// if the array has never been written.
func (a *DenseNDArray) Read(ctx context.Context) ([]float64, error) {
	n, err := a.arr.ChunkCount(ctx)
	if err != nil {
		return nil, translateError("read", a.arr.URI(), err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: dense ndarray %s has no data", ErrNotFound, a.arr.URI())
	}
	var values []float64
	if err := a.arr.ReadChunk(ctx, n-1, &values); err != nil {
		return nil, translateError("read", a.arr.URI(), err)
	}
	return values, nil
}
