package soma

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/TileDB-Inc/TileDB-SOMA/storage"
)

const nnzAuxName = "nnz"

// SparseNDArray is a fixed-shape numeric member storing only occupied cells.
// Writes accumulate as coordinate batches; within a cell, the last written
// value wins. Occupancy is tracked in a compressed bitmap over row-major
// flattened coordinates so NNZ never scans the data chunks.
type SparseNDArray struct {
	arr    *storage.Array
	logger *Logger
}

// spChunk is one write batch: parallel slices of flattened cell indices and
// their values.
type spChunk struct {
	Indices []uint64  `json:"indices" msgpack:"indices"`
	Values  []float64 `json:"values" msgpack:"values"`
}

// CreateSparseNDArray initializes a sparse ndarray at uri with the given
// schema and returns it open in write mode.
func CreateSparseNDArray(ctx context.Context, uri string, sctx *storage.Context, schema *storage.ArraySchema, optFns ...Option) (*SparseNDArray, error) {
	opts := applyOptions(optFns)
	sctx, err := resolveContext(sctx, opts)
	if err != nil {
		return nil, err
	}
	return createSparseNDArray(ctx, uri, sctx, schema, opts.logger)
}

func createSparseNDArray(ctx context.Context, uri string, sctx *storage.Context, schema *storage.ArraySchema, logger *Logger) (*SparseNDArray, error) {
	if schema != nil && !schema.IsNDArray() {
		return nil, fmt.Errorf("%w: dataframe schema passed to ndarray create at %s", ErrTypeMismatch, uri)
	}
	arr, err := storage.CreateArray(ctx, uri, SparseNDArrayType, schema, sctx)
	if err != nil {
		return nil, translateError("create", uri, err)
	}
	logger.LogOpen(ctx, uri, storage.ModeWrite, nil)
	return &SparseNDArray{arr: arr, logger: logger}, nil
}

// OpenSparseNDArray opens the sparse ndarray stored at uri. It fails with
// ErrTypeMismatch if the stored object is not tagged as a sparse ndarray.
func OpenSparseNDArray(ctx context.Context, uri string, mode storage.Mode, sctx *storage.Context, optFns ...Option) (*SparseNDArray, error) {
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
	if arr.ObjectType() != SparseNDArrayType {
		_ = arr.Close()
		return nil, fmt.Errorf("%w: %s stores %q, want %q", ErrTypeMismatch, uri, arr.ObjectType(), SparseNDArrayType)
	}
	opts.logger.LogOpen(ctx, uri, mode, nil)
	return &SparseNDArray{arr: arr, logger: opts.logger}, nil
}

// Type returns "SOMASparseNDArray".
func (a *SparseNDArray) Type() string { return SparseNDArrayType }

// URI returns the array location.
func (a *SparseNDArray) URI() string { return a.arr.URI() }

// Ctx returns the storage context.
func (a *SparseNDArray) Ctx() *storage.Context { return a.arr.Context() }

// Shape returns the fixed dimension extents.
func (a *SparseNDArray) Shape() []int64 { return a.arr.Schema().Shape }

// Open re-opens the array in a new mode.
func (a *SparseNDArray) Open(ctx context.Context, mode storage.Mode) error {
	if err := a.arr.Reopen(ctx, mode); err != nil {
		return translateError("open", a.arr.URI(), err)
	}
	a.logger.LogOpen(ctx, a.arr.URI(), mode, nil)
	return nil
}

// Close releases the handle. Closing twice is an error.
func (a *SparseNDArray) Close() error {
	err := translateError("close", a.arr.URI(), a.arr.Close())
	a.logger.LogClose(a.arr.URI(), err)
	return err
}

// flatten maps a coordinate tuple to its row-major index, validating bounds.
func (a *SparseNDArray) flatten(coord []int64) (uint64, error) {
	shape := a.arr.Schema().Shape
	if len(coord) != len(shape) {
		return 0, &ShapeMismatchError{Expected: int64(len(shape)), Actual: int64(len(coord))}
	}
	var idx uint64
	for d, c := range coord {
		if c < 0 || c >= shape[d] {
			return 0, fmt.Errorf("soma: coordinate %d out of bounds [0,%d) in dimension %d of %s", c, shape[d], d, a.arr.URI())
		}
		idx = idx*uint64(shape[d]) + uint64(c)
	}
	return idx, nil
}

// unflatten is the inverse of flatten.
func (a *SparseNDArray) unflatten(idx uint64) []int64 {
	shape := a.arr.Schema().Shape
	coord := make([]int64, len(shape))
	for d := len(shape) - 1; d >= 0; d-- {
		coord[d] = int64(idx % uint64(shape[d]))
		idx /= uint64(shape[d])
	}
	return coord
}

// Write commits a batch of cell assignments. coords[i] addresses the cell
// receiving values[i]; all coordinates are bounds-checked before anything is
// written. Re-writing an occupied cell overwrites its value.
func (a *SparseNDArray) Write(ctx context.Context, coords [][]int64, values []float64) error {
	if len(coords) != len(values) {
		return fmt.Errorf("soma: write %s: %d coordinates for %d values", a.arr.URI(), len(coords), len(values))
	}
	if len(coords) == 0 {
		return nil
	}

	chunk := spChunk{
		Indices: make([]uint64, len(coords)),
		Values:  values,
	}
	for i, coord := range coords {
		idx, err := a.flatten(coord)
		if err != nil {
			return err
		}
		chunk.Indices[i] = idx
	}

	if err := a.arr.WriteChunk(ctx, chunk); err != nil {
		return translateError("write", a.arr.URI(), err)
	}

	bm, err := a.readBitmap(ctx)
	if err != nil {
		return err
	}
	bm.AddMany(chunk.Indices)
	return a.writeBitmap(ctx, bm)
}

// NNZ returns the number of occupied cells.
func (a *SparseNDArray) NNZ(ctx context.Context) (uint64, error) {
	bm, err := a.readBitmap(ctx)
	if err != nil {
		return 0, err
	}
	return bm.GetCardinality(), nil
}

// Read returns all occupied cells in row-major coordinate order. Each cell
// carries the value most recently written to it.
func (a *SparseNDArray) Read(ctx context.Context) ([][]int64, []float64, error) {
	n, err := a.arr.ChunkCount(ctx)
	if err != nil {
		return nil, nil, translateError("read", a.arr.URI(), err)
	}

	cells := make(map[uint64]float64)
	for i := 0; i < n; i++ {
		var chunk spChunk
		if err := a.arr.ReadChunk(ctx, i, &chunk); err != nil {
			return nil, nil, translateError("read", a.arr.URI(), err)
		}
		for j, idx := range chunk.Indices {
			cells[idx] = chunk.Values[j]
		}
	}

	indices := make([]uint64, 0, len(cells))
	for idx := range cells {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	coords := make([][]int64, len(indices))
	values := make([]float64, len(indices))
	for i, idx := range indices {
		coords[i] = a.unflatten(idx)
		values[i] = cells[idx]
	}
	return coords, values, nil
}

func (a *SparseNDArray) readBitmap(ctx context.Context) (*roaring64.Bitmap, error) {
	data, err := a.arr.ReadAux(ctx, nnzAuxName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return roaring64.New(), nil
		}
		return nil, translateError("read nnz", a.arr.URI(), err)
	}
	bm := roaring64.New()
	if _, err := bm.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("soma: decode occupancy bitmap of %s: %w", a.arr.URI(), err)
	}
	return bm, nil
}

func (a *SparseNDArray) writeBitmap(ctx context.Context, bm *roaring64.Bitmap) error {
	var buf bytes.Buffer
	if _, err := bm.WriteTo(&buf); err != nil {
		return fmt.Errorf("soma: encode occupancy bitmap of %s: %w", a.arr.URI(), err)
	}
	return translateError("write nnz", a.arr.URI(), a.arr.WriteAux(ctx, nnzAuxName, buf.Bytes()))
}
