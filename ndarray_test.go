package soma

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TileDB-Inc/TileDB-SOMA/storage"
)

func TestDenseNDArrayWriteRead(t *testing.T) {
	ctx := context.Background()
	sctx := newTestContext(t)

	a, err := CreateDenseNDArray(ctx, "mem://dn", sctx,
		storage.NDArraySchema(storage.TypeFloat64, 2, 3))
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []int64{2, 3}, a.Shape())

	_, err = a.Read(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	first := []float64{1, 2, 3, 4, 5, 6}
	require.NoError(t, a.Write(ctx, first))

	got, err := a.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	// A second write supersedes the first snapshot.
	second := []float64{6, 5, 4, 3, 2, 1}
	require.NoError(t, a.Write(ctx, second))

	got, err = a.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestDenseNDArrayShapeMismatch(t *testing.T) {
	ctx := context.Background()
	sctx := newTestContext(t)

	a, err := CreateDenseNDArray(ctx, "mem://dn", sctx,
		storage.NDArraySchema(storage.TypeFloat64, 2, 2))
	require.NoError(t, err)
	defer a.Close()

	err = a.Write(ctx, []float64{1, 2, 3})
	require.Error(t, err)

	var sme *ShapeMismatchError
	require.ErrorAs(t, err, &sme)
	assert.Equal(t, int64(4), sme.Expected)
	assert.Equal(t, int64(3), sme.Actual)
}

func TestSparseNDArrayWriteRead(t *testing.T) {
	ctx := context.Background()
	sctx := newTestContext(t)

	a, err := CreateSparseNDArray(ctx, "mem://sp", sctx,
		storage.NDArraySchema(storage.TypeFloat64, 4, 4))
	require.NoError(t, err)
	defer a.Close()

	nnz, err := a.NNZ(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nnz)

	require.NoError(t, a.Write(ctx,
		[][]int64{{0, 0}, {1, 2}, {3, 3}},
		[]float64{1.0, 2.0, 3.0}))

	nnz, err = a.NNZ(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), nnz)

	coords, values, err := a.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 0}, {1, 2}, {3, 3}}, coords)
	assert.Equal(t, []float64{1.0, 2.0, 3.0}, values)
}

func TestSparseNDArrayOverwriteCell(t *testing.T) {
	ctx := context.Background()
	sctx := newTestContext(t)

	a, err := CreateSparseNDArray(ctx, "mem://sp", sctx,
		storage.NDArraySchema(storage.TypeFloat64, 4, 4))
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Write(ctx, [][]int64{{1, 1}}, []float64{1.0}))
	require.NoError(t, a.Write(ctx, [][]int64{{1, 1}}, []float64{9.0}))

	// Re-writing a cell replaces its value without growing NNZ.
	nnz, err := a.NNZ(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nnz)

	coords, values, err := a.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{1, 1}}, coords)
	assert.Equal(t, []float64{9.0}, values)
}

func TestSparseNDArrayBounds(t *testing.T) {
	ctx := context.Background()
	sctx := newTestContext(t)

	a, err := CreateSparseNDArray(ctx, "mem://sp", sctx,
		storage.NDArraySchema(storage.TypeFloat64, 4, 4))
	require.NoError(t, err)
	defer a.Close()

	err = a.Write(ctx, [][]int64{{4, 0}}, []float64{1.0})
	assert.Error(t, err)

	err = a.Write(ctx, [][]int64{{0, -1}}, []float64{1.0})
	assert.Error(t, err)

	err = a.Write(ctx, [][]int64{{0}}, []float64{1.0})
	assert.Error(t, err)

	err = a.Write(ctx, [][]int64{{0, 0}}, []float64{1.0, 2.0})
	assert.Error(t, err)

	nnz, err := a.NNZ(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nnz)
}

func TestSparseNDArrayReopenPersists(t *testing.T) {
	ctx := context.Background()
	sctx := newTestContext(t)

	a, err := CreateSparseNDArray(ctx, "mem://sp", sctx,
		storage.NDArraySchema(storage.TypeFloat64, 8, 8))
	require.NoError(t, err)
	require.NoError(t, a.Write(ctx, [][]int64{{7, 7}}, []float64{42.0}))
	require.NoError(t, a.Close())

	reopened, err := OpenSparseNDArray(ctx, "mem://sp", storage.ModeRead, sctx)
	require.NoError(t, err)
	defer reopened.Close()

	nnz, err := reopened.NNZ(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nnz)

	coords, values, err := reopened.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{7, 7}}, coords)
	assert.Equal(t, []float64{42.0}, values)
}
