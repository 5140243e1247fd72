package soma

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TileDB-Inc/TileDB-SOMA/storage"
)

func TestDataFrameAppendAndRows(t *testing.T) {
	ctx := context.Background()
	sctx := newTestContext(t)

	df, err := CreateDataFrame(ctx, "mem://df", sctx,
		storage.DataFrameSchema("id",
			storage.Column{Name: "label", Type: storage.TypeString},
			storage.Column{Name: "score", Type: storage.TypeFloat64},
		))
	require.NoError(t, err)
	defer df.Close()

	require.NoError(t, df.Append(ctx, []map[string]any{
		{"id": "a", "label": "first", "score": 0.5},
		{"id": "b", "label": "second", "score": 1.5},
	}))
	require.NoError(t, df.Append(ctx, []map[string]any{
		{"id": "c", "label": "third", "score": 2.5},
	}))

	rows, err := df.Rows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[0]["id"])
	assert.Equal(t, "third", rows[2]["label"])
	assert.Equal(t, 2.5, rows[2]["score"])
}

func TestDataFrameAppendValidation(t *testing.T) {
	ctx := context.Background()
	sctx := newTestContext(t)

	df, err := CreateDataFrame(ctx, "mem://df", sctx,
		storage.DataFrameSchema("id", storage.Column{Name: "label", Type: storage.TypeString}))
	require.NoError(t, err)
	defer df.Close()

	err = df.Append(ctx, []map[string]any{{"label": "no index"}})
	assert.Error(t, err)

	err = df.Append(ctx, []map[string]any{{"id": "a", "bogus": 1}})
	assert.Error(t, err)

	// Failed batches leave nothing behind.
	rows, err := df.Rows(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, df.Append(ctx, nil))
}

func TestDataFrameColumnTypesPreserved(t *testing.T) {
	ctx := context.Background()

	schema := storage.DataFrameSchema("id",
		storage.Column{Name: "flag", Type: storage.TypeBool},
		storage.Column{Name: "small", Type: storage.TypeInt32},
		storage.Column{Name: "big", Type: storage.TypeInt64},
		storage.Column{Name: "ratio", Type: storage.TypeFloat32},
		storage.Column{Name: "score", Type: storage.TypeFloat64},
		storage.Column{Name: "label", Type: storage.TypeString},
	)
	row := map[string]any{
		"id": "a", "flag": true, "small": 7, "big": int64(1) << 40,
		"ratio": float32(0.5), "score": 2.5, "label": "x",
	}

	// Readback types must not depend on the codec the chunks were stored with.
	for _, cfg := range []map[string]string{
		nil,
		{storage.ConfigCodec: "msgpack"},
	} {
		sctx, err := storage.NewContext(cfg)
		require.NoError(t, err)

		df, err := CreateDataFrame(ctx, "mem://df", sctx, schema)
		require.NoError(t, err)
		require.NoError(t, df.Append(ctx, []map[string]any{row}))

		rows, err := df.Rows(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, true, rows[0]["flag"])
		assert.Equal(t, int32(7), rows[0]["small"])
		assert.Equal(t, int64(1)<<40, rows[0]["big"])
		assert.Equal(t, float32(0.5), rows[0]["ratio"])
		assert.Equal(t, 2.5, rows[0]["score"])
		assert.Equal(t, "x", rows[0]["label"])
		require.NoError(t, df.Close())
	}
}

func TestDataFrameAppendRejectsWrongTypes(t *testing.T) {
	ctx := context.Background()
	sctx := newTestContext(t)

	df, err := CreateDataFrame(ctx, "mem://df", sctx,
		storage.DataFrameSchema("id",
			storage.Column{Name: "n", Type: storage.TypeInt64},
			storage.Column{Name: "small", Type: storage.TypeInt32},
		))
	require.NoError(t, err)
	defer df.Close()

	err = df.Append(ctx, []map[string]any{{"id": "a", "n": "not a number"}})
	assert.Error(t, err)

	err = df.Append(ctx, []map[string]any{{"id": "a", "n": 1.5}})
	assert.Error(t, err)

	err = df.Append(ctx, []map[string]any{{"id": "a", "small": int64(1) << 40}})
	assert.Error(t, err)

	// Integral floats fit integer columns (JSON round-trips produce them).
	require.NoError(t, df.Append(ctx, []map[string]any{{"id": "a", "n": float64(3)}}))
	rows, err := df.Rows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0]["n"])
}

func TestDataFrameReopenPersists(t *testing.T) {
	ctx := context.Background()
	sctx := newTestContext(t)

	df, err := CreateDataFrame(ctx, "mem://df", sctx,
		storage.DataFrameSchema("id", storage.Column{Name: "label", Type: storage.TypeString}))
	require.NoError(t, err)
	require.NoError(t, df.Append(ctx, []map[string]any{{"id": "a", "label": "x"}}))
	require.NoError(t, df.Close())

	reopened, err := OpenDataFrame(ctx, "mem://df", storage.ModeRead, sctx)
	require.NoError(t, err)
	defer reopened.Close()

	rows, err := reopened.Rows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "x", rows[0]["label"])
}

func TestOpenDataFrameWrongKind(t *testing.T) {
	ctx := context.Background()
	sctx := newTestContext(t)

	c, err := CreateCollection(ctx, "mem://c", sctx)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = OpenDataFrame(ctx, "mem://c", storage.ModeRead, sctx)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestCreateDataFrameRejectsNDArraySchema(t *testing.T) {
	ctx := context.Background()
	sctx := newTestContext(t)

	_, err := CreateDataFrame(ctx, "mem://df", sctx,
		storage.NDArraySchema(storage.TypeFloat64, 2, 2))
	assert.ErrorIs(t, err, ErrTypeMismatch)
}
