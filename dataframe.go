package soma

import (
	"context"
	"fmt"
	"math"

	"github.com/TileDB-Inc/TileDB-SOMA/storage"
)

// DataFrame is a tabular member: rows of typed attribute values keyed by an
// index column. Appends accumulate as immutable chunks; reads concatenate
// all chunks in write order.
type DataFrame struct {
	arr    *storage.Array
	logger *Logger
}

// dfChunk is the payload of one append batch.
type dfChunk struct {
	Rows []map[string]any `json:"rows" msgpack:"rows"`
}

// CreateDataFrame initializes a dataframe at uri with the given schema and
// returns it open in write mode. The schema must be tabular, not ndarray.
func CreateDataFrame(ctx context.Context, uri string, sctx *storage.Context, schema *storage.ArraySchema, optFns ...Option) (*DataFrame, error) {
	opts := applyOptions(optFns)
	sctx, err := resolveContext(sctx, opts)
	if err != nil {
		return nil, err
	}
	return createDataFrame(ctx, uri, sctx, schema, opts.logger)
}

func createDataFrame(ctx context.Context, uri string, sctx *storage.Context, schema *storage.ArraySchema, logger *Logger) (*DataFrame, error) {
	if schema != nil && schema.IsNDArray() {
		return nil, fmt.Errorf("%w: ndarray schema passed to dataframe create at %s", ErrTypeMismatch, uri)
	}
	arr, err := storage.CreateArray(ctx, uri, DataFrameType, schema, sctx)
	if err != nil {
		return nil, translateError("create", uri, err)
	}
	logger.LogOpen(ctx, uri, storage.ModeWrite, nil)
	return &DataFrame{arr: arr, logger: logger}, nil
}

// OpenDataFrame opens the dataframe stored at uri. It fails with
// ErrTypeMismatch if the stored object is not tagged as a dataframe.
func OpenDataFrame(ctx context.Context, uri string, mode storage.Mode, sctx *storage.Context, optFns ...Option) (*DataFrame, error) {
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
	if arr.ObjectType() != DataFrameType {
		_ = arr.Close()
		return nil, fmt.Errorf("%w: %s stores %q, want %q", ErrTypeMismatch, uri, arr.ObjectType(), DataFrameType)
	}
	opts.logger.LogOpen(ctx, uri, mode, nil)
	return &DataFrame{arr: arr, logger: opts.logger}, nil
}

// Type returns "SOMADataFrame".
func (df *DataFrame) Type() string { return DataFrameType }

// URI returns the dataframe location.
func (df *DataFrame) URI() string { return df.arr.URI() }

// Ctx returns the storage context.
func (df *DataFrame) Ctx() *storage.Context { return df.arr.Context() }

// Schema returns the dataframe schema.
func (df *DataFrame) Schema() *storage.ArraySchema { return df.arr.Schema() }

// Open re-opens the dataframe in a new mode.
func (df *DataFrame) Open(ctx context.Context, mode storage.Mode) error {
	if err := df.arr.Reopen(ctx, mode); err != nil {
		return translateError("open", df.arr.URI(), err)
	}
	df.logger.LogOpen(ctx, df.arr.URI(), mode, nil)
	return nil
}

// Close releases the handle. Closing twice is an error.
func (df *DataFrame) Close() error {
	err := translateError("close", df.arr.URI(), df.arr.Close())
	df.logger.LogClose(df.arr.URI(), err)
	return err
}

// Append writes a batch of rows as one chunk. Every row must carry the index
// column and only declared columns, and declared column values must fit their
// column type; violations fail the whole batch before anything is written.
// The caller's maps are not modified.
func (df *DataFrame) Append(ctx context.Context, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	schema := df.arr.Schema()
	normalized := make([]map[string]any, len(rows))
	for i, row := range rows {
		if _, ok := row[schema.IndexColumn]; !ok {
			return fmt.Errorf("soma: append %s: row %d missing index column %q", df.arr.URI(), i, schema.IndexColumn)
		}
		out := make(map[string]any, len(row))
		for name, v := range row {
			if name == schema.IndexColumn {
				out[name] = v
				continue
			}
			ct, ok := columnTypeOf(schema, name)
			if !ok {
				return fmt.Errorf("soma: append %s: row %d has undeclared column %q", df.arr.URI(), i, name)
			}
			cv, err := coerceValue(ct, v)
			if err != nil {
				return fmt.Errorf("soma: append %s: row %d column %q: %w", df.arr.URI(), i, name, err)
			}
			out[name] = cv
		}
		normalized[i] = out
	}
	return translateError("append", df.arr.URI(), df.arr.WriteChunk(ctx, dfChunk{Rows: normalized}))
}

// Rows reads back all appended rows, concatenated in append order. Declared
// column values carry the Go type matching their column type regardless of
// the codec the chunks were stored with; index column values are returned as
// the codec decoded them.
func (df *DataFrame) Rows(ctx context.Context) ([]map[string]any, error) {
	n, err := df.arr.ChunkCount(ctx)
	if err != nil {
		return nil, translateError("rows", df.arr.URI(), err)
	}
	schema := df.arr.Schema()
	var out []map[string]any
	for i := 0; i < n; i++ {
		var chunk dfChunk
		if err := df.arr.ReadChunk(ctx, i, &chunk); err != nil {
			return nil, translateError("rows", df.arr.URI(), err)
		}
		for _, row := range chunk.Rows {
			for name, v := range row {
				ct, ok := columnTypeOf(schema, name)
				if !ok {
					continue
				}
				cv, err := coerceValue(ct, v)
				if err != nil {
					return nil, fmt.Errorf("soma: rows %s: column %q: %w", df.arr.URI(), name, err)
				}
				row[name] = cv
			}
		}
		out = append(out, chunk.Rows...)
	}
	return out, nil
}

func columnTypeOf(s *storage.ArraySchema, name string) (storage.ColumnType, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c.Type, true
		}
	}
	return "", false
}

// coerceValue checks v against the column type and normalizes it to the
// matching Go type. Codecs differ in how they decode numbers (JSON yields
// float64, msgpack preserves widths), so both the write and the read path
// funnel values through here to keep readback types codec-independent.
func coerceValue(ct storage.ColumnType, v any) (any, error) {
	switch ct {
	case storage.TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case storage.TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case storage.TypeInt32:
		if n, ok := toInt64(v); ok && n >= math.MinInt32 && n <= math.MaxInt32 {
			return int32(n), nil
		}
	case storage.TypeInt64:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	case storage.TypeFloat32:
		if f, ok := toFloat64(v); ok {
			return float32(f), nil
		}
	case storage.TypeFloat64:
		if f, ok := toFloat64(v); ok {
			return f, nil
		}
	}
	return nil, fmt.Errorf("value %v (%T) does not fit column type %q", v, v, ct)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return toInt64(float64(n))
	case float64:
		if math.Trunc(n) != n || n < math.MinInt64 || n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		if i, ok := toInt64(v); ok {
			return float64(i), true
		}
	}
	return 0, false
}
