package soma

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/TileDB-Inc/TileDB-SOMA/storage"
)

// Conventional child keys of a measurement. "var" holds the per-variable
// annotation dataframe; the rest are collections of matrices keyed by layer
// name.
const measurementVarKey = "var"

var measurementMatrixKeys = []string{"X", "obsm", "obsp", "varm", "varp"}

// Measurement is a collection with a conventional layout for a single
// modality of an experiment: a "var" dataframe plus X/obsm/obsp/varm/varp
// matrix collections.
type Measurement struct {
	*Collection
}

// CreateMeasurement initializes a measurement at uri, pre-populating its var
// dataframe from varSchema and the five matrix collections, and returns it
// open in write mode.
func CreateMeasurement(ctx context.Context, uri string, sctx *storage.Context, varSchema *storage.ArraySchema, optFns ...Option) (*Measurement, error) {
	opts := applyOptions(optFns)
	sctx, err := resolveContext(sctx, opts)
	if err != nil {
		return nil, err
	}
	return createMeasurement(ctx, uri, sctx, varSchema, opts.logger)
}

func createMeasurement(ctx context.Context, uri string, sctx *storage.Context, varSchema *storage.ArraySchema, logger *Logger) (*Measurement, error) {
	c, err := createCollection(ctx, uri, MeasurementType, sctx, logger)
	if err != nil {
		return nil, err
	}
	m := &Measurement{Collection: c}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		df, err := createDataFrame(gctx, uri+"/"+measurementVarKey, sctx, varSchema, logger)
		if err != nil {
			return err
		}
		return df.Close()
	})
	for _, key := range measurementMatrixKeys {
		key := key
		g.Go(func() error {
			child, err := createCollection(gctx, uri+"/"+key, CollectionType, sctx, logger)
			if err != nil {
				return err
			}
			return child.Close()
		})
	}
	if err := g.Wait(); err != nil {
		_ = m.Close()
		return nil, err
	}

	if err := m.group.AddMember(ctx, measurementVarKey, true, measurementVarKey, DataFrameType); err != nil {
		_ = m.Close()
		return nil, translateError("create", uri, err)
	}
	for _, key := range measurementMatrixKeys {
		if err := m.group.AddMember(ctx, key, true, key, CollectionType); err != nil {
			_ = m.Close()
			return nil, translateError("create", uri, err)
		}
	}
	return m, nil
}

// OpenMeasurement opens the measurement stored at uri. It fails with
// ErrTypeMismatch if the stored object is not tagged as a measurement.
func OpenMeasurement(ctx context.Context, uri string, mode storage.Mode, sctx *storage.Context, optFns ...Option) (*Measurement, error) {
	c, err := OpenCollection(ctx, uri, mode, sctx, optFns...)
	if err != nil {
		return nil, err
	}
	if c.Type() != MeasurementType {
		_ = c.Close()
		return nil, fmt.Errorf("%w: %s stores %q, want %q", ErrTypeMismatch, uri, c.Type(), MeasurementType)
	}
	return &Measurement{Collection: c}, nil
}

// Var returns the variable-annotation dataframe, opened in read mode.
func (m *Measurement) Var(ctx context.Context) (*DataFrame, error) {
	obj, err := m.Get(ctx, measurementVarKey)
	if err != nil {
		return nil, err
	}
	df, ok := obj.(*DataFrame)
	if !ok {
		_ = obj.Close()
		return nil, fmt.Errorf("%w: member %q is a %s, want %s", ErrTypeMismatch, measurementVarKey, obj.Type(), DataFrameType)
	}
	return df, nil
}

// X returns the layer collection for assay matrices, opened in read mode.
func (m *Measurement) X(ctx context.Context) (*Collection, error) {
	obj, err := m.Get(ctx, "X")
	if err != nil {
		return nil, err
	}
	x, ok := obj.(*Collection)
	if !ok {
		_ = obj.Close()
		return nil, fmt.Errorf("%w: member %q is a %s, want %s", ErrTypeMismatch, "X", obj.Type(), CollectionType)
	}
	return x, nil
}
