package soma

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/TileDB-Inc/TileDB-SOMA/storage"
)

// Conventional child keys of an experiment.
const (
	experimentObsKey = "obs"
	experimentMsKey  = "ms"
)

// Experiment is a collection with a conventional layout for annotated
// matrices: an "obs" dataframe describing observations and an "ms"
// collection of named measurements.
type Experiment struct {
	*Collection
}

// CreateExperiment initializes an experiment at uri, pre-populating its obs
// dataframe from obsSchema and an empty ms collection, and returns it open
// in write mode.
func CreateExperiment(ctx context.Context, uri string, sctx *storage.Context, obsSchema *storage.ArraySchema, optFns ...Option) (*Experiment, error) {
	opts := applyOptions(optFns)
	sctx, err := resolveContext(sctx, opts)
	if err != nil {
		return nil, err
	}
	return createExperiment(ctx, uri, sctx, obsSchema, opts.logger)
}

func createExperiment(ctx context.Context, uri string, sctx *storage.Context, obsSchema *storage.ArraySchema, logger *Logger) (*Experiment, error) {
	c, err := createCollection(ctx, uri, ExperimentType, sctx, logger)
	if err != nil {
		return nil, err
	}
	e := &Experiment{Collection: c}

	// Children are independent objects and can be laid down concurrently.
	// Registration below stays serial: group commits are read-modify-write.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		df, err := createDataFrame(gctx, uri+"/"+experimentObsKey, sctx, obsSchema, logger)
		if err != nil {
			return err
		}
		return df.Close()
	})
	g.Go(func() error {
		ms, err := createCollection(gctx, uri+"/"+experimentMsKey, CollectionType, sctx, logger)
		if err != nil {
			return err
		}
		return ms.Close()
	})
	if err := g.Wait(); err != nil {
		_ = e.Close()
		return nil, err
	}

	if err := e.group.AddMember(ctx, experimentObsKey, true, experimentObsKey, DataFrameType); err != nil {
		_ = e.Close()
		return nil, translateError("create", uri, err)
	}
	if err := e.group.AddMember(ctx, experimentMsKey, true, experimentMsKey, CollectionType); err != nil {
		_ = e.Close()
		return nil, translateError("create", uri, err)
	}
	return e, nil
}

// OpenExperiment opens the experiment stored at uri. It fails with
// ErrTypeMismatch if the stored object is not tagged as an experiment.
func OpenExperiment(ctx context.Context, uri string, mode storage.Mode, sctx *storage.Context, optFns ...Option) (*Experiment, error) {
	c, err := OpenCollection(ctx, uri, mode, sctx, optFns...)
	if err != nil {
		return nil, err
	}
	if c.Type() != ExperimentType {
		_ = c.Close()
		return nil, fmt.Errorf("%w: %s stores %q, want %q", ErrTypeMismatch, uri, c.Type(), ExperimentType)
	}
	return &Experiment{Collection: c}, nil
}

// Obs returns the observation-annotation dataframe, opened in read mode.
func (e *Experiment) Obs(ctx context.Context) (*DataFrame, error) {
	obj, err := e.Get(ctx, experimentObsKey)
	if err != nil {
		return nil, err
	}
	df, ok := obj.(*DataFrame)
	if !ok {
		_ = obj.Close()
		return nil, fmt.Errorf("%w: member %q is a %s, want %s", ErrTypeMismatch, experimentObsKey, obj.Type(), DataFrameType)
	}
	return df, nil
}

// Ms returns the measurement collection, opened in read mode.
func (e *Experiment) Ms(ctx context.Context) (*Collection, error) {
	obj, err := e.Get(ctx, experimentMsKey)
	if err != nil {
		return nil, err
	}
	ms, ok := obj.(*Collection)
	if !ok {
		_ = obj.Close()
		return nil, fmt.Errorf("%w: member %q is a %s, want %s", ErrTypeMismatch, experimentMsKey, obj.Type(), CollectionType)
	}
	return ms, nil
}
