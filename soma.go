// Package soma provides a heterogeneous, named-member collection abstraction
// layered on a hierarchical storage engine.
//
// A Collection maps string keys to URIs of other stored objects: nested
// collections, tabular dataframes, and dense or sparse ndarrays. Members are
// registered, retrieved, enumerated, and deleted through the collection,
// which resolves each stored entry back into a concrete typed handle on read.
// Experiments and measurements are collections whose creation path
// pre-populates a conventional child layout.
//
// # Quick start
//
//	ctx := context.Background()
//	sctx, err := storage.NewContext(nil)
//	if err != nil {
//		panic(err)
//	}
//
//	c, err := soma.CreateCollection(ctx, "mem://data", sctx)
//	if err != nil {
//		panic(err)
//	}
//	defer c.Close()
//
//	child, err := c.AddNewCollection(ctx, "child", "mem://data/child", true, nil)
//	if err != nil {
//		panic(err)
//	}
//	defer child.Close()
//
//	obj, err := c.Get(ctx, "child")
//	if err != nil {
//		panic(err)
//	}
//	fmt.Println(obj.Type()) // "SOMACollection"
//
// All registry mutations require the collection to be open in write mode;
// reads work in either mode. Collections may be opened at a snapshot
// timestamp, pinning every read to that logical time.
//
// The storage engine itself (URI resolution, group manifests, array chunk
// layout, backends) lives in the storage, blobstore, and codec packages.
package soma

import (
	"context"

	"github.com/TileDB-Inc/TileDB-SOMA/storage"
)

// Stored object type tags. Each concrete kind reports its tag via Type();
// the same strings are recorded in the store and drive polymorphic dispatch
// on retrieval.
const (
	CollectionType    = "SOMACollection"
	ExperimentType    = "SOMAExperiment"
	MeasurementType   = "SOMAMeasurement"
	DataFrameType     = "SOMADataFrame"
	DenseNDArrayType  = "SOMADenseNDArray"
	SparseNDArrayType = "SOMASparseNDArray"
)

// Object is the capability surface shared by every member kind.
//
// Handles returned by Collection.Get are opened in read mode and owned by
// the caller; the parent collection does not keep them open.
type Object interface {
	// Type returns the stored object type tag, e.g. "SOMADataFrame".
	Type() string
	// URI returns the object location.
	URI() string
	// Ctx returns the storage context the object was opened with.
	Ctx() *storage.Context
	// Open re-opens the object in a new mode.
	Open(ctx context.Context, mode storage.Mode) error
	// Close releases the underlying handle. Closing twice is an error.
	Close() error
}

// openMember dispatches a stored kind tag to the matching concrete
// constructor. The kind set is closed: anything else is corrupt metadata,
// never a guess.
func openMember(ctx context.Context, kind, key, uri string, sctx *storage.Context, optFns ...Option) (Object, error) {
	switch kind {
	case CollectionType:
		return OpenCollection(ctx, uri, storage.ModeRead, sctx, optFns...)
	case ExperimentType:
		return OpenExperiment(ctx, uri, storage.ModeRead, sctx, optFns...)
	case MeasurementType:
		return OpenMeasurement(ctx, uri, storage.ModeRead, sctx, optFns...)
	case DataFrameType:
		return OpenDataFrame(ctx, uri, storage.ModeRead, sctx, optFns...)
	case DenseNDArrayType:
		return OpenDenseNDArray(ctx, uri, storage.ModeRead, sctx, optFns...)
	case SparseNDArrayType:
		return OpenSparseNDArray(ctx, uri, storage.ModeRead, sctx, optFns...)
	default:
		return nil, &CorruptMetadataError{Key: key, Kind: kind}
	}
}
