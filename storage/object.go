package storage

import (
	"context"
	"errors"
)

// ProbeObjectType reports the stored object type tag of whatever lives at
// uri, without constructing a full handle. Groups are checked before arrays
// since a URI holds at most one of the two.
func ProbeObjectType(ctx context.Context, uri string, sctx *Context) (string, error) {
	if ok, err := groupExists(ctx, uri, sctx); err != nil {
		return "", opErr("probe", uri, err)
	} else if ok {
		g := &Group{uri: uri, sctx: sctx, mode: ModeRead, open: true}
		m, err := g.loadLatest(ctx)
		if err != nil {
			return "", opErr("probe", uri, err)
		}
		return m.ObjectType, nil
	}

	desc, err := readDescriptor(ctx, uri, sctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", opErr("probe", uri, ErrNotFound)
		}
		return "", opErr("probe", uri, err)
	}
	return desc.ObjectType, nil
}
