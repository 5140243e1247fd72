package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext(t *testing.T, cfg map[string]string) *Context {
	t.Helper()
	sctx, err := NewContext(cfg)
	require.NoError(t, err)
	return sctx
}

func TestGroupCreateOpen(t *testing.T) {
	ctx := context.Background()
	sctx := newContext(t, nil)

	require.NoError(t, CreateGroup(ctx, "mem://g", "SOMACollection", sctx))

	err := CreateGroup(ctx, "mem://g", "SOMACollection", sctx)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	g, err := OpenGroup(ctx, "mem://g", ModeRead, sctx, 0)
	require.NoError(t, err)
	defer g.Close()

	typ, err := g.ObjectType(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SOMACollection", typ)

	n, err := g.MemberCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	_, err = OpenGroup(ctx, "mem://absent", ModeRead, sctx, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGroupMembers(t *testing.T) {
	ctx := context.Background()
	sctx := newContext(t, nil)

	require.NoError(t, CreateGroup(ctx, "mem://g", "SOMACollection", sctx))
	g, err := OpenGroup(ctx, "mem://g", ModeWrite, sctx, 0)
	require.NoError(t, err)
	defer g.Close()

	require.NoError(t, g.AddMember(ctx, "mem://g/a", true, "a", "SOMADataFrame"))
	require.NoError(t, g.AddMember(ctx, "mem://other/b", false, "b", ""))

	m, err := g.Member(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, Member{Key: "a", URI: "mem://g/a", Relative: true, Kind: "SOMADataFrame"}, m)

	_, err = g.Member(ctx, "absent")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// Same key replaces the entry in place.
	require.NoError(t, g.AddMember(ctx, "mem://g/a2", true, "a", ""))
	m, err = g.Member(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "mem://g/a2", m.URI)

	members, err := g.Members(ctx)
	require.NoError(t, err)
	require.Len(t, members, 2)

	require.NoError(t, g.RemoveMember(ctx, "b"))
	err = g.RemoveMember(ctx, "b")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	n, err := g.MemberCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestGroupModeEnforcement(t *testing.T) {
	ctx := context.Background()
	sctx := newContext(t, nil)

	require.NoError(t, CreateGroup(ctx, "mem://g", "SOMACollection", sctx))
	g, err := OpenGroup(ctx, "mem://g", ModeRead, sctx, 0)
	require.NoError(t, err)
	defer g.Close()

	err = g.AddMember(ctx, "mem://g/a", true, "a", "")
	assert.ErrorIs(t, err, ErrClosed)
	err = g.RemoveMember(ctx, "a")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestGroupCloseTwice(t *testing.T) {
	ctx := context.Background()
	sctx := newContext(t, nil)

	require.NoError(t, CreateGroup(ctx, "mem://g", "SOMACollection", sctx))
	g, err := OpenGroup(ctx, "mem://g", ModeRead, sctx, 0)
	require.NoError(t, err)

	require.NoError(t, g.Close())
	assert.ErrorIs(t, g.Close(), ErrClosed)

	_, err = g.MemberCount(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, g.Reopen(ctx, ModeWrite, 0))
	require.NoError(t, g.AddMember(ctx, "mem://g/a", true, "a", ""))
	require.NoError(t, g.Close())
}

func TestGroupTimestampPin(t *testing.T) {
	ctx := context.Background()
	sctx := newContext(t, nil)

	require.NoError(t, CreateGroup(ctx, "mem://g", "SOMACollection", sctx))
	g, err := OpenGroup(ctx, "mem://g", ModeWrite, sctx, 0)
	require.NoError(t, err)
	defer g.Close()

	require.NoError(t, g.AddMember(ctx, "mem://g/a", true, "a", ""))

	time.Sleep(5 * time.Millisecond)
	pin := uint64(time.Now().UnixMilli())
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, g.AddMember(ctx, "mem://g/b", true, "b", ""))

	pinned, err := OpenGroup(ctx, "mem://g", ModeRead, sctx, pin)
	require.NoError(t, err)
	defer pinned.Close()

	n, err := pinned.MemberCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	_, err = pinned.Member(ctx, "b")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// A pin before the group existed behaves like not found.
	_, err = OpenGroup(ctx, "mem://g", ModeRead, sctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	// Mutations on a pinned handle still act on the latest manifest.
	pinnedW, err := OpenGroup(ctx, "mem://g", ModeWrite, sctx, pin)
	require.NoError(t, err)
	defer pinnedW.Close()
	require.NoError(t, pinnedW.AddMember(ctx, "mem://g/c", true, "c", ""))

	latest, err := OpenGroup(ctx, "mem://g", ModeRead, sctx, 0)
	require.NoError(t, err)
	defer latest.Close()
	n, err = latest.MemberCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
}

func TestGroupOpenArrayURI(t *testing.T) {
	ctx := context.Background()
	sctx := newContext(t, nil)

	_, err := CreateArray(ctx, "mem://arr", "SOMADataFrame",
		DataFrameSchema("id", Column{Name: "v", Type: TypeInt64}), sctx)
	require.NoError(t, err)

	_, err = OpenGroup(ctx, "mem://arr", ModeRead, sctx, 0)
	assert.ErrorIs(t, err, ErrWrongObjectType)
}

func TestGroupMsgpackCodec(t *testing.T) {
	ctx := context.Background()
	sctx := newContext(t, map[string]string{ConfigCodec: "msgpack"})

	require.NoError(t, CreateGroup(ctx, "mem://g", "SOMACollection", sctx))
	g, err := OpenGroup(ctx, "mem://g", ModeWrite, sctx, 0)
	require.NoError(t, err)
	defer g.Close()

	require.NoError(t, g.AddMember(ctx, "mem://g/a", true, "a", "SOMACollection"))

	m, err := g.Member(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "SOMACollection", m.Kind)
}

func TestProbeObjectType(t *testing.T) {
	ctx := context.Background()
	sctx := newContext(t, nil)

	require.NoError(t, CreateGroup(ctx, "mem://g", "SOMAExperiment", sctx))
	_, err := CreateArray(ctx, "mem://arr", "SOMADenseNDArray",
		NDArraySchema(TypeFloat64, 2, 2), sctx)
	require.NoError(t, err)

	typ, err := ProbeObjectType(ctx, "mem://g", sctx)
	require.NoError(t, err)
	assert.Equal(t, "SOMAExperiment", typ)

	typ, err = ProbeObjectType(ctx, "mem://arr", sctx)
	require.NoError(t, err)
	assert.Equal(t, "SOMADenseNDArray", typ)

	_, err = ProbeObjectType(ctx, "mem://absent", sctx)
	assert.ErrorIs(t, err, ErrNotFound)
}
