package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/TileDB-Inc/TileDB-SOMA/blobstore"
)

const (
	groupMetaDir          = "__meta"
	manifestBlobPrefix    = "MANIFEST-"
	currentBlobName       = "CURRENT"
	manifestFormatVersion = 1
)

// Member is one (key, uri, relative) registration in a group's entry list.
// Kind caches the stored object type of the member when it was known at
// registration time; an empty Kind means the member must be probed.
type Member struct {
	Key      string `json:"key" msgpack:"key"`
	URI      string `json:"uri" msgpack:"uri"`
	Relative bool   `json:"relative" msgpack:"relative"`
	Kind     string `json:"kind,omitempty" msgpack:"kind,omitempty"`
}

// groupManifest is one committed version of a group's entry list.
// Manifests are immutable once written; every mutation commits a new one and
// swings the CURRENT pointer, which is what makes timestamp-pinned reads and
// point-in-time member snapshots possible.
type groupManifest struct {
	Version     int      `json:"version" msgpack:"version"`
	ID          uint64   `json:"id" msgpack:"id"`
	ObjectType  string   `json:"object_type" msgpack:"object_type"`
	CommittedAt uint64   `json:"committed_at" msgpack:"committed_at"` // unix millis, strictly increasing
	Members     []Member `json:"members" msgpack:"members"`
}

// Group is a handle on the engine's hierarchical entry-list object.
//
// A Group is exclusively owned by one collection wrapper; it is never shared.
// Handles are cheap: all state lives in the store, and every read loads the
// manifest fresh so counts and listings reflect live state.
type Group struct {
	uri       string
	sctx      *Context
	mode      Mode
	timestamp uint64 // pins reads when non-zero; mutations always act on latest
	open      bool
}

// CreateGroup initializes a new, empty group at uri with the given stored
// object type tag. It fails with ErrAlreadyExists if any object is already
// stored at uri.
func CreateGroup(ctx context.Context, uri, objectType string, sctx *Context) error {
	if exists, err := objectExists(ctx, uri, sctx); err != nil {
		return opErr("create group", uri, err)
	} else if exists {
		return opErr("create group", uri, ErrAlreadyExists)
	}

	g := &Group{uri: uri, sctx: sctx, mode: ModeWrite, open: true}
	m := &groupManifest{ObjectType: objectType}
	if err := g.commit(ctx, m); err != nil {
		return opErr("create group", uri, err)
	}
	sctx.logger.DebugContext(ctx, "group created", "uri", uri, "object_type", objectType)
	return nil
}

// OpenGroup opens the group at uri. A non-zero timestamp pins all reads to
// the newest manifest committed at or before that time.
// It fails with ErrNotFound if nothing exists at uri, and with
// ErrWrongObjectType if the stored object is an array.
func OpenGroup(ctx context.Context, uri string, mode Mode, sctx *Context, timestamp uint64) (*Group, error) {
	g := &Group{uri: uri, sctx: sctx, mode: mode, timestamp: timestamp, open: true}
	if _, err := g.load(ctx); err != nil {
		if errors.Is(err, ErrNotFound) {
			if ok, statErr := arrayExists(ctx, uri, sctx); statErr == nil && ok {
				return nil, opErr("open group", uri, ErrWrongObjectType)
			}
		}
		return nil, opErr("open group", uri, err)
	}
	return g, nil
}

// URI returns the group URI.
func (g *Group) URI() string { return g.uri }

// Mode returns the current open mode.
func (g *Group) Mode() Mode { return g.mode }

// Timestamp returns the read pin, or zero when reading latest.
func (g *Group) Timestamp() uint64 { return g.timestamp }

// Reopen re-opens the handle in a new mode, possibly changing the read pin.
func (g *Group) Reopen(ctx context.Context, mode Mode, timestamp uint64) error {
	g.mode = mode
	g.timestamp = timestamp
	g.open = true
	if _, err := g.load(ctx); err != nil {
		g.open = false
		return opErr("reopen group", g.uri, err)
	}
	return nil
}

// Close releases the handle. Closing a closed handle is an error.
func (g *Group) Close() error {
	if !g.open {
		return opErr("close group", g.uri, ErrClosed)
	}
	g.open = false
	return nil
}

// ObjectType returns the stored object type tag of the group itself.
func (g *Group) ObjectType(ctx context.Context) (string, error) {
	m, err := g.read(ctx)
	if err != nil {
		return "", err
	}
	return m.ObjectType, nil
}

// AddMember registers or overwrites the entry for key. Last writer wins.
func (g *Group) AddMember(ctx context.Context, memberURI string, relative bool, key, kind string) error {
	if err := g.requireWrite(); err != nil {
		return err
	}
	m, err := g.loadLatest(ctx)
	if err != nil {
		return opErr("add member", g.uri, err)
	}

	entry := Member{Key: key, URI: memberURI, Relative: relative, Kind: kind}
	replaced := false
	for i := range m.Members {
		if m.Members[i].Key == key {
			m.Members[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		m.Members = append(m.Members, entry)
	}

	if err := g.commit(ctx, m); err != nil {
		return opErr("add member", g.uri, err)
	}
	g.sctx.logger.DebugContext(ctx, "member added", "uri", g.uri, "key", key, "member_uri", memberURI)
	return nil
}

// RemoveMember deletes the entry for key. The object the entry pointed to is
// left untouched.
func (g *Group) RemoveMember(ctx context.Context, key string) error {
	if err := g.requireWrite(); err != nil {
		return err
	}
	m, err := g.loadLatest(ctx)
	if err != nil {
		return opErr("remove member", g.uri, err)
	}

	idx := -1
	for i := range m.Members {
		if m.Members[i].Key == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		return opErr("remove member", g.uri, fmt.Errorf("%w: %q", ErrKeyNotFound, key))
	}
	m.Members = append(m.Members[:idx], m.Members[idx+1:]...)

	if err := g.commit(ctx, m); err != nil {
		return opErr("remove member", g.uri, err)
	}
	return nil
}

// Member returns the entry for key, or ErrKeyNotFound.
func (g *Group) Member(ctx context.Context, key string) (Member, error) {
	m, err := g.read(ctx)
	if err != nil {
		return Member{}, err
	}
	for _, e := range m.Members {
		if e.Key == key {
			return e, nil
		}
	}
	return Member{}, opErr("get member", g.uri, fmt.Errorf("%w: %q", ErrKeyNotFound, key))
}

// Members returns a point-in-time snapshot of the entry list.
func (g *Group) Members(ctx context.Context) ([]Member, error) {
	m, err := g.read(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Member, len(m.Members))
	copy(out, m.Members)
	return out, nil
}

// MemberCount returns the live number of registered members.
func (g *Group) MemberCount(ctx context.Context) (uint64, error) {
	m, err := g.read(ctx)
	if err != nil {
		return 0, err
	}
	return uint64(len(m.Members)), nil
}

func (g *Group) requireOpen() error {
	if !g.open {
		return opErr("group", g.uri, ErrClosed)
	}
	return nil
}

func (g *Group) requireWrite() error {
	if err := g.requireOpen(); err != nil {
		return err
	}
	if g.mode != ModeWrite {
		return opErr("group", g.uri, fmt.Errorf("%w: not opened for write", ErrClosed))
	}
	return nil
}

func (g *Group) read(ctx context.Context) (*groupManifest, error) {
	if err := g.requireOpen(); err != nil {
		return nil, err
	}
	m, err := g.load(ctx)
	if err != nil {
		return nil, opErr("read group", g.uri, err)
	}
	return m, nil
}

// load reads the manifest honoring the read pin.
func (g *Group) load(ctx context.Context) (*groupManifest, error) {
	if g.timestamp == 0 {
		return g.loadLatest(ctx)
	}
	return g.loadAt(ctx, g.timestamp)
}

func (g *Group) loadLatest(ctx context.Context) (*groupManifest, error) {
	cur, err := g.sctx.readBlob(ctx, g.uri, groupMetaDir+"/"+currentBlobName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return g.decodeManifest(ctx, string(cur))
}

// loadAt selects the newest manifest committed at or before ts. Manifest IDs
// are zero-padded so lexicographic blob order matches commit order.
func (g *Group) loadAt(ctx context.Context, ts uint64) (*groupManifest, error) {
	names, err := g.sctx.listBlobs(ctx, g.uri, groupMetaDir+"/"+manifestBlobPrefix)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, ErrNotFound
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, name := range names {
		m, err := g.decodeManifest(ctx, name)
		if err != nil {
			return nil, err
		}
		if m.CommittedAt <= ts {
			return m, nil
		}
	}
	// The group did not exist yet at the pinned time.
	return nil, ErrNotFound
}

func (g *Group) decodeManifest(ctx context.Context, name string) (*groupManifest, error) {
	data, err := g.sctx.readBlob(ctx, g.uri, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var m groupManifest
	if err := g.sctx.codec.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", name, err)
	}
	if m.Version != manifestFormatVersion {
		return nil, fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	return &m, nil
}

func (g *Group) commit(ctx context.Context, m *groupManifest) error {
	m.Version = manifestFormatVersion
	m.ID++

	// Commit timestamps are strictly increasing per group so a pin always
	// selects an unambiguous manifest.
	now := uint64(time.Now().UnixMilli())
	if now <= m.CommittedAt {
		now = m.CommittedAt + 1
	}
	m.CommittedAt = now

	data, err := g.sctx.codec.Marshal(m)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("%s/%s%06d", groupMetaDir, manifestBlobPrefix, m.ID)
	if err := g.sctx.putBlob(ctx, g.uri, name, data); err != nil {
		return err
	}
	return g.sctx.putBlob(ctx, g.uri, groupMetaDir+"/"+currentBlobName, []byte(name))
}

func groupExists(ctx context.Context, uri string, sctx *Context) (bool, error) {
	_, err := sctx.statBlob(ctx, uri, groupMetaDir+"/"+currentBlobName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func objectExists(ctx context.Context, uri string, sctx *Context) (bool, error) {
	if ok, err := groupExists(ctx, uri, sctx); err != nil || ok {
		return ok, err
	}
	return arrayExists(ctx, uri, sctx)
}
