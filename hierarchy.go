package zarr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Arrays can be organized into groups which can also contain other groups.
// A group is created by storing group metadata under the “.zgroup” key under
// some logical path. E.g., a group exists at the root of an array store if the
// “.zgroup” key exists in the store, and a group exists at logical path
// “foo/bar” if the “foo/bar/.zgroup” key exists in the store.
type Group struct {
	path  Path
	store Store
	mode  PersistenceMode
}

// CreateGroup writes group metadata at path. Modes follow CreateArray.
func CreateGroup(store Store, path string, mode PersistenceMode) (*Group, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}

	switch mode {
	case ModeRead:
		return nil, fmt.Errorf("creating group %q: %w", p, ErrReadOnly)
	case ModeReadWrite:
		return OpenGroup(store, p.String(), mode)
	case ModeWrite:
		if err := store.Delete(p.String()); err != nil {
			return nil, err
		}
	case ModeWriteFail:
		if err := checkPathFree(store, p); err != nil {
			return nil, err
		}
	case ModeReadWriteCreate:
		isGroup, err := ContainsGroup(store, p.String())
		if err != nil {
			return nil, err
		}
		if isGroup {
			return OpenGroup(store, p.String(), mode)
		}
		isArray, err := ContainsArray(store, p.String())
		if err != nil {
			return nil, err
		}
		if isArray {
			return nil, fmt.Errorf("%w: %q", ErrContainsArray, p)
		}
	default:
		return nil, fmt.Errorf("unsupported persistence mode %q", mode)
	}

	if err := requireParentGroups(store, p); err != nil {
		return nil, err
	}
	if err := putJSON(store, p.Key(string(MTGroup)), &GroupMeta{ZarrFormat: ZarrFormat}); err != nil {
		return nil, err
	}
	return &Group{path: p, store: store, mode: mode}, nil
}

// OpenGroup opens an existing group
func OpenGroup(store Store, path string, mode PersistenceMode) (*Group, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	ok, err := ContainsGroup(store, p.String())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: group %q", ErrNotfound, p)
	}
	return &Group{path: p, store: store, mode: mode}, nil
}

func (g *Group) Path() string { return g.path.String() }

func (g *Group) Store() Store { return g.store }

// childMode is the mode used for members created through the group. Members
// of a group opened for overwriting are created fresh.
func (g *Group) childMode() PersistenceMode {
	if g.mode == ModeReadWrite {
		return ModeReadWriteCreate
	}
	return g.mode
}

// CreateGroup creates a child group
func (g *Group) CreateGroup(name string) (*Group, error) {
	return CreateGroup(g.store, g.path.Key(name), g.childMode())
}

// CreateArray creates a child array
func (g *Group) CreateArray(name string, m *ArrayMeta) (*Array, error) {
	return CreateArray(g.store, g.path.Key(name), m, g.childMode())
}

// OpenArray opens an existing child array with the group's mode
func (g *Group) OpenArray(name string) (*Array, error) {
	return Open(g.store, g.path.Key(name), g.mode)
}

// OpenGroup opens an existing child group with the group's mode
func (g *Group) OpenGroup(name string) (*Group, error) {
	return OpenGroup(g.store, g.path.Key(name), g.mode)
}

func (g *Group) Attrs() (Attributes, error) {
	return readAttrs(g.store, g.path)
}

func (g *Group) SetAttrs(attrs Attributes) error {
	if g.mode == ModeRead {
		return fmt.Errorf("setting attributes of %q: %w", g.path, ErrReadOnly)
	}
	return putJSON(g.store, g.path.Key(string(MTAttributes)), attrs)
}

// ContainsArray reports whether an array exists at path. Store failures
// other than a missing key are returned.
func ContainsArray(store Store, path string) (bool, error) {
	return hasKey(store, joinKey(path, string(MTArray)))
}

// ContainsGroup reports whether a group exists at path
func ContainsGroup(store Store, path string) (bool, error) {
	return hasKey(store, joinKey(path, string(MTGroup)))
}

func joinKey(path, name string) string {
	if path == "" {
		return name
	}
	return path + "/" + name
}

func hasKey(store Store, key string) (bool, error) {
	f, err := store.Get(key)
	if errors.Is(err, ErrNotfound) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("checking %q: %w", key, err)
	}
	f.Close()
	return true, nil
}

func checkPathFree(store Store, p Path) error {
	isArray, err := ContainsArray(store, p.String())
	if err != nil {
		return err
	}
	if isArray {
		return fmt.Errorf("%w: %q", ErrContainsArray, p)
	}
	isGroup, err := ContainsGroup(store, p.String())
	if err != nil {
		return err
	}
	if isGroup {
		return fmt.Errorf("%w: %q", ErrContainsGroup, p)
	}
	return nil
}

// requireParentGroups creates any missing group above p, failing if an array
// is in the way
func requireParentGroups(store Store, p Path) error {
	for i := 0; i < len(p); i++ {
		parent := p[:i].String()
		isArray, err := ContainsArray(store, parent)
		if err != nil {
			return err
		}
		if isArray {
			return fmt.Errorf("%w: %q", ErrContainsArray, parent)
		}
		isGroup, err := ContainsGroup(store, parent)
		if err != nil {
			return err
		}
		if !isGroup {
			if err := putJSON(store, joinKey(parent, string(MTGroup)), &GroupMeta{ZarrFormat: ZarrFormat}); err != nil {
				return err
			}
		}
	}
	return nil
}

func putJSON(store Store, key string, v interface{}) error {
	d, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	return store.Put(key, bytes.NewReader(d))
}

func readAttrs(store Store, p Path) (Attributes, error) {
	f, err := store.Get(p.Key(string(MTAttributes)))
	if errors.Is(err, ErrNotfound) {
		return Attributes{}, nil
	} else if err != nil {
		return nil, err
	}
	defer f.Close()
	attrs := Attributes{}
	if err := json.NewDecoder(f).Decode(&attrs); err != nil {
		return nil, fmt.Errorf("reading %q attributes: %w", p, err)
	}
	return attrs, nil
}

// ConsolidateMetadata gathers every metadata key at or below path into a
// single document stored under path's “.zmetadata” key. Keys in the document
// are relative to path.
func ConsolidateMetadata(store Store, path string) (*ConsolidatedMetadata, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	keys, err := store.List(p.String())
	if err != nil {
		return nil, err
	}

	cm := &ConsolidatedMetadata{
		ConsolidatedFormat: ConsolidatedFormat,
		Metadata:           map[string]MetaTyper{},
	}
	for _, key := range keys {
		mt, ok := KeyMetaType(key)
		if !ok {
			continue
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(key, p.String()), "/")
		v, err := readMeta(store, key, mt)
		if err != nil {
			return nil, err
		}
		cm.Metadata[rel] = v
	}

	if err := putJSON(store, p.Key(string(MTMetadata)), cm); err != nil {
		return nil, err
	}
	return cm, nil
}

func readMeta(store Store, key string, mt MetaType) (MetaTyper, error) {
	f, err := store.Get(key)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var v MetaTyper
	switch mt {
	case MTArray:
		v = &ArrayMeta{}
	case MTGroup:
		v = &GroupMeta{}
	default:
		attrs := Attributes{}
		if err := json.NewDecoder(f).Decode(&attrs); err != nil {
			return nil, fmt.Errorf("reading %q: %w", key, err)
		}
		return attrs, nil
	}
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return nil, fmt.Errorf("reading %q: %w", key, err)
	}
	return v, nil
}

// ReadConsolidatedMetadata decodes the “.zmetadata” document stored at path
func ReadConsolidatedMetadata(store Store, path string) (*ConsolidatedMetadata, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	f, err := store.Get(p.Key(string(MTMetadata)))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cm := &ConsolidatedMetadata{}
	if err := json.NewDecoder(f).Decode(cm); err != nil {
		return nil, fmt.Errorf("reading consolidated metadata: %w", err)
	}
	return cm, nil
}

// ConsolidatedStore answers metadata reads from a consolidated document,
// passing chunk reads through to the underlying store. It is read only.
type ConsolidatedStore struct {
	Store
	prefix Path
	meta   *ConsolidatedMetadata
}

var _ Store = (*ConsolidatedStore)(nil)

// OpenConsolidated reads the consolidated metadata at path
func OpenConsolidated(store Store, path string) (*ConsolidatedStore, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	cm, err := ReadConsolidatedMetadata(store, p.String())
	if err != nil {
		return nil, err
	}
	return &ConsolidatedStore{Store: store, prefix: p, meta: cm}, nil
}

// Metadata is the consolidated document the store serves
func (s *ConsolidatedStore) Metadata() *ConsolidatedMetadata { return s.meta }

func (s *ConsolidatedStore) Get(key string) (io.ReadCloser, error) {
	if _, ok := KeyMetaType(key); !ok {
		return s.Store.Get(key)
	}
	rel := key
	if pre := s.prefix.String(); pre != "" {
		if !underPrefix(key, pre) {
			return s.Store.Get(key)
		}
		rel = strings.TrimPrefix(strings.TrimPrefix(key, pre), "/")
	}
	v, ok := s.meta.Metadata[rel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotfound, key)
	}
	d, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(d)), nil
}

func (s *ConsolidatedStore) Put(key string, val io.Reader) error {
	return fmt.Errorf("put %q: %w", key, ErrReadOnly)
}

func (s *ConsolidatedStore) Delete(prefix string) error {
	return fmt.Errorf("delete %q: %w", prefix, ErrReadOnly)
}

func (s *ConsolidatedStore) Type() string { return "ConsolidatedStore(" + s.Store.Type() + ")" }
