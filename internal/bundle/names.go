package bundle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sylvadb/sylva/internal/store"
	"github.com/sylvadb/sylva/pkg/types"
)

// NameIndex is the shared name-interning table. Bundles reference type,
// property and child names by their index here instead of repeating the
// strings. The table is append-only and persisted in the physical store.
type NameIndex struct {
	mu    sync.Mutex
	ps    store.PhysicalStore
	key   string
	names []string
	index map[string]uint32
}

// LoadNameIndex reads the interning table from the physical store, starting
// empty when no table exists yet.
func LoadNameIndex(ps store.PhysicalStore, key string) (*NameIndex, error) {
	x := &NameIndex{
		ps:    ps,
		key:   key,
		index: make(map[string]uint32),
	}
	data, err := ps.Read(key)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return x, nil
		}
		return nil, fmt.Errorf("load name index: %w", err)
	}
	r := bytes.NewReader(data)
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("load name index: malformed count: %w", err)
	}
	for i := uint64(0); i < count; i++ {
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("load name index: malformed entry %d: %w", i, err)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("load name index: short entry %d: %w", i, err)
		}
		name := string(buf)
		x.index[name] = uint32(len(x.names))
		x.names = append(x.names, name)
	}
	return x, nil
}

// Index returns the interned index of the name, adding and persisting it
// when seen for the first time.
func (x *NameIndex) Index(name string) (uint32, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if idx, ok := x.index[name]; ok {
		return idx, nil
	}
	idx := uint32(len(x.names))
	x.names = append(x.names, name)
	x.index[name] = idx
	if err := x.flushLocked(); err != nil {
		x.names = x.names[:idx]
		delete(x.index, name)
		return 0, err
	}
	return idx, nil
}

// Name resolves an interned index back to the string.
func (x *NameIndex) Name(idx uint32) (string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if int(idx) >= len(x.names) {
		return "", fmt.Errorf("%w: name index %d", types.ErrNotFound, idx)
	}
	return x.names[idx], nil
}

func (x *NameIndex) flushLocked() error {
	buf := binary.AppendUvarint(nil, uint64(len(x.names)))
	for _, name := range x.names {
		buf = binary.AppendUvarint(buf, uint64(len(name)))
		buf = append(buf, name...)
	}
	if err := x.ps.Write(x.key, buf); err != nil {
		return fmt.Errorf("persist name index: %w", err)
	}
	return nil
}
