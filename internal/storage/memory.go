package storage

import (
	"sort"
	"strings"
	"sync"
)

// MemoryDB implements DB using an in-memory map. Transactions are
// serialized under a single lock; writes are buffered and applied on
// commit so a failed Update leaves no trace.
type MemoryDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates a new in-memory database.
func NewMemory() *MemoryDB {
	return &MemoryDB{
		data: make(map[string][]byte),
	}
}

// View runs fn in a read-only transaction.
func (m *MemoryDB) View(fn func(Tx) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{db: m, readOnly: true})
}

// Update runs fn in a read-write transaction.
func (m *MemoryDB) Update(fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &memTx{
		db:      m,
		writes:  make(map[string][]byte),
		deletes: make(map[string]bool),
	}
	if err := fn(t); err != nil {
		return err
	}
	for k := range t.deletes {
		delete(m.data, k)
	}
	for k, v := range t.writes {
		m.data[k] = v
	}
	return nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	return nil
}

// memTx overlays buffered writes on the underlying map so reads within a
// transaction observe its own uncommitted changes.
type memTx struct {
	db       *MemoryDB
	readOnly bool
	writes   map[string][]byte
	deletes  map[string]bool
}

func (t *memTx) Get(key []byte) ([]byte, error) {
	k := string(key)
	if !t.readOnly {
		if t.deletes[k] {
			return nil, ErrNotFound
		}
		if v, ok := t.writes[k]; ok {
			return append([]byte(nil), v...), nil
		}
	}
	v, ok := t.db.data[k]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (t *memTx) Put(key, value []byte) error {
	k := string(key)
	delete(t.deletes, k)
	t.writes[k] = append([]byte(nil), value...)
	return nil
}

func (t *memTx) Delete(key []byte) error {
	k := string(key)
	delete(t.writes, k)
	t.deletes[k] = true
	return nil
}

func (t *memTx) Has(key []byte) (bool, error) {
	_, err := t.Get(key)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *memTx) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	for _, k := range t.sortedKeys(prefix, false) {
		v, err := t.Get([]byte(k))
		if err != nil {
			continue
		}
		if err := fn([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTx) ForEachReverse(prefix []byte, fn func(key, value []byte) error) error {
	for _, k := range t.sortedKeys(prefix, true) {
		v, err := t.Get([]byte(k))
		if err != nil {
			continue
		}
		if err := fn([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

// sortedKeys merges committed and buffered keys under the prefix.
func (t *memTx) sortedKeys(prefix []byte, reverse bool) []string {
	p := string(prefix)
	seen := make(map[string]bool)
	var keys []string

	for k := range t.db.data {
		if strings.HasPrefix(k, p) && !t.deletes[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	if !t.readOnly {
		for k := range t.writes {
			if strings.HasPrefix(k, p) && !seen[k] {
				keys = append(keys, k)
			}
		}
	}

	sort.Strings(keys)
	if reverse {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	return keys
}
