package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for demo/development and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Document
}

// NewMemoryStore creates an empty in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string][]Document)}
}

func (m *MemoryStore) FindOne(_ context.Context, collection string, filter Filter) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, doc := range m.collections[collection] {
		if Matches(doc, filter) {
			return doc.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Find(_ context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error) {
	m.mu.RLock()
	out := make([]Document, 0)
	for _, doc := range m.collections[collection] {
		if Matches(doc, filter) {
			out = append(out, doc.Clone())
		}
	}
	m.mu.RUnlock()

	if opts.SortBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compare(out[i][opts.SortBy], out[j][opts.SortBy])
			if opts.Desc {
				return c > 0
			}
			return c < 0
		})
	}
	if opts.Skip > 0 {
		if opts.Skip >= len(out) {
			return []Document{}, nil
		}
		out = out[opts.Skip:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *MemoryStore) InsertOne(_ context.Context, collection string, doc Document) (string, error) {
	cp := doc.Clone()
	id := cp.ID()
	if id == "" {
		id = uuid.NewString()
		cp[IDField] = id
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.collections[collection] {
		if existing.ID() == id {
			return "", fmt.Errorf("docstore: duplicate %s %q in %s", IDField, id, collection)
		}
	}
	m.collections[collection] = append(m.collections[collection], cp)
	return id, nil
}

func (m *MemoryStore) UpdateOne(_ context.Context, collection string, filter Filter, set Document) (int64, error) {
	return m.update(collection, filter, set, 1), nil
}

func (m *MemoryStore) UpdateMany(_ context.Context, collection string, filter Filter, set Document) (int64, error) {
	return m.update(collection, filter, set, -1), nil
}

func (m *MemoryStore) update(collection string, filter Filter, set Document, limit int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for i, doc := range m.collections[collection] {
		if !Matches(doc, filter) {
			continue
		}
		next := doc.Clone()
		for k, v := range set {
			if k == IDField {
				continue
			}
			next[k] = v
		}
		m.collections[collection][i] = next
		n++
		if limit > 0 && n >= int64(limit) {
			break
		}
	}
	return n
}

func (m *MemoryStore) DeleteMany(_ context.Context, collection string, filter Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := m.collections[collection]
	kept := docs[:0:0]
	var n int64
	for _, doc := range docs {
		if Matches(doc, filter) {
			n++
			continue
		}
		kept = append(kept, doc)
	}
	m.collections[collection] = kept
	return n, nil
}

func (m *MemoryStore) Count(_ context.Context, collection string, filter Filter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, doc := range m.collections[collection] {
		if Matches(doc, filter) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Ping(context.Context) error  { return nil }
func (m *MemoryStore) Close(context.Context) error { return nil }

// Collections lists collection names that hold at least one document.
func (m *MemoryStore) Collections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.collections))
	for name, docs := range m.collections {
		if len(docs) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Matches reports whether doc satisfies every clause of filter.
func Matches(doc Document, filter Filter) bool {
	for field, want := range filter {
		got, present := doc[field]
		ops, isOps := operators(want)
		if !isOps {
			if !present || compare(got, want) != 0 {
				return false
			}
			continue
		}
		for op, arg := range ops {
			if !matchOp(got, present, op, arg) {
				return false
			}
		}
	}
	return true
}

func operators(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Filter:
		return t, true
	default:
		return nil, false
	}
}

func matchOp(got any, present bool, op string, arg any) bool {
	switch op {
	case "$eq":
		return present && compare(got, arg) == 0
	case "$ne":
		return !present || compare(got, arg) != 0
	case "$gt":
		return present && compare(got, arg) > 0
	case "$gte":
		return present && compare(got, arg) >= 0
	case "$lt":
		return present && compare(got, arg) < 0
	case "$lte":
		return present && compare(got, arg) <= 0
	case "$in":
		values, ok := arg.([]any)
		if !ok {
			if strs, sok := arg.([]string); sok {
				for _, s := range strs {
					values = append(values, s)
				}
			}
		}
		for _, v := range values {
			if present && compare(got, v) == 0 {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// compare orders two scalar values. Mismatched or unknown types compare
// by their formatted string.
func compare(a, b any) int {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt)
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}
