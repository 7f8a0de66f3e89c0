package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is the in-process store driver. It is safe for concurrent use and
// applies batches atomically under one lock.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]Doc
}

func NewMemory() *Memory {
	return &Memory{collections: map[string]map[string]Doc{}}
}

func (m *Memory) Get(_ context.Context, collection, id string) (Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return cloneDoc(doc), nil
}

func (m *Memory) Query(_ context.Context, collection string, filters ...Filter) ([]Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Doc
	for _, doc := range m.collections[collection] {
		ok := true
		for _, f := range filters {
			if !matches(doc, f) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, cloneDoc(doc))
		}
	}
	// Deterministic order regardless of map iteration.
	sort.Slice(out, func(i, j int) bool {
		return out[i]["id"].(string) < out[j]["id"].(string)
	})
	return out, nil
}

func (m *Memory) BatchWrite(_ context.Context, ops []Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, op := range ops {
		if op.Collection == "" || op.ID == "" {
			return fmt.Errorf("batch op missing collection or id")
		}
		if !op.Delete && op.Doc == nil {
			return fmt.Errorf("batch put %s/%s has no document", op.Collection, op.ID)
		}
	}
	for _, op := range ops {
		coll := m.collections[op.Collection]
		if coll == nil {
			coll = map[string]Doc{}
			m.collections[op.Collection] = coll
		}
		if op.Delete {
			delete(coll, op.ID)
			continue
		}
		doc := cloneDoc(op.Doc)
		doc["id"] = op.ID
		coll[op.ID] = doc
	}
	return nil
}

func (m *Memory) Close() error { return nil }

func cloneDoc(d Doc) Doc {
	cp := make(Doc, len(d))
	for k, v := range d {
		switch vs := v.(type) {
		case []string:
			v = append([]string(nil), vs...)
		case []int:
			v = append([]int(nil), vs...)
		case []any:
			v = append([]any(nil), vs...)
		}
		cp[k] = v
	}
	return cp
}
