package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrDisabled = errors.New("store disabled")
)

// Doc is one stored document. Instants are encoded as fixed-width UTC
// RFC3339 strings by the codec so ordered comparisons stay chronological.
type Doc map[string]any

// FilterOp is a comparison operator for Query filters.
type FilterOp string

const (
	OpEq  FilterOp = "=="
	OpGte FilterOp = ">="
	OpLt  FilterOp = "<"
)

// Filter restricts a Query. An OpEq filter with a nil Value matches
// documents where the field is absent or null.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

func Eq(field string, value any) Filter  { return Filter{Field: field, Op: OpEq, Value: value} }
func Gte(field string, value any) Filter { return Filter{Field: field, Op: OpGte, Value: value} }
func Lt(field string, value any) Filter  { return Filter{Field: field, Op: OpLt, Value: value} }

// Op is one write in a batch: a put (Doc != nil) or a delete (Delete true).
type Op struct {
	Collection string
	ID         string
	Doc        Doc
	Delete     bool
}

func Put(collection, id string, doc Doc) Op {
	return Op{Collection: collection, ID: id, Doc: doc}
}

func Delete(collection, id string) Op {
	return Op{Collection: collection, ID: id, Delete: true}
}

// Store is the persistence API used by the scheduling core.
// Query results carry their document id under the "id" key.
type Store interface {
	Get(ctx context.Context, collection, id string) (Doc, error)
	Query(ctx context.Context, collection string, filters ...Filter) ([]Doc, error)
	BatchWrite(ctx context.Context, ops []Op) error
	Close() error
}

// Config configures the store driver.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// instantFormat is fixed-width so lexicographic order on encoded instants
// equals chronological order.
const instantFormat = "2006-01-02T15:04:05.000Z"

// EncodeInstant encodes an absolute instant for storage. Nil stays nil.
func EncodeInstant(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(instantFormat)
}

// DecodeInstant turns a stored value back into an instant. Absent or null
// values return nil; anything else must be a string in the storage format.
func DecodeInstant(v any) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("instant field is %T, not string", v)
	}
	t, err := time.Parse(instantFormat, s)
	if err != nil {
		// Tolerate full RFC3339 from hand-entered documents.
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("bad instant %q: %w", s, err)
		}
	}
	t = t.UTC()
	return &t, nil
}

// matches applies a filter to one document field value.
func matches(doc Doc, f Filter) bool {
	v, present := doc[f.Field]
	if f.Op == OpEq && f.Value == nil {
		return !present || v == nil
	}
	if !present || v == nil {
		return false
	}
	cmp, ok := compare(v, f.Value)
	if !ok {
		return false
	}
	switch f.Op {
	case OpEq:
		return cmp == 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	}
	return false
}

// compare coerces the two values to a common shape and compares them.
// Returns ok=false when the types are incomparable.
func compare(a, b any) (int, bool) {
	if ta, ok := a.(time.Time); ok {
		a = EncodeInstant(&ta)
	}
	if tb, ok := b.(time.Time); ok {
		b = EncodeInstant(&tb)
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if x == y {
			return 0, true
		}
		if !x {
			return -1, true
		}
		return 1, true
	default:
		xf, okx := toFloat(a)
		yf, oky := toFloat(b)
		if !okx || !oky {
			return 0, false
		}
		switch {
		case xf < yf:
			return -1, true
		case xf > yf:
			return 1, true
		}
		return 0, true
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
