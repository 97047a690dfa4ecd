package orm

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mickamy/relq/predicate"
)

// Row is a single record keyed by column name. Relations attach their
// results to rows under the relation key.
type Row map[string]any

// Clone returns a shallow copy of r.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Pick returns a copy of r holding only the given columns that r has.
func (r Row) Pick(cols []string) Row {
	out := make(Row, len(cols))
	for _, c := range cols {
		if v, ok := r[c]; ok {
			out[c] = v
		}
	}
	return out
}

// compositeKey joins the normalised values of cols so that rows can be
// compared by a (possibly composite) key.
func compositeKey(r Row, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprint(predicate.Key(r[c]))
	}
	return strings.Join(parts, "|||")
}

// uniqueKeys collects the distinct non-nil values of col over the rows at idx.
func uniqueKeys(rows []Row, idx []int, col string) []any {
	seen := make(map[any]struct{}, len(idx))
	keys := make([]any, 0, len(idx))
	for _, i := range idx {
		v := rows[i][col]
		if v == nil {
			continue
		}
		k := predicate.Key(v)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, v)
	}
	return keys
}

// asRows converts a relation payload ([]Row, []map[string]any or []any of
// maps) into rows.
func asRows(v any) ([]Row, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []Row:
		return x, nil
	case []map[string]any:
		out := make([]Row, len(x))
		for i, m := range x {
			out[i] = m
		}
		return out, nil
	case []any:
		out := make([]Row, 0, len(x))
		for _, item := range x {
			switch m := item.(type) {
			case Row:
				out = append(out, m)
			case map[string]any:
				out = append(out, m)
			default:
				return nil, fmt.Errorf("orm: relation item of type %T is not a row", item)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("orm: relation value of type %T is not a row list", v)
}

// keyValues spreads an identifier over the primary key columns.
// A scalar id addresses a single-column key; a slice addresses a composite one.
func keyValues(pk []string, id any) ([]any, error) {
	var vals []any
	rv := reflect.ValueOf(id)
	if id != nil && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8 {
		vals = make([]any, rv.Len())
		for i := range vals {
			vals[i] = rv.Index(i).Interface()
		}
	} else {
		vals = []any{id}
	}
	if len(vals) != len(pk) {
		return nil, fmt.Errorf("%w: %d value(s) for primary key %v", ErrInvalidKey, len(vals), pk)
	}
	return vals, nil
}
