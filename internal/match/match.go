// Package match evaluates provider queries in memory, for backends without a query
// language of their own (memory, redis, badger).
package match

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/burugo/queryopt"
	"github.com/burugo/queryopt/internal/utils"
)

// Matches reports whether doc satisfies every filter (filters are joined by AND).
// A document that lacks a filtered field never matches that filter, whatever the operator.
func Matches(doc queryopt.Document, filters []queryopt.Filter) (bool, error) {
	for _, f := range filters {
		fieldValue, ok := doc.Field(f.Field)
		if !ok {
			return false, nil
		}
		met, err := checkFilter(utils.NormalizeValue(fieldValue), f)
		if err != nil {
			return false, fmt.Errorf("filter %s %s: %w", f.Field, f.Op, err)
		}
		if !met {
			return false, nil
		}
	}
	return true, nil
}

func checkFilter(fieldValue any, f queryopt.Filter) (bool, error) {
	arg := utils.NormalizeValue(f.Value)

	switch f.Op {
	case queryopt.OpEqual:
		return equal(fieldValue, arg), nil
	case queryopt.OpNotEqual:
		return !equal(fieldValue, arg), nil
	case queryopt.OpLess, queryopt.OpLessOrEqual, queryopt.OpGreater, queryopt.OpGreaterOrEqual:
		return compareRange(fieldValue, arg, f.Op), nil
	case queryopt.OpIn, queryopt.OpNotIn:
		list, ok := arg.([]any)
		if !ok {
			return false, fmt.Errorf("%w: %s requires a list, got %T", queryopt.ErrInvalidQuery, f.Op, f.Value)
		}
		found := checkInOperator(fieldValue, list)
		if f.Op == queryopt.OpIn {
			return found, nil
		}
		return !found, nil
	case queryopt.OpArrayContains:
		items, ok := fieldValue.([]any)
		if !ok {
			return false, nil
		}
		return checkInOperator(arg, items), nil
	default:
		return false, fmt.Errorf("%w: unsupported operator %q", queryopt.ErrInvalidQuery, f.Op)
	}
}

// compareRange applies <, <=, >, >= to values of the same kind. Values of different kinds
// (a number against a string, say) never satisfy a range filter.
func compareRange(fieldValue, arg any, op queryopt.Operator) bool {
	if typeRank(fieldValue) != typeRank(arg) || fieldValue == nil {
		return false
	}
	c := Compare(fieldValue, arg)
	switch op {
	case queryopt.OpLess:
		return c < 0
	case queryopt.OpLessOrEqual:
		return c <= 0
	case queryopt.OpGreater:
		return c > 0
	case queryopt.OpGreaterOrEqual:
		return c >= 0
	}
	return false
}

// checkInOperator reports whether value equals any element of list.
func checkInOperator(value any, list []any) bool {
	for _, item := range list {
		if equal(value, item) {
			return true
		}
	}
	return false
}

func equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// Type ranks used to order values of different kinds.
const (
	rankNull = iota
	rankBool
	rankNumber
	rankString
	rankOther
)

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case bool:
		return rankBool
	case float64:
		return rankNumber
	case string:
		return rankString
	default:
		return rankOther
	}
}

// Compare orders two normalized values: null < bool < number < string < everything else.
// Lists and maps compare by their JSON encoding.
func Compare(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch x := a.(type) {
	case nil:
		return 0
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case float64:
		y := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	case string:
		y := b.(string)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	}
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	return bytes.Compare(ja, jb)
}

// compareDocs compares two documents under the given ordering. Missing fields compare as
// null, so they come first ascending and last descending.
func compareDocs(a, b queryopt.Document, ordering []queryopt.Order) int {
	for _, o := range ordering {
		av, _ := a.Field(o.Field)
		bv, _ := b.Field(o.Field)
		c := Compare(utils.NormalizeValue(av), utils.NormalizeValue(bv))
		if o.Direction == queryopt.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// Apply evaluates q against every document of a collection: filter, order (with the id
// tie-break), resume after the cursor document and limit. The cursor document is looked up
// in all, so it does not have to match the filters itself. An unknown cursor id fails with
// queryopt.ErrCursorNotFound.
func Apply(all []queryopt.Document, q *queryopt.ProviderQuery) ([]queryopt.Document, error) {
	var (
		cursor    queryopt.Document
		hasCursor bool
	)
	out := make([]queryopt.Document, 0, len(all))
	for _, doc := range all {
		if q.After != "" && doc.ID == q.After {
			cursor, hasCursor = doc, true
		}
		ok, err := Matches(doc, q.Filters)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}
	if q.After != "" && !hasCursor {
		return nil, fmt.Errorf("%w: %s/%s", queryopt.ErrCursorNotFound, q.Collection, q.After)
	}

	ordering := q.Ordering()
	sort.SliceStable(out, func(i, j int) bool {
		return compareDocs(out[i], out[j], ordering) < 0
	})

	if hasCursor {
		start := sort.Search(len(out), func(i int) bool {
			return compareDocs(out[i], cursor, ordering) > 0
		})
		out = out[start:]
	}
	if q.Max > 0 && len(out) > q.Max {
		out = out[:q.Max]
	}
	return out, nil
}

// Count returns how many documents satisfy q's filters.
func Count(all []queryopt.Document, q *queryopt.ProviderQuery) (int64, error) {
	var n int64
	for _, doc := range all {
		ok, err := Matches(doc, q.Filters)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}
