package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/burugo/queryopt"
)

// operators sorted so that longer symbols are tried before their prefixes.
var operators = []queryopt.Operator{
	queryopt.OpArrayContains,
	queryopt.OpNotIn,
	queryopt.OpIn,
	queryopt.OpEqual,
	queryopt.OpNotEqual,
	queryopt.OpLessOrEqual,
	queryopt.OpGreaterOrEqual,
	queryopt.OpLess,
	queryopt.OpGreater,
}

// parseWhere reads "field op value", e.g. "price >= 10", "status in open,closed" or
// "tags array-contains art". Values that parse as JSON keep their JSON type; anything else
// is a string.
func parseWhere(expr string) (queryopt.Filter, error) {
	expr = strings.TrimSpace(expr)
	for _, op := range operators {
		sep := string(op)
		if op == queryopt.OpIn || op == queryopt.OpNotIn || op == queryopt.OpArrayContains {
			sep = " " + sep + " "
		}
		idx := strings.Index(expr, sep)
		if idx <= 0 {
			continue
		}
		field := strings.TrimSpace(expr[:idx])
		raw := strings.TrimSpace(expr[idx+len(sep):])
		if !queryopt.ValidField(field) {
			return queryopt.Filter{}, fmt.Errorf("invalid field %q in %q", field, expr)
		}
		if op == queryopt.OpIn || op == queryopt.OpNotIn {
			var items []any
			if raw != "" {
				for _, part := range strings.Split(raw, ",") {
					items = append(items, parseValue(strings.TrimSpace(part)))
				}
			}
			if items == nil {
				items = []any{}
			}
			return queryopt.Where(field, op, items), nil
		}
		return queryopt.Where(field, op, parseValue(raw)), nil
	}
	return queryopt.Filter{}, fmt.Errorf("no operator found in %q", expr)
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// parseOrder reads "field" or "field:asc|desc".
func parseOrder(expr string) (queryopt.Order, error) {
	field, dir, found := strings.Cut(strings.TrimSpace(expr), ":")
	o := queryopt.OrderBy(field, queryopt.Asc)
	if found {
		o.Direction = queryopt.Direction(strings.ToLower(dir))
	}
	if !queryopt.ValidField(o.Field) || !o.Direction.Valid() {
		return queryopt.Order{}, fmt.Errorf("invalid order %q, want field[:asc|desc]", expr)
	}
	return o, nil
}

// parseDocuments reads a JSON array of objects. Each object needs a string "id"; the rest
// of the object becomes the payload.
func parseDocuments(data []byte) ([]queryopt.Document, error) {
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}
	docs := make([]queryopt.Document, 0, len(raw))
	for i, obj := range raw {
		id, ok := obj[queryopt.IDField].(string)
		if !ok || id == "" {
			return nil, fmt.Errorf("document %d: missing string id", i)
		}
		delete(obj, queryopt.IDField)
		docs = append(docs, queryopt.Document{ID: id, Data: obj})
	}
	return docs, nil
}
