// Package sqlbuilder builds SQL for a documents(collection, id, data) table that stores each
// document's payload as JSON. Field names are validated with queryopt.ValidField before they
// are inlined; every value travels as a bind argument with "?" placeholders, which callers
// rebind for their driver.
package sqlbuilder

import (
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/burugo/queryopt"
	"github.com/burugo/queryopt/internal/utils"
)

// Dialect isolates the JSON functions of a database.
type Dialect interface {
	Name() string
	// Field returns the expression selecting a (validated) dotted path of the payload.
	// The path "id" maps to the id column.
	Field(path string) string
	// Value returns the placeholder expression and bind argument for comparing Field(path)
	// with v.
	Value(path string, v any) (string, any, error)
	// KindGuard restricts a range comparison on path to stored values of v's kind, or
	// returns "" when no guard applies.
	KindGuard(path string, v any) string
	// ArrayContains returns a predicate, with one placeholder, that holds when the array at
	// path contains v, and its bind argument.
	ArrayContains(path string, v any) (string, any, error)
	// NullsOrder returns the NULLS FIRST/LAST clause that places missing fields first in
	// ascending and last in descending order, or "" when that is the default.
	NullsOrder(dir queryopt.Direction) string
	// SelectValue returns an expression reading path in a form DecodeValue understands.
	SelectValue(path string) string
	// DecodeValue turns a scanned SelectValue column back into a normalized Go value.
	DecodeValue(path string, raw any) (any, error)
	// DataColumn selects the payload as JSON text.
	DataColumn() string
	CreateTableSQL(table string) []string
	UpsertSQL(table string) string
}

var tablePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidTable reports whether name can be used as a table name.
func ValidTable(name string) bool {
	return tablePattern.MatchString(name)
}

// Quote quotes an identifier.
func Quote(identifier string) string {
	return `"` + identifier + `"`
}

// BuildSelectSQL builds the page query for q. cursor holds the ordering values of the
// cursor document, aligned with q.Ordering(); nil when the query has no cursor.
func BuildSelectSQL(d Dialect, table string, q *queryopt.ProviderQuery, cursor []any) (string, []any, error) {
	where, args, err := buildWhere(d, q)
	if err != nil {
		return "", nil, err
	}

	ordering := q.Ordering()
	if cursor != nil {
		keyset, keysetArgs, err := buildKeyset(d, ordering, cursor)
		if err != nil {
			return "", nil, err
		}
		where = append(where, keyset)
		args = append(args, keysetArgs...)
	}

	var query strings.Builder
	fmt.Fprintf(&query, "SELECT id, %s FROM %s WHERE %s", d.DataColumn(), Quote(table), strings.Join(where, " AND "))

	query.WriteString(" ORDER BY ")
	for i, o := range ordering {
		if i > 0 {
			query.WriteString(", ")
		}
		query.WriteString(d.Field(o.Field))
		if o.Direction == queryopt.Desc {
			query.WriteString(" DESC")
		} else {
			query.WriteString(" ASC")
		}
		if o.Field != queryopt.IDField {
			if nulls := d.NullsOrder(o.Direction); nulls != "" {
				query.WriteString(" " + nulls)
			}
		}
	}

	if q.Max > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, q.Max)
	}
	return query.String(), args, nil
}

// BuildCountSQL counts the documents matching q's filters.
func BuildCountSQL(d Dialect, table string, q *queryopt.ProviderQuery) (string, []any, error) {
	where, args, err := buildWhere(d, q)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", Quote(table), strings.Join(where, " AND ")), args, nil
}

// BuildCursorSQL reads the ordering values of the cursor document.
func BuildCursorSQL(d Dialect, table string, q *queryopt.ProviderQuery) (string, []any) {
	ordering := q.Ordering()
	cols := make([]string, len(ordering))
	for i, o := range ordering {
		cols[i] = d.SelectValue(o.Field)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE collection = ? AND id = ?", strings.Join(cols, ", "), Quote(table))
	return query, []any{q.Collection, q.After}
}

// BuildDeleteSQL deletes ids from a collection.
func BuildDeleteSQL(table string, ids int) string {
	if ids <= 0 {
		log.Printf("Error: BuildDeleteSQL called with no ids for table '%s'", table)
		return ""
	}
	return fmt.Sprintf("DELETE FROM %s WHERE collection = ? AND id IN (%s)", Quote(table), placeholders(ids))
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func buildWhere(d Dialect, q *queryopt.ProviderQuery) ([]string, []any, error) {
	where := []string{"collection = ?"}
	args := []any{q.Collection}
	for _, f := range q.Filters {
		cond, condArgs, err := buildCondition(d, f)
		if err != nil {
			return nil, nil, fmt.Errorf("filter %s %s: %w", f.Field, f.Op, err)
		}
		where = append(where, cond)
		args = append(args, condArgs...)
	}
	return where, args, nil
}

func buildCondition(d Dialect, f queryopt.Filter) (string, []any, error) {
	if !queryopt.ValidField(f.Field) {
		return "", nil, fmt.Errorf("%w: invalid field %q", queryopt.ErrInvalidQuery, f.Field)
	}
	field := d.Field(f.Field)
	value := utils.NormalizeValue(f.Value)

	switch f.Op {
	case queryopt.OpEqual, queryopt.OpNotEqual:
		if value == nil {
			if f.Op == queryopt.OpEqual {
				return field + " IS NULL", nil, nil
			}
			return field + " IS NOT NULL", nil, nil
		}
		ph, arg, err := d.Value(f.Field, value)
		if err != nil {
			return "", nil, err
		}
		op := "="
		if f.Op == queryopt.OpNotEqual {
			op = "<>"
		}
		return fmt.Sprintf("%s %s %s", field, op, ph), []any{arg}, nil

	case queryopt.OpLess, queryopt.OpLessOrEqual, queryopt.OpGreater, queryopt.OpGreaterOrEqual:
		if value == nil {
			return "1 = 0", nil, nil
		}
		ph, arg, err := d.Value(f.Field, value)
		if err != nil {
			return "", nil, err
		}
		cond := fmt.Sprintf("%s %s %s", field, string(f.Op), ph)
		if guard := d.KindGuard(f.Field, value); guard != "" {
			cond = "(" + guard + " AND " + cond + ")"
		}
		return cond, []any{arg}, nil

	case queryopt.OpIn, queryopt.OpNotIn:
		list, ok := value.([]any)
		if !ok {
			return "", nil, fmt.Errorf("%w: %s requires a list, got %T", queryopt.ErrInvalidQuery, f.Op, f.Value)
		}
		if len(list) == 0 {
			// IN () is invalid SQL: an empty IN never matches, an empty NOT IN matches
			// every document that has the field.
			if f.Op == queryopt.OpIn {
				return "1 = 0", nil, nil
			}
			return field + " IS NOT NULL", nil, nil
		}
		phs := make([]string, len(list))
		args := make([]any, len(list))
		for i, item := range list {
			ph, arg, err := d.Value(f.Field, item)
			if err != nil {
				return "", nil, err
			}
			phs[i], args[i] = ph, arg
		}
		op := "IN"
		if f.Op == queryopt.OpNotIn {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", field, op, strings.Join(phs, ", ")), args, nil

	case queryopt.OpArrayContains:
		cond, arg, err := d.ArrayContains(f.Field, value)
		if err != nil {
			return "", nil, err
		}
		return cond, []any{arg}, nil
	}
	return "", nil, fmt.Errorf("%w: unsupported operator %q", queryopt.ErrInvalidQuery, f.Op)
}

// buildKeyset expands "strictly after the cursor" for a multi-column ordering into
//
//	(f1 after v1) OR (f1 = v1 AND f2 after v2) OR ...
//
// where "after" follows each column's direction and the null placement of NullsOrder:
// nulls come first ascending and last descending.
func buildKeyset(d Dialect, ordering []queryopt.Order, cursor []any) (string, []any, error) {
	if len(cursor) != len(ordering) {
		return "", nil, fmt.Errorf("cursor has %d values for %d ordering columns", len(cursor), len(ordering))
	}

	var (
		branches []string
		args     []any
		eqConds  []string
		eqArgs   []any
	)
	for i, o := range ordering {
		field := d.Field(o.Field)
		v := cursor[i]

		var after string
		var afterArgs []any
		switch {
		case v == nil && o.Direction == queryopt.Asc:
			after = field + " IS NOT NULL"
		case v == nil:
			after = "" // nothing sorts after null in descending order
		default:
			ph, arg, err := d.Value(o.Field, v)
			if err != nil {
				return "", nil, err
			}
			if o.Direction == queryopt.Asc {
				after = fmt.Sprintf("%s > %s", field, ph)
			} else {
				after = fmt.Sprintf("(%s < %s OR %s IS NULL)", field, ph, field)
			}
			afterArgs = []any{arg}
		}

		if after != "" {
			branch := append(append([]string{}, eqConds...), after)
			branches = append(branches, "("+strings.Join(branch, " AND ")+")")
			args = append(args, eqArgs...)
			args = append(args, afterArgs...)
		}

		if v == nil {
			eqConds = append(eqConds, field+" IS NULL")
			continue
		}
		ph, arg, err := d.Value(o.Field, v)
		if err != nil {
			return "", nil, err
		}
		eqConds = append(eqConds, fmt.Sprintf("%s = %s", field, ph))
		eqArgs = append(eqArgs, arg)
	}

	if len(branches) == 0 {
		return "1 = 0", nil, nil
	}
	return "(" + strings.Join(branches, " OR ") + ")", args, nil
}
