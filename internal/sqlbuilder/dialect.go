package sqlbuilder

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/burugo/queryopt"
	"github.com/burugo/queryopt/internal/utils"
)

// SQLiteDialect reads payload fields with json_extract.
type SQLiteDialect struct{}

func (SQLiteDialect) Name() string { return "sqlite" }

func (SQLiteDialect) jsonPath(path string) string {
	return "'$." + path + "'"
}

func (d SQLiteDialect) Field(path string) string {
	if path == queryopt.IDField {
		return "id"
	}
	return "json_extract(data, " + d.jsonPath(path) + ")"
}

func (SQLiteDialect) Value(path string, v any) (string, any, error) {
	if path == queryopt.IDField {
		return "?", fmt.Sprint(v), nil
	}
	switch v.(type) {
	case nil, bool, float64, string:
		return "?", v, nil
	}
	// json_extract returns lists and objects as JSON text.
	raw, err := utils.CanonicalJSON(v)
	if err != nil {
		return "", nil, err
	}
	return "?", string(raw), nil
}

func (d SQLiteDialect) KindGuard(path string, v any) string {
	if path == queryopt.IDField {
		return ""
	}
	typ := "json_type(data, " + d.jsonPath(path) + ")"
	switch v.(type) {
	case float64:
		return typ + " IN ('integer', 'real')"
	case string:
		return typ + " = 'text'"
	case bool:
		return typ + " IN ('true', 'false')"
	}
	return ""
}

func (d SQLiteDialect) ArrayContains(path string, v any) (string, any, error) {
	if path == queryopt.IDField {
		return "1 = 0", nil, nil
	}
	p := d.jsonPath(path)
	cond := fmt.Sprintf("(json_type(data, %s) = 'array' AND EXISTS (SELECT 1 FROM json_each(data, %s) WHERE json_each.value = ?))", p, p)
	_, arg, err := d.Value(path, v)
	return cond, arg, err
}

// NullsOrder is empty: SQLite already sorts NULL first ascending and last descending.
func (SQLiteDialect) NullsOrder(queryopt.Direction) string { return "" }

func (d SQLiteDialect) SelectValue(path string) string { return d.Field(path) }

func (SQLiteDialect) DecodeValue(path string, raw any) (any, error) {
	switch v := raw.(type) {
	case []byte:
		return string(v), nil
	case int64:
		if path == queryopt.IDField {
			return fmt.Sprint(v), nil
		}
		return float64(v), nil
	default:
		return utils.NormalizeValue(v), nil
	}
}

func (SQLiteDialect) DataColumn() string { return "data" }

func (SQLiteDialect) CreateTableSQL(table string) []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	data TEXT NOT NULL,
	PRIMARY KEY (collection, id)
)`, Quote(table))}
}

func (SQLiteDialect) UpsertSQL(table string) string {
	return fmt.Sprintf("INSERT INTO %s (collection, id, data) VALUES (?, ?, ?) ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data", Quote(table))
}

// PostgresDialect stores payloads as JSONB and compares jsonb values.
type PostgresDialect struct{}

func (PostgresDialect) Name() string { return "postgres" }

func (PostgresDialect) pathExpr(path string) string {
	return "(data #> '{" + strings.ReplaceAll(path, ".", ",") + "}')"
}

func (d PostgresDialect) Field(path string) string {
	if path == queryopt.IDField {
		return "id"
	}
	return d.pathExpr(path)
}

func (PostgresDialect) Value(path string, v any) (string, any, error) {
	if path == queryopt.IDField {
		return "?", fmt.Sprint(v), nil
	}
	raw, err := utils.CanonicalJSON(v)
	if err != nil {
		return "", nil, err
	}
	return "?::jsonb", string(raw), nil
}

func (d PostgresDialect) KindGuard(path string, v any) string {
	if path == queryopt.IDField {
		return ""
	}
	typ := "jsonb_typeof(" + d.pathExpr(path) + ")"
	switch v.(type) {
	case float64:
		return typ + " = 'number'"
	case string:
		return typ + " = 'string'"
	case bool:
		return typ + " = 'boolean'"
	}
	return ""
}

func (d PostgresDialect) ArrayContains(path string, v any) (string, any, error) {
	if path == queryopt.IDField {
		return "1 = 0", nil, nil
	}
	raw, err := utils.CanonicalJSON([]any{v})
	if err != nil {
		return "", nil, err
	}
	p := d.pathExpr(path)
	return fmt.Sprintf("(jsonb_typeof(%s) = 'array' AND %s @> ?::jsonb)", p, p), string(raw), nil
}

// NullsOrder overrides the PostgreSQL default (NULLS LAST ascending, FIRST descending).
func (PostgresDialect) NullsOrder(dir queryopt.Direction) string {
	if dir == queryopt.Desc {
		return "NULLS LAST"
	}
	return "NULLS FIRST"
}

func (d PostgresDialect) SelectValue(path string) string {
	if path == queryopt.IDField {
		return "id"
	}
	return d.pathExpr(path) + "::text"
}

func (PostgresDialect) DecodeValue(path string, raw any) (any, error) {
	var text string
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []byte:
		text = string(v)
	case string:
		text = v
	default:
		return utils.NormalizeValue(v), nil
	}
	if path == queryopt.IDField {
		return text, nil
	}
	var out any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("decode cursor value for %s: %w", path, err)
	}
	return out, nil
}

func (PostgresDialect) DataColumn() string { return "data::text" }

func (PostgresDialect) CreateTableSQL(table string) []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	data JSONB NOT NULL,
	PRIMARY KEY (collection, id)
)`, Quote(table))}
}

func (PostgresDialect) UpsertSQL(table string) string {
	return fmt.Sprintf("INSERT INTO %s (collection, id, data) VALUES (?, ?, ?::jsonb) ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data", Quote(table))
}
