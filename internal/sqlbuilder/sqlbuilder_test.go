package sqlbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burugo/queryopt"
)

func TestBuildSelectSQL_SQLite(t *testing.T) {
	q := queryopt.NewProviderQuery("trades").
		Where("status", queryopt.OpEqual, "open").
		Where("price", queryopt.OpGreater, 10).
		Where("owner.name", queryopt.OpIn, []string{"ana", "bo"}).
		OrderBy("price", queryopt.Desc).
		Limit(5)

	query, args, err := BuildSelectSQL(SQLiteDialect{}, "documents", q, nil)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT id, data FROM "documents" WHERE collection = ?`+
			` AND json_extract(data, '$.status') = ?`+
			` AND (json_type(data, '$.price') IN ('integer', 'real') AND json_extract(data, '$.price') > ?)`+
			` AND json_extract(data, '$.owner.name') IN (?, ?)`+
			` ORDER BY json_extract(data, '$.price') DESC, id ASC LIMIT ?`,
		query)
	assert.Equal(t, []any{"trades", "open", float64(10), "ana", "bo", 5}, args)
}

func TestBuildSelectSQL_Postgres(t *testing.T) {
	q := queryopt.NewProviderQuery("trades").
		Where("status", queryopt.OpNotEqual, "closed").
		Where("tags", queryopt.OpArrayContains, "art").
		OrderBy("price", queryopt.Asc)

	query, args, err := BuildSelectSQL(PostgresDialect{}, "documents", q, nil)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT id, data::text FROM "documents" WHERE collection = ?`+
			` AND (data #> '{status}') <> ?::jsonb`+
			` AND (jsonb_typeof((data #> '{tags}')) = 'array' AND (data #> '{tags}') @> ?::jsonb)`+
			` ORDER BY (data #> '{price}') ASC NULLS FIRST, id ASC`,
		query)
	assert.Equal(t, []any{"trades", `"closed"`, `["art"]`}, args)
}

func TestBuildSelectSQL_EmptyLists(t *testing.T) {
	q := queryopt.NewProviderQuery("c").
		Where("a", queryopt.OpIn, []string{}).
		Where("b", queryopt.OpNotIn, []int{})
	query, args, err := BuildSelectSQL(SQLiteDialect{}, "documents", q, nil)
	require.NoError(t, err)
	assert.Contains(t, query, "AND 1 = 0 AND json_extract(data, '$.b') IS NOT NULL")
	assert.Equal(t, []any{"c"}, args)
}

func TestBuildSelectSQL_NilEquality(t *testing.T) {
	q := queryopt.NewProviderQuery("c").Where("a", queryopt.OpEqual, nil).Where("b", queryopt.OpNotEqual, nil)
	query, _, err := BuildSelectSQL(SQLiteDialect{}, "documents", q, nil)
	require.NoError(t, err)
	assert.Contains(t, query, "json_extract(data, '$.a') IS NULL AND json_extract(data, '$.b') IS NOT NULL")
}

func TestBuildSelectSQL_RejectsBadInput(t *testing.T) {
	_, _, err := BuildSelectSQL(SQLiteDialect{}, "documents", queryopt.NewProviderQuery("c").Where("a') OR 1=1 --", queryopt.OpEqual, 1), nil)
	assert.ErrorIs(t, err, queryopt.ErrInvalidQuery)

	_, _, err = BuildSelectSQL(SQLiteDialect{}, "documents", queryopt.NewProviderQuery("c").Where("a", queryopt.OpIn, 3), nil)
	assert.ErrorIs(t, err, queryopt.ErrInvalidQuery)
}

func TestBuildKeyset(t *testing.T) {
	ordering := []queryopt.Order{{Field: "price", Direction: queryopt.Desc}, {Field: "id", Direction: queryopt.Asc}}

	cond, args, err := buildKeyset(SQLiteDialect{}, ordering, []any{float64(10), "t1"})
	require.NoError(t, err)
	assert.Equal(t,
		"(((json_extract(data, '$.price') < ? OR json_extract(data, '$.price') IS NULL))"+
			" OR (json_extract(data, '$.price') = ? AND id > ?))",
		cond)
	assert.Equal(t, []any{float64(10), float64(10), "t1"}, args)

	// A null cursor value in descending order: only other nulls can follow.
	cond, args, err = buildKeyset(SQLiteDialect{}, ordering, []any{nil, "t4"})
	require.NoError(t, err)
	assert.Equal(t, "((json_extract(data, '$.price') IS NULL AND id > ?))", cond)
	assert.Equal(t, []any{"t4"}, args)

	// Ascending null: every non-null value follows.
	asc := []queryopt.Order{{Field: "price", Direction: queryopt.Asc}, {Field: "id", Direction: queryopt.Asc}}
	cond, _, err = buildKeyset(SQLiteDialect{}, asc, []any{nil, "t4"})
	require.NoError(t, err)
	assert.Equal(t, "((json_extract(data, '$.price') IS NOT NULL) OR (json_extract(data, '$.price') IS NULL AND id > ?))", cond)

	_, _, err = buildKeyset(SQLiteDialect{}, ordering, []any{"x"})
	assert.Error(t, err)
}

func TestBuildCursorAndCountSQL(t *testing.T) {
	q := queryopt.NewProviderQuery("c").Where("a", queryopt.OpEqual, 1).OrderBy("b.c", queryopt.Asc).StartAfter("x").Limit(3)

	query, args := BuildCursorSQL(PostgresDialect{}, "documents", q)
	assert.Equal(t, `SELECT (data #> '{b,c}')::text, id FROM "documents" WHERE collection = ? AND id = ?`, query)
	assert.Equal(t, []any{"c", "x"}, args)

	query, args, err := BuildCountSQL(SQLiteDialect{}, "documents", q)
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "documents" WHERE collection = ? AND json_extract(data, '$.a') = ?`, query)
	assert.Equal(t, []any{"c", float64(1)}, args)
}

func TestBuildDeleteSQL(t *testing.T) {
	assert.Equal(t, `DELETE FROM "documents" WHERE collection = ? AND id IN (?, ?)`, BuildDeleteSQL("documents", 2))
	assert.Empty(t, BuildDeleteSQL("documents", 0))
}

func TestDecodeValue(t *testing.T) {
	v, err := PostgresDialect{}.DecodeValue("price", []byte("12.5"))
	require.NoError(t, err)
	assert.Equal(t, 12.5, v)

	v, err = PostgresDialect{}.DecodeValue("id", "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", v)

	v, err = SQLiteDialect{}.DecodeValue("price", int64(3))
	require.NoError(t, err)
	assert.Equal(t, float64(3), v)
}

func TestValidTable(t *testing.T) {
	assert.True(t, ValidTable("documents"))
	assert.False(t, ValidTable("docs; drop"))
	assert.False(t, ValidTable("1docs"))
}
