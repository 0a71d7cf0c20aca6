package sqldoc

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burugo/queryopt"
	"github.com/burugo/queryopt/internal/match"
	"github.com/burugo/queryopt/internal/sqlbuilder"
)

var fixture = []queryopt.Document{
	{ID: "t1", Data: map[string]any{"status": "open", "price": 10, "tags": []any{"art", "music"}, "owner": map[string]any{"name": "ana"}}},
	{ID: "t2", Data: map[string]any{"status": "closed", "price": 25.5, "tags": []any{"code"}}},
	{ID: "t3", Data: map[string]any{"status": "open", "price": 40, "owner": map[string]any{"name": "bo"}}},
	{ID: "t4", Data: map[string]any{"status": "open"}},
	{ID: "t5", Data: map[string]any{"status": "pending", "price": 7}},
}

func setupStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	s, err := New(db, sqlbuilder.SQLiteDialect{}, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.Put(ctx, "trades", fixture...))
	require.NoError(t, s.Put(ctx, "other", queryopt.Document{ID: "t1", Data: map[string]any{"status": "open"}}))
	return s
}

func docIDs(docs []queryopt.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

// The SQL store must return exactly what the in-memory evaluator returns.
func TestStore_FindMatchesInMemoryEvaluation(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	queries := map[string]*queryopt.ProviderQuery{
		"all":            queryopt.NewProviderQuery("trades"),
		"equal":          queryopt.NewProviderQuery("trades").Where("status", queryopt.OpEqual, "open"),
		"range":          queryopt.NewProviderQuery("trades").Where("price", queryopt.OpGreaterOrEqual, 10),
		"in":             queryopt.NewProviderQuery("trades").Where("status", queryopt.OpIn, []string{"closed", "pending"}),
		"not in":         queryopt.NewProviderQuery("trades").Where("status", queryopt.OpNotIn, []string{"open"}),
		"array contains": queryopt.NewProviderQuery("trades").Where("tags", queryopt.OpArrayContains, "code"),
		"nested":         queryopt.NewProviderQuery("trades").Where("owner.name", queryopt.OpEqual, "bo"),
		"ordered":        queryopt.NewProviderQuery("trades").OrderBy("price", queryopt.Desc),
		"ordered asc":    queryopt.NewProviderQuery("trades").OrderBy("price", queryopt.Asc).Limit(3),
		"page 2":         queryopt.NewProviderQuery("trades").OrderBy("price", queryopt.Desc).StartAfter("t2").Limit(2),
		"after null asc": queryopt.NewProviderQuery("trades").OrderBy("price", queryopt.Asc).StartAfter("t4"),
		"after id":       queryopt.NewProviderQuery("trades").Where("status", queryopt.OpEqual, "open").StartAfter("t1"),
	}
	for name, q := range queries {
		q := q
		t.Run(name, func(t *testing.T) {
			want, err := match.Apply(fixture, q)
			require.NoError(t, err)
			got, err := s.Find(ctx, q)
			require.NoError(t, err)
			assert.Equal(t, docIDs(want), docIDs(got), q.String())
		})
	}
}

func TestStore_FindDecodesPayload(t *testing.T) {
	s := setupStore(t)
	docs, err := s.Find(context.Background(), queryopt.NewProviderQuery("trades").Where("id", queryopt.OpEqual, "t1"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, float64(10), docs[0].Data["price"])
	assert.Equal(t, map[string]any{"name": "ana"}, docs[0].Data["owner"])
}

func TestStore_CursorNotFound(t *testing.T) {
	s := setupStore(t)
	_, err := s.Find(context.Background(), queryopt.NewProviderQuery("trades").StartAfter("nope"))
	assert.ErrorIs(t, err, queryopt.ErrCursorNotFound)
}

func TestStore_Count(t *testing.T) {
	s := setupStore(t)
	n, err := s.Count(context.Background(), queryopt.NewProviderQuery("trades").Where("status", queryopt.OpEqual, "open").Limit(1))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestStore_PutUpsertsAndDelete(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "trades", queryopt.Document{ID: "t4", Data: map[string]any{"status": "closed"}}))
	docs, err := s.Find(ctx, queryopt.NewProviderQuery("trades").Where("status", queryopt.OpEqual, "closed"))
	require.NoError(t, err)
	assert.Equal(t, []string{"t2", "t4"}, docIDs(docs))

	require.NoError(t, s.Delete(ctx, "trades", "t2", "t4", "missing"))
	n, err := s.Count(ctx, queryopt.NewProviderQuery("trades"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// Other collections are untouched.
	n, err = s.Count(ctx, queryopt.NewProviderQuery("other"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	err = s.Put(ctx, "trades", queryopt.Document{Data: map[string]any{}})
	assert.ErrorIs(t, err, queryopt.ErrInvalidQuery)
}

func TestNew_RejectsBadTable(t *testing.T) {
	_, err := New(nil, sqlbuilder.SQLiteDialect{}, "bad name")
	assert.ErrorIs(t, err, queryopt.ErrInvalidConfig)
}
