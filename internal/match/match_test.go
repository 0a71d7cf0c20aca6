package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burugo/queryopt"
)

func doc(id string, data map[string]any) queryopt.Document {
	return queryopt.Document{ID: id, Data: data}
}

var trades = []queryopt.Document{
	doc("t1", map[string]any{"status": "open", "price": 10, "tags": []string{"art", "music"}, "owner": map[string]any{"name": "ana"}}),
	doc("t2", map[string]any{"status": "closed", "price": 25.5, "tags": []any{"code"}}),
	doc("t3", map[string]any{"status": "open", "price": int64(40), "owner": map[string]any{"name": "bo"}}),
	doc("t4", map[string]any{"status": "open"}),
	doc("t5", map[string]any{"status": "pending", "price": "n/a"}),
}

func ids(docs []queryopt.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func run(t *testing.T, q *queryopt.ProviderQuery) []string {
	t.Helper()
	out, err := Apply(trades, q)
	require.NoError(t, err)
	return ids(out)
}

func TestApply_Filters(t *testing.T) {
	tests := []struct {
		name string
		q    *queryopt.ProviderQuery
		want []string
	}{
		{"equal", queryopt.NewProviderQuery("c").Where("status", queryopt.OpEqual, "open"), []string{"t1", "t3", "t4"}},
		{"equal number across kinds", queryopt.NewProviderQuery("c").Where("price", queryopt.OpEqual, 40), []string{"t3"}},
		{"not equal skips missing fields", queryopt.NewProviderQuery("c").Where("price", queryopt.OpNotEqual, 10), []string{"t2", "t3", "t5"}},
		{"greater", queryopt.NewProviderQuery("c").Where("price", queryopt.OpGreater, 10), []string{"t2", "t3"}},
		{"greater or equal", queryopt.NewProviderQuery("c").Where("price", queryopt.OpGreaterOrEqual, 10), []string{"t1", "t2", "t3"}},
		{"less", queryopt.NewProviderQuery("c").Where("price", queryopt.OpLess, 25.5), []string{"t1"}},
		{"less or equal", queryopt.NewProviderQuery("c").Where("price", queryopt.OpLessOrEqual, 25.5), []string{"t1", "t2"}},
		{"range ignores other kinds", queryopt.NewProviderQuery("c").Where("price", queryopt.OpGreater, "a"), []string{"t5"}},
		{"in", queryopt.NewProviderQuery("c").Where("status", queryopt.OpIn, []string{"closed", "pending"}), []string{"t2", "t5"}},
		{"not in", queryopt.NewProviderQuery("c").Where("status", queryopt.OpNotIn, []string{"open"}), []string{"t2", "t5"}},
		{"in empty list", queryopt.NewProviderQuery("c").Where("status", queryopt.OpIn, []string{}), []string{}},
		{"array contains", queryopt.NewProviderQuery("c").Where("tags", queryopt.OpArrayContains, "music"), []string{"t1"}},
		{"array contains on scalar", queryopt.NewProviderQuery("c").Where("status", queryopt.OpArrayContains, "open"), []string{}},
		{"nested field", queryopt.NewProviderQuery("c").Where("owner.name", queryopt.OpEqual, "bo"), []string{"t3"}},
		{"id field", queryopt.NewProviderQuery("c").Where("id", queryopt.OpIn, []string{"t2", "t4"}), []string{"t2", "t4"}},
		{"and", queryopt.NewProviderQuery("c").Where("status", queryopt.OpEqual, "open").Where("price", queryopt.OpLess, 20), []string{"t1"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, run(t, tt.q))
		})
	}
}

func TestApply_InvalidInValue(t *testing.T) {
	_, err := Apply(trades, queryopt.NewProviderQuery("c").Where("status", queryopt.OpIn, "open"))
	assert.ErrorIs(t, err, queryopt.ErrInvalidQuery)
}

func TestApply_Ordering(t *testing.T) {
	// Missing and non-numeric prices: null first, then numbers, then strings.
	got := run(t, queryopt.NewProviderQuery("c").OrderBy("price", queryopt.Asc))
	assert.Equal(t, []string{"t4", "t1", "t2", "t3", "t5"}, got)

	got = run(t, queryopt.NewProviderQuery("c").OrderBy("price", queryopt.Desc))
	assert.Equal(t, []string{"t5", "t3", "t2", "t1", "t4"}, got)

	// Ties on status are broken by id.
	got = run(t, queryopt.NewProviderQuery("c").OrderBy("status", queryopt.Desc))
	assert.Equal(t, []string{"t5", "t1", "t3", "t4", "t2"}, got)
}

func TestApply_CursorAndLimit(t *testing.T) {
	q := func() *queryopt.ProviderQuery {
		return queryopt.NewProviderQuery("c").Where("status", queryopt.OpEqual, "open").OrderBy("price", queryopt.Desc)
	}

	page1 := run(t, q().Limit(2))
	assert.Equal(t, []string{"t3", "t1"}, page1)

	page2 := run(t, q().StartAfter("t1").Limit(2))
	assert.Equal(t, []string{"t4"}, page2)

	// The cursor document does not need to match the filters.
	got := run(t, queryopt.NewProviderQuery("c").Where("status", queryopt.OpEqual, "open").StartAfter("t2"))
	assert.Equal(t, []string{"t3", "t4"}, got)

	_, err := Apply(trades, q().StartAfter("missing"))
	assert.ErrorIs(t, err, queryopt.ErrCursorNotFound)
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, Compare(nil, false))
	assert.Equal(t, -1, Compare(true, 1.0))
	assert.Equal(t, -1, Compare(2.0, "1"))
	assert.Equal(t, 1, Compare("b", "a"))
	assert.Equal(t, 0, Compare(3.0, 3.0))
	assert.Equal(t, -1, Compare(false, true))
	assert.Equal(t, 1, Compare([]any{"b"}, []any{"a"}))
}

func TestCount(t *testing.T) {
	n, err := Count(trades, queryopt.NewProviderQuery("c").Where("status", queryopt.OpEqual, "open").Limit(1))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "limits do not apply to counts")
}
