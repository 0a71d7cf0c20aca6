package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burugo/queryopt"
)

func openTest(t *testing.T, dir string) *Provider {
	t.Helper()
	p, err := Open(dir)
	require.NoError(t, err)
	return p
}

func TestProvider_InMemory(t *testing.T) {
	p := openTest(t, "")
	defer p.Close()
	ctx := context.Background()

	require.NoError(t, p.Put(ctx, "orders",
		queryopt.Document{ID: "o2", Data: map[string]any{"total": 20, "state": "paid"}},
		queryopt.Document{ID: "o1", Data: map[string]any{"total": 5, "state": "new"}},
		queryopt.Document{ID: "o3", Data: map[string]any{"total": 12, "state": "paid"}},
	))
	// A collection sharing a name prefix must not leak into "orders".
	require.NoError(t, p.Put(ctx, "orders2", queryopt.Document{ID: "x", Data: map[string]any{"state": "paid"}}))

	docs, err := p.Find(ctx, queryopt.NewProviderQuery("orders"))
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "o1", docs[0].ID)

	docs, err = p.Find(ctx, queryopt.NewProviderQuery("orders").Where("state", queryopt.OpEqual, "paid").OrderBy("total", queryopt.Asc))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "o3", docs[0].ID)
	assert.Equal(t, "o2", docs[1].ID)

	n, err := p.Count(ctx, queryopt.NewProviderQuery("orders").Where("total", queryopt.OpGreater, 6))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, p.Delete(ctx, "orders", "o2", "missing"))
	n, err = p.Count(ctx, queryopt.NewProviderQuery("orders"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestProvider_PersistsToDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	p := openTest(t, dir)
	require.NoError(t, p.Put(ctx, "orders", queryopt.Document{ID: "o1", Data: map[string]any{"total": 5}}))
	require.NoError(t, p.Close())

	p = openTest(t, dir)
	defer p.Close()
	docs, err := p.Find(ctx, queryopt.NewProviderQuery("orders"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, float64(5), docs[0].Data["total"])
}

func TestProvider_RejectsSlashInCollection(t *testing.T) {
	p := openTest(t, "")
	defer p.Close()
	_, err := p.Find(context.Background(), queryopt.NewProviderQuery("a/b"))
	assert.ErrorIs(t, err, queryopt.ErrInvalidQuery)
}
