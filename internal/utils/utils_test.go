package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeValue_Numbers(t *testing.T) {
	assert.Equal(t, float64(3), NormalizeValue(3))
	assert.Equal(t, float64(3), NormalizeValue(int64(3)))
	assert.Equal(t, float64(3), NormalizeValue(uint8(3)))
	assert.Equal(t, float64(1.5), NormalizeValue(float32(1.5)))
	assert.Nil(t, NormalizeValue(nil))
}

func TestCanonicalKeyJSON_ExactIntegers(t *testing.T) {
	big, err := CanonicalKeyJSON(int64(9007199254740993))
	require.NoError(t, err)
	assert.Equal(t, "9007199254740993", string(big))

	neighbour, err := CanonicalKeyJSON(int64(9007199254740992))
	require.NoError(t, err)
	assert.Equal(t, "9007199254740992", string(neighbour))

	nested, err := CanonicalKeyJSON(map[string]any{"ids": []uint64{18446744073709551615}})
	require.NoError(t, err)
	assert.Equal(t, `{"ids":[18446744073709551615]}`, string(nested))

	small, err := CanonicalKeyJSON(3)
	require.NoError(t, err)
	same, err := CanonicalKeyJSON(3.0)
	require.NoError(t, err)
	assert.Equal(t, string(small), string(same))

	// Comparisons keep the float form.
	assert.Equal(t, float64(9007199254740992), NormalizeValue(int64(9007199254740993)))
}

func TestNormalizeValue_Collections(t *testing.T) {
	got := NormalizeValue(map[string]interface{}{
		"tags":  []string{"a", "b"},
		"count": 2,
		"ts":    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, map[string]interface{}{
		"tags":  []interface{}{"a", "b"},
		"count": float64(2),
		"ts":    "2024-05-01T12:00:00Z",
	}, got)
}

func TestNormalizeValue_Structs(t *testing.T) {
	type price struct {
		Amount   int    `json:"amount"`
		Currency string `json:"currency"`
	}
	got := NormalizeValue(price{Amount: 5, Currency: "EUR"})
	assert.Equal(t, map[string]interface{}{"amount": float64(5), "currency": "EUR"}, got)
}

func TestCanonicalJSON_Stable(t *testing.T) {
	a, err := CanonicalJSON(map[string]interface{}{"b": 1, "a": []int{1, 2}})
	require.NoError(t, err)
	b, err := CanonicalJSON(map[string]interface{}{"a": []float64{1, 2}, "b": int64(1)})
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, `{"a":[1,2],"b":1}`, string(a))
}

func TestToSlice(t *testing.T) {
	items, ok := ToSlice([]int{1, 2})
	require.True(t, ok)
	assert.Equal(t, []interface{}{float64(1), float64(2)}, items)

	_, ok = ToSlice("nope")
	assert.False(t, ok)
}

func TestCloneValue(t *testing.T) {
	src := map[string]interface{}{
		"name": "a",
		"tags": []interface{}{"x", map[string]interface{}{"k": 1.0}},
		"meta": map[string]interface{}{"n": 2.0},
	}
	cp := CloneValue(src).(map[string]interface{})
	require.Equal(t, src, cp)

	cp["name"] = "b"
	cp["meta"].(map[string]interface{})["n"] = 3.0
	cp["tags"].([]interface{})[1].(map[string]interface{})["k"] = 9.0

	assert.Equal(t, "a", src["name"])
	assert.Equal(t, 2.0, src["meta"].(map[string]interface{})["n"])
	assert.Equal(t, 1.0, src["tags"].([]interface{})[1].(map[string]interface{})["k"])
	assert.Equal(t, 7, CloneValue(7))

	typed := map[string][]string{"ids": {"a", "b"}}
	typedCopy := CloneValue(typed).(map[string][]string)
	typedCopy["ids"][0] = "z"
	assert.Equal(t, "a", typed["ids"][0])
}
