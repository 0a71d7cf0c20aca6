package utils

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strconv"
	"time"
)

// maxExactInt is the largest magnitude below which every integer has an exact float64.
const maxExactInt = 1 << 53

// NormalizeValue recursively converts a value into the shape it would have after a JSON
// round trip: every numeric kind becomes float64, times become RFC 3339 strings, slices
// become []interface{} and string-keyed maps become map[string]interface{}.
// This is necessary to get consistent cache keys and comparisons regardless of how the
// value was constructed (int vs int64 vs float64, []string vs []interface{}, ...).
func NormalizeValue(value interface{}) interface{} {
	return normalize(value, false)
}

// normalize implements NormalizeValue. With exact set, integers too large for float64
// are kept as json.Number so that no two distinct integers share a form.
func normalize(value interface{}, exact bool) interface{} {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case bool, string, float64:
		return v
	case json.Number:
		if exact {
			if i, err := v.Int64(); err == nil {
				return intValue(i, exact)
			}
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for k, item := range v {
			result[k] = normalize(item, exact)
		}
		return result
	case []interface{}:
		// Make a copy to avoid modifying the original
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = normalize(item, exact)
		}
		return result
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return intValue(rv.Int(), exact)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if exact && u > maxExactInt {
			return json.Number(strconv.FormatUint(u, 10))
		}
		return float64(u)
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface(), exact)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []interface{}{}
		}
		result := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			result[i] = normalize(rv.Index(i).Interface(), exact)
		}
		return result
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			result := make(map[string]interface{}, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				result[iter.Key().String()] = normalize(iter.Value().Interface(), exact)
			}
			return result
		}
	}

	// Structs and anything else: let encoding/json decide the shape.
	raw, err := json.Marshal(value)
	if err != nil {
		return value
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return value
	}
	return normalize(out, exact)
}

func intValue(i int64, exact bool) interface{} {
	if exact && (i > maxExactInt || i < -maxExactInt) {
		return json.Number(strconv.FormatInt(i, 10))
	}
	return float64(i)
}

// CanonicalJSON marshals the normalized form of value. encoding/json writes map keys in
// sorted order, so equal values always produce identical bytes.
func CanonicalJSON(value interface{}) ([]byte, error) {
	return json.Marshal(NormalizeValue(value))
}

// CanonicalKeyJSON is CanonicalJSON for cache keys: integers beyond float64 precision
// keep their exact digits, while 3, int64(3) and 3.0 still encode alike.
func CanonicalKeyJSON(value interface{}) ([]byte, error) {
	return json.Marshal(normalize(value, true))
}

// CloneValue deep-copies the maps and slices inside value. Scalars, pointers and structs
// are returned as they are.
func CloneValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		if v == nil {
			return v
		}
		result := make(map[string]interface{}, len(v))
		for k, item := range v {
			result[k] = CloneValue(item)
		}
		return result
	case []interface{}:
		if v == nil {
			return v
		}
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = CloneValue(item)
		}
		return result
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return value
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(cloneElem(rv.Index(i), rv.Type().Elem()))
		}
		return out.Interface()
	case reflect.Map:
		if rv.IsNil() {
			return value
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneElem(iter.Value(), rv.Type().Elem()))
		}
		return out.Interface()
	}
	return value
}

func cloneElem(v reflect.Value, typ reflect.Type) reflect.Value {
	if typ.Kind() == reflect.Interface && v.IsNil() {
		return reflect.Zero(typ)
	}
	c := reflect.ValueOf(CloneValue(v.Interface()))
	if !c.IsValid() {
		return reflect.Zero(typ)
	}
	return c.Convert(typ)
}

// IsSlice reports whether value is a slice or array (after dereferencing pointers).
func IsSlice(value interface{}) bool {
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr && !rv.IsNil() {
		rv = rv.Elem()
	}
	return rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array
}

// ToSlice returns the normalized elements of a slice or array value.
func ToSlice(value interface{}) ([]interface{}, bool) {
	if !IsSlice(value) {
		return nil, false
	}
	items, ok := NormalizeValue(value).([]interface{})
	return items, ok
}
