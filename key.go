package queryopt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log"
	"strconv"

	"github.com/burugo/queryopt/internal/utils"
)

// cacheKeyPrefix starts every derived key: query:<collection>:<sha256 hex>.
const cacheKeyPrefix = "query"

// DeriveCacheKey returns the cache key of a descriptor. An explicit CacheKey is returned
// unchanged. Otherwise the key hashes a length-prefixed encoding of the collection, the
// filters in order, the orderings in order, the page size and the cursor. Filter values
// are normalized first, so 3, int64(3) and 3.0 hash alike while integers past 2^53 stay
// exact. Reordering filters changes the key.
func DeriveCacheKey(d Descriptor) string {
	if d.CacheKey != "" {
		return d.CacheKey
	}

	h := sha256.New()
	writeField(h, "c", d.Collection)
	for _, f := range d.Filters {
		value, err := utils.CanonicalKeyJSON(f.Value)
		if err != nil {
			// Unencodable values still need a deterministic key.
			log.Printf("WARN: cache key: cannot encode filter value for %s: %v", f.Field, err)
			value = []byte(fmt.Sprintf("%#v", f.Value))
		}
		writeField(h, "f", f.Field)
		writeField(h, "o", string(f.Op))
		writeField(h, "v", string(value))
	}
	for _, o := range d.Orders {
		writeField(h, "s", o.Field)
		writeField(h, "d", string(o.Direction))
	}
	writeField(h, "l", strconv.Itoa(d.PageSize))
	writeField(h, "a", d.Cursor)

	return fmt.Sprintf("%s:%s:%s", cacheKeyPrefix, d.Collection, hex.EncodeToString(h.Sum(nil)))
}

// writeField writes tag, len(value) and value so that no two field sequences encode to
// the same bytes.
func writeField(h hash.Hash, tag, value string) {
	h.Write([]byte(tag))
	h.Write([]byte(strconv.Itoa(len(value))))
	h.Write([]byte{':'})
	h.Write([]byte(value))
}
