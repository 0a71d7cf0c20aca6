package queryopt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/burugo/queryopt/internal/utils"
)

// Document is a raw record as returned by a Provider.
type Document struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// Field resolves a dotted path inside the document. "id" always resolves to the document
// id, matching Record.
func (d Document) Field(path string) (any, bool) {
	if path == IDField {
		return d.ID, true
	}
	return lookupPath(d.Data, path)
}

func lookupPath(data map[string]any, path string) (any, bool) {
	var cur any = data
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Record converts the document into a typed record: the payload merged with its id.
func (d Document) Record() Record {
	r := make(Record, len(d.Data)+1)
	for k, v := range d.Data {
		r[k] = v
	}
	r[IDField] = d.ID
	return r
}

// Record is a document payload merged with its identifier under "id".
type Record map[string]any

// ID returns the record identifier.
func (r Record) ID() string {
	id, _ := r[IDField].(string)
	return id
}

// QueryResult is the outcome of one ExecuteQuery call.
type QueryResult struct {
	Data []Record `json:"data"`
	// HasMore is true when the page came back full (len(Data) equals the requested page
	// size, or DefaultPageSize when none was requested). It is a heuristic: a full last
	// page reports true, and a provider that returns short pages early reports false.
	HasMore bool `json:"hasMore"`
	// LastRecord is the id of the last record, usable as the next Cursor; "" when empty.
	LastRecord    string        `json:"lastRecord,omitempty"`
	TotalCount    *int64        `json:"totalCount,omitempty"`
	ExecutionTime time.Duration `json:"executionTime"`
	FromCache     bool          `json:"fromCache"`
	QueryID       string        `json:"queryId"`
	CacheKey      string        `json:"cacheKey"`
}

// clone returns a deep copy of the result, so a caller writing into its records never
// changes what the cache hands out next.
func (r *QueryResult) clone() *QueryResult {
	c := *r
	if r.Data != nil {
		c.Data = make([]Record, len(r.Data))
		for i, rec := range r.Data {
			if rec != nil {
				c.Data[i] = Record(utils.CloneValue(map[string]interface{}(rec)).(map[string]interface{}))
			}
		}
	}
	if r.TotalCount != nil {
		n := *r.TotalCount
		c.TotalCount = &n
	}
	return &c
}

// As decodes the result records into a slice of T through their JSON representation.
func As[T any](r *QueryResult) ([]T, error) {
	if r == nil {
		return nil, nil
	}
	raw, err := json.Marshal(r.Data)
	if err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode records into %T: %w", out, err)
	}
	return out, nil
}
