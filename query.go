package queryopt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/burugo/queryopt/internal/utils"
)

// Operator is a filter comparison operator.
type Operator string

const (
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpIn             Operator = "in"
	OpNotIn          Operator = "not-in"
	OpArrayContains  Operator = "array-contains"
)

// Valid reports whether o is one of the supported operators.
func (o Operator) Valid() bool {
	switch o {
	case OpEqual, OpNotEqual, OpLess, OpLessOrEqual, OpGreater, OpGreaterOrEqual, OpIn, OpNotIn, OpArrayContains:
		return true
	}
	return false
}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Valid reports whether d is asc or desc.
func (d Direction) Valid() bool {
	return d == Asc || d == Desc
}

// IDField names the document identifier in filters and orderings.
const IDField = "id"

// Filter is a single (field, operator, value) predicate.
type Filter struct {
	Field string   `json:"field" yaml:"field"`
	Op    Operator `json:"op" yaml:"op"`
	Value any      `json:"value" yaml:"value"`
}

// Where builds a Filter.
func Where(field string, op Operator, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Order is a single ordering clause.
type Order struct {
	Field     string    `json:"field" yaml:"field"`
	Direction Direction `json:"direction" yaml:"direction"`
}

// OrderBy builds an Order.
func OrderBy(field string, dir Direction) Order {
	return Order{Field: field, Direction: dir}
}

// Descriptor is a provider-agnostic read query. Filter and ordering order are significant,
// both for the derived cache key and for the provider.
type Descriptor struct {
	Collection string
	Filters    []Filter
	Orders     []Order
	PageSize   int    // 0 means unset
	Cursor     string // id of the last record of the previous page, "" means unset
	CacheKey   string // explicit override of the derived key
}

// QueryOptions are the caller-facing options of ExecuteQuery.
type QueryOptions struct {
	Filters  []Filter
	Orders   []Order
	PageSize int
	Cursor   string
	CacheKey string

	// IncludeTotalCount asks the provider for the number of matching documents, when it
	// implements Counter.
	IncludeTotalCount bool
	// SkipCache bypasses the cache lookup; the fresh result is still written back.
	SkipCache bool
}

func (o QueryOptions) descriptor(collection string) Descriptor {
	return Descriptor{
		Collection: collection,
		Filters:    o.Filters,
		Orders:     o.Orders,
		PageSize:   o.PageSize,
		Cursor:     o.Cursor,
		CacheKey:   o.CacheKey,
	}
}

// BatchQuery is one member of ExecuteBatch.
type BatchQuery struct {
	Collection string
	Options    QueryOptions
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)*$`)

// ValidField reports whether name is a dotted path of [A-Za-z0-9_] segments.
// Providers rely on this before inlining a field name into a backend query.
func ValidField(name string) bool {
	return fieldPattern.MatchString(name)
}

// Validate checks the descriptor and returns an error wrapping ErrInvalidQuery.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Collection) == "" {
		return fmt.Errorf("%w: collection name is empty", ErrInvalidQuery)
	}
	for i, f := range d.Filters {
		if !ValidField(f.Field) {
			return fmt.Errorf("%w: filter %d: invalid field %q", ErrInvalidQuery, i, f.Field)
		}
		if !f.Op.Valid() {
			return fmt.Errorf("%w: filter %d: unknown operator %q", ErrInvalidQuery, i, f.Op)
		}
		if (f.Op == OpIn || f.Op == OpNotIn) && !utils.IsSlice(f.Value) {
			return fmt.Errorf("%w: filter %d: operator %q needs a list value, got %T", ErrInvalidQuery, i, f.Op, f.Value)
		}
	}
	for i, o := range d.Orders {
		if !ValidField(o.Field) {
			return fmt.Errorf("%w: order %d: invalid field %q", ErrInvalidQuery, i, o.Field)
		}
		if !o.Direction.Valid() {
			return fmt.Errorf("%w: order %d: unknown direction %q", ErrInvalidQuery, i, o.Direction)
		}
	}
	if d.PageSize < 0 {
		return fmt.Errorf("%w: negative page size %d", ErrInvalidQuery, d.PageSize)
	}
	return nil
}

// ProviderQuery is the query handed to a Provider. It is built fluently in the order
// filters, ordering, cursor, limit.
type ProviderQuery struct {
	Collection string
	Filters    []Filter
	Orders     []Order
	After      string // resume after the document with this id
	Max        int    // 0 means no limit
}

// NewProviderQuery starts a query on collection.
func NewProviderQuery(collection string) *ProviderQuery {
	return &ProviderQuery{Collection: collection}
}

// Where appends a filter.
func (q *ProviderQuery) Where(field string, op Operator, value any) *ProviderQuery {
	q.Filters = append(q.Filters, Filter{Field: field, Op: op, Value: value})
	return q
}

// OrderBy appends an ordering clause.
func (q *ProviderQuery) OrderBy(field string, dir Direction) *ProviderQuery {
	q.Orders = append(q.Orders, Order{Field: field, Direction: dir})
	return q
}

// StartAfter resumes the result set after the document with the given id.
func (q *ProviderQuery) StartAfter(id string) *ProviderQuery {
	q.After = id
	return q
}

// Limit caps the number of returned documents.
func (q *ProviderQuery) Limit(n int) *ProviderQuery {
	q.Max = n
	return q
}

// Ordering returns the ordering clauses followed by the implicit id tie-break, which makes
// the order total so that cursors resume at a single well-defined position.
func (q *ProviderQuery) Ordering() []Order {
	out := make([]Order, 0, len(q.Orders)+1)
	for _, o := range q.Orders {
		out = append(out, o)
		if o.Field == IDField {
			return out
		}
	}
	return append(out, Order{Field: IDField, Direction: Asc})
}

// String renders the query for logs.
func (q *ProviderQuery) String() string {
	var b strings.Builder
	b.WriteString(q.Collection)
	for _, f := range q.Filters {
		fmt.Fprintf(&b, " where %s %s %v", f.Field, f.Op, f.Value)
	}
	for _, o := range q.Orders {
		fmt.Fprintf(&b, " order %s %s", o.Field, o.Direction)
	}
	if q.After != "" {
		fmt.Fprintf(&b, " after %s", q.After)
	}
	if q.Max > 0 {
		fmt.Fprintf(&b, " limit %d", q.Max)
	}
	return b.String()
}

// buildProviderQuery applies filters, ordering, cursor and limit in that order.
func buildProviderQuery(d Descriptor) *ProviderQuery {
	q := NewProviderQuery(d.Collection)
	for _, f := range d.Filters {
		q.Where(f.Field, f.Op, f.Value)
	}
	for _, o := range d.Orders {
		q.OrderBy(o.Field, o.Direction)
	}
	if d.Cursor != "" {
		q.StartAfter(d.Cursor)
	}
	if d.PageSize > 0 {
		q.Limit(d.PageSize)
	}
	return q
}
