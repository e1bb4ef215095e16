package query

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/gstore/lib/id"
	"github.com/ValentinKolb/gstore/lib/types"
)

// NoLimit is the canonical limit for an unbounded query.
const NoLimit int64 = -1

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Query describes a read against a backend store in backend agnostic terms.
//
// Every backend must return exactly the entries for which Test returns true,
// in unsigned byte order of their ids. Backends that can push a range or prefix
// down into a native scan still use Test as the authoritative filter.
type Query interface {
	// ResultType is the entity type the query reads.
	ResultType() types.Type
	// OriginQuery is the query this one was derived from, or nil.
	OriginQuery() Query
	// Limit is the maximum number of results: 0 yields nothing, NoLimit is unbounded.
	Limit() int64
	// Offset is the number of matching entries to skip.
	Offset() int64
	// Page is an opaque token, returned by a previous iteration, to resume after.
	Page() string
	// Test reports whether an entry with the given id matches.
	Test(x id.Id) bool
	// String returns a human readable description.
	String() string
}

// --------------------------------------------------------------------------
// Base query
// --------------------------------------------------------------------------

// Base carries the fields common to all queries. A bare Base matches every
// entry of its result type.
type Base struct {
	resultType types.Type
	origin     Query
	limit      int64
	offset     int64
	page       string
}

// NewBase creates an unbounded query over all entries of resultType.
func NewBase(resultType types.Type) *Base {
	return &Base{resultType: resultType, limit: NoLimit}
}

// derive initializes b from origin, copying limit, offset and page.
func (b *Base) derive(resultType types.Type, origin Query) {
	b.resultType = resultType
	b.origin = origin
	b.limit = NoLimit
	if origin != nil {
		b.limit = origin.Limit()
		b.offset = origin.Offset()
		b.page = origin.Page()
	}
}

func (b *Base) ResultType() types.Type { return b.resultType }
func (b *Base) OriginQuery() Query     { return b.origin }
func (b *Base) Limit() int64           { return b.limit }
func (b *Base) Offset() int64          { return b.offset }
func (b *Base) Page() string           { return b.page }
func (b *Base) Test(x id.Id) bool      { return x != nil }

// SetLimit sets the limit. Negative values other than NoLimit are rejected.
func (b *Base) SetLimit(limit int64) error {
	if limit < NoLimit {
		return fmt.Errorf("invalid limit %d, must be >= 0 or %d", limit, NoLimit)
	}
	b.limit = limit
	return nil
}

// SetOffset sets the number of matching entries to skip.
func (b *Base) SetOffset(offset int64) error {
	if offset < 0 {
		return fmt.Errorf("invalid offset %d, must be >= 0", offset)
	}
	b.offset = offset
	return nil
}

// SetPage sets the resume token.
func (b *Base) SetPage(page string) {
	b.page = page
}

func (b *Base) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query for %s", b.resultType)
	if b.offset != 0 {
		fmt.Fprintf(&sb, " offset=%d", b.offset)
	}
	if b.limit != NoLimit {
		fmt.Fprintf(&sb, " limit=%d", b.limit)
	}
	if b.page != "" {
		fmt.Fprintf(&sb, " page=%s", b.page)
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// IdQuery
// --------------------------------------------------------------------------

// IdQuery fetches a fixed set of ids. Results come back in input order.
type IdQuery struct {
	Base
	ids []id.Id
}

// NewIdQuery creates a point lookup query. Nil ids are rejected.
func NewIdQuery(resultType types.Type, origin Query, ids ...id.Id) (*IdQuery, error) {
	for i, x := range ids {
		if x == nil {
			return nil, fmt.Errorf("id at position %d can't be null", i)
		}
	}
	q := &IdQuery{ids: append([]id.Id(nil), ids...)}
	q.derive(resultType, origin)
	return q, nil
}

// Ids returns the requested ids.
func (q *IdQuery) Ids() []id.Id {
	return append([]id.Id(nil), q.ids...)
}

func (q *IdQuery) Test(x id.Id) bool {
	for _, want := range q.ids {
		if id.Equal(want, x) {
			return true
		}
	}
	return false
}

func (q *IdQuery) String() string {
	parts := make([]string, len(q.ids))
	for i, x := range q.ids {
		parts[i] = x.String()
	}
	return fmt.Sprintf("%s where id in [%s]", q.Base.String(), strings.Join(parts, ", "))
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

// IsEmpty reports whether q can never yield a result.
func IsEmpty(q Query) bool {
	return q.Limit() == 0
}

// satisfiesStart checks the lower bound of a range or prefix query.
func satisfiesStart(x, start id.Id, inclusive bool) bool {
	cmp := id.Compare(x, start)
	if inclusive {
		return cmp >= 0
	}
	return cmp > 0
}
