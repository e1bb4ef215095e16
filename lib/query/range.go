package query

import (
	"fmt"

	"github.com/ValentinKolb/gstore/lib/id"
	"github.com/ValentinKolb/gstore/lib/types"
)

// IdRangeQuery matches ids between start and end, compared as unsigned bytes.
// A nil end means the range is unbounded above.
type IdRangeQuery struct {
	Base
	start          id.Id
	end            id.Id
	inclusiveStart bool
	inclusiveEnd   bool
}

// NewIdRangeQuery creates a range query. If origin is non-nil its limit,
// offset and page are copied. start must not be nil.
func NewIdRangeQuery(resultType types.Type, origin Query, start id.Id, inclusiveStart bool, end id.Id, inclusiveEnd bool) (*IdRangeQuery, error) {
	if start == nil {
		return nil, fmt.Errorf("the start parameter can't be null")
	}
	q := &IdRangeQuery{
		start:          start,
		end:            end,
		inclusiveStart: inclusiveStart,
		inclusiveEnd:   inclusiveEnd,
	}
	q.derive(resultType, origin)
	return q, nil
}

// IdRange creates the half open range [start, end).
func IdRange(resultType types.Type, start, end id.Id) (*IdRangeQuery, error) {
	return NewIdRangeQuery(resultType, nil, start, true, end, false)
}

func (q *IdRangeQuery) Start() id.Id         { return q.start }
func (q *IdRangeQuery) End() id.Id           { return q.end }
func (q *IdRangeQuery) InclusiveStart() bool { return q.inclusiveStart }
func (q *IdRangeQuery) InclusiveEnd() bool   { return q.inclusiveEnd }

func (q *IdRangeQuery) Test(x id.Id) bool {
	if x == nil || !satisfiesStart(x, q.start, q.inclusiveStart) {
		return false
	}
	if q.end == nil {
		return true
	}
	cmp := id.Compare(x, q.end)
	if q.inclusiveEnd {
		return cmp <= 0
	}
	return cmp < 0
}

func (q *IdRangeQuery) String() string {
	open, closing := "(", ")"
	if q.inclusiveStart {
		open = "["
	}
	if q.inclusiveEnd {
		closing = "]"
	}
	end := "+inf"
	if q.end != nil {
		end = q.end.String()
	}
	return fmt.Sprintf("%s where id in range %s%s, %s%s", q.Base.String(), open, q.start, end, closing)
}
