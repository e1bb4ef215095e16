package query

import (
	"fmt"

	"github.com/ValentinKolb/gstore/lib/id"
	"github.com/ValentinKolb/gstore/lib/types"
)

// IdPrefixQuery matches ids whose bytes begin with prefix and that satisfy
// the start bound. Starting at a key past the prefix start resumes a prefix
// scan from that key onward.
type IdPrefixQuery struct {
	Base
	start          id.Id
	inclusiveStart bool
	prefix         id.Id
}

// NewIdPrefixQuery creates a prefix query with an explicit start bound.
// Neither start nor prefix may be nil.
func NewIdPrefixQuery(resultType types.Type, origin Query, start id.Id, inclusiveStart bool, prefix id.Id) (*IdPrefixQuery, error) {
	if start == nil {
		return nil, fmt.Errorf("the start parameter can't be null")
	}
	if prefix == nil {
		return nil, fmt.Errorf("the prefix parameter can't be null")
	}
	q := &IdPrefixQuery{
		start:          start,
		inclusiveStart: inclusiveStart,
		prefix:         prefix,
	}
	q.derive(resultType, origin)
	return q, nil
}

// IdPrefix creates a prefix query starting (inclusively) at the prefix itself.
func IdPrefix(resultType types.Type, prefix id.Id) (*IdPrefixQuery, error) {
	return NewIdPrefixQuery(resultType, nil, prefix, true, prefix)
}

func (q *IdPrefixQuery) Start() id.Id         { return q.start }
func (q *IdPrefixQuery) InclusiveStart() bool { return q.inclusiveStart }
func (q *IdPrefixQuery) Prefix() id.Id        { return q.prefix }

func (q *IdPrefixQuery) Test(x id.Id) bool {
	if x == nil || !satisfiesStart(x, q.start, q.inclusiveStart) {
		return false
	}
	return id.HasPrefix(x, q.prefix)
}

func (q *IdPrefixQuery) String() string {
	mode := "exclusive"
	if q.inclusiveStart {
		mode = "inclusive"
	}
	return fmt.Sprintf("%s where id prefix with %s and start with %s(%s)", q.Base.String(), q.prefix, q.start, mode)
}
