package query

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/gstore/lib/id"
	"github.com/ValentinKolb/gstore/lib/types"
)

// wireQuery is the JSON form of a query sent to a remote store. Ids travel in
// their self-describing Encode form (base64 in JSON). The origin query is local
// only and is not transmitted.
type wireQuery struct {
	Kind           string     `json:"kind"`
	ResultType     types.Type `json:"result_type"`
	Limit          int64      `json:"limit"`
	Offset         int64      `json:"offset,omitempty"`
	Page           string     `json:"page,omitempty"`
	Ids            [][]byte   `json:"ids,omitempty"`
	Start          []byte     `json:"start,omitempty"`
	End            []byte     `json:"end,omitempty"`
	Prefix         []byte     `json:"prefix,omitempty"`
	InclusiveStart bool       `json:"inclusive_start,omitempty"`
	InclusiveEnd   bool       `json:"inclusive_end,omitempty"`
}

const (
	wireAll    = "all"
	wireIds    = "ids"
	wireRange  = "range"
	wirePrefix = "prefix"
)

// Marshal serializes a query into its JSON wire form.
func Marshal(q Query) ([]byte, error) {
	w := wireQuery{
		ResultType: q.ResultType(),
		Limit:      q.Limit(),
		Offset:     q.Offset(),
		Page:       q.Page(),
	}

	switch v := q.(type) {
	case *Base:
		w.Kind = wireAll
	case *IdQuery:
		w.Kind = wireIds
		for _, x := range v.ids {
			w.Ids = append(w.Ids, id.Encode(x))
		}
	case *IdRangeQuery:
		w.Kind = wireRange
		w.Start = id.Encode(v.start)
		if v.end != nil {
			w.End = id.Encode(v.end)
		}
		w.InclusiveStart = v.inclusiveStart
		w.InclusiveEnd = v.inclusiveEnd
	case *IdPrefixQuery:
		w.Kind = wirePrefix
		w.Start = id.Encode(v.start)
		w.Prefix = id.Encode(v.prefix)
		w.InclusiveStart = v.inclusiveStart
	default:
		return nil, fmt.Errorf("unsupported query type %T", q)
	}

	return json.Marshal(w)
}

// Unmarshal parses a query from its JSON wire form.
func Unmarshal(data []byte) (Query, error) {
	var w wireQuery
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}

	var (
		q    Query
		base *Base
	)

	switch w.Kind {
	case wireAll:
		base = NewBase(w.ResultType)
		q = base
	case wireIds:
		ids := make([]id.Id, 0, len(w.Ids))
		for _, raw := range w.Ids {
			x, err := id.Decode(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid query id: %w", err)
			}
			ids = append(ids, x)
		}
		iq, err := NewIdQuery(w.ResultType, nil, ids...)
		if err != nil {
			return nil, err
		}
		base, q = &iq.Base, iq
	case wireRange:
		start, err := decodeOptional(w.Start)
		if err != nil {
			return nil, err
		}
		end, err := decodeOptional(w.End)
		if err != nil {
			return nil, err
		}
		rq, err := NewIdRangeQuery(w.ResultType, nil, start, w.InclusiveStart, end, w.InclusiveEnd)
		if err != nil {
			return nil, err
		}
		base, q = &rq.Base, rq
	case wirePrefix:
		start, err := decodeOptional(w.Start)
		if err != nil {
			return nil, err
		}
		prefix, err := decodeOptional(w.Prefix)
		if err != nil {
			return nil, err
		}
		pq, err := NewIdPrefixQuery(w.ResultType, nil, start, w.InclusiveStart, prefix)
		if err != nil {
			return nil, err
		}
		base, q = &pq.Base, pq
	default:
		return nil, fmt.Errorf("unknown query kind %q", w.Kind)
	}

	if err := base.SetLimit(w.Limit); err != nil {
		return nil, err
	}
	if err := base.SetOffset(w.Offset); err != nil {
		return nil, err
	}
	base.SetPage(w.Page)
	return q, nil
}

func decodeOptional(b []byte) (id.Id, error) {
	if len(b) == 0 {
		return nil, nil
	}
	x, err := id.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("invalid query id: %w", err)
	}
	return x, nil
}
