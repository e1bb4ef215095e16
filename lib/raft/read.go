package raft

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/types"
)

// ReadOp defines the possible read-only requests for the state machine.
type ReadOp uint8

const (
	ReadQuery         ReadOp = iota // Run a query and return the entries.
	ReadQueryNumber                 // Count the entries of a query.
	ReadGetCounter                  // Return the counter of a type.
	ReadMetadata                    // Return store metadata (JSON encoded).
	ReadInitialized                 // Report whether the store is initialized.
	ReadDriverVersion               // Return the driver version of the replica.
)

func (o ReadOp) String() string {
	switch o {
	case ReadQuery:
		return "Query"
	case ReadQueryNumber:
		return "QueryNumber"
	case ReadGetCounter:
		return "GetCounter"
	case ReadMetadata:
		return "Metadata"
	case ReadInitialized:
		return "Initialized"
	case ReadDriverVersion:
		return "DriverVersion"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(o))
	}
}

// ReadRequest is the lookup sent through the consensus read path. Query holds
// the wire form of a query (query.Marshal).
type ReadRequest struct {
	Op    ReadOp            `json:"op"`
	Store backend.StoreType `json:"store"`
	Query []byte            `json:"query,omitempty"`
	Type  types.Type        `json:"type,omitempty"`
	Meta  string            `json:"meta,omitempty"`
}

// ReadResult is the answer of the state machine to a ReadRequest. Failures
// are reported in Code and Msg rather than as Go errors, so a result crosses
// the wire unchanged.
type ReadResult struct {
	Code    backend.RetCode `json:"code"`
	Msg     string          `json:"msg,omitempty"`
	Entries [][]byte        `json:"entries,omitempty"`
	Page    string          `json:"page,omitempty"`
	Number  int64           `json:"number,omitempty"`
	Flag    bool            `json:"flag,omitempty"`
	Value   []byte          `json:"value,omitempty"`
}

// Err returns the failure of the result as *backend.Error, or nil.
func (r *ReadResult) Err(store string, op string) error {
	if r.Code == backend.RetCSuccess {
		return nil
	}
	return &backend.Error{Code: r.Code, Store: store, Op: op, Msg: r.Msg}
}

// failed builds a ReadResult from err, keeping the code of a backend error.
func failed(err error) ReadResult {
	return ReadResult{Code: backend.CodeOf(err), Msg: sanitize(err)}
}

// MarshalBinary encodes the request for transports.
func (r ReadRequest) MarshalBinary() ([]byte, error) { return json.Marshal(r) }

// UnmarshalBinary decodes a request encoded by MarshalBinary.
func (r *ReadRequest) UnmarshalBinary(data []byte) error { return json.Unmarshal(data, r) }

// MarshalBinary encodes the result for transports.
func (r ReadResult) MarshalBinary() ([]byte, error) { return json.Marshal(r) }

// UnmarshalBinary decodes a result encoded by MarshalBinary.
func (r *ReadResult) UnmarshalBinary(data []byte) error { return json.Unmarshal(data, r) }
