package kv

import (
	"fmt"

	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/id"
	"github.com/ValentinKolb/gstore/lib/query"
)

// OLAP tables hold one analytic property (keyed by vertex id) per property
// key. They live in the graph store only.

func (s *Store) CreateOlapTable(pk id.Id) error {
	if err := s.checkOlap("create olap table", pk); err != nil {
		return err
	}
	return backend.Wrap(s.engine.CreateTable(backend.OlapTableNameByID(s.name, pk)), s.name, "create olap table")
}

// CheckAndRegisterOlapTable fails if the OLAP table of pk does not exist.
func (s *Store) CheckAndRegisterOlapTable(pk id.Id) error {
	if err := s.checkOlap("check olap table", pk); err != nil {
		return err
	}
	table := backend.OlapTableNameByID(s.name, pk)
	ok, err := s.engine.HasTable(table)
	if err != nil {
		return backend.Wrap(err, s.name, "check olap table")
	}
	if !ok {
		return &backend.Error{Code: backend.RetCInvalidOperation, Store: s.name, Op: "check olap table",
			Msg: fmt.Sprintf("olap table '%s' doesn't exist", table)}
	}
	return nil
}

func (s *Store) ClearOlapTable(pk id.Id) error {
	if err := s.checkOlap("clear olap table", pk); err != nil {
		return err
	}
	return backend.Wrap(s.engine.TruncateTable(backend.OlapTableNameByID(s.name, pk)), s.name, "clear olap table")
}

func (s *Store) RemoveOlapTable(pk id.Id) error {
	if err := s.checkOlap("remove olap table", pk); err != nil {
		return err
	}
	return backend.Wrap(s.engine.DropTable(backend.OlapTableNameByID(s.name, pk)), s.name, "remove olap table")
}

// QueryOlap runs q against the OLAP table of pk.
func (s *Store) QueryOlap(pk id.Id, q query.Query) (backend.EntryIterator, error) {
	if err := s.checkOlap("query olap", pk); err != nil {
		return nil, err
	}
	return s.query(backend.OlapTableNameByID(s.name, pk), q)
}

func (s *Store) checkOlap(op string, pk id.Id) error {
	if err := s.checkOpened(op); err != nil {
		return err
	}
	if s.storeType != backend.StoreGraph {
		return backend.Unsupported(s.name, op)
	}
	if pk == nil {
		return &backend.Error{Code: backend.RetCInvalidOperation, Store: s.name, Op: op, Msg: "property key can't be null"}
	}
	return nil
}
