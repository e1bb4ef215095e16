package raft

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/id"
	"github.com/ValentinKolb/gstore/lib/query"
	"github.com/ValentinKolb/gstore/lib/types"
)

// replicatedFeatures are the capabilities a replicated store offers. File and
// stream snapshots belong to the consensus log, OLAP tables are not replicated.
const replicatedFeatures = backend.FeatureScanKeyPrefix |
	backend.FeatureScanKeyRange |
	backend.FeatureTransaction |
	backend.FeatureQueryByPage

// Store is a backend.BackendStore whose writes go through a Node.
//
// The transaction scope is local to the store instance: mutations are
// buffered and CommitTx replicates the whole batch as one COMMIT_TX command.
// Reads are answered by the state machine through Node.Read. Ids are
// allocated with the reconciliation loop on top of replicated INCR_COUNTER
// commands.
type Store struct {
	name      string
	database  string
	storeType backend.StoreType
	node      Node

	opened   atomic.Bool
	tx       *backend.Tx
	counters *backend.CounterAllocator
}

// NewStore creates the replicated store of type storeType for database.
func NewStore(database string, storeType backend.StoreType, node Node) *Store {
	s := &Store{
		name:      strings.ToLower(database) + "_" + storeType.String(),
		database:  database,
		storeType: storeType,
		node:      node,
		tx:        backend.NewTx(),
	}
	s.counters = backend.NewCounterAllocator(s.name, s).WithoutAtomic()
	return s
}

func (s *Store) Name() string                 { return s.name }
func (s *Store) Database() string             { return s.database }
func (s *Store) StoreType() backend.StoreType { return s.storeType }
func (s *Store) Features() backend.Feature    { return replicatedFeatures }

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Open marks the store usable. The replicas open their local stores when
// their state machine is created.
func (s *Store) Open() error {
	s.opened.Store(true)
	return nil
}

func (s *Store) Close() error {
	_ = s.tx.Rollback(nil)
	s.opened.Store(false)
	return nil
}

func (s *Store) Opened() bool {
	return s.opened.Load()
}

func (s *Store) Init() error {
	return s.submit(ActionInit, nil, "init")
}

func (s *Store) Clear(clearSpace bool) error {
	return s.submit(ActionClear, EncodeClear(clearSpace), "clear")
}

func (s *Store) Truncate() error {
	return s.submit(ActionTruncate, nil, "truncate")
}

func (s *Store) Initialized() bool {
	if !s.opened.Load() {
		return false
	}
	res, err := s.read(ReadRequest{Op: ReadInitialized}, "initialized")
	return err == nil && res.Flag
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

func (s *Store) Mutate(m *backend.Mutation) error {
	if err := s.checkOpened("mutate"); err != nil {
		return err
	}
	return backend.Wrap(s.tx.Add(m, s.checkItem), s.name, "mutate")
}

func (s *Store) BeginTx() error {
	if err := s.checkOpened("begin tx"); err != nil {
		return err
	}
	return backend.Wrap(s.tx.Begin(), s.name, "begin tx")
}

func (s *Store) CommitTx() error {
	if err := s.checkOpened("commit tx"); err != nil {
		return err
	}
	return backend.Wrap(s.tx.Commit(s.replicate), s.name, "commit tx")
}

func (s *Store) RollbackTx() error {
	return backend.Wrap(s.tx.Rollback(nil), s.name, "rollback tx")
}

func (s *Store) TxState() backend.TxState {
	return s.tx.State()
}

// replicate submits the committed items as a single command.
func (s *Store) replicate(items []backend.MutationItem) error {
	if len(items) == 0 {
		return nil
	}
	m := backend.NewMutation()
	for _, item := range items {
		m.Add(item.Action, item.Entry)
	}
	raw, err := m.MarshalBinary()
	if err != nil {
		return backend.Wrap(err, s.name, "commit tx")
	}
	return s.submit(ActionCommitTx, raw, "commit tx")
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

func (s *Store) Query(q query.Query) (backend.EntryIterator, error) {
	if err := s.checkOpened("query"); err != nil {
		return nil, err
	}
	raw, err := query.Marshal(q)
	if err != nil {
		return nil, &backend.Error{Code: backend.RetCInvalidOperation, Store: s.name, Op: "query", Cause: err}
	}
	res, err := s.read(ReadRequest{Op: ReadQuery, Query: raw}, "query")
	if err != nil {
		return nil, err
	}

	entries := make([]*backend.Entry, 0, len(res.Entries))
	for _, b := range res.Entries {
		e, err := backend.DecodeEntry(b)
		if err != nil {
			return nil, backend.Wrap(err, s.name, "query")
		}
		entries = append(entries, e)
	}
	return backend.NewSliceIterator(entries, res.Page), nil
}

func (s *Store) QueryNumber(q query.Query) (int64, error) {
	if err := s.checkOpened("query number"); err != nil {
		return 0, err
	}
	raw, err := query.Marshal(q)
	if err != nil {
		return 0, &backend.Error{Code: backend.RetCInvalidOperation, Store: s.name, Op: "query number", Cause: err}
	}
	res, err := s.read(ReadRequest{Op: ReadQueryNumber, Query: raw}, "query number")
	return res.Number, err
}

// --------------------------------------------------------------------------
// Counters
// --------------------------------------------------------------------------

func (s *Store) NextID(t types.Type) (id.Id, error) {
	if err := s.checkOpened("next id"); err != nil {
		return nil, err
	}
	return s.counters.NextID(t)
}

func (s *Store) SetCounterLowest(t types.Type, lowest int64) error {
	if err := s.checkOpened("set counter lowest"); err != nil {
		return err
	}
	return s.counters.SetCounterLowest(t, lowest)
}

func (s *Store) GetCounter(t types.Type) (int64, error) {
	res, err := s.read(ReadRequest{Op: ReadGetCounter, Type: t}, "get counter")
	return res.Number, err
}

func (s *Store) IncreaseCounter(t types.Type, increment int64) error {
	_, err := s.incrementCounter(t, increment)
	return err
}

func (s *Store) incrementCounter(t types.Type, increment int64) (int64, error) {
	data, err := Execute(s.node, NewStoreCommand(s.storeType, ActionIncrCounter, EncodeCounterIncrement(t, increment)))
	if err != nil {
		return 0, s.wrap(err, "increase counter")
	}
	if len(data) != 8 {
		return 0, backend.Errorf(backend.RetCInternalError, "invalid counter result of %d bytes", len(data))
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}

// --------------------------------------------------------------------------
// Metadata
// --------------------------------------------------------------------------

func (s *Store) Metadata(t types.Type, meta string) (any, error) {
	if err := s.checkOpened("metadata"); err != nil {
		return nil, err
	}
	res, err := s.read(ReadRequest{Op: ReadMetadata, Type: t, Meta: meta}, "metadata")
	if err != nil {
		return nil, err
	}

	var v any
	switch meta {
	case backend.MetaDriverVersion:
		var version string
		err = json.Unmarshal(res.Value, &version)
		v = version
	case backend.MetaCounters:
		counters := map[string]int64{}
		err = json.Unmarshal(res.Value, &counters)
		v = counters
	case backend.MetaTables:
		var tables []string
		err = json.Unmarshal(res.Value, &tables)
		v = tables
	default:
		err = json.Unmarshal(res.Value, &v)
	}
	if err != nil {
		return nil, backend.Wrap(err, s.name, "metadata")
	}
	return v, nil
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

func (s *Store) submit(action StoreAction, data []byte, op string) error {
	if err := s.checkOpened(op); err != nil {
		return err
	}
	_, err := Execute(s.node, NewStoreCommand(s.storeType, action, data))
	return s.wrap(err, op)
}

func (s *Store) read(req ReadRequest, op string) (ReadResult, error) {
	req.Store = s.storeType
	res, err := s.node.Read(req)
	if err != nil {
		return ReadResult{}, s.wrap(err, op)
	}
	if err := res.Err(s.name, op); err != nil {
		return ReadResult{}, err
	}
	return res, nil
}

// wrap sets store and operation of a failure reported by the node, the
// replica's context is already part of the message.
func (s *Store) wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	var be *backend.Error
	if errors.As(err, &be) {
		return &backend.Error{Code: be.Code, Store: s.name, Op: op, Msg: be.Msg, Cause: be.Cause}
	}
	return &backend.Error{Code: backend.RetCInternalError, Store: s.name, Op: op, Cause: err}
}

func (s *Store) checkOpened(op string) error {
	if !s.opened.Load() {
		return &backend.Error{Code: backend.RetCInvalidOperation, Store: s.name, Op: op, Msg: "store is not opened"}
	}
	return nil
}

func (s *Store) checkItem(item backend.MutationItem) error {
	if !s.storeType.Accepts(item.Entry.Type) {
		return &backend.Error{Code: backend.RetCInvalidOperation, Store: s.name, Op: "mutate",
			Msg: fmt.Sprintf("store doesn't accept entries of type %s", item.Entry.Type)}
	}
	return nil
}

// --------------------------------------------------------------------------
// Provider
// --------------------------------------------------------------------------

// Provider exposes the three replicated stores of a graph served by one node.
type Provider struct {
	backendName   string
	graph         string
	driverVersion string
	node          Node

	schema *Store
	data   *Store
	system *Store
}

// NewProvider creates the provider of graph replicated through node.
// backendName names the local backend of the replicas.
func NewProvider(backendName, graph, driverVersion string, node Node) *Provider {
	return &Provider{
		backendName:   backendName,
		graph:         graph,
		driverVersion: driverVersion,
		node:          node,
		schema:        NewStore(graph, backend.StoreSchema, node),
		data:          NewStore(graph, backend.StoreGraph, node),
		system:        NewStore(graph, backend.StoreSystem, node),
	}
}

func (p *Provider) Type() string          { return "raft(" + p.backendName + ")" }
func (p *Provider) Graph() string         { return p.graph }
func (p *Provider) DriverVersion() string { return p.driverVersion }

func (p *Provider) SchemaStore() backend.BackendStore { return p.schema }
func (p *Provider) GraphStore() backend.BackendStore  { return p.data }
func (p *Provider) SystemStore() backend.BackendStore { return p.system }

// StoredVersion returns the driver version persisted by the replicas.
func (p *Provider) StoredVersion() (string, error) {
	res, err := p.node.Read(ReadRequest{Op: ReadDriverVersion})
	if err != nil {
		return "", err
	}
	if err := res.Err(p.graph, "stored version"); err != nil {
		return "", err
	}
	return string(res.Value), nil
}

func (p *Provider) stores() []*Store {
	return []*Store{p.schema, p.data, p.system}
}

func (p *Provider) Open() error {
	for _, s := range p.stores() {
		if err := s.Open(); err != nil {
			return err
		}
	}
	log.Infof("provider '%s' opened graph '%s'", p.Type(), p.graph)
	return nil
}

func (p *Provider) Close() error {
	var errs []error
	for _, s := range p.stores() {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

func (p *Provider) Init() error {
	return p.each(func(s *Store) error { return s.Init() })
}

func (p *Provider) Clear() error {
	return p.each(func(s *Store) error { return s.Clear(true) })
}

func (p *Provider) Truncate() error {
	return p.each(func(s *Store) error { return s.Truncate() })
}

func (p *Provider) Initialized() bool {
	for _, s := range p.stores() {
		if !s.Initialized() {
			return false
		}
	}
	return true
}

func (p *Provider) each(fn func(s *Store) error) error {
	for _, s := range p.stores() {
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) String() string {
	return fmt.Sprintf("%s(%s, driver %s)", p.Type(), p.graph, p.driverVersion)
}
