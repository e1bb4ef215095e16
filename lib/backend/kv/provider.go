package kv

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/types"
)

// graphNamePattern keeps graph names usable as table name prefixes on every engine.
var graphNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,47}$`)

// Provider wires one Engine into the schema, graph and system store of a graph.
type Provider struct {
	backendName   string
	graph         string
	driverVersion string
	engine        *sharedEngine

	schema *Store
	data   *Store
	system *Store
}

// NewProvider creates a provider for graph on engine. backendName is what
// Type reports (e.g. "bolt").
func NewProvider(backendName, graph, driverVersion string, engine Engine) (*Provider, error) {
	if !graphNamePattern.MatchString(graph) {
		return nil, backend.Errorf(backend.RetCConfigError,
			"invalid graph name '%s', expect lower case letters, digits and '_' starting with a letter", graph)
	}
	if engine == nil {
		return nil, backend.Errorf(backend.RetCConfigError, "no engine for backend '%s'", backendName)
	}
	shared := &sharedEngine{Engine: engine}
	return &Provider{
		backendName:   backendName,
		graph:         graph,
		driverVersion: driverVersion,
		engine:        shared,
		schema:        newStore(graph, backend.StoreSchema, driverVersion, shared),
		data:          newStore(graph, backend.StoreGraph, driverVersion, shared),
		system:        newStore(graph, backend.StoreSystem, driverVersion, shared),
	}, nil
}

func (p *Provider) Type() string          { return p.backendName }
func (p *Provider) Graph() string         { return p.graph }
func (p *Provider) DriverVersion() string { return p.driverVersion }

func (p *Provider) SchemaStore() backend.BackendStore { return p.schema }
func (p *Provider) GraphStore() backend.BackendStore  { return p.data }
func (p *Provider) SystemStore() backend.BackendStore { return p.system }

// StoredVersion returns the driver version persisted by the system store.
func (p *Provider) StoredVersion() (string, error) {
	v, err := p.system.Metadata(types.TypeUnknown, backend.MetaDriverVersion)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *Provider) stores() []*Store {
	return []*Store{p.schema, p.data, p.system}
}

// Open opens all three stores. If one fails, the already opened ones are closed.
func (p *Provider) Open() error {
	for i, s := range p.stores() {
		if err := s.Open(); err != nil {
			for _, opened := range p.stores()[:i] {
				_ = opened.Close()
			}
			return err
		}
	}
	log.Infof("provider '%s' opened graph '%s'", p.backendName, p.graph)
	return nil
}

// Close closes all three stores and returns the joined errors.
func (p *Provider) Close() error {
	var errs []error
	for _, s := range p.stores() {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

func (p *Provider) Init() error {
	return p.each("init", func(s *Store) error { return s.Init() })
}

func (p *Provider) Clear() error {
	return p.each("clear", func(s *Store) error { return s.Clear(true) })
}

func (p *Provider) Truncate() error {
	return p.each("truncate", func(s *Store) error { return s.Truncate() })
}

func (p *Provider) Initialized() bool {
	for _, s := range p.stores() {
		if !s.Initialized() {
			return false
		}
	}
	return true
}

func (p *Provider) each(op string, fn func(s *Store) error) error {
	for _, s := range p.stores() {
		if err := fn(s); err != nil {
			return err
		}
	}
	log.Infof("provider '%s' %s of graph '%s' done", p.backendName, op, p.graph)
	return nil
}

func (p *Provider) String() string {
	return fmt.Sprintf("%s(%s, driver %s)", p.backendName, p.graph, p.driverVersion)
}
