// Package providers creates a backend.Provider from a backend name.
//
// Supported names:
//
//   - memory: in-process B-tree tables, lost on exit
//   - bolt: one bbolt file per graph in the data directory
//   - sqlite: one SQLite database per graph, the DSN defaults to a file in the data directory
//   - postgres: PostgreSQL, the DSN is required
//   - raft(<name>): any of the above replicated through a raft.Node
package providers

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/backend/engines/bolt"
	"github.com/ValentinKolb/gstore/lib/backend/engines/memory"
	"github.com/ValentinKolb/gstore/lib/backend/engines/sqldb"
	"github.com/ValentinKolb/gstore/lib/backend/kv"
	"github.com/ValentinKolb/gstore/lib/raft"
)

// DriverVersion is the storage format version written by all providers of
// this package.
const DriverVersion = "1.0"

const (
	Memory   = "memory"
	Bolt     = "bolt"
	SQLite   = "sqlite"
	Postgres = "postgres"
)

var replicatedPattern = regexp.MustCompile(`^raft\(([a-z]+)\)$`)

// Config selects and parameterizes a backend.
type Config struct {
	// Backend is one of the supported names, optionally wrapped in raft(...).
	Backend string
	// Graph is the graph (database) name.
	Graph string
	// DataDir holds the files of bolt and sqlite.
	DataDir string
	// DSN of sqlite or postgres. For sqlite it overrides the file in DataDir.
	DSN string
}

// Backends lists the local backend names.
func Backends() []string {
	return []string{Memory, Bolt, SQLite, Postgres}
}

// ParseBackend splits name into the local backend and whether it is wrapped
// in raft(...).
func ParseBackend(name string) (local string, replicated bool, err error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if m := replicatedPattern.FindStringSubmatch(name); m != nil {
		name, replicated = m[1], true
	}
	for _, b := range Backends() {
		if b == name {
			return name, replicated, nil
		}
	}
	return "", false, backend.Errorf(backend.RetCConfigError,
		"unknown backend '%s', expect one of %s or raft(<backend>)", name, strings.Join(Backends(), ", "))
}

// New creates the local provider described by cfg. A replicated backend name
// is rejected, use NewReplicated for it.
func New(cfg Config) (backend.Provider, error) {
	name, replicated, err := ParseBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}
	if replicated {
		return nil, backend.Errorf(backend.RetCConfigError, "backend '%s' needs a raft node", cfg.Backend)
	}

	engine, err := newEngine(name, cfg)
	if err != nil {
		return nil, err
	}
	return kv.NewProvider(name, cfg.Graph, DriverVersion, engine)
}

// NewReplicated creates a provider submitting all writes to node. The local
// backend of cfg is the one the replicas run.
func NewReplicated(cfg Config, node raft.Node) (backend.Provider, error) {
	name, _, err := ParseBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}
	if cfg.Graph == "" {
		return nil, backend.NewError(backend.RetCConfigError, "no graph name")
	}
	if node == nil {
		return nil, backend.Errorf(backend.RetCConfigError, "no raft node for backend '%s'", name)
	}
	return raft.NewProvider(name, cfg.Graph, DriverVersion, node), nil
}

func newEngine(name string, cfg Config) (kv.Engine, error) {
	switch name {
	case Memory:
		return memory.New(), nil

	case Bolt:
		dir, err := dataDir(cfg)
		if err != nil {
			return nil, err
		}
		return bolt.New(filepath.Join(dir, cfg.Graph+".db")), nil

	case SQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dir, err := dataDir(cfg)
			if err != nil {
				return nil, err
			}
			dsn = filepath.Join(dir, cfg.Graph+".sqlite")
		}
		if sqldb.DetectDialect(dsn) != sqldb.DialectSQLite {
			return nil, backend.Errorf(backend.RetCConfigError, "dsn of sqlite is a postgres url")
		}
		return sqldb.New(dsn), nil

	case Postgres:
		if sqldb.DetectDialect(cfg.DSN) != sqldb.DialectPostgres {
			return nil, backend.Errorf(backend.RetCConfigError, "postgres needs a postgres:// dsn")
		}
		return sqldb.New(cfg.DSN), nil
	}
	return nil, backend.Errorf(backend.RetCConfigError, "unknown backend '%s'", name)
}

// dataDir creates the data directory of cfg.
func dataDir(cfg Config) (string, error) {
	if cfg.DataDir == "" {
		return "", backend.NewError(backend.RetCConfigError, "no data directory")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return "", &backend.Error{Code: backend.RetCConfigError, Op: "create data dir",
			Msg: fmt.Sprintf("cannot create '%s'", cfg.DataDir), Cause: err}
	}
	return cfg.DataDir, nil
}
