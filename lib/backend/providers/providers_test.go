package providers

import (
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackend(t *testing.T) {
	tests := []struct {
		name       string
		local      string
		replicated bool
		wantErr    bool
	}{
		{"memory", Memory, false, false},
		{" Bolt ", Bolt, false, false},
		{"raft(sqlite)", SQLite, true, false},
		{"raft(postgres)", Postgres, true, false},
		{"raft(raft(bolt))", "", false, true},
		{"cassandra", "", false, true},
		{"", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local, replicated, err := ParseBackend(tt.name)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, backend.RetCConfigError, backend.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.local, local)
			assert.Equal(t, tt.replicated, replicated)
		})
	}
}

func TestNewLocal(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{Memory, Bolt, SQLite} {
		t.Run(name, func(t *testing.T) {
			p, err := New(Config{Backend: name, Graph: "social", DataDir: filepath.Join(dir, name)})
			require.NoError(t, err)
			assert.Equal(t, name, p.Type())
			assert.Equal(t, "social", p.Graph())
			assert.Equal(t, DriverVersion, p.DriverVersion())

			require.NoError(t, p.Open())
			defer p.Close()
			require.NoError(t, p.Init())
			assert.True(t, p.Initialized())

			version, err := p.StoredVersion()
			require.NoError(t, err)
			assert.Equal(t, DriverVersion, version)
		})
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown backend", Config{Backend: "hbase", Graph: "g"}},
		{"replicated", Config{Backend: "raft(memory)", Graph: "g"}},
		{"bolt without data dir", Config{Backend: Bolt, Graph: "g"}},
		{"postgres without dsn", Config{Backend: Postgres, Graph: "g"}},
		{"sqlite with postgres dsn", Config{Backend: SQLite, Graph: "g", DSN: "postgres://localhost/g"}},
		{"invalid graph name", Config{Backend: Memory, Graph: "Graph-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.Equal(t, backend.RetCConfigError, backend.CodeOf(err))
		})
	}
}

func TestNewReplicated(t *testing.T) {
	local, err := New(Config{Backend: Memory, Graph: "social"})
	require.NoError(t, err)
	fsm, err := raft.NewStateMachine(1, 1, local)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fsm.Close() })

	p, err := NewReplicated(Config{Backend: "raft(memory)", Graph: "social"}, raft.NewLocalNode(fsm))
	require.NoError(t, err)
	assert.Equal(t, "raft(memory)", p.Type())

	require.NoError(t, p.Open())
	require.NoError(t, p.Init())
	assert.True(t, p.Initialized())
	assert.True(t, local.Initialized(), "the replica applies the init")

	_, err = NewReplicated(Config{Backend: "memory", Graph: "social"}, nil)
	assert.Equal(t, backend.RetCConfigError, backend.CodeOf(err))
}
