package common

import (
	"strings"
	"testing"
)

func TestParseServerShard(t *testing.T) {
	tests := []struct {
		input    string
		expected ServerShard
		wantErr  bool
	}{
		{"1=memory", ServerShard{ShardID: 1, Type: ShardTypeLocal, Backend: "memory"}, false},
		{" 2=bolt ", ServerShard{ShardID: 2, Type: ShardTypeLocal, Backend: "bolt"}, false},
		{"3=raft(sqlite)", ServerShard{ShardID: 3, Type: ShardTypeReplicated, Backend: "sqlite"}, false},
		{"4=RAFT(postgres)", ServerShard{ShardID: 4, Type: ShardTypeReplicated, Backend: "postgres"}, false},
		{"0=memory", ServerShard{}, true},
		{"x=memory", ServerShard{}, true},
		{"5", ServerShard{}, true},
		{"6=hbase", ServerShard{}, true},
		{"7=raft()", ServerShard{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseServerShard(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseServerShard(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("ParseServerShard(%q) = %+v, want %+v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseServerShards(t *testing.T) {
	shards, err := ParseServerShards("1=memory,2=raft(bolt),")
	if err != nil {
		t.Fatalf("ParseServerShards() error = %v", err)
	}
	if len(shards) != 2 {
		t.Fatalf("expected 2 shards, got %d", len(shards))
	}
	if shards[1].BackendName() != "raft(bolt)" {
		t.Errorf("BackendName() = %s, want raft(bolt)", shards[1].BackendName())
	}

	if _, err := ParseServerShards("1=memory,1=bolt"); err == nil {
		t.Errorf("expected error for duplicate shard id")
	}
	if _, err := ParseServerShards(""); err == nil {
		t.Errorf("expected error for empty shard list")
	}
}

func TestParseClusterMembers(t *testing.T) {
	members, err := ParseClusterMembers("1=localhost:63001, 2=localhost:63002")
	if err != nil {
		t.Fatalf("ParseClusterMembers() error = %v", err)
	}
	if len(members) != 2 || members[1] != "localhost:63001" || members[2] != "localhost:63002" {
		t.Errorf("ParseClusterMembers() = %v", members)
	}

	for _, input := range []string{"1", "a=localhost:1", "1=", "", "1=a:1,1=b:1"} {
		if _, err := ParseClusterMembers(input); err == nil {
			t.Errorf("ParseClusterMembers(%q) expected error", input)
		}
	}
}

func TestServerConfig(t *testing.T) {
	c := ServerConfig{
		Shards:         []ServerShard{{ShardID: 7, Type: ShardTypeReplicated, Backend: "bolt"}},
		Graph:          "social",
		DataDir:        "/var/lib/gstore",
		RTTMillisecond: 100,
		ReplicaID:      2,
		ClusterMembers: map[uint64]string{1: "a:1", 2: "b:2"},
		Transport:      ServerTransportConfig{Endpoint: ":8080"},
	}

	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	dbc := c.ToDragonboatConfig(7)
	if dbc.ShardID != 7 || dbc.ReplicaID != 2 || !dbc.CheckQuorum {
		t.Errorf("ToDragonboatConfig() = %+v", dbc)
	}
	nhc := c.ToNodeHostConfig()
	if nhc.RaftAddress != "b:2" || nhc.RTTMillisecond != 100 {
		t.Errorf("ToNodeHostConfig() = %+v", nhc)
	}

	pc := c.ProviderConfig(c.Shards[0])
	if pc.Backend != "bolt" || pc.Graph != "social" || !strings.HasSuffix(pc.DataDir, "shard-7-replica-2") {
		t.Errorf("ProviderConfig() = %+v", pc)
	}

	s := c.String()
	for _, want := range []string{"raft(bolt)", "Node 1: a:1", "SNOWFLAKE"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() does not contain %q", want)
		}
	}

	c.ReplicaID = 3
	if err := c.Validate(); err == nil {
		t.Errorf("expected error for a replica that is not a cluster member")
	}
}
