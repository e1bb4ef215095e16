package common

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ValentinKolb/gstore/lib/backend/providers"
	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for the server util)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to Dragonboat Config
func (c *ServerConfig) ToDragonboatConfig(shardId uint64) config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            shardId,
		ElectionRTT:        electionRTTFactor,  // = c.RTTMillisecond * 10
		HeartbeatRTT:       heartbeatRTTFactor, // = c.RTTMillisecond * 1
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	dir := filepath.Join(c.DataDir, "raft")
	return config.NodeHostConfig{
		WALDir:         dir,
		NodeHostDir:    dir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// Transport configuration structs
// --------------------------------------------------------------------------

// SocketConf holds the socket options shared by the unix and tcp transports
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds the tcp specific socket options
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// ServerTransportConfig configures the listening side of a transport
type ServerTransportConfig struct {
	// Endpoint is the address (tcp, http) or socket path (unix) to listen on
	Endpoint string
	// WorkersPerConn limits the requests handled concurrently per connection
	WorkersPerConn int
	// BufferSize is the size of the pooled read buffers, 0 for the transport default
	BufferSize int
	// MaxFrameSize is the largest accepted request payload in bytes, 0 for 64 MB
	MaxFrameSize int

	SocketConf
	TCPConf
}

// ClientTransportConfig configures the connecting side of a transport
type ClientTransportConfig struct {
	Endpoints              []string
	RetryCount             int
	ConnectionsPerEndpoint int
	// MaxFrameSize is the largest accepted response payload in bytes, 0 for 64 MB
	MaxFrameSize int

	SocketConf
	TCPConf
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

type ServerShardType string

const (
	ShardTypeLocal      ServerShardType = "local"
	ShardTypeReplicated ServerShardType = "replicated"
)

type ServerShard struct {
	// ShardID is the ID of the shard
	ShardID uint64
	// Type tells whether the shard is replicated through RAFT
	Type ServerShardType
	// Backend is the local backend of the shard (memory, bolt, sqlite, postgres)
	Backend string
}

// BackendName returns the backend as written in the shard flag, e.g. raft(bolt)
func (s ServerShard) BackendName() string {
	if s.Type == ShardTypeReplicated {
		return "raft(" + s.Backend + ")"
	}
	return s.Backend
}

// ParseServerShard parses a shard of the form ID=BACKEND or ID=raft(BACKEND)
func ParseServerShard(s string) (ServerShard, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "=", 2)
	if len(parts) != 2 {
		return ServerShard{}, fmt.Errorf("invalid shard '%s', expect ID=BACKEND or ID=raft(BACKEND)", s)
	}

	id, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil || id == 0 {
		return ServerShard{}, fmt.Errorf("invalid shard id '%s', expect a positive number", parts[0])
	}

	local, replicated, err := providers.ParseBackend(parts[1])
	if err != nil {
		return ServerShard{}, fmt.Errorf("invalid shard '%s': %v", s, err)
	}

	shard := ServerShard{ShardID: id, Type: ShardTypeLocal, Backend: local}
	if replicated {
		shard.Type = ShardTypeReplicated
	}
	return shard, nil
}

// ParseServerShards parses a comma separated list of shards. Shard ids must be unique
func ParseServerShards(s string) ([]ServerShard, error) {
	var shards []ServerShard
	seen := make(map[uint64]bool)
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		shard, err := ParseServerShard(part)
		if err != nil {
			return nil, err
		}
		if seen[shard.ShardID] {
			return nil, fmt.Errorf("shard %d is defined twice", shard.ShardID)
		}
		seen[shard.ShardID] = true
		shards = append(shards, shard)
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("no shards defined")
	}
	return shards, nil
}

// ParseClusterMembers parses a comma separated list of ID=ADDRESS pairs
func ParseClusterMembers(s string) (map[uint64]string, error) {
	return ParseClusterMembersWith(s, func(name string) (uint64, error) {
		return strconv.ParseUint(name, 10, 64)
	})
}

// ParseClusterMembersWith parses a comma separated list of NAME=ADDRESS pairs,
// idOf maps each name to its replica id
func ParseClusterMembersWith(s string, idOf func(name string) (uint64, error)) (map[uint64]string, error) {
	members := make(map[uint64]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 || kv[1] == "" {
			return nil, fmt.Errorf("invalid cluster member '%s', expect ID=ADDRESS", part)
		}
		id, err := idOf(kv[0])
		if err != nil {
			return nil, fmt.Errorf("invalid replica id '%s': %v", kv[0], err)
		}
		if _, ok := members[id]; ok {
			return nil, fmt.Errorf("replica '%s' is defined twice", kv[0])
		}
		members[id] = kv[1]
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("no cluster members defined")
	}
	return members, nil
}

// ServerConfig holds all configuration parameters of a gstore server.
type ServerConfig struct {
	// Shards served by this server
	Shards []ServerShard

	// Storage parameters
	Graph   string
	DataDir string
	DSN     string

	// Snowflake generator parameters
	DatacenterID int64
	WorkerID     int64

	// Dragonboat parameters
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	ReplicaID          uint64
	ClusterMembers     map[uint64]string
	StaleReads         bool

	// timeout of proposals, reads and connections
	TimeoutSecond int64

	// Transport settings
	Transport ServerTransportConfig

	// Logging configuration
	LogLevel string
}

// HasReplicatedShard checks if the configuration contains any replicated shards
func (c *ServerConfig) HasReplicatedShard() bool {
	for _, shard := range c.Shards {
		if shard.Type == ShardTypeReplicated {
			return true
		}
	}
	return false
}

// ShardDataDir returns the directory holding the local files of a shard
func (c *ServerConfig) ShardDataDir(shardID uint64) string {
	if c.HasReplicatedShard() {
		return filepath.Join(c.DataDir, fmt.Sprintf("shard-%d-replica-%d", shardID, c.ReplicaID))
	}
	return filepath.Join(c.DataDir, fmt.Sprintf("shard-%d", shardID))
}

// ProviderConfig returns the provider configuration of a shard
func (c *ServerConfig) ProviderConfig(shard ServerShard) providers.Config {
	return providers.Config{
		Backend: shard.Backend,
		Graph:   c.Graph,
		DataDir: c.ShardDataDir(shard.ShardID),
		DSN:     c.DSN,
	}
}

// Validate checks the configuration for consistency
func (c *ServerConfig) Validate() error {
	if len(c.Shards) == 0 {
		return fmt.Errorf("no shards defined")
	}
	if c.Graph == "" {
		return fmt.Errorf("no graph name defined")
	}
	if c.Transport.Endpoint == "" {
		return fmt.Errorf("no endpoint defined")
	}
	if c.HasReplicatedShard() {
		if _, ok := c.ClusterMembers[c.ReplicaID]; !ok {
			return fmt.Errorf("replica id %d is not a cluster member", c.ReplicaID)
		}
		if c.RTTMillisecond == 0 {
			return fmt.Errorf("rtt must be positive")
		}
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Workers Per Conn", strconv.Itoa(c.Transport.WorkersPerConn))
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Storage
	addSection("Storage")
	addField("Graph", c.Graph)
	addField("Data Directory", c.DataDir)
	if c.DSN != "" {
		addField("DSN", "(set)")
	}

	// Snowflake
	addSection("Snowflake")
	addField("Datacenter ID", strconv.FormatInt(c.DatacenterID, 10))
	addField("Worker ID", strconv.FormatInt(c.WorkerID, 10))

	// Shards
	addSection("Shards")
	for _, shard := range c.Shards {
		addField(strconv.FormatUint(shard.ShardID, 10), shard.BackendName())
	}

	if c.HasReplicatedShard() {
		// Node Identity
		addSection("Node Identity")
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))

		// RAFT parameters
		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Check Quorum", fmt.Sprintf("%t", true))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))
		addField("Stale Reads", fmt.Sprintf("%t", c.StaleReads))

		// Cluster configuration
		addSection("Cluster")
		sb.WriteString("  Initial Cluster Members:\n")

		// Sort keys for consistent output
		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	TimeoutSecond int
	Transport     ClientTransportConfig
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.Transport.ConnectionsPerEndpoint)))))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
