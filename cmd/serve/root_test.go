package serve

import (
	"testing"

	cmdUtil "github.com/ValentinKolb/gstore/cmd/util"
	"github.com/ValentinKolb/gstore/rpc/common"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setDefaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("shards", "1=memory")
	viper.Set("graph", "social")
	viper.Set("endpoint", "localhost:8080")
	viper.Set("log-level", "info")
	viper.Set("rtt-millisecond", 100)
	viper.Set("transport-buffer-size", 4)
	viper.Set("transport-tcp-linger", -1)
}

func TestReadConfig(t *testing.T) {
	setDefaults(t)
	viper.Set("shards", "1=memory,2=bolt")
	viper.Set("transport-max-frame", 8)

	config, err := readConfig()
	require.NoError(t, err)
	assert.Len(t, config.Shards, 2)
	assert.Equal(t, "social", config.Graph)
	assert.Equal(t, 4*1024, config.Transport.BufferSize)
	assert.Equal(t, 8<<20, config.Transport.MaxFrameSize)
	assert.Equal(t, -1, config.Transport.TCPConf.TCPLingerSec)
	assert.False(t, config.HasReplicatedShard())
}

func TestReadConfigReplicated(t *testing.T) {
	setDefaults(t)
	viper.Set("shards", "1=raft(memory)")
	viper.Set("replica-id", "node-2")
	viper.Set("cluster-members", "node-1=localhost:63001,node-2=localhost:63002")

	config, err := readConfig()
	require.NoError(t, err)
	assert.Equal(t, cmdUtil.HashString("node-2"), config.ReplicaID)
	assert.Len(t, config.ClusterMembers, 2)
	assert.Equal(t, "localhost:63002", config.ClusterMembers[config.ReplicaID])
	assert.Equal(t, common.ShardTypeReplicated, config.Shards[0].Type)
}

func TestReadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		set  map[string]any
	}{
		{"invalid shards", map[string]any{"shards": "x=memory"}},
		{"invalid log level", map[string]any{"log-level": "verbose"}},
		{"missing graph", map[string]any{"graph": ""}},
		{"missing replica id", map[string]any{"shards": "1=raft(memory)", "cluster-members": "node-1=localhost:1"}},
		{"missing members", map[string]any{"shards": "1=raft(memory)", "replica-id": "node-1"}},
		{"replica not a member", map[string]any{"shards": "1=raft(memory)", "replica-id": "node-3", "cluster-members": "node-1=localhost:1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setDefaults(t)
			for k, v := range tt.set {
				viper.Set(k, v)
			}
			_, err := readConfig()
			assert.Error(t, err)
		})
	}
}
