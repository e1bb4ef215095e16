package server

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/gstore/lib/id/snowflake"
	"github.com/ValentinKolb/gstore/lib/raft"
	"github.com/ValentinKolb/gstore/rpc/common"
)

// MaxSnowflakeBatch is the maximum number of ids a single snowflake request returns
const MaxSnowflakeBatch = 4096

// NewStoreServerAdapter creates a new adapter for the graph stores of a shard.
// Commands are handed to processor, snowflake ids are taken from generator.
func NewStoreServerAdapter(processor *raft.StoreCommandProcessor, generator *snowflake.Generator) IRPCServerAdapter {
	return &storeServerAdapter{
		processor: processor,
		generator: generator,
	}
}

type storeServerAdapter struct {
	processor *raft.StoreCommandProcessor
	generator *snowflake.Generator
}

func (a *storeServerAdapter) Handle(req *common.Message, shard *ServerShard) *common.Message {
	switch req.MsgType {
	case common.MsgTCommand:
		return common.NewCommandResponse(a.processor.Process(shard.Config.ShardID, req.Value))

	case common.MsgTRead:
		var readReq raft.ReadRequest
		if err := readReq.UnmarshalBinary(req.Value); err != nil {
			return common.NewReadResponse(nil, fmt.Errorf("invalid read request: %v", err))
		}
		res, err := shard.Node.Read(readReq)
		if err != nil {
			return common.NewReadResponse(nil, err)
		}
		return common.NewReadResponse(res.MarshalBinary())

	case common.MsgTSnowflake:
		if a.generator == nil {
			return common.NewSnowflakeResponse(nil, fmt.Errorf("no snowflake generator configured"))
		}
		n := min(max(req.Number, 1), MaxSnowflakeBatch)
		ids := make([]int64, 0, n)
		for i := uint64(0); i < n; i++ {
			v, err := a.generator.NextID()
			if err != nil {
				return common.NewSnowflakeResponse(nil, err)
			}
			ids = append(ids, v)
		}
		return common.NewSnowflakeResponse(ids, nil)

	case common.MsgTInfo:
		return common.NewInfoResponse(json.Marshal(shardInfo(shard)))

	default:
		return common.NewErrorResponse(fmt.Sprintf("unsupported message type %s", req.MsgType))
	}
}

// shardInfo describes the provider of shard
func shardInfo(shard *ServerShard) common.ShardInfo {
	p := shard.Provider
	info := common.ShardInfo{
		ShardID:       shard.Config.ShardID,
		Backend:       shard.Config.Backend,
		Graph:         p.Graph(),
		DriverVersion: p.DriverVersion(),
		Initialized:   p.Initialized(),
		Replicated:    shard.Config.Type == common.ShardTypeReplicated,
	}
	for _, f := range p.GraphStore().Features().List() {
		info.Features = append(info.Features, f.String())
	}
	if v, err := p.StoredVersion(); err == nil {
		info.StoredVersion = v
	}
	return info
}
