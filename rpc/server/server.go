package server

import (
	"errors"
	"fmt"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/backend/providers"
	"github.com/ValentinKolb/gstore/lib/id/snowflake"
	"github.com/ValentinKolb/gstore/lib/raft"
	"github.com/ValentinKolb/gstore/rpc/common"
	"github.com/ValentinKolb/gstore/rpc/serializer"
	"github.com/ValentinKolb/gstore/rpc/transport"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	s := &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, *ServerShard](),
	}
	s.processor = raft.NewStoreCommandProcessor(s.node)
	return s
}

// RPCServer serves the graph stores of its shards over a transport
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, *ServerShard]
	processor  *raft.StoreCommandProcessor
	generator  *snowflake.Generator
	nodeHost   *dragonboat.NodeHost

	closeOnce sync.Once
}

// Shard returns the shard with the given id
func (s *RPCServer) Shard(shardId uint64) (*ServerShard, bool) {
	return s.shards.Load(shardId)
}

// node resolves the node of a shard for the command processor
func (s *RPCServer) node(shardId uint64) (raft.Node, bool) {
	shard, ok := s.shards.Load(shardId)
	if !ok {
		return nil, false
	}
	return shard.Node, true
}

// handle decodes a request, lets the adapter of the shard handle it and
// encodes the response
func (s *RPCServer) handle(shardId uint64, req []byte) []byte {
	var msg common.Message
	var respMsg *common.Message

	// Get appropriate shard
	shard, ok := s.shards.Load(shardId)

	// Case shard does not exist -> error
	if !ok {
		respMsg = common.NewErrorResponse(fmt.Sprintf("shard %d not found", shardId))
	} else if err := s.serializer.Deserialize(req, &msg); err != nil {
		respMsg = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
	} else {
		// Let the adapter handle the request
		respMsg = shard.Adapter.Handle(&msg, shard)
	}

	// Return result
	val, err := s.serializer.Serialize(*respMsg)
	if err != nil {
		Logger.Errorf("failed to serialize %s response for shard %d: %v", respMsg.MsgType, shardId, err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}

func (s *RPCServer) init() error {
	if err := s.config.Validate(); err != nil {
		return &backend.Error{Code: backend.RetCConfigError, Op: "init", Msg: "invalid server config", Cause: err}
	}

	// Init logger
	common.InitLoggers(s.config)
	Logger.Infof("%s", s.config.String())

	generator, err := snowflake.New(s.config.DatacenterID, s.config.WorkerID)
	if err != nil {
		return err
	}
	s.generator = generator
	adapter := NewStoreServerAdapter(s.processor, s.generator)

	// Only create the NodeHost if we have replicated shards
	if s.config.HasReplicatedShard() {
		s.nodeHost, err = dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}
	}

	// Configure the timeout for the replicated stores
	timeout := time.Duration(s.config.TimeoutSecond) * time.Second

	// CREATE SHARDS

	/*
		Note: A single RPC Server can have any number of local and replicated
		shards. Every shard serves the three stores of the graph. Local shards
		apply commands through a state machine of their own, replicated shards
		through the state machine of every replica in the cluster.
	*/

	for _, shardConfig := range s.config.Shards {
		providerConfig := s.config.ProviderConfig(shardConfig)
		var shard *ServerShard

		switch shardConfig.Type {
		case common.ShardTypeLocal:
			p, err := providers.New(providerConfig)
			if err != nil {
				return fmt.Errorf("failed to create provider for shard %d: %w", shardConfig.ShardID, err)
			}
			fsm, err := raft.NewStateMachine(shardConfig.ShardID, s.config.ReplicaID, p)
			if err != nil {
				return fmt.Errorf("failed to open provider for shard %d: %w", shardConfig.ShardID, err)
			}
			shard = &ServerShard{
				Config:   shardConfig,
				Node:     raft.NewLocalNode(fsm),
				Provider: fsm.Provider(),
				close:    fsm.Close,
			}
			Logger.Infof("created local %s shard %d", shardConfig.Backend, shardConfig.ShardID)

		case common.ShardTypeReplicated:
			factory := raft.CreateStateMachineFactory(func(shardID, replicaID uint64) (backend.Provider, error) {
				return providers.New(providerConfig)
			})

			// Start Raft for the shard
			if err := s.nodeHost.StartConcurrentReplica(s.config.ClusterMembers, false, factory, s.config.ToDragonboatConfig(shardConfig.ShardID)); err != nil {
				return fmt.Errorf("failed to start shard %d: %w", shardConfig.ShardID, err)
			}

			node := raft.NewRaftNode(s.nodeHost, shardConfig.ShardID, timeout, s.config.StaleReads)
			p, err := providers.NewReplicated(providerConfig, node)
			if err != nil {
				return err
			}
			if shard, err = newReplicatedShard(shardConfig, node, p); err != nil {
				return err
			}
			Logger.Infof("started replicated %s shard %d", shardConfig.Backend, shardConfig.ShardID)

		default:
			return fmt.Errorf("invalid shard type: %s", shardConfig.Type)
		}

		shard.Adapter = adapter
		s.shards.Store(shardConfig.ShardID, shard)
	}

	Logger.Infof("gstore setup completed successfully")

	// Configure the transport layer
	s.transport.RegisterHandler(s.handle)

	return nil
}

// newReplicatedShard opens the replicated provider p of a shard. The provider
// is closed with the shard, the state machines are closed by the NodeHost.
func newReplicatedShard(config common.ServerShard, node raft.Node, p backend.Provider) (*ServerShard, error) {
	if err := p.Open(); err != nil {
		return nil, fmt.Errorf("failed to open provider of shard %d: %w", config.ShardID, err)
	}
	return &ServerShard{
		Config:   config,
		Node:     node,
		Provider: p,
		close:    p.Close,
	}, nil
}

// Serve starts the RPC server
// This function will also initialize the server plus the shards and start the transport layer.
// It blocks until the server is closed
func (s *RPCServer) Serve() error {
	if err := s.init(); err != nil {
		s.Close()
		return err
	}
	return s.transport.Listen(s.config)
}

// Close stops the transport and releases all shards
func (s *RPCServer) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		errs = append(errs, s.transport.Close())
		if s.nodeHost != nil {
			// closes the state machines of all replicated shards
			s.nodeHost.Close()
		}
		s.shards.Range(func(id uint64, shard *ServerShard) bool {
			if shard.close != nil {
				if err := shard.close(); err != nil {
					errs = append(errs, fmt.Errorf("failed to close shard %d: %w", id, err))
				}
			}
			return true
		})
		Logger.Infof("server closed")
	})
	return errors.Join(errs...)
}
