package raft

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

var (
	retries = 5
	log     = logger.GetLogger("replication")

	submitRetries     = metrics.NewCounter(`gstore_raft_submit_retries_total`)
	submitErrors      = metrics.NewCounter(`gstore_raft_submit_errors_total`)
	forwardedCommands = metrics.NewCounter(`gstore_raft_commands_forwarded_total`)
)

// countForwarded records commands another node handed to this one.
func countForwarded(cmd *StoreCommand) {
	if cmd.Forwarded {
		forwardedCommands.Inc()
		log.Debugf("submitting forwarded %s for request %s", cmd.Action, cmd.RequestID)
	}
}

// Node is the consensus log a replicated store submits its commands to.
type Node interface {
	// SubmitAndWait replicates cmd and runs closure with the outcome. It
	// blocks until the closure ran.
	SubmitAndWait(cmd *StoreCommand, closure *RaftStoreClosure)
	// Read answers req from the state machine. The error is only set if the
	// request could not be delivered; failures of the read itself are in the
	// ReadResult.
	Read(req ReadRequest) (ReadResult, error)
}

// Execute submits cmd to node and returns the result payload or the failure
// as *backend.Error.
func Execute(node Node, cmd *StoreCommand) ([]byte, error) {
	c := NewRaftStoreClosure(cmd, nil)
	node.SubmitAndWait(cmd, c)
	<-c.Done()
	return c.Data(), c.Err()
}

// --------------------------------------------------------------------------
// Dragonboat Node
// --------------------------------------------------------------------------

// RaftNode submits commands to one dragonboat shard.
type RaftNode struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
	stale   bool
}

// NewRaftNode creates a node for shardID on nh. Every proposal and read is
// bounded by timeout. If stale is set, reads use StaleRead instead of the
// linearizable SyncRead.
func NewRaftNode(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration, stale bool) *RaftNode {
	return &RaftNode{
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: timeout,
		stale:   stale,
	}
}

// SubmitAndWait proposes cmd via SyncPropose. Busy and timed out proposals
// are retried with the same bytes; the request id keeps a proposal that was
// applied anyway from being applied twice.
func (n *RaftNode) SubmitAndWait(cmd *StoreCommand, closure *RaftStoreClosure) {
	countForwarded(cmd)
	raw := cmd.Serialize()
	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		res, err := n.nh.SyncPropose(ctx, n.cs, raw)
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) || errors.Is(err, dragonboat.ErrTimeout) {
			submitRetries.Inc()
			log.Infof("SyncPropose: %v, retrying %s (%d/%d)...", err, cmd.Action, i+1, retries)
			time.Sleep(n.timeout / 10)
			continue
		}
		if err != nil {
			submitErrors.Inc()
			closure.Run(backend.RetCInternalError, nil,
				backend.Errorf(backend.RetCInternalError, "failed to propose %s: %v", cmd.Action, err))
			return
		}
		closure.Run(backend.RetCode(res.Value), res.Data, nil)
		return
	}
	submitErrors.Inc()
	closure.Run(backend.RetCBusy, nil,
		backend.Errorf(backend.RetCBusy, "%s not committed after %d attempts", cmd.Action, retries))
}

// Read queries the state machine, retrying if the system is busy.
func (n *RaftNode) Read(req ReadRequest) (ReadResult, error) {
	for i := 0; i < retries; i++ {
		var res interface{}
		var err error

		if n.stale {
			res, err = n.nh.StaleRead(n.shardID, req)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
			res, err = n.nh.SyncRead(ctx, n.shardID, req)
			cancel()
		}

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(n.timeout / 10)
			continue
		}
		if err != nil {
			return ReadResult{}, backend.Errorf(backend.RetCInternalError, "failed to read %s: %v", req.Op, err)
		}

		casted, ok := res.(ReadResult)
		if !ok {
			return ReadResult{}, backend.Errorf(backend.RetCInternalError,
				"unexpected type: received %T, expected %T", res, casted)
		}
		return casted, nil
	}
	return ReadResult{}, backend.Errorf(backend.RetCBusy, "read %s: system busy", req.Op)
}

// --------------------------------------------------------------------------
// Local Node
// --------------------------------------------------------------------------

// LocalNode applies commands to an in-process state machine in submission
// order. It is the single replica of a deployment without consensus and is
// used by tests.
type LocalNode struct {
	mu    sync.Mutex
	fsm   *StateMachine
	index uint64
}

// NewLocalNode creates a node applying to fsm.
func NewLocalNode(fsm *StateMachine) *LocalNode {
	return &LocalNode{fsm: fsm}
}

func (n *LocalNode) SubmitAndWait(cmd *StoreCommand, closure *RaftStoreClosure) {
	countForwarded(cmd)
	n.mu.Lock()
	n.index++
	entries, err := n.fsm.Update([]sm.Entry{{Index: n.index, Cmd: cmd.Serialize()}})
	n.mu.Unlock()

	if err != nil {
		closure.Run(backend.RetCInternalError, nil, err)
		return
	}
	res := entries[0].Result
	closure.Run(backend.RetCode(res.Value), res.Data, nil)
}

func (n *LocalNode) Read(req ReadRequest) (ReadResult, error) {
	res, err := n.fsm.Lookup(req)
	if err != nil {
		return ReadResult{}, err
	}
	return res.(ReadResult), nil
}

// StateMachine returns the state machine of the node.
func (n *LocalNode) StateMachine() *StateMachine {
	return n.fsm
}

// --------------------------------------------------------------------------
// Command Processor
// --------------------------------------------------------------------------

// CommandResponse is the reply to a submitted command. Message is empty on
// success and never holds more than the message text of the failure. Code
// tells the caller which kind of failure it was.
type CommandResponse struct {
	Status  bool            `json:"status"`
	Message string          `json:"message,omitempty"`
	Code    backend.RetCode `json:"code,omitempty"`
	Data    []byte          `json:"data,omitempty"`
}

// Run passes the response to closure.
func (r CommandResponse) Run(closure *RaftStoreClosure) {
	if r.Status {
		closure.Run(backend.RetCSuccess, r.Data, nil)
		return
	}
	code := r.Code
	if code == backend.RetCSuccess {
		code = backend.RetCInternalError
	}
	closure.Run(code, nil, backend.NewError(code, r.Message))
}

// StoreCommandProcessor handles commands received from other nodes: it
// decodes the command, submits it to the local node of the shard and turns
// the outcome into a CommandResponse.
type StoreCommandProcessor struct {
	lookup func(shardID uint64) (Node, bool)
}

// NewStoreCommandProcessor creates a processor resolving nodes with lookup.
func NewStoreCommandProcessor(lookup func(shardID uint64) (Node, bool)) *StoreCommandProcessor {
	return &StoreCommandProcessor{lookup: lookup}
}

// Process submits the serialized command raw to the node of shardID and
// waits for its outcome.
func (p *StoreCommandProcessor) Process(shardID uint64, raw []byte) (resp CommandResponse) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic while processing command for shard %d: %v", shardID, r)
			resp = CommandResponse{Message: "internal error while processing command", Code: backend.RetCInternalError}
		}
	}()

	var cmd StoreCommand
	if err := cmd.Deserialize(raw); err != nil {
		return CommandResponse{Message: sanitize(err), Code: backend.RetCInvalidOperation}
	}
	cmd.Forwarded = true

	node, ok := p.lookup(shardID)
	if !ok {
		return CommandResponse{Message: fmt.Sprintf("no raft node for shard %d", shardID), Code: backend.RetCConfigError}
	}

	closure := NewRaftStoreClosure(&cmd, nil)
	node.SubmitAndWait(&cmd, closure)
	<-closure.Done()
	if !closure.Status() {
		return CommandResponse{Message: closure.Message(), Code: closure.Code()}
	}
	return CommandResponse{Status: true, Data: closure.Data()}
}
