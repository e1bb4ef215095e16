package store

import (
	"fmt"

	"github.com/ValentinKolb/gstore/cmd/util"
	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/types"
	"github.com/ValentinKolb/gstore/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcNode     *client.RPCNode
	rpcProvider backend.Provider

	// StoreCommands represents the store command group
	StoreCommands = &cobra.Command{
		Use:                "store",
		Short:              "Perform graph store operations on a shard",
		PersistentPreRunE:  setupStoreClient,
		PersistentPostRunE: closeStoreClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags to the store command
	util.SetupRPCClientFlags(StoreCommands)

	// Add subcommands
	StoreCommands.AddCommand(initCmd)
	StoreCommands.AddCommand(clearCmd)
	StoreCommands.AddCommand(truncateCmd)
	StoreCommands.AddCommand(infoCmd)
	StoreCommands.AddCommand(mutateCmd)
	StoreCommands.AddCommand(getCmd)
	StoreCommands.AddCommand(queryCmd)
	StoreCommands.AddCommand(nextIdCmd)
	StoreCommands.AddCommand(counterCmd)
	StoreCommands.AddCommand(metadataCmd)
	StoreCommands.AddCommand(perfTestCmd)
}

// setupStoreClient connects to the shard and opens its stores
func setupStoreClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Get client configuration components
	config := util.GetClientConfig()
	shardId := util.GetShardID()

	// Get serializer and transport
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetClientTransport()
	if err != nil {
		return err
	}

	// Create the node and the provider on top of it
	rpcNode, err = client.NewRPCNode(
		shardId,
		*config,
		t,
		s,
	)
	if err != nil {
		return err
	}

	rpcProvider, err = client.NewRPCProvider(rpcNode)
	if err != nil {
		return err
	}
	return rpcProvider.Open()
}

// closeStoreClient closes the provider and the connection
func closeStoreClient(_ *cobra.Command, _ []string) error {
	if rpcProvider != nil {
		_ = rpcProvider.Close()
	}
	if rpcNode != nil {
		return rpcNode.Close()
	}
	return nil
}

// storeFor returns the store of p that holds entries of type t
func storeFor(p backend.Provider, t types.Type) (backend.BackendStore, error) {
	for _, s := range []backend.BackendStore{p.SchemaStore(), p.GraphStore(), p.SystemStore()} {
		if s.StoreType().Accepts(t) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("no store holds entries of type %s", t)
}
