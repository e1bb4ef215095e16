package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/gstore/cmd/ids"
	"github.com/ValentinKolb/gstore/cmd/serve"
	"github.com/ValentinKolb/gstore/cmd/store"
	"github.com/ValentinKolb/gstore/cmd/util"
	"github.com/ValentinKolb/gstore/lib/backend/providers"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "gstore",
		Short: "graph database storage server",
		Long: fmt.Sprintf(`gstore (v%s)

The storage layer of a graph database. Serves schema, graph and system
stores on pluggable backends, optionally replicated with RAFT.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of gstore",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gstore v%s (driver %s)\n", Version, providers.DriverVersion)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(store.StoreCommands)
	RootCmd.AddCommand(ids.IdCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "json", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "http", util.WrapString("transport to use (http, tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
