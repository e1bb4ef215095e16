package ids

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ValentinKolb/gstore/cmd/util"
	"github.com/ValentinKolb/gstore/lib/id/snowflake"
	"github.com/ValentinKolb/gstore/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// IdCommands represents the id command group
	IdCommands = &cobra.Command{
		Use:   "id",
		Short: "Generate and decode snowflake ids",
	}

	generateCmd = &cobra.Command{
		Use:   "generate",
		Short: "Generate snowflake ids",
		Long:  util.WrapString("Generates snowflake ids. By default the ids are generated locally with the given datacenter and worker id, with --remote they are requested from the server of the shard."),
		Args:  cobra.NoArgs,
		RunE:  runGenerate,
	}

	decodeCmd = &cobra.Command{
		Use:   "decode [id...]",
		Short: "Decode snowflake ids into their parts",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDecode,
	}
)

// decodedView is the printable form of a snowflake id
type decodedView struct {
	ID           int64     `json:"id" yaml:"id"`
	Time         time.Time `json:"time" yaml:"time"`
	DatacenterID int64     `json:"datacenterId" yaml:"datacenterId"`
	WorkerID     int64     `json:"workerId" yaml:"workerId"`
	Sequence     int64     `json:"sequence" yaml:"sequence"`
}

func init() {
	cobra.OnInitialize(util.InitConfig)

	// the connection flags are only used with --remote
	util.SetupRPCClientFlags(IdCommands)

	generateCmd.Flags().Int("n", 1, util.WrapString("Number of ids to generate"))
	generateCmd.Flags().Int64("datacenter-id", 0, util.WrapString("Datacenter id of the local generator (0-31)"))
	generateCmd.Flags().Int64("worker-id", 0, util.WrapString("Worker id of the local generator (0-31)"))
	generateCmd.Flags().Bool("remote", false, util.WrapString("Request the ids from the server instead of generating them locally"))

	IdCommands.AddCommand(generateCmd)
	IdCommands.AddCommand(decodeCmd)
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	n := viper.GetInt("n")
	if n < 1 {
		return fmt.Errorf("--n must be at least 1")
	}

	var (
		result []int64
		err    error
	)
	if viper.GetBool("remote") {
		result, err = generateRemote(uint64(n))
	} else {
		result, err = generateLocal(n)
	}
	if err != nil {
		return err
	}

	for _, v := range result {
		fmt.Println(v)
	}
	return nil
}

func generateLocal(n int) ([]int64, error) {
	g, err := snowflake.New(viper.GetInt64("datacenter-id"), viper.GetInt64("worker-id"))
	if err != nil {
		return nil, err
	}
	result := make([]int64, 0, n)
	for range n {
		v, err := g.NextID()
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, nil
}

func generateRemote(n uint64) ([]int64, error) {
	s, err := util.GetSerializer()
	if err != nil {
		return nil, err
	}
	t, err := util.GetClientTransport()
	if err != nil {
		return nil, err
	}
	node, err := client.NewRPCNode(util.GetShardID(), *util.GetClientConfig(), t, s)
	if err != nil {
		return nil, err
	}
	defer node.Close()

	// the server caps the batch size, request until n ids arrived
	result := make([]int64, 0, n)
	for uint64(len(result)) < n {
		batch, err := node.NextSnowflakes(n - uint64(len(result)))
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return nil, fmt.Errorf("server returned no ids")
		}
		result = append(result, batch...)
	}
	return result, nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	views := make([]decodedView, 0, len(args))
	for _, arg := range args {
		v, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || v < 0 {
			return fmt.Errorf("invalid snowflake id %q", arg)
		}
		views = append(views, decode(v))
	}
	return util.PrintResult(views)
}

func decode(v int64) decodedView {
	parts := snowflake.Decode(v)
	return decodedView{
		ID:           v,
		Time:         parts.Time(snowflake.DefaultEpoch).UTC(),
		DatacenterID: parts.DatacenterID,
		WorkerID:     parts.WorkerID,
		Sequence:     parts.Sequence,
	}
}
