package store

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/gstore/cmd/util"
	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/id"
	"github.com/ValentinKolb/gstore/lib/query"
	"github.com/ValentinKolb/gstore/lib/types"
	"github.com/ValentinKolb/gstore/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for gstore servers",
		Long:    util.WrapString("Runs benchmarks against the graph store of a shard. The benchmarks write vertices with ids starting at --id-base and delete them afterwards."),
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfTests        = []string{"insert", "insert-large", "get", "scan", "count", "next-id", "snowflake"}
	perfIdBase       int64
	perfLargeValueKB = 100
	perfNumThreads   = 10
	perfKeySpread    = 100
	perfSkip         = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString(fmt.Sprintf("Benchmarks to skip (comma separated, any of %s)", strings.Join(perfTests, ","))))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the column value for the insert-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different vertices to use for the tests"))
	key = "id-base"
	perfTestCmd.Flags().Int64(key, 1<<40, util.WrapString("First vertex id used by the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfIdBase = viper.GetInt64("id-base")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for gstore servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	if !rpcProvider.Initialized() {
		return fmt.Errorf("graph '%s' is not initialized, run 'store init' first", rpcProvider.Graph())
	}
	store := rpcProvider.GraphStore()

	fmt.Println("starting tests...")

	// Create results map
	results := make(map[string]testing.BenchmarkResult)
	bench := func(name string, fn func(b *testing.B)) {
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(name) {
				return
			}
			fn(b)
		})
		results[name] = result
		printResult(name, result)
	}

	bench("insert", func(b *testing.B) {
		ids := getIds()
		b.Cleanup(func() { deleteVertices(store, ids) })

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		var counter atomic.Int64
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				x := ids[int(counter.Add(1))%len(ids)]
				if err := insertVertex(store, x, "test"); err != nil {
					log.Printf("(insert) - error inserting vertex: %v\n", err)
				}
			}
		})
	})

	bench("insert-large", func(b *testing.B) {
		// prepare large value
		largeValue := strings.Repeat("x", perfLargeValueKB*1024)

		ids := getIds()
		b.Cleanup(func() { deleteVertices(store, ids) })

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		var counter atomic.Int64
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				x := ids[int(counter.Add(1))%len(ids)]
				if err := insertVertex(store, x, largeValue); err != nil {
					log.Printf("(insert-large) - error inserting vertex: %v\n", err)
				}
			}
		})
	})

	bench("get", func(b *testing.B) {
		ids := getIds()
		for _, x := range ids {
			if err := insertVertex(store, x, "test"); err != nil {
				log.Printf("(get) - error inserting vertex: %v\n", err)
			}
		}
		b.Cleanup(func() { deleteVertices(store, ids) })

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		var counter atomic.Int64
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				x := ids[int(counter.Add(1))%len(ids)]
				q, _ := query.NewIdQuery(types.TypeVertex, nil, x)
				if _, err := queryAll(store, q); err != nil {
					log.Printf("(get) - error reading vertex: %v\n", err)
				}
			}
		})
	})

	bench("scan", func(b *testing.B) {
		ids := getIds()
		for _, x := range ids {
			if err := insertVertex(store, x, "test"); err != nil {
				log.Printf("(scan) - error inserting vertex: %v\n", err)
			}
		}
		b.Cleanup(func() { deleteVertices(store, ids) })

		q, err := query.IdRange(types.TypeVertex, ids[0], id.Of(perfIdBase+int64(len(ids))))
		if err != nil {
			b.Fatal(err)
		}

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				entries, err := queryAll(store, q)
				if err != nil {
					log.Printf("(scan) - error scanning vertices: %v\n", err)
				} else if len(entries) != len(ids) {
					log.Printf("(scan) - expected %d vertices, got %d\n", len(ids), len(entries))
				}
			}
		})
	})

	bench("count", func(b *testing.B) {
		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				if _, err := store.QueryNumber(query.NewBase(types.TypeVertex)); err != nil {
					log.Printf("(count) - error counting vertices: %v\n", err)
				}
			}
		})
	})

	bench("next-id", func(b *testing.B) {
		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				if _, err := store.NextID(types.TypeVertex); err != nil {
					log.Printf("(next-id) - error allocating id: %v\n", err)
				}
			}
		})
	})

	bench("snowflake", func(b *testing.B) {
		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				if _, err := rpcNode.NextSnowflakes(1); err != nil {
					log.Printf("(snowflake) - error generating id: %v\n", err)
				}
			}
		})
	})

	// Write results to CSV if path is provided
	if csvPath := viper.GetString("csv"); csvPath != "" {
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return err
		}
		fmt.Printf("results written to %s\n", csvPath)
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	return slices.Contains(perfSkip, test)
}

// getIds returns the vertex ids used by the tests
func getIds() []id.Id {
	ids := make([]id.Id, perfKeySpread)
	for i := range ids {
		ids[i] = id.Of(perfIdBase + int64(i))
	}
	return ids
}

func insertVertex(store backend.BackendStore, x id.Id, value string) error {
	m := backend.NewMutation().Add(backend.ActionInsert, backend.NewEntry(types.TypeVertex, x, backend.Col("name", value)))
	if err := store.Mutate(m); err != nil {
		return err
	}
	return store.CommitTx()
}

func deleteVertices(store backend.BackendStore, ids []id.Id) {
	m := backend.NewMutation()
	for _, x := range ids {
		m.Add(backend.ActionDelete, backend.NewEntry(types.TypeVertex, x))
	}
	if err := store.Mutate(m); err == nil {
		err = store.CommitTx()
		if err != nil {
			log.Printf("error deleting test vertices: %v\n", err)
		}
	}
}

func queryAll(store backend.BackendStore, q query.Query) ([]*backend.Entry, error) {
	it, err := store.Query(q)
	if err != nil {
		return nil, err
	}
	return backend.Collect(it)
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"ShardID", "Serializer", "Transport",
		"Threads", "LargeValueSizeKB", "Vertices",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results in a stable order
	for _, test := range perfTests {
		result, ok := results[test]
		if !ok {
			continue
		}

		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strings.Join(config.Transport.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.Transport.RetryCount),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			strconv.FormatUint(util.GetShardID(), 10),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueKB),
			strconv.Itoa(perfKeySpread),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
