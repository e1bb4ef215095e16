package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/gstore/cmd/util"
	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/id"
	"github.com/ValentinKolb/gstore/lib/query"
	"github.com/ValentinKolb/gstore/lib/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Creates the schema, graph and system store of the graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcProvider.Init(); err != nil {
				return err
			}
			fmt.Printf("initialized graph '%s'\n", rpcProvider.Graph())
			return nil
		},
	}
	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Drops all stores of the graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcProvider.Clear(); err != nil {
				return err
			}
			fmt.Printf("cleared graph '%s'\n", rpcProvider.Graph())
			return nil
		},
	}
	truncateCmd = &cobra.Command{
		Use:   "truncate",
		Short: "Removes all entries of the graph, the stores stay initialized",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcProvider.Truncate(); err != nil {
				return err
			}
			fmt.Printf("truncated graph '%s'\n", rpcProvider.Graph())
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Describes the provider of the shard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := rpcNode.Info()
			if err != nil {
				return err
			}
			return util.PrintResult(info)
		},
	}
	mutateCmd = &cobra.Command{
		Use:   "mutate [insert|append|eliminate|delete] [type] [id] [name=value...]",
		Short: "Applies a single mutation to the store holding the type",
		Long: util.WrapString("Applies a single mutation and commits it. insert replaces the entry, " +
			"append merges the columns into it, eliminate removes the named columns " +
			"(values are ignored) and delete removes the entry."),
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := parseAction(args[0])
			if err != nil {
				return err
			}
			t, err := types.Parse(args[1])
			if err != nil {
				return err
			}
			x, err := parseId(args[2])
			if err != nil {
				return err
			}
			columns, err := parseColumns(args[3:])
			if err != nil {
				return err
			}

			store, err := storeFor(rpcProvider, t)
			if err != nil {
				return err
			}
			if err := store.Mutate(backend.NewMutation().Add(action, backend.NewEntry(t, x, columns...))); err != nil {
				return err
			}
			if err := store.CommitTx(); err != nil {
				return err
			}
			fmt.Printf("%s %s:%s successfully\n", args[0], t, x)
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [type] [id...]",
		Short: "Reads entries by id, in the given order",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := types.Parse(args[0])
			if err != nil {
				return err
			}
			ids := make([]id.Id, 0, len(args)-1)
			for _, arg := range args[1:] {
				x, err := parseId(arg)
				if err != nil {
					return err
				}
				ids = append(ids, x)
			}
			q, err := query.NewIdQuery(t, nil, ids...)
			if err != nil {
				return err
			}
			return runQuery(t, q)
		},
	}
	queryCmd = &cobra.Command{
		Use:   "query [type]",
		Short: "Scans the entries of a type, optionally by id range or id prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := types.Parse(args[0])
			if err != nil {
				return err
			}
			q, err := buildQuery(t)
			if err != nil {
				return err
			}
			if viper.GetBool("count") {
				store, err := storeFor(rpcProvider, t)
				if err != nil {
					return err
				}
				n, err := store.QueryNumber(q)
				if err != nil {
					return err
				}
				fmt.Printf("%s matches %d entries\n", q, n)
				return nil
			}
			return runQuery(t, q)
		},
	}
	nextIdCmd = &cobra.Command{
		Use:   "next-id [type]",
		Short: "Allocates fresh numeric ids for a type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := types.Parse(args[0])
			if err != nil {
				return err
			}
			store, err := storeFor(rpcProvider, t)
			if err != nil {
				return err
			}
			for i := 0; i < max(viper.GetInt("n"), 1); i++ {
				x, err := store.NextID(t)
				if err != nil {
					return err
				}
				fmt.Println(x)
			}
			return nil
		},
	}
	counterCmd = &cobra.Command{
		Use:   "counter [type] [lowest]",
		Short: "Prints the id counter of a type, fast forwards it to lowest if given",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := types.Parse(args[0])
			if err != nil {
				return err
			}
			store, err := storeFor(rpcProvider, t)
			if err != nil {
				return err
			}
			if len(args) == 2 {
				lowest, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("lowest must be a number: %w", err)
				}
				if err := store.SetCounterLowest(t, lowest); err != nil {
					return err
				}
			}
			counter, err := store.GetCounter(t)
			if err != nil {
				return err
			}
			fmt.Printf("type=%s, counter=%d\n", t, counter)
			return nil
		},
	}
	metadataCmd = &cobra.Command{
		Use:   "metadata [store] [driver_version|counters|tables]",
		Short: "Prints metadata of the schema, graph or system store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			storeType, err := backend.ParseStoreType(args[0])
			if err != nil {
				return err
			}
			var store backend.BackendStore
			switch storeType {
			case backend.StoreSchema:
				store = rpcProvider.SchemaStore()
			case backend.StoreGraph:
				store = rpcProvider.GraphStore()
			case backend.StoreSystem:
				store = rpcProvider.SystemStore()
			default:
				return fmt.Errorf("metadata is read per store, got %s", storeType)
			}
			meta, err := store.Metadata(types.TypeUnknown, args[1])
			if err != nil {
				return err
			}
			return util.PrintResult(meta)
		},
	}
)

func init() {
	key := "id-kind"
	StoreCommands.PersistentFlags().String(key, "number", util.WrapString("Kind of the ids given as arguments (number, text, uuid, binary as hex)"))

	key = "start"
	queryCmd.Flags().String(key, "", util.WrapString("Start id of the scan"))
	key = "end"
	queryCmd.Flags().String(key, "", util.WrapString("End id of a range scan, unbounded if empty"))
	key = "prefix"
	queryCmd.Flags().String(key, "", util.WrapString("Only return ids starting with this id"))
	key = "inclusive-start"
	queryCmd.Flags().Bool(key, true, util.WrapString("Whether the start id is part of the result"))
	key = "inclusive-end"
	queryCmd.Flags().Bool(key, false, util.WrapString("Whether the end id is part of the result"))
	key = "limit"
	queryCmd.Flags().Int64(key, query.NoLimit, util.WrapString("Maximum number of results, -1 is unbounded"))
	key = "offset"
	queryCmd.Flags().Int64(key, 0, util.WrapString("Number of matching entries to skip"))
	key = "page"
	queryCmd.Flags().String(key, "", util.WrapString("Page token of a previous query to resume after"))
	key = "count"
	queryCmd.Flags().Bool(key, false, util.WrapString("Only count the matching entries"))

	key = "n"
	nextIdCmd.Flags().Int(key, 1, util.WrapString("Number of ids to allocate"))
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

// entryView is the printable form of an entry
type entryView struct {
	Type    string            `json:"type" yaml:"type"`
	ID      string            `json:"id" yaml:"id"`
	SubID   string            `json:"sub_id,omitempty" yaml:"sub_id,omitempty"`
	Columns map[string]string `json:"columns,omitempty" yaml:"columns,omitempty"`
}

// queryView is the printable result of a query
type queryView struct {
	Query   string      `json:"query" yaml:"query"`
	Entries []entryView `json:"entries" yaml:"entries"`
	Page    string      `json:"page,omitempty" yaml:"page,omitempty"`
}

func newEntryView(e *backend.Entry) entryView {
	v := entryView{Type: e.Type.String(), ID: e.ID.String()}
	if e.SubID != nil {
		v.SubID = e.SubID.String()
	}
	if len(e.Columns) > 0 {
		v.Columns = make(map[string]string, len(e.Columns))
		for _, c := range e.Columns {
			v.Columns[string(c.Name)] = string(c.Value)
		}
	}
	return v
}

// runQuery runs q on the store of t and prints the entries
func runQuery(t types.Type, q query.Query) error {
	store, err := storeFor(rpcProvider, t)
	if err != nil {
		return err
	}
	it, err := store.Query(q)
	if err != nil {
		return err
	}
	entries, err := backend.Collect(it)
	if err != nil {
		return err
	}

	view := queryView{Query: q.String(), Entries: make([]entryView, 0, len(entries)), Page: it.PageState()}
	for _, e := range entries {
		view.Entries = append(view.Entries, newEntryView(e))
	}
	return util.PrintResult(view)
}

// buildQuery creates the query described by the query flags
func buildQuery(t types.Type) (query.Query, error) {
	base := query.NewBase(t)
	if err := base.SetLimit(viper.GetInt64("limit")); err != nil {
		return nil, err
	}
	if err := base.SetOffset(viper.GetInt64("offset")); err != nil {
		return nil, err
	}
	base.SetPage(viper.GetString("page"))

	start, end, prefix := viper.GetString("start"), viper.GetString("end"), viper.GetString("prefix")
	switch {
	case prefix != "":
		p, err := parseId(prefix)
		if err != nil {
			return nil, err
		}
		s := p
		if start != "" {
			if s, err = parseId(start); err != nil {
				return nil, err
			}
		}
		return query.NewIdPrefixQuery(t, base, s, viper.GetBool("inclusive-start"), p)

	case start != "" || end != "":
		if start == "" {
			return nil, fmt.Errorf("a range scan needs a start id")
		}
		s, err := parseId(start)
		if err != nil {
			return nil, err
		}
		var e id.Id
		if end != "" {
			if e, err = parseId(end); err != nil {
				return nil, err
			}
		}
		return query.NewIdRangeQuery(t, base, s, viper.GetBool("inclusive-start"), e, viper.GetBool("inclusive-end"))
	}
	return base, nil
}

// parseId parses an id of the kind set by --id-kind
func parseId(s string) (id.Id, error) {
	kind, err := id.ParseKind(viper.GetString("id-kind"))
	if err != nil {
		return nil, err
	}
	return id.Parse(kind, s)
}

func parseAction(name string) (backend.Action, error) {
	switch strings.ToLower(name) {
	case "insert":
		return backend.ActionInsert, nil
	case "append":
		return backend.ActionAppend, nil
	case "eliminate":
		return backend.ActionEliminate, nil
	case "delete":
		return backend.ActionDelete, nil
	default:
		return 0, fmt.Errorf("invalid action %s (expected one of insert, append, eliminate, delete)", name)
	}
}

// parseColumns parses name=value pairs, a bare name has an empty value
func parseColumns(args []string) ([]backend.Column, error) {
	columns := make([]backend.Column, 0, len(args))
	for _, arg := range args {
		name, value, _ := strings.Cut(arg, "=")
		if name == "" {
			return nil, fmt.Errorf("invalid column %q (expected name=value)", arg)
		}
		columns = append(columns, backend.Col(name, value))
	}
	return columns, nil
}
