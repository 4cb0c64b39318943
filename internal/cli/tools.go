package cli

import (
	"fmt"

	"github.com/harun/sqlask/internal/tracing"
	"github.com/harun/sqlask/pkg/toolexecutor"
	"github.com/spf13/cobra"
)

var queryLimit int

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List the tables the assistant can see",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return invokeTool(cmd, toolexecutor.ListTables.String(), map[string]interface{}{})
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema <table>...",
	Short: "Show the columns of one or more tables",
	Long:  `Show the columns of one or more tables. Unknown tables are left out of the result.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tables := make([]interface{}, 0, len(args))
		for _, a := range args {
			tables = append(tables, a)
		}
		return invokeTool(cmd, toolexecutor.GetSchema.String(), map[string]interface{}{"tables": tables})
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <sql>",
	Short: "Run a read-only query through the same checks the assistant uses",
	Long: `Run a read-only query. The statement must begin with SELECT and is
bounded by a row limit exactly as when the assistant runs it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		toolArgs := map[string]interface{}{"query": args[0]}
		if queryLimit > 0 {
			toolArgs["limit"] = queryLimit
		}
		return invokeTool(cmd, toolexecutor.RunQuery.String(), toolArgs)
	},
}

func init() {
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "row limit (default from tools.default_row_limit)")
	rootCmd.AddCommand(tablesCmd, schemaCmd, queryCmd)
}

// invokeTool runs one tool and prints its JSON payload.
func invokeTool(cmd *cobra.Command, name string, args map[string]interface{}) error {
	ctx := tracing.NewRequestContext(cmd.Context())

	session, err := openToolSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	fmt.Fprintln(cmd.OutOrStdout(), session.tools.Invoke(ctx, name, args))
	return nil
}
