package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/harun/sqlask/internal/config"
	"github.com/harun/sqlask/internal/daemon"
	"github.com/harun/sqlask/internal/logger"
	"github.com/harun/sqlask/internal/tracing"
	"github.com/harun/sqlask/pkg/agent"
	"github.com/harun/sqlask/pkg/store"
	"github.com/harun/sqlask/pkg/toolexecutor"
	"github.com/spf13/cobra"
)

var (
	askModel   string
	askSteps   int
	askVerbose bool
	askJSON    bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask one question and print the answer",
	Long: `Run the agent loop once for a question and print the final answer.
With --verbose every tool call and tool result is printed as it happens.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askModel, "model", "m", "", "model identifier (default from agent.default_model)")
	askCmd.Flags().IntVar(&askSteps, "steps", 0, "maximum model calls (default from agent.step_limit)")
	askCmd.Flags().BoolVarP(&askVerbose, "verbose", "v", false, "print tool calls and results")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the response and metadata as JSON")
	rootCmd.AddCommand(askCmd)
}

// toolSession is a store plus tool dispatch for one-shot commands.
type toolSession struct {
	cfg   *config.Config
	log   *logger.Logger
	store *store.Store
	tools *toolexecutor.Executor
}

func openToolSession(ctx context.Context) (*toolSession, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.URI == "" {
		return nil, store.ErrMissingURI
	}

	log, err := newCommandLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	st, err := daemon.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Close()
		return nil, err
	}

	tools, err := daemon.NewToolExecutor(st, cfg, log)
	if err != nil {
		st.Close()
		log.Close()
		return nil, err
	}

	return &toolSession{cfg: cfg, log: log, store: st, tools: tools}, nil
}

func (s *toolSession) Close() {
	s.store.Close()
	s.log.Close()
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := tracing.NewRequestContext(cmd.Context())
	question := strings.Join(args, " ")

	session, err := openToolSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	prompt, closer, err := daemon.NewPromptSource(session.cfg, session.log)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	runner, err := daemon.NewAgentRunner(session.cfg, session.tools, prompt, session.log)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var opts []agent.RunOption
	if askVerbose {
		opts = append(opts, agent.WithObserver(printEvent(out)))
	}

	result, err := runner.Run(ctx, question, askModel, askSteps, opts...)
	if err != nil {
		return err
	}

	if askJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintln(out, result.Answer)
	fmt.Fprintf(out, "\n(model %s, %.2fs, %d steps)\n", result.Metadata.Model, result.Metadata.DurationSeconds, result.Steps)
	return nil
}

func printEvent(out io.Writer) agent.Observer {
	return func(ev agent.Event) {
		switch ev.Type {
		case agent.EventToolCall:
			fmt.Fprintf(out, "[step %d] -> %s %s\n", ev.Step, ev.ToolCall.Name, ev.ToolCall.Arguments)
		case agent.EventToolResult:
			fmt.Fprintf(out, "[step %d] <- %s %s\n", ev.Step, ev.ToolCall.Name, ev.Result)
		case agent.EventFallback:
			fmt.Fprintf(out, "[step %d] step limit reached\n", ev.Step)
		}
	}
}
