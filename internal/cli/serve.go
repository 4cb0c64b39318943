package cli

import (
	"fmt"

	"github.com/harun/sqlask/internal/daemon"
	"github.com/spf13/cobra"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Start the sqlask HTTP server",
	Long: `Start the sqlask HTTP server in the foreground.
The server exposes /chat, /chat/stream, /models, /health and /metrics and
shuts down gracefully on SIGINT or SIGTERM, letting in-flight questions finish.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "address to bind (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to bind (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := newServiceLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	if err := d.Start(); err != nil {
		return err
	}

	return d.Wait()
}
