package cli

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/harun/sqlask/internal/daemon"
	"github.com/spf13/cobra"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long:  `Show whether a sqlask server is running and query its /health endpoint.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "server address host:port (default from server.host and server.port)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	out := cmd.OutOrStdout()

	pidFile := daemon.PIDFilePath(cfg.DataDir)
	pid, pidErr := daemon.ReadPID(pidFile)
	if pidErr == nil && daemon.ProcessAlive(pid) {
		fmt.Fprintf(out, "Process: running (PID %d)\n", pid)
		if info, err := os.Stat(pidFile); err == nil {
			fmt.Fprintf(out, "Started: %s ago\n", formatDuration(time.Since(info.ModTime())))
		}
	} else {
		fmt.Fprintln(out, "Process: not running")
	}

	addr := statusAddr
	if addr == "" {
		host := cfg.Server.Host
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		addr = net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
	}

	health, err := fetchHealth(addr)
	if err != nil {
		fmt.Fprintf(out, "Health: unreachable (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Health: %v\n", health["status"])
	fmt.Fprintf(out, "Database: %v\n", health["database"])
	fmt.Fprintf(out, "Uptime: %v\n", health["uptime"])
	return nil
}

func fetchHealth(addr string) (map[string]interface{}, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + "/health")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid health response: %w", err)
	}
	return body, nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
