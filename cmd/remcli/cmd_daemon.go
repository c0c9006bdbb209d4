// cmd/remcli/cmd_daemon.go
package main

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/remcli/internal/control"
	"github.com/user/remcli/internal/daemon"
)

func init() {
	daemonCmd.AddCommand(daemonStartCmd, daemonStopCmd, daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the workstation daemon",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon (blocks until shutdown)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		return daemon.Run(cfg, version)
	},
}

// controlClient resolves the running daemon's control plane from the
// state file.
func controlClient() (*control.Client, *daemon.StateFile, error) {
	cfg := loadConfig()
	state, err := daemon.ReadStateFile(cfg.StateFilePath())
	if err != nil {
		return nil, nil, err
	}
	if state == nil {
		return nil, nil, fmt.Errorf("no running daemon (state file not found)")
	}
	return control.NewClient(fmt.Sprintf("http://127.0.0.1:%d", state.HTTPPort)), state, nil
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, state, err := controlClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		if err := client.Stop(ctx); err != nil {
			// The control plane may already be gone; fall back to the pid.
			if killErr := syscall.Kill(state.PID, syscall.SIGTERM); killErr != nil {
				return fmt.Errorf("stop daemon: %w", err)
			}
		}
		fmt.Printf("Stopped daemon (pid %d)\n", state.PID)
		return nil
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running daemon's state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, state, err := controlClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
		defer cancel()
		alive := client.Health(ctx)

		fmt.Printf("pid:        %d\n", state.PID)
		fmt.Printf("version:    %s\n", state.StartedWithCLIVersion)
		fmt.Printf("http port:  %d\n", state.HTTPPort)
		fmt.Printf("p2p port:   %d\n", state.P2PPort)
		fmt.Printf("p2p host:   %s\n", state.P2PHost)
		if state.TunnelURL != "" {
			fmt.Printf("tunnel:     %s\n", state.TunnelURL)
		}
		fmt.Printf("healthy:    %v\n", alive)
		if state.LastHeartbeat > 0 {
			fmt.Printf("heartbeat:  %s\n", time.UnixMilli(state.LastHeartbeat).Format(time.RFC3339))
		}
		return nil
	},
}
