// cmd/remcli/cmd_session.go
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/remcli/internal/daemon"
	"github.com/user/remcli/internal/supervisor"
)

func init() {
	spawnCmd.Flags().String("agent", "claude", "agent kind to launch")
	spawnCmd.Flags().Bool("create-directory", false, "create the directory if it does not exist")
	rootCmd.AddCommand(listCmd, spawnCmd, stopSessionCmd, connectCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked agent sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := controlClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		children, err := client.List(ctx)
		if err != nil {
			return err
		}
		if len(children) == 0 {
			fmt.Println("No tracked sessions.")
			return nil
		}
		for _, child := range children {
			session := string(child.SessionID)
			if session == "" {
				session = fmt.Sprintf("PID-%d", child.PID)
			}
			fmt.Printf("%-40s pid=%-8d %-10s %s\n", session, child.PID, child.StartedBy, child.Directory)
		}
		return nil
	},
}

var spawnCmd = &cobra.Command{
	Use:   "spawn <directory>",
	Short: "Spawn an agent session in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, _ := cmd.Flags().GetString("agent")
		approve, _ := cmd.Flags().GetBool("create-directory")

		client, _, err := controlClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		result, err := client.SpawnSession(ctx, supervisor.SpawnOptions{
			Directory:                    args[0],
			Agent:                        agent,
			ApprovedNewDirectoryCreation: approve,
		})
		if err != nil {
			return err
		}

		switch result.Type {
		case supervisor.SpawnSuccess:
			fmt.Printf("Started session %s\n", result.SessionID)
			return nil
		case supervisor.SpawnNeedsDirectoryApproval:
			return fmt.Errorf("directory %s does not exist; re-run with --create-directory", result.Directory)
		default:
			return fmt.Errorf("spawn failed: %s", result.ErrorMessage)
		}
	},
}

var stopSessionCmd = &cobra.Command{
	Use:   "stop <session-id>",
	Short: "Stop a tracked agent session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := controlClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		ok, err := client.StopSession(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no tracked session %s", args[0])
		}
		fmt.Printf("Stopped %s\n", args[0])
		return nil
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Print the pairing QR for the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		state, err := daemon.ReadStateFile(cfg.StateFilePath())
		if err != nil {
			return err
		}
		if state == nil {
			return fmt.Errorf("no running daemon (state file not found)")
		}

		url, err := daemon.ConnectURL(state.P2PHost, state.P2PPort, state.P2PSharedSecret, state.TunnelURL)
		if err != nil {
			return err
		}
		daemon.PrintConnectQR(os.Stdout, url)
		return nil
	},
}
