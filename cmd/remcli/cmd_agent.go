// cmd/remcli/cmd_agent.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/remcli/internal/control"
	"github.com/user/remcli/internal/supervisor"
	"github.com/user/remcli/internal/types"
)

func init() {
	agentCmd.Flags().String("started-by", "", "who launched this process (daemon)")
	agentCmd.Flags().String("agent", "claude", "agent binary to host")
	rootCmd.AddCommand(agentCmd)
}

// agentCmd is the launch shim running inside a daemon-owned multiplexer
// window. It reports its session back to the daemon, then hands the PTY
// to the agent binary. The agent's internals are not our concern; we
// only bind its lifetime to a session id the daemon can address.
var agentCmd = &cobra.Command{
	Use:    "agent",
	Short:  "Host an agent process inside a daemon-managed window",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, _ := cmd.Flags().GetString("agent")
		startedBy, _ := cmd.Flags().GetString("started-by")

		sessionID := types.NewSessionID()
		if tag := os.Getenv(supervisor.EnvSessionTag); tag != "" {
			sessionID = types.SessionID(tag)
		}

		if startedBy == "daemon" {
			controlURL := os.Getenv(supervisor.EnvControlURL)
			if controlURL == "" {
				return fmt.Errorf("%s is not set; refusing to run detached from a daemon", supervisor.EnvControlURL)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			client := control.NewClient(controlURL)
			if err := client.ReportSessionStarted(ctx, sessionID, os.Getpid()); err != nil {
				return fmt.Errorf("report session start: %w", err)
			}
		}

		binary, err := exec.LookPath(agent)
		if err != nil {
			return fmt.Errorf("agent binary %q not found: %w", agent, err)
		}

		child := exec.Command(binary)
		child.Stdin = os.Stdin
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr
		child.Env = os.Environ()
		return child.Run()
	},
}
