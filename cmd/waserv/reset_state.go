package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wazero-automation/convo-core/internal/config"
	"github.com/wazero-automation/convo-core/internal/rpcclient"
)

func newResetStateCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset-state",
		Short: "truncate all leads, conversations and messages via the RPC server (non-production use only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResetState(cmd, yes)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the interactive confirmation prompt")
	return cmd
}

func runResetState(cmd *cobra.Command, yes bool) error {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.RequireForWorker(); err != nil {
		return fmt.Errorf("missing configuration to reach rpc server: %w", err)
	}

	if !yes {
		fmt.Fprintf(cmd.OutOrStdout(), "this will permanently delete all leads, conversations and messages at %s. type \"yes\" to continue: ", cfg.RPCBaseURL)
		reader := bufio.NewReader(cmd.InOrStdin())
		line, _ := reader.ReadString('\n')
		if strings.TrimSpace(line) != "yes" {
			fmt.Fprintln(cmd.OutOrStdout(), "aborted")
			return nil
		}
	}

	rpc := rpcclient.New(cfg.RPCBaseURL, cfg.InternalSecret)
	if err := rpc.ResetState(cmd.Context()); err != nil {
		return fmt.Errorf("reset state: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "state reset")
	return nil
}
