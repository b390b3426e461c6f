package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "send SIGTERM to the running waserv process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop()
		},
	}
}

func runStop() error {
	raw, err := os.ReadFile(livenessFile)
	if os.IsNotExist(err) {
		fmt.Println("waserv is not running")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read liveness file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return fmt.Errorf("parse pid from liveness file: %w", err)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if os.IsNotExist(err) || err.Error() == "os: process already finished" {
			fmt.Println("waserv is not running")
			return nil
		}
		return fmt.Errorf("signal process %d: %w", pid, err)
	}
	fmt.Printf("sent SIGTERM to waserv (pid %d)\n", pid)
	return nil
}
