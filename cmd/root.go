package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Purchase outcome reconciliation service",
	Long:  "A service that reconciles asynchronous payment outcomes: it polls the backend for purchase status, drives the outcome page state machines, and emits conversion events at most once per purchase.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
