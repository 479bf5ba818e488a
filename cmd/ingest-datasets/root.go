package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ingest-datasets",
		Short:         "Load cloud resource, cost and recommendation datasets into CloudUnify",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newLoadCmd())
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(code)
	}
}
