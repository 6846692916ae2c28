package main

import (
    "log"

    "github.com/spf13/cobra"

    clustercli "github.com/amirimatin/go-cluster/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "agencyd",
        Short:         "agency node daemon",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    root.AddCommand(clustercli.NewRunCmd())
    return root
}
