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
        Use:           "agencyctl",
        Short:         "agency management CLI",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    root.AddCommand(clustercli.NewStatusCmd())
    root.AddCommand(clustercli.NewHealthCmd())
    root.AddCommand(clustercli.NewJobsCmd())
    root.AddCommand(clustercli.NewJoinCmd())
    root.AddCommand(clustercli.NewLeaveCmd())
    return root
}
