package main

import (
    "log"

    "github.com/spf13/cobra"

    semisynccli "github.com/villagesql/semisync/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "semisyncd",
        Short:         "semisync ack receiver daemon and management CLI",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    // Attach all semisync commands from pkg/cli for reuse in services
    semisynccli.AddAll(root)
    return root
}
