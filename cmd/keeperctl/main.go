package main

import (
    "log"

    "github.com/spf13/cobra"

    keepercli "github.com/amirimatin/go-keeper/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "keeperctl",
        Short:         "go-keeper ensemble management CLI",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    // Attach all keeper commands from pkg/cli for reuse in services
    keepercli.AddAll(root)
    return root
}
