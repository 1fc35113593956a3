package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/waferry/cmd/waferry/internal/run"
	"github.com/tinyland-inc/waferry/cmd/waferry/internal/version"
)

func NewWaferryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "waferry",
		Short:   "waferry - WhatsApp to Telegram routing bridge",
		Example: "waferry run",
	}

	cmd.AddCommand(
		run.NewRunCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewWaferryCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
