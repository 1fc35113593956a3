package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/waferry/cmd/waferry/internal"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print waferry version",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("waferry %s\n", internal.FormatVersion())
		},
	}
}
