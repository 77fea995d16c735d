package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lightfold/catsync/pkg/version"
)

// New creates a new `version` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of catsync.",
		Long:  "Print the version of the catsync binary, as set at build time.",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("catsync version: %s\n", version.Version)
		},
	}
}
