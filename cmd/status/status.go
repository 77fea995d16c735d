package status

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lightfold/catsync/cmd/util"
)

// New creates a new `status` command.
func New() *cobra.Command {
	var catalog string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show how the catalog relates to the cloud",
		Long: "Compare the local catalog and the cloud revision chain against\n" +
			"the last synced revision, without changing either.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(catalog); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&catalog, "catalog", "",
		"path to the local catalog. Overrides the user config.")
	return cmd
}

func run(catalog string) error {
	env, err := util.LoadSyncEnv(catalog)
	if err != nil {
		return err
	}

	state, err := env.Engine.Status()
	if err != nil {
		return err
	}

	ancestor := env.Engine.Ancestor()
	fmt.Printf("catalog:  %s (revision %d, %s)\n",
		state, ancestor.Sequence, ancestor.Short())

	if env.State.PreviewsEnabled() {
		previews, err := env.Engine.PreviewsStatus()
		if err != nil {
			return err
		}
		fmt.Printf("previews: %s\n", previews)
	}
	return nil
}
