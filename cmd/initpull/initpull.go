package initpull

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lightfold/catsync/cmd/util"
)

// New creates a new `init-pull-from-cloud` command.
func New() *cobra.Command {
	var catalog, cloud string
	cmd := &cobra.Command{
		Use:   "init-pull-from-cloud",
		Short: "Fetch an existing cloud catalog onto this machine",
		Long: "Download the cloud catalog's base revision, replay its revision\n" +
			"chain up to the current head, and start tracking it for syncing.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(catalog, cloud); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&catalog, "catalog", "",
		"path for the local catalog. Overrides the user config.")
	cmd.Flags().StringVar(&cloud, "cloud", "",
		"path to the cloud copy. Overrides the user config.")
	return cmd
}

func run(catalog, cloud string) error {
	env, err := util.LoadInitEnv(catalog, cloud)
	if err != nil {
		return err
	}

	err = util.WithLock(env.State.Catalog, false, func() error {
		return env.Engine.InitPull(context.Background())
	})
	if err != nil {
		return err
	}

	fmt.Printf("Fetched the cloud catalog %s to %s (revision %d)\n",
		env.State.Cloud, env.State.Catalog, env.Engine.Ancestor().Sequence)
	return nil
}
