package initpush

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lightfold/catsync/cmd/util"
)

// New creates a new `init-push-to-cloud` command.
func New() *cobra.Command {
	var catalog, cloud string
	cmd := &cobra.Command{
		Use:   "init-push-to-cloud",
		Short: "Share the local catalog as a new cloud catalog",
		Long: "Upload the local catalog to the cloud drive as the base revision\n" +
			"of a new revision chain, and start tracking it for syncing.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(catalog, cloud); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&catalog, "catalog", "",
		"path to the local catalog. Overrides the user config.")
	cmd.Flags().StringVar(&cloud, "cloud", "",
		"path for the cloud copy. Overrides the user config.")
	return cmd
}

func run(catalog, cloud string) error {
	env, err := util.LoadInitEnv(catalog, cloud)
	if err != nil {
		return err
	}

	err = util.WithLock(env.State.Catalog, false, func() error {
		return env.Engine.InitPush(context.Background())
	})
	if err != nil {
		return err
	}

	fmt.Printf("Shared %s as a new cloud catalog at %s\n",
		env.State.Catalog, env.State.Cloud)
	return nil
}
