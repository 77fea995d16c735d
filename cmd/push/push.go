package push

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lightfold/catsync/cmd/util"
)

// New creates a new `push` command.
func New() *cobra.Command {
	var catalog string
	var forceUnlock bool
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push local catalog edits to the cloud",
		Long: "Record the local edits since the last synced revision as a new\n" +
			"delta in the cloud revision chain. Refuses with a conflict when the\n" +
			"cloud has moved on since then.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(catalog, forceUnlock); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&catalog, "catalog", "",
		"path to the local catalog. Overrides the user config.")
	cmd.Flags().BoolVar(&forceUnlock, "force-unlock", false,
		"remove a stale lock file before starting")
	return cmd
}

func run(catalog string, forceUnlock bool) error {
	env, err := util.LoadSyncEnv(catalog)
	if err != nil {
		return err
	}

	before := env.State.Ancestor
	err = util.WithLock(env.State.Catalog, forceUnlock, func() error {
		return env.Engine.Push(context.Background())
	})
	if err != nil {
		return err
	}

	after := env.Engine.Ancestor()
	if after.Equal(before) {
		fmt.Println("The catalog hasn't changed. Nothing to push.")
	} else {
		fmt.Printf("Pushed revision %d to the cloud.\n", after.Sequence)
	}
	return nil
}
