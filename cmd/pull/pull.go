package pull

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lightfold/catsync/cmd/util"
	"github.com/lightfold/catsync/pkg/engine"
	"github.com/lightfold/catsync/pkg/fswatch"
	"github.com/lightfold/catsync/pkg/revision"
)

// New creates a new `pull` command.
func New() *cobra.Command {
	var catalog string
	var forceUnlock, watch bool
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Pull cloud catalog edits onto this machine",
		Long: "Apply the cloud deltas recorded since the last synced revision\n" +
			"to the local catalog. Refuses with a conflict when the catalog has\n" +
			"uncommitted local edits.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(catalog, forceUnlock, watch); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&catalog, "catalog", "",
		"path to the local catalog. Overrides the user config.")
	cmd.Flags().BoolVar(&forceUnlock, "force-unlock", false,
		"remove a stale lock file before starting")
	cmd.Flags().BoolVar(&watch, "watch", false,
		"keep running, and pull again whenever the cloud chain grows")
	return cmd
}

func run(catalog string, forceUnlock, watch bool) error {
	env, err := util.LoadSyncEnv(catalog)
	if err != nil {
		return err
	}

	pullOnce := func(force bool) error {
		before := env.Engine.Ancestor()
		err := util.WithLock(env.State.Catalog, force, func() error {
			return env.Engine.Pull(context.Background())
		})
		if err != nil {
			return err
		}
		report(env.Engine, before)
		return nil
	}

	if err := pullOnce(forceUnlock); err != nil {
		return err
	}
	if !watch {
		return nil
	}

	updates, err := fswatch.Watch(env.State.Cloud)
	if err != nil {
		return err
	}

	fmt.Printf("Watching %s for new revisions. Press Ctrl-C to stop.\n",
		env.State.Cloud)
	for range updates {
		if err := pullOnce(false); err != nil {
			return err
		}
	}
	return nil
}

func report(e *engine.Engine, before revision.Revision) {
	after := e.Ancestor()
	switch {
	case !after.Equal(before):
		fmt.Printf("Pulled revision %d from the cloud.\n", after.Sequence)
	case e.State() == engine.LocalAhead:
		fmt.Println("The cloud hasn't changed. Local edits are ready to push.")
	default:
		fmt.Println("Already up to date.")
	}
}
