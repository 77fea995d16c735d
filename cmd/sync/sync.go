package sync

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/lightfold/catsync/cmd/util"
	"github.com/lightfold/catsync/pkg/editor"
	"github.com/lightfold/catsync/pkg/errors"
)

var fs = afero.NewOsFs()

type options struct {
	catalog     string
	editor      string
	appendDebug string
	forceUnlock bool
}

// New creates a new `sync` command.
func New() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull, edit, and push the catalog in one session",
		Long: "Pull the latest cloud edits, open the catalog in the editor, and\n" +
			"push the resulting edits back to the cloud once the editor exits.\n" +
			"The catalog stays locked for the whole session.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(opts); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&opts.catalog, "catalog", "",
		"path to the local catalog. Overrides the user config.")
	cmd.Flags().StringVar(&opts.editor, "editor", "",
		"command that opens the catalog ($cat is the catalog path). "+
			"Overrides the user config.")
	cmd.Flags().StringVar(&opts.appendDebug, "append-debug", "",
		"append the given text to the catalog instead of launching the editor")
	cmd.Flags().BoolVar(&opts.forceUnlock, "force-unlock", false,
		"remove a stale lock file before starting")
	return cmd
}

func run(opts options) error {
	env, err := util.LoadSyncEnv(opts.catalog)
	if err != nil {
		return err
	}
	session := buildSession(env.User.Editor, opts)

	return util.WithLock(env.State.Catalog, opts.forceUnlock, func() error {
		ctx := context.Background()
		if err := env.Engine.Pull(ctx); err != nil {
			return err
		}

		if err := session.Run(ctx, env.State.Catalog); err != nil {
			return errors.NewFriendlyError("The editor failed, so local edits "+
				"were not pushed. Fix the editor command and run `catsync push` "+
				"to sync them.\n%s", err)
		}

		if err := env.Engine.Push(ctx); err != nil {
			return err
		}

		fmt.Printf("Catalog synced at revision %d.\n",
			env.Engine.Ancestor().Sequence)
		return nil
	})
}

// buildSession picks how the edit step runs: a plain append for scripted
// tests, or the editor command.
func buildSession(configured string, opts options) editor.Session {
	if opts.appendDebug != "" {
		return editor.AppendSession{Fs: fs, Text: opts.appendDebug}
	}
	return editor.NewExecSession(editorCommand(configured, opts))
}

// editorCommand resolves the editor, with the command line winning over
// the user config.
func editorCommand(configured string, opts options) string {
	if opts.editor != "" {
		return opts.editor
	}
	return configured
}
