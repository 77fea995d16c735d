package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lightfold/catsync/cmd/bugtool"
	configCmd "github.com/lightfold/catsync/cmd/config"
	"github.com/lightfold/catsync/cmd/initpull"
	"github.com/lightfold/catsync/cmd/initpush"
	"github.com/lightfold/catsync/cmd/pull"
	"github.com/lightfold/catsync/cmd/push"
	"github.com/lightfold/catsync/cmd/status"
	syncCmd "github.com/lightfold/catsync/cmd/sync"
	"github.com/lightfold/catsync/cmd/util"
	"github.com/lightfold/catsync/cmd/version"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "CATSYNC_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	var verbose bool
	rootCmd := &cobra.Command{
		Use:          "catsync",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")
	rootCmd.AddCommand(
		bugtool.New(),
		configCmd.New(),
		initpull.New(),
		initpush.New(),
		pull.New(),
		push.New(),
		status.New(),
		syncCmd.New(),
		version.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}
