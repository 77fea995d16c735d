package config

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lightfold/catsync/cmd/util"
	"github.com/lightfold/catsync/pkg/config"
	"github.com/lightfold/catsync/pkg/delta"
	"github.com/lightfold/catsync/pkg/errors"
)

// Mocked for unit testing.
var (
	stdout          io.Writer = os.Stdout
	parseUserConfig           = config.ParseUser
	writeUserConfig           = config.WriteUser
	confirm                   = util.PromptYesOrNo
)

// New creates a new `config` command.
func New() *cobra.Command {
	var cliOpts config.User
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Setup the catsync user configuration",
		Run: func(_ *cobra.Command, _ []string) {
			if err := SetupConfig(cliOpts); err != nil {
				err = errors.NewFriendlyError("Failed to setup configuration:\n%s", err)
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&cliOpts.Catalog, "catalog", "",
		"path to the local catalog")
	cmd.Flags().StringVar(&cliOpts.Cloud, "cloud", "",
		"path for the cloud copy, on the cloud drive mount")
	cmd.Flags().StringVar(&cliOpts.Editor, "editor", "",
		"command that opens the catalog ($cat is the catalog path)")
	cmd.Flags().StringVar(&cliOpts.DiffCmd, "diff-cmd", "",
		fmt.Sprintf("external diff template (default %q)", delta.DefaultDiffCmd))
	cmd.Flags().StringVar(&cliOpts.PatchCmd, "patch-cmd", "",
		fmt.Sprintf("external patch template (default %q)", delta.DefaultPatchCmd))
	cmd.Flags().StringVar(&cliOpts.ToolTimeout, "tool-timeout", "",
		"bound on each external tool run, like \"90s\" or \"10m\"")
	cmd.Flags().BoolVar(&cliOpts.DisableSmartPreviews, "disable-smart-previews",
		false, "don't sync the Smart Previews sidecar")
	cmd.Flags().BoolVar(&cliOpts.DisableCompression, "disable-compression",
		false, "store cloud deltas uncompressed")

	// Setup the commands for querying the contents of the user config.
	type getterSpec struct {
		use, short string
		fn         func(config.User) string
	}

	getters := []getterSpec{
		{
			use:   "get-catalog",
			short: "Get the currently configured catalog path",
			fn:    func(cfg config.User) string { return cfg.Catalog },
		},
		{
			use:   "get-cloud",
			short: "Get the currently configured cloud path",
			fn:    func(cfg config.User) string { return cfg.Cloud },
		},
	}
	for _, getter := range getters {
		getter := getter
		cmd.AddCommand(&cobra.Command{
			Use:   getter.use,
			Short: getter.short,
			Run: func(_ *cobra.Command, _ []string) {
				cfg, err := parseUserConfig()
				if err != nil {
					err = errors.WithContext(err, "read config")
					util.HandleFatalError(err)
				}

				fmt.Fprintln(stdout, getter.fn(cfg))
			},
		})
	}

	return cmd
}

// SetupConfig merges the command line options into the existing config and
// writes the result.
func SetupConfig(cliOpts config.User) error {
	curr, err := parseUserConfig()
	if err != nil {
		curr = config.User{}
		log.WithError(err).Debug("Failed to read current config")
	}

	cfg := merge(curr, cliOpts)
	if cfg.Catalog == "" || cfg.Cloud == "" {
		return errors.NewFriendlyError("Both --catalog and --cloud are " +
			"required the first time the config is written.")
	}
	if _, err := cfg.ParsedToolTimeout(); err != nil {
		return err
	}

	if curr.Catalog != "" && cfg.Catalog != curr.Catalog {
		switchCatalog, err := confirm(fmt.Sprintf(
			"The config currently tracks %q. Switch to %q?",
			curr.Catalog, cfg.Catalog))
		if err != nil {
			return errors.WithContext(err, "read response")
		}
		if !switchCatalog {
			fmt.Fprintln(stdout, "Config unchanged.")
			return nil
		}
	}

	if err := writeUserConfig(cfg); err != nil {
		return errors.WithContext(err, "write config")
	}

	path, err := config.GetUserConfigPath()
	if err != nil {
		return errors.WithContext(err, "get user config path")
	}

	fmt.Fprintf(stdout, "Wrote config to %s\n", path)
	return nil
}

// merge overlays the flags that were actually set onto the current config.
func merge(curr, flags config.User) config.User {
	merged := curr
	fields := []struct {
		dst *string
		src string
	}{
		{&merged.Catalog, flags.Catalog},
		{&merged.Cloud, flags.Cloud},
		{&merged.DiffCmd, flags.DiffCmd},
		{&merged.PatchCmd, flags.PatchCmd},
		{&merged.Editor, flags.Editor},
		{&merged.ToolTimeout, flags.ToolTimeout},
	}
	for _, field := range fields {
		if field.src != "" {
			*field.dst = field.src
		}
	}

	if flags.DisableSmartPreviews {
		merged.DisableSmartPreviews = true
	}
	if flags.DisableCompression {
		merged.DisableCompression = true
	}
	return merged
}
