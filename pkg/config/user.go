package config

import (
	"path/filepath"
	"time"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/lightfold/catsync/pkg/errors"
)

const (
	// UserConfigPath is the default path to the catsync user config.
	UserConfigPath = "~/.catsync.yaml"

	// InitialUserConfigVersion is the first version of the catsync
	// user config. Config files that do not specify a version
	// will default to this version.
	InitialUserConfigVersion = "v1alpha1"

	// SupportedUserConfigVersion is the supported version of the
	// catsync user config of the current catsync binary.
	SupportedUserConfigVersion = "v1alpha1"
)

// User contains the per-machine settings that are inputs to every sync:
// where the catalogs live and which external tools to run. The engine's
// own bookkeeping lives in the sync state file next to the catalog, not
// here.
type User struct {
	Version string `json:"version,omitempty"`

	// Catalog and Cloud are the local and cloud-drive catalog paths.
	Catalog string `json:"catalog"`
	Cloud   string `json:"cloud"`

	// DiffCmd and PatchCmd are the external tool templates, using the
	// $in1/$in2/$patch/$out placeholders. Empty means bsdiff/bspatch.
	DiffCmd  string `json:"diffCmd,omitempty"`
	PatchCmd string `json:"patchCmd,omitempty"`

	// Editor is the command that opens the catalog, with $cat standing
	// in for the catalog path.
	Editor string `json:"editor,omitempty"`

	// ToolTimeout bounds each external tool invocation, as a duration
	// string like "10m". Empty means the built-in default.
	ToolTimeout string `json:"toolTimeout,omitempty"`

	// DisableSmartPreviews turns off syncing of the Smart Previews
	// sidecar. DisableCompression stores cloud deltas raw.
	DisableSmartPreviews bool `json:"disableSmartPreviews,omitempty"`
	DisableCompression   bool `json:"disableCompression,omitempty"`
}

func (u User) getVersion() string {
	return u.Version
}

// ParsedToolTimeout returns the configured tool timeout, or zero when
// unset so callers can apply their default.
func (u User) ParsedToolTimeout() (time.Duration, error) {
	if u.ToolTimeout == "" {
		return 0, nil
	}
	timeout, err := time.ParseDuration(u.ToolTimeout)
	if err != nil {
		return 0, errors.NewFriendlyError("The toolTimeout %q in %s is not a "+
			"valid duration. Use values like \"90s\" or \"10m\".",
			u.ToolTimeout, UserConfigPath)
	}
	return timeout, nil
}

// homedirExpand will be overridden in mock tests
var homedirExpand = homedir.Expand

// ParseUser attempts to parse the User stored in the default path.
func ParseUser() (User, error) {
	path, err := GetUserConfigPath()
	if err != nil {
		return User{}, errors.WithContext(err, "expand config path")
	}

	config := User{Version: InitialUserConfigVersion}
	if err := parseConfig(fs, path, &config, SupportedUserConfigVersion); err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return User{}, errors.NewFriendlyError("The catsync user config "+
				"file doesn't exist at %q. Run `catsync config` to create it, "+
				"or pass the catalog paths as flags.", path)
		}
		return User{}, errors.WithContext(err, "parse")
	}

	for _, field := range []*string{&config.Catalog, &config.Cloud} {
		*field, err = homedirExpand(*field)
		if err != nil {
			return User{}, errors.WithContext(err, "expand catalog path")
		}

		// Evaluate relative paths relative to the config path.
		if *field != "" && !filepath.IsAbs(*field) {
			*field = filepath.Join(filepath.Dir(path), *field)
		}
	}
	return config, nil
}

// WriteUser writes the given user config to disk.
func WriteUser(cfg User) error {
	cfg.Version = SupportedUserConfigVersion
	path, err := GetUserConfigPath()
	if err != nil {
		return errors.WithContext(err, "expand config path")
	}

	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := afero.WriteFile(fs, path, yamlBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

// Get the path to the user's global catsync configuration. This path is
// expanded, so it can be directly passed to file operations.
func GetUserConfigPath() (string, error) {
	return homedirExpand(UserConfigPath)
}
