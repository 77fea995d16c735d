package util

import (
	"path/filepath"
	"strings"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/lightfold/catsync/pkg/config"
	"github.com/lightfold/catsync/pkg/delta"
	"github.com/lightfold/catsync/pkg/engine"
	"github.com/lightfold/catsync/pkg/errors"
	"github.com/lightfold/catsync/pkg/lockfile"
)

// Mocked for unit testing.
var (
	fs              = afero.NewOsFs()
	clock           = clockwork.NewRealClock()
	parseUserConfig = config.ParseUser
)

// SyncEnv bundles everything a sync command needs: the parsed user
// config, the catalog's sync state, and the engine built from them.
type SyncEnv struct {
	User   config.User
	State  config.SyncState
	Engine *engine.Engine
}

// LoadSyncEnv assembles the environment for commands that operate on an
// already initialized catalog. catalogFlag overrides the configured
// catalog path when non-empty.
func LoadSyncEnv(catalogFlag string) (SyncEnv, error) {
	user, err := parseUserConfig()
	if err != nil {
		if catalogFlag == "" {
			return SyncEnv{}, err
		}
		log.WithError(err).Debug("Ignoring user config")
		user = config.User{}
	}
	if catalogFlag != "" {
		user.Catalog = catalogFlag
	}
	if user.Catalog == "" {
		return SyncEnv{}, errors.NewFriendlyError("No catalog is configured. "+
			"Set `catalog` in %s, or pass --catalog.", config.UserConfigPath)
	}

	state, err := config.ParseState(fs, user.Catalog)
	if err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return SyncEnv{}, errors.NewFriendlyError("The catalog %q isn't "+
				"synced yet. Run `catsync init-push-to-cloud` to share it, or "+
				"`catsync init-pull-from-cloud` to fetch an existing cloud copy.",
				user.Catalog)
		}
		return SyncEnv{}, errors.WithContext(err, "read sync state")
	}

	codec, err := BuildCodec(user)
	if err != nil {
		return SyncEnv{}, err
	}
	return SyncEnv{User: user, State: state, Engine: engine.New(state, codec)}, nil
}

// LoadInitEnv assembles the environment for the init commands, which run
// before any sync state exists. Flags override the configured paths, and
// when both are given the user config file is optional.
func LoadInitEnv(catalogFlag, cloudFlag string) (SyncEnv, error) {
	user, err := parseUserConfig()
	if err != nil {
		if catalogFlag == "" || cloudFlag == "" {
			return SyncEnv{}, err
		}
		log.WithError(err).Debug("Ignoring user config")
		user = config.User{}
	}
	if catalogFlag != "" {
		user.Catalog = catalogFlag
	}
	if cloudFlag != "" {
		user.Cloud = cloudFlag
	}
	if user.Catalog == "" || user.Cloud == "" {
		return SyncEnv{}, errors.NewFriendlyError("Both the local catalog " +
			"path and the cloud path are required. Set them with `catsync " +
			"config`, or pass --catalog and --cloud.")
	}

	state := config.SyncState{
		Catalog:     user.Catalog,
		Cloud:       user.Cloud,
		Compression: !user.DisableCompression,
	}
	if !user.DisableSmartPreviews {
		state.Previews = &config.PreviewsState{Enabled: true}
	}

	codec, err := BuildCodec(user)
	if err != nil {
		return SyncEnv{}, err
	}
	return SyncEnv{User: user, State: state, Engine: engine.New(state, codec)}, nil
}

// BuildCodec constructs the delta codec from the user's tool templates.
// A custom diff command is recorded in the cloud chain under its
// binary's base name.
func BuildCodec(user config.User) (delta.Codec, error) {
	timeout, err := user.ParsedToolTimeout()
	if err != nil {
		return nil, err
	}

	name := ""
	if fields := strings.Fields(user.DiffCmd); len(fields) > 0 {
		name = filepath.Base(fields[0])
	}
	return delta.NewToolCodec(name, user.DiffCmd, user.PatchCmd, timeout), nil
}

// WithLock runs fn while holding the catalog's lock file. forceUnlock
// removes any existing lock first.
func WithLock(catalog string, forceUnlock bool, fn func() error) error {
	if forceUnlock {
		if err := lockfile.ForceRemove(fs, catalog); err != nil {
			return errors.WithContext(err, "force unlock")
		}
	}

	lock, err := lockfile.Acquire(fs, catalog, clock)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.WithError(err).Warn("Failed to release catalog lock")
		}
	}()

	return fn()
}
