package config

import (
	"github.com/ghodss/yaml"
	goversion "github.com/hashicorp/go-version"
	"github.com/spf13/afero"

	"github.com/lightfold/catsync/pkg/errors"
	"github.com/lightfold/catsync/pkg/fsutil"
	"github.com/lightfold/catsync/pkg/revision"
	"github.com/lightfold/catsync/pkg/version"
)

const (
	// StateSuffix is appended to the catalog path to form its sync state
	// file.
	StateSuffix = ".catsync"

	// SupportedStateVersion is the sync state schema this binary reads
	// and writes.
	SupportedStateVersion = "v1alpha1"
)

// SyncState is the engine-owned record for one synced catalog: where both
// copies live and the last revision both sides agreed on. It is created by
// the init commands, read at the start of every operation, and atomically
// rewritten after every successful one.
type SyncState struct {
	Version   string `json:"version,omitempty"`
	WrittenBy string `json:"writtenBy,omitempty"`

	// Catalog and Cloud are the local and cloud catalog paths.
	Catalog string `json:"catalog"`
	Cloud   string `json:"cloud"`

	// Compression controls how new deltas are stored. Reads follow what
	// the cloud metafiles recorded, so machines may disagree.
	Compression bool `json:"compression"`

	// Ancestor is the last catalog revision this machine and the cloud
	// agreed on.
	Ancestor revision.Revision `json:"ancestor"`

	// Previews tracks the Smart Previews sidecar, which syncs as its own
	// independent chain.
	Previews *PreviewsState `json:"previews,omitempty"`
}

// PreviewsState is the sidecar counterpart of the catalog's ancestor
// bookkeeping.
type PreviewsState struct {
	Enabled  bool              `json:"enabled"`
	Ancestor revision.Revision `json:"ancestor,omitempty"`
}

func (s SyncState) getVersion() string {
	return s.Version
}

// PreviewsEnabled reports whether the sidecar is being synced.
func (s SyncState) PreviewsEnabled() bool {
	return s.Previews != nil && s.Previews.Enabled
}

// StatePath returns the sync state file path for a catalog.
func StatePath(catalog string) string {
	return catalog + StateSuffix
}

// ParseState reads the sync state for the given catalog. A missing state
// file surfaces as errors.FileNotFound, which callers treat as "not
// initialized yet".
func ParseState(fsys afero.Fs, catalog string) (SyncState, error) {
	path := StatePath(catalog)
	state := SyncState{Version: SupportedStateVersion}
	if err := parseConfig(fsys, path, &state, SupportedStateVersion); err != nil {
		return SyncState{}, err
	}
	if err := checkWrittenBy(path, state.WrittenBy); err != nil {
		return SyncState{}, err
	}
	return state, nil
}

// WriteState atomically rewrites the sync state file.
func WriteState(fsys afero.Fs, state SyncState) error {
	state.Version = SupportedStateVersion
	state.WrittenBy = version.Version

	contents, err := yaml.Marshal(state)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}
	return fsutil.WriteFile(fsys, StatePath(state.Catalog), contents, 0644)
}

// checkWrittenBy refuses state files recorded by a newer major release of
// catsync, which may track invariants this binary doesn't know about.
// Unparseable versions (dev builds, unit tests) skip the check.
func checkWrittenBy(path, writtenBy string) error {
	if writtenBy == "" || writtenBy == version.EmptyValue ||
		version.Version == version.EmptyValue {
		return nil
	}

	recorded, err := goversion.NewVersion(writtenBy)
	if err != nil {
		return nil
	}
	running, err := goversion.NewVersion(version.Version)
	if err != nil {
		return nil
	}

	if recorded.Segments()[0] > running.Segments()[0] {
		return errors.NewFriendlyError("The sync state at %q was written by "+
			"catsync %s, but this machine runs %s. Upgrade catsync on this "+
			"machine before syncing.", path, writtenBy, version.Version)
	}
	return nil
}
