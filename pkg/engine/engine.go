// Package engine implements the sync state machine that moves catalog
// edits between the local copy and the cloud chain. One Engine value
// drives one catalog; every operation runs to completion before the next
// may start.
package engine

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/lightfold/catsync/pkg/compress"
	"github.com/lightfold/catsync/pkg/config"
	"github.com/lightfold/catsync/pkg/delta"
	"github.com/lightfold/catsync/pkg/errors"
	"github.com/lightfold/catsync/pkg/fsutil"
	"github.com/lightfold/catsync/pkg/revision"
)

// SnapshotSuffix is appended to a local artifact path to form its ancestor
// snapshot, the byte-exact copy of the revision this machine last agreed
// on with the cloud. Diffs run against the snapshot, never against cloud
// files.
const SnapshotSuffix = ".ancestor"

// fs and clock are used for mock tests. They will be overridden in the
// tests.
var (
	fs    afero.Fs        = afero.NewOsFs()
	clock clockwork.Clock = clockwork.NewRealClock()
)

// State classifies one artifact's relation to its cloud chain.
type State int

const (
	Uninitialized State = iota
	Synced
	LocalAhead
	SharedAhead
	Diverged
	Error
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Synced:
		return "Synced"
	case LocalAhead:
		return "LocalAhead"
	case SharedAhead:
		return "SharedAhead"
	case Diverged:
		return "Diverged"
	default:
		return "Error"
	}
}

// artifact is one synced file and its chain: the catalog itself, or the
// Smart Previews sidecar. Both run the identical protocol; they only
// differ in which ancestor pointer they advance.
type artifact struct {
	name     string
	local    string
	snapshot string
	store    *revision.Store
	ancestor *revision.Revision
}

// Engine drives the sync protocol for one catalog and, when enabled, its
// Smart Previews sidecar as an independent chain.
type Engine struct {
	state  config.SyncState
	codec  delta.Codec
	status State

	catalog  artifact
	previews *artifact

	// previewsErr holds a failure from the sidecar half of the last
	// operation. Sidecar failures never fail the catalog half.
	previewsErr error

	log *log.Entry
}

// New builds an engine for the given sync state. The state needn't exist
// on disk yet; the init operations create it.
func New(state config.SyncState, codec delta.Codec) *Engine {
	if state.Previews != nil {
		previews := *state.Previews
		state.Previews = &previews
	}

	e := &Engine{
		state: state,
		codec: codec,
		log:   log.WithField("catalog", state.Catalog),
	}

	comp := compress.ForFlag(state.Compression)
	e.catalog = artifact{
		name:     "catalog",
		local:    state.Catalog,
		snapshot: state.Catalog + SnapshotSuffix,
		store:    revision.NewStore(fs, state.Cloud, codec.Name(), comp, clock),
		ancestor: &e.state.Ancestor,
	}

	if state.PreviewsEnabled() {
		local := PreviewsPath(state.Catalog)
		e.previews = &artifact{
			name:     "previews",
			local:    local,
			snapshot: local + SnapshotSuffix,
			store: revision.NewStore(fs, PreviewsPath(state.Cloud),
				codec.Name(), comp, clock),
			ancestor: &e.state.Previews.Ancestor,
		}
	}
	return e
}

// PreviewsPath returns the Smart Previews sidecar path next to a catalog.
// For "/pics/main.lrcat" it is "/pics/main Smart Previews.lrdata". A .zip
// suffix on a cloud path carries over so the sidecar base is compressed
// the same way as the catalog base.
func PreviewsPath(catalog string) string {
	zipped := strings.HasSuffix(catalog, ".zip")
	stem := strings.TrimSuffix(catalog, ".zip")
	stem = strings.TrimSuffix(stem, filepath.Ext(stem))
	path := stem + " Smart Previews.lrdata"
	if zipped {
		path += ".zip"
	}
	return path
}

// State reports the machine state as of the last operation.
func (e *Engine) State() State {
	return e.status
}

// Ancestor returns the last catalog revision this machine and the cloud
// agreed on.
func (e *Engine) Ancestor() revision.Revision {
	return e.state.Ancestor
}

// PreviewsErr reports the sidecar failure from the last operation, if any.
// Callers surface it as a warning; it never changes the exit status of a
// successful catalog operation.
func (e *Engine) PreviewsErr() error {
	return e.previewsErr
}

// InitPush seeds the cloud chain from the local catalog: the catalog is
// copied wholesale as revision 0 and both sides now agree on it. Refuses
// to overwrite an existing cloud chain.
func (e *Engine) InitPush(_ context.Context) error {
	exists, err := afero.Exists(fs, e.catalog.local)
	if err != nil {
		return e.fail(errors.WithContext(err, "check catalog"))
	}
	if !exists {
		return e.fail(errors.FileNotFound{Path: e.catalog.local})
	}

	if err := e.initPushArtifact(&e.catalog); err != nil {
		return e.fail(err)
	}

	if e.previews != nil {
		exists, err := afero.Exists(fs, e.previews.local)
		if err != nil {
			return e.fail(errors.WithContext(err, "check previews"))
		}
		if !exists {
			e.log.Info("No Smart Previews sidecar, skipping")
		} else if err := e.initPushArtifact(e.previews); err != nil {
			return e.fail(err)
		}
	}

	if err := config.WriteState(fs, e.state); err != nil {
		return e.fail(err)
	}
	e.status = Synced
	return nil
}

func (e *Engine) initPushArtifact(a *artifact) error {
	base, err := a.store.WriteBase(a.local)
	if err != nil {
		return err
	}
	if err := fsutil.CopyFile(fs, a.local, a.snapshot); err != nil {
		return errors.WithContext(err, "write ancestor snapshot")
	}
	*a.ancestor = base
	e.log.WithFields(log.Fields{
		"artifact": a.name,
		"revision": base.Short(),
	}).Info("Pushed base revision to cloud")
	return nil
}

// InitPull seeds the local catalog from an existing cloud chain: the base
// is restored, then every recorded delta is applied in order, each one
// fingerprint-verified. Refuses to overwrite an existing local catalog.
func (e *Engine) InitPull(ctx context.Context) error {
	exists, err := afero.Exists(fs, e.catalog.local)
	if err != nil {
		return e.fail(errors.WithContext(err, "check catalog"))
	}
	if exists {
		return e.fail(errors.AlreadyInitializedError{Path: e.catalog.local})
	}

	cloudExists, err := e.catalog.store.Exists()
	if err != nil {
		return e.fail(err)
	}
	if !cloudExists {
		return e.fail(errors.NoCloudCatalogError{Path: e.state.Cloud})
	}

	if err := e.initPullArtifact(ctx, &e.catalog); err != nil {
		return e.fail(err)
	}

	if e.previews != nil {
		cloudExists, err := e.previews.store.Exists()
		if err != nil {
			return e.fail(err)
		}
		if !cloudExists {
			e.log.Info("Cloud has no Smart Previews chain, skipping")
		} else if err := e.initPullArtifact(ctx, e.previews); err != nil {
			return e.fail(err)
		}
	}

	e.status = Synced
	return nil
}

func (e *Engine) initPullArtifact(ctx context.Context, a *artifact) error {
	base, err := a.store.CopyBaseTo(a.local)
	if err != nil {
		return err
	}
	if err := fsutil.CopyFile(fs, a.local, a.snapshot); err != nil {
		return errors.WithContext(err, "write ancestor snapshot")
	}
	*a.ancestor = base
	if err := config.WriteState(fs, e.state); err != nil {
		return err
	}
	e.log.WithFields(log.Fields{
		"artifact": a.name,
		"revision": base.Short(),
	}).Info("Restored base revision from cloud")

	records, err := a.store.DeltasSince(base)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := e.applyRecord(ctx, a, rec); err != nil {
			return err
		}
	}
	return nil
}

// Status classifies the catalog against the cloud chain without mutating
// anything on either side.
func (e *Engine) Status() (State, error) {
	status, err := e.classify(&e.catalog)
	e.status = status
	return status, err
}

// PreviewsStatus classifies the Smart Previews sidecar. Only meaningful
// when the sidecar is enabled.
func (e *Engine) PreviewsStatus() (State, error) {
	if e.previews == nil {
		return Uninitialized, nil
	}
	return e.classify(e.previews)
}

func (e *Engine) classify(a *artifact) (State, error) {
	if a.ancestor.IsZero() {
		return Uninitialized, nil
	}

	current, err := revision.HashFile(fs, a.local)
	if err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return Uninitialized, nil
		}
		return Error, err
	}
	localEdits := current != a.ancestor.Fingerprint

	pending, err := a.store.DeltasSince(*a.ancestor)
	if err != nil {
		var unknown errors.UnknownAncestorError
		if errors.As(err, &unknown) {
			return Diverged, nil
		}
		return Error, err
	}

	switch {
	case localEdits && len(pending) > 0:
		return Diverged, nil
	case localEdits:
		return LocalAhead, nil
	case len(pending) > 0:
		return SharedAhead, nil
	default:
		return Synced, nil
	}
}

// fail records a terminal result for this operation. Conflicts are the
// divergence outcome the protocol is built around; everything else lands
// in Error and leaves durable state at the last verified revision.
func (e *Engine) fail(err error) error {
	if errors.IsConflict(err) {
		e.status = Diverged
	} else {
		e.status = Error
	}
	return err
}
