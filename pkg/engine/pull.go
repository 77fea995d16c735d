package engine

import (
	"context"
	"fmt"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/lightfold/catsync/pkg/config"
	"github.com/lightfold/catsync/pkg/errors"
	"github.com/lightfold/catsync/pkg/fsutil"
	"github.com/lightfold/catsync/pkg/revision"
)

// Pull applies cloud edits to the local catalog, one verified record at a
// time. Local edits on top of cloud edits is a conflict this system
// refuses to merge; resolution is manual.
func (e *Engine) Pull(ctx context.Context) error {
	e.previewsErr = nil
	if e.state.Ancestor.IsZero() {
		return e.fail(errors.NewFriendlyError("The sync state for %q has no "+
			"ancestor revision. Re-initialize with init-push-to-cloud or "+
			"init-pull-from-cloud.", e.state.Catalog))
	}

	status, err := e.pullArtifact(ctx, &e.catalog)
	if err != nil {
		return e.fail(err)
	}
	e.status = status

	if e.previews != nil {
		if err := e.pullPreviews(ctx); err != nil {
			e.previewsErr = err
			e.log.WithError(err).Warn("Smart Previews pull failed")
		}
	}
	return nil
}

// pullPreviews runs the catalog protocol against the sidecar chain. A
// machine that never had the sidecar gets it restored from the cloud.
func (e *Engine) pullPreviews(ctx context.Context) error {
	cloudExists, err := e.previews.store.Exists()
	if err != nil {
		return err
	}
	if !cloudExists {
		e.log.Debug("Cloud has no Smart Previews chain, skipping")
		return nil
	}

	if e.previews.ancestor.IsZero() {
		exists, err := afero.Exists(fs, e.previews.local)
		if err != nil {
			return errors.WithContext(err, "check previews")
		}
		if exists {
			return errors.NewFriendlyError("A Smart Previews sidecar exists "+
				"at %q but was never synced. Move it aside and pull again to "+
				"fetch the cloud copy.", e.previews.local)
		}
		return e.initPullArtifact(ctx, e.previews)
	}
	_, err = e.pullArtifact(ctx, e.previews)
	return err
}

func (e *Engine) pullArtifact(ctx context.Context, a *artifact) (State, error) {
	current, err := revision.HashFile(fs, a.local)
	if err != nil {
		return Error, errors.WithContext(err, "fingerprint "+a.name)
	}
	localEdits := current != a.ancestor.Fingerprint

	pending, err := a.store.DeltasSince(*a.ancestor)
	if err != nil {
		var unknown errors.UnknownAncestorError
		if errors.As(err, &unknown) {
			return Diverged, newConflict(a, current, nil)
		}
		return Error, err
	}
	if len(pending) == 0 {
		e.log.WithField("artifact", a.name).Debug("Cloud unchanged, nothing to pull")
		if localEdits {
			return LocalAhead, nil
		}
		return Synced, nil
	}
	if localEdits {
		return Diverged, newConflict(a, current, pending)
	}

	for _, rec := range pending {
		if err := e.applyRecord(ctx, a, rec); err != nil {
			return Error, err
		}
	}
	return Synced, nil
}

// applyRecord advances the local artifact across one recorded delta. Each
// record commits independently: catalog, snapshot, ancestor, and state all
// advance before the next record is touched, so a failure partway through
// a chain strands nothing worse than being a few revisions behind.
func (e *Engine) applyRecord(ctx context.Context, a *artifact, rec revision.DeltaRecord) error {
	if rec.Codec != e.codec.Name() {
		return errors.NewFriendlyError("The cloud delta to revision %s was "+
			"recorded with codec %q, but this machine is configured with %q. "+
			"Configure matching diff and patch tools on every machine.",
			rec.Target.Short(), rec.Codec, e.codec.Name())
	}
	if rec.Source.Fingerprint != a.ancestor.Fingerprint {
		return errors.ConcurrentModificationError{
			Path: a.store.Path(),
			Reason: fmt.Sprintf("delta %d expects revision %s, not %s",
				rec.Target.Sequence, rec.Source.Short(), a.ancestor.Short()),
		}
	}

	payload, err := a.store.LoadPayload(rec)
	if err != nil {
		return err
	}

	tmpDir, err := afero.TempDir(fs, "", "catsync-pull-")
	if err != nil {
		return errors.WithContext(err, "create scratch dir")
	}
	defer fs.RemoveAll(tmpDir)

	deltaPath := filepath.Join(tmpDir, "delta")
	if err := afero.WriteFile(fs, deltaPath, payload, 0600); err != nil {
		return errors.WithContext(err, "write delta")
	}

	patched := filepath.Join(tmpDir, "patched")
	if err := e.codec.Patch(ctx, a.local, deltaPath, patched); err != nil {
		return err
	}

	got, err := revision.HashFile(fs, patched)
	if err != nil {
		return errors.WithContext(err, "fingerprint patched "+a.name)
	}
	if got != rec.Target.Fingerprint {
		return errors.IntegrityError{
			Path: a.local,
			Want: rec.Target.Fingerprint,
			Got:  got,
		}
	}

	// Only a verified reconstruction may replace the catalog, and the
	// replace itself is a temp write plus rename.
	if err := fsutil.CopyFile(fs, patched, a.local); err != nil {
		return errors.WithContext(err, "replace "+a.name)
	}
	if err := fsutil.CopyFile(fs, a.local, a.snapshot); err != nil {
		return errors.WithContext(err, "advance ancestor snapshot")
	}
	*a.ancestor = rec.Target
	if err := config.WriteState(fs, e.state); err != nil {
		return err
	}

	e.log.WithFields(log.Fields{
		"artifact": a.name,
		"sequence": rec.Target.Sequence,
		"revision": rec.Target.Short(),
	}).Info("Applied delta from cloud")
	return nil
}
