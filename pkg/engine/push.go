package engine

import (
	"context"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/lightfold/catsync/pkg/config"
	"github.com/lightfold/catsync/pkg/delta"
	"github.com/lightfold/catsync/pkg/errors"
	"github.com/lightfold/catsync/pkg/fsutil"
	"github.com/lightfold/catsync/pkg/revision"
)

// Push commits local edits to the cloud chain as one new delta. With no
// local edits it is a no-op that never touches the cloud side. If the
// cloud moved since the last sync, the push aborts with a ConflictError
// and writes nothing.
func (e *Engine) Push(ctx context.Context) error {
	e.previewsErr = nil
	if e.state.Ancestor.IsZero() {
		return e.fail(errors.NewFriendlyError("The sync state for %q has no "+
			"ancestor revision. Re-initialize with init-push-to-cloud or "+
			"init-pull-from-cloud.", e.state.Catalog))
	}

	if err := e.pushArtifact(ctx, &e.catalog); err != nil {
		return e.fail(err)
	}
	e.status = Synced

	if e.previews != nil {
		if err := e.pushPreviews(ctx); err != nil {
			e.previewsErr = err
			e.log.WithError(err).Warn("Smart Previews push failed")
		}
	}
	return nil
}

// pushPreviews runs the catalog protocol against the sidecar chain. A
// missing sidecar is skipped; a cloud without a sidecar chain gets one
// seeded from the local copy.
func (e *Engine) pushPreviews(ctx context.Context) error {
	exists, err := afero.Exists(fs, e.previews.local)
	if err != nil {
		return errors.WithContext(err, "check previews")
	}
	if !exists {
		e.log.Debug("No Smart Previews sidecar, skipping")
		return nil
	}

	cloudExists, err := e.previews.store.Exists()
	if err != nil {
		return err
	}
	if !cloudExists {
		if err := e.initPushArtifact(e.previews); err != nil {
			return err
		}
		return config.WriteState(fs, e.state)
	}
	return e.pushArtifact(ctx, e.previews)
}

func (e *Engine) pushArtifact(ctx context.Context, a *artifact) error {
	current, err := revision.HashFile(fs, a.local)
	if err != nil {
		return errors.WithContext(err, "fingerprint "+a.name)
	}

	// No edits since the ancestor: nothing to push, and no reason to
	// touch the cloud side at all.
	if current == a.ancestor.Fingerprint {
		e.log.WithField("artifact", a.name).Debug("No local edits, nothing to push")
		return nil
	}

	pending, err := a.store.DeltasSince(*a.ancestor)
	if err != nil {
		var unknown errors.UnknownAncestorError
		if errors.As(err, &unknown) {
			return newConflict(a, current, nil)
		}
		return err
	}
	if len(pending) > 0 {
		return newConflict(a, current, pending)
	}

	if err := e.verifySnapshot(a); err != nil {
		return err
	}

	tmpDir, err := afero.TempDir(fs, "", "catsync-push-")
	if err != nil {
		return errors.WithContext(err, "create scratch dir")
	}
	defer fs.RemoveAll(tmpDir)

	deltaPath := filepath.Join(tmpDir, "delta")
	if err := e.codec.Diff(ctx, a.snapshot, a.local, deltaPath); err != nil {
		if errors.Is(err, delta.ErrEmptyDelta) {
			return nil
		}
		return err
	}

	// Prove the delta reconstructs the catalog before anything durable
	// happens: patch the snapshot and fingerprint the result.
	verifyPath := filepath.Join(tmpDir, "verify")
	if err := e.codec.Patch(ctx, a.snapshot, deltaPath, verifyPath); err != nil {
		return err
	}
	verified, err := revision.HashFile(fs, verifyPath)
	if err != nil {
		return errors.WithContext(err, "fingerprint verification patch")
	}
	if verified != current {
		return errors.IntegrityError{Path: a.local, Want: current, Got: verified}
	}

	// The catalog must not have changed while the tools ran. An editor
	// still writing would make the recorded fingerprint a lie.
	after, err := revision.HashFile(fs, a.local)
	if err != nil {
		return errors.WithContext(err, "fingerprint "+a.name)
	}
	if after != current {
		return errors.ErrFileChanged
	}

	payload, err := afero.ReadFile(fs, deltaPath)
	if err != nil {
		return errors.WithContext(err, "read delta")
	}
	target := revision.Revision{
		Fingerprint: current,
		Sequence:    a.ancestor.Sequence + 1,
		CreatedAt:   clock.Now().UTC(),
	}
	if err := a.store.RecordDelta(*a.ancestor, target, payload); err != nil {
		return err
	}

	if err := fsutil.CopyFile(fs, a.local, a.snapshot); err != nil {
		return errors.WithContext(err, "advance ancestor snapshot")
	}
	*a.ancestor = target
	if err := config.WriteState(fs, e.state); err != nil {
		return err
	}

	e.log.WithFields(log.Fields{
		"artifact": a.name,
		"sequence": target.Sequence,
		"revision": target.Short(),
	}).Info("Pushed delta to cloud")
	return nil
}

// verifySnapshot guards against a corrupted or out-of-date ancestor
// snapshot. Diffing against the wrong base would produce a delta no other
// machine could apply.
func (e *Engine) verifySnapshot(a *artifact) error {
	got, err := revision.HashFile(fs, a.snapshot)
	if err != nil {
		return errors.WithContext(err, "fingerprint ancestor snapshot")
	}
	if got != a.ancestor.Fingerprint {
		return errors.IntegrityError{
			Path: a.snapshot,
			Want: a.ancestor.Fingerprint,
			Got:  got,
		}
	}
	return nil
}

// newConflict gathers the four fingerprints a human needs to pick a side:
// what each side last agreed on, and where each side is now.
func newConflict(a *artifact, current string, pending []revision.DeltaRecord) error {
	conflict := errors.ConflictError{
		LocalAncestor: a.ancestor.Fingerprint,
		LocalCurrent:  current,
	}
	if len(pending) > 0 {
		conflict.CloudAncestor = pending[0].Source.Fingerprint
		conflict.CloudCurrent = pending[len(pending)-1].Target.Fingerprint
	} else if head, err := a.store.Head(); err == nil {
		conflict.CloudCurrent = head.Fingerprint
	}
	return conflict
}
