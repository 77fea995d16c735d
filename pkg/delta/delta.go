// Package delta computes and applies binary differences between catalog
// revisions. The engine only ever sees the Codec interface; the default
// implementation shells out to bsdiff/bspatch.
package delta

import (
	"context"

	"github.com/lightfold/catsync/pkg/errors"
)

// Codec computes a binary difference between two file revisions and
// applies a previously computed difference to reconstruct a revision.
type Codec interface {
	// Name identifies the codec in stored delta metafiles. Machines
	// sharing a cloud catalog must configure compatible tools under the
	// same name.
	Name() string

	// Diff writes the delta taking base to target into out. Returns
	// ErrEmptyDelta when base and target are byte-identical.
	Diff(ctx context.Context, base, target, out string) error

	// Patch applies the delta at deltaPath to base and writes the
	// reconstructed file to out. A clean tool exit proves nothing; the
	// caller must verify the result's fingerprint.
	Patch(ctx context.Context, base, deltaPath, out string) error
}

// ErrEmptyDelta reports that two revisions are byte-identical, so there is
// no delta to store. Callers treat it as "no change", not as a failure.
var ErrEmptyDelta = errors.New("revisions are byte-identical")
