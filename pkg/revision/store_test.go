package revision

import (
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightfold/catsync/pkg/compress"
	"github.com/lightfold/catsync/pkg/errors"
)

func newTestStore(t *testing.T, cloudPath string) (*Store, afero.Fs) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("local", 0755))
	require.NoError(t, fs.MkdirAll("cloud", 0755))
	require.NoError(t, afero.WriteFile(fs, "local/cat.lrcat", []byte("CAT-V1"), 0644))

	store := NewStore(fs, cloudPath, "copy", compress.Zip{}, clockwork.NewFakeClock())
	return store, fs
}

func TestWriteBase(t *testing.T) {
	store, fs := newTestStore(t, "cloud/cat.lrcat")

	exists, err := store.Exists()
	require.NoError(t, err)
	assert.False(t, exists)

	base, err := store.WriteBase("local/cat.lrcat")
	require.NoError(t, err)
	assert.Equal(t, HashBytes([]byte("CAT-V1")), base.Fingerprint)
	assert.EqualValues(t, 0, base.Sequence)

	// Plain cloud path stores the raw bytes.
	contents, err := afero.ReadFile(fs, "cloud/cat.lrcat")
	require.NoError(t, err)
	assert.Equal(t, []byte("CAT-V1"), contents)

	loaded, err := store.Base()
	require.NoError(t, err)
	assert.True(t, base.Equal(loaded))

	exists, err = store.Exists()
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = store.WriteBase("local/cat.lrcat")
	assert.Equal(t, errors.AlreadyInitializedError{Path: "cloud/cat.lrcat"}, err)
}

func TestWriteBaseZip(t *testing.T) {
	store, fs := newTestStore(t, "cloud/cat.zip")

	base, err := store.WriteBase("local/cat.lrcat")
	require.NoError(t, err)

	// A .zip cloud path stores a zip archive, not the raw bytes.
	contents, err := afero.ReadFile(fs, "cloud/cat.zip")
	require.NoError(t, err)
	assert.Equal(t, []byte("PK"), contents[:2])

	restored, err := store.CopyBaseTo("local/restored.lrcat")
	require.NoError(t, err)
	assert.True(t, base.Equal(restored))

	contents, err = afero.ReadFile(fs, "local/restored.lrcat")
	require.NoError(t, err)
	assert.Equal(t, []byte("CAT-V1"), contents)
}

func TestRecordDelta(t *testing.T) {
	store, _ := newTestStore(t, "cloud/cat.lrcat")
	base, err := store.WriteBase("local/cat.lrcat")
	require.NoError(t, err)

	v2 := Revision{Fingerprint: HashBytes([]byte("CAT-V2")), Sequence: 1}
	v3 := Revision{Fingerprint: HashBytes([]byte("CAT-V3")), Sequence: 2}

	require.NoError(t, store.RecordDelta(base, v2, []byte("delta-1-2")))
	require.NoError(t, store.RecordDelta(v2, v3, []byte("delta-2-3")))

	head, err := store.Head()
	require.NoError(t, err)
	assert.True(t, v3.Equal(head))

	// Appending from a stale head is refused.
	v4 := Revision{Fingerprint: HashBytes([]byte("CAT-V4")), Sequence: 2}
	err = store.RecordDelta(v2, v4, []byte("delta-2-4"))
	assert.Equal(t, errors.SequenceError{
		Want: v3.Fingerprint,
		Got:  v2.Fingerprint,
	}, err)

	// The refused append left no files behind the head.
	recs, err := store.Records()
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestDeltasSince(t *testing.T) {
	store, _ := newTestStore(t, "cloud/cat.lrcat")
	base, err := store.WriteBase("local/cat.lrcat")
	require.NoError(t, err)

	v2 := Revision{Fingerprint: HashBytes([]byte("CAT-V2")), Sequence: 1}
	v3 := Revision{Fingerprint: HashBytes([]byte("CAT-V3")), Sequence: 2}
	require.NoError(t, store.RecordDelta(base, v2, []byte("delta-1-2")))
	require.NoError(t, store.RecordDelta(v2, v3, []byte("delta-2-3")))

	tests := []struct {
		name     string
		ancestor Revision
		expLen   int
	}{
		{name: "FromBase", ancestor: base, expLen: 2},
		{name: "FromMiddle", ancestor: v2, expLen: 1},
		{name: "FromHead", ancestor: v3, expLen: 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			recs, err := store.DeltasSince(test.ancestor)
			require.NoError(t, err)
			assert.Len(t, recs, test.expLen)
			if test.expLen > 0 {
				assert.True(t, test.ancestor.Equal(recs[0].Source))
				assert.True(t, v3.Equal(recs[len(recs)-1].Target))
			}
		})
	}

	stranger := Revision{Fingerprint: HashBytes([]byte("CAT-ELSEWHERE")), Sequence: 1}
	_, err = store.DeltasSince(stranger)
	assert.Equal(t, errors.UnknownAncestorError{Fingerprint: stranger.Fingerprint}, err)
}

func TestLoadPayload(t *testing.T) {
	store, fs := newTestStore(t, "cloud/cat.lrcat")
	base, err := store.WriteBase("local/cat.lrcat")
	require.NoError(t, err)

	v2 := Revision{Fingerprint: HashBytes([]byte("CAT-V2")), Sequence: 1}
	require.NoError(t, store.RecordDelta(base, v2, []byte("delta-1-2")))

	recs, err := store.Records()
	require.NoError(t, err)
	require.Len(t, recs, 1)

	delta, err := store.LoadPayload(recs[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("delta-1-2"), delta)

	// A tampered payload fails verification before decoding.
	require.NoError(t, afero.WriteFile(fs, store.deltaPath(v2), []byte("tampered"), 0644))
	_, err = store.LoadPayload(recs[0])
	var integrityErr errors.IntegrityError
	assert.True(t, errors.As(err, &integrityErr))
}

func TestRecordsDetectsForks(t *testing.T) {
	store, fs := newTestStore(t, "cloud/cat.lrcat")
	base, err := store.WriteBase("local/cat.lrcat")
	require.NoError(t, err)

	v2 := Revision{Fingerprint: HashBytes([]byte("CAT-V2")), Sequence: 1}
	require.NoError(t, store.RecordDelta(base, v2, []byte("delta-1-2")))

	// Another machine appended a competing delta with the same sequence.
	fork := Revision{Fingerprint: HashBytes([]byte("CAT-FORK")), Sequence: 1}
	forkRec := DeltaRecord{
		Version:            metaVersion,
		Codec:              "copy",
		Compression:        "zip",
		Source:             base,
		Target:             fork,
		PayloadFingerprint: HashBytes([]byte("unused")),
	}
	require.NoError(t, writeMeta(fs, store.deltaPath(fork)+MetaSuffix, forkRec))

	_, err = store.Records()
	var concurrentErr errors.ConcurrentModificationError
	assert.True(t, errors.As(err, &concurrentErr))
}

func TestRecordsDetectsGaps(t *testing.T) {
	store, fs := newTestStore(t, "cloud/cat.lrcat")
	base, err := store.WriteBase("local/cat.lrcat")
	require.NoError(t, err)

	v2 := Revision{Fingerprint: HashBytes([]byte("CAT-V2")), Sequence: 1}
	v3 := Revision{Fingerprint: HashBytes([]byte("CAT-V3")), Sequence: 2}
	require.NoError(t, store.RecordDelta(base, v2, []byte("delta-1-2")))
	require.NoError(t, store.RecordDelta(v2, v3, []byte("delta-2-3")))

	require.NoError(t, fs.Remove(store.deltaPath(v2)+MetaSuffix))

	_, err = store.Records()
	assert.Equal(t, errors.ConcurrentModificationError{
		Path:   "cloud/cat.lrcat",
		Reason: "expected sequence 1, found 2",
	}, err)
}

func TestEmptyCloud(t *testing.T) {
	store, _ := newTestStore(t, "cloud/cat.lrcat")

	_, err := store.Base()
	assert.Equal(t, errors.FileNotFound{Path: "cloud/cat.lrcat.catsync"}, err)
}
