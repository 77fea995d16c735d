package revision

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/lightfold/catsync/pkg/compress"
	"github.com/lightfold/catsync/pkg/errors"
	"github.com/lightfold/catsync/pkg/fsutil"
)

const deltaSuffix = ".delta"

// Store manages the append-only revision history at one cloud location.
// The layout is flat files next to the configured cloud path:
//
//	cat.lrcat                                    base snapshot
//	cat.lrcat.catsync                            base metafile
//	cat.lrcat_000001_ab12cd34ef56.delta          first delta payload
//	cat.lrcat_000001_ab12cd34ef56.delta.catsync  its metafile
//
// The base snapshot is stored zip-compressed when the cloud path ends in
// .zip. The metafile write is the commit point of an append: a payload
// without a metafile is garbage from an interrupted push and is ignored.
type Store struct {
	fs    afero.Fs
	path  string
	codec string
	comp  compress.Compressor
	clock clockwork.Clock
}

// NewStore returns a store for the chain rooted at the cloud path. codec
// names the delta codec recorded into new metafiles; comp is used to
// encode new payloads. Reads always follow what the metafiles recorded.
func NewStore(fs afero.Fs, path, codec string, comp compress.Compressor, clock clockwork.Clock) *Store {
	return &Store{fs: fs, path: path, codec: codec, comp: comp, clock: clock}
}

// Path returns the cloud path the store is rooted at.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) baseMetaPath() string {
	return s.path + MetaSuffix
}

func (s *Store) deltaPath(target Revision) string {
	return fmt.Sprintf("%s_%06d_%s%s", s.path, target.Sequence, target.Short(), deltaSuffix)
}

// Exists reports whether a chain has been initialized at the cloud path.
func (s *Store) Exists() (bool, error) {
	for _, path := range []string{s.path, s.baseMetaPath()} {
		exists, err := afero.Exists(s.fs, path)
		if err != nil {
			return false, errors.WithContext(err, "check cloud path")
		}
		if exists {
			return true, nil
		}
	}
	return false, nil
}

// WriteBase initializes the chain by copying the file at localPath to the
// cloud path and recording it as revision 0. Never overwrites an existing
// chain.
func (s *Store) WriteBase(localPath string) (Revision, error) {
	exists, err := s.Exists()
	if err != nil {
		return Revision{}, err
	}
	if exists {
		return Revision{}, errors.AlreadyInitializedError{Path: s.path}
	}

	fingerprint, err := HashFile(s.fs, localPath)
	if err != nil {
		return Revision{}, errors.WithContext(err, "fingerprint catalog")
	}
	base := Revision{
		Fingerprint: fingerprint,
		Sequence:    0,
		CreatedAt:   s.clock.Now().UTC(),
	}

	compression := compress.Noop{}.Name()
	if strings.HasSuffix(s.path, ".zip") {
		compression = compress.Zip{}.Name()
	}

	if err := s.writeBaseContents(localPath, compression); err != nil {
		return Revision{}, err
	}

	rec := BaseRecord{
		Version:     metaVersion,
		Compression: compression,
		Base:        base,
		CreatedAt:   base.CreatedAt,
	}
	if err := writeMeta(s.fs, s.baseMetaPath(), rec); err != nil {
		return Revision{}, errors.WithContext(err, "write base metafile")
	}
	return base, nil
}

func (s *Store) writeBaseContents(localPath, compression string) error {
	if compression != (compress.Zip{}).Name() {
		return fsutil.CopyFile(s.fs, localPath, s.path)
	}

	in, err := s.fs.Open(localPath)
	if err != nil {
		return errors.WithContext(err, "open catalog")
	}
	defer in.Close()

	return fsutil.WriteStream(s.fs, s.path, 0644, func(w io.Writer) error {
		return compress.ZipTo(w, in)
	})
}

// Base returns the chain's revision 0 as recorded in the base metafile.
func (s *Store) Base() (Revision, error) {
	var rec BaseRecord
	if err := readMeta(s.fs, s.baseMetaPath(), &rec); err != nil {
		return Revision{}, err
	}
	return rec.Base, nil
}

// CopyBaseTo restores the base snapshot to dst, verifying its fingerprint
// against the base metafile.
func (s *Store) CopyBaseTo(dst string) (Revision, error) {
	var rec BaseRecord
	if err := readMeta(s.fs, s.baseMetaPath(), &rec); err != nil {
		return Revision{}, err
	}

	if rec.Compression == (compress.Zip{}).Name() {
		if err := s.unzipBaseTo(dst); err != nil {
			return Revision{}, err
		}
	} else {
		if err := fsutil.CopyFile(s.fs, s.path, dst); err != nil {
			return Revision{}, err
		}
	}

	fingerprint, err := HashFile(s.fs, dst)
	if err != nil {
		return Revision{}, errors.WithContext(err, "fingerprint restored base")
	}
	if fingerprint != rec.Base.Fingerprint {
		s.fs.Remove(dst)
		return Revision{}, errors.IntegrityError{
			Path: s.path,
			Want: rec.Base.Fingerprint,
			Got:  fingerprint,
		}
	}
	return rec.Base, nil
}

func (s *Store) unzipBaseTo(dst string) error {
	f, err := s.fs.Open(s.path)
	if err != nil {
		return errors.WithContext(err, "open cloud base")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.WithContext(err, "stat cloud base")
	}

	member, err := compress.Unzip(f, info.Size())
	if err != nil {
		return err
	}
	defer member.Close()

	return fsutil.WriteStream(s.fs, dst, 0644, func(w io.Writer) error {
		_, err := io.Copy(w, member)
		return err
	})
}

// Records returns the validated delta chain in order. Gaps, forks, and
// duplicate sequence numbers surface as ConcurrentModificationError.
func (s *Store) Records() ([]DeltaRecord, error) {
	base, err := s.Base()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(s.path)
	prefix := filepath.Base(s.path) + "_"
	suffix := deltaSuffix + MetaSuffix

	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil, errors.WithContext(err, "list cloud folder")
	}

	var recs []DeltaRecord
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		var rec DeltaRecord
		if err := readMeta(s.fs, filepath.Join(dir, name), &rec); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Target.Sequence != recs[j].Target.Sequence {
			return recs[i].Target.Sequence < recs[j].Target.Sequence
		}
		return recs[i].Target.Fingerprint < recs[j].Target.Fingerprint
	})

	prev := base
	for _, rec := range recs {
		if rec.Target.Sequence != prev.Sequence+1 {
			return nil, errors.ConcurrentModificationError{
				Path: s.path,
				Reason: fmt.Sprintf("expected sequence %d, found %d",
					prev.Sequence+1, rec.Target.Sequence),
			}
		}
		if rec.Source.Fingerprint != prev.Fingerprint {
			return nil, errors.ConcurrentModificationError{
				Path: s.path,
				Reason: fmt.Sprintf("delta %d does not extend revision %s",
					rec.Target.Sequence, prev.Short()),
			}
		}
		prev = rec.Target
	}
	return recs, nil
}

// Head returns the newest revision in the chain, the base if there are no
// deltas yet.
func (s *Store) Head() (Revision, error) {
	base, err := s.Base()
	if err != nil {
		return Revision{}, err
	}
	recs, err := s.Records()
	if err != nil {
		return Revision{}, err
	}
	if len(recs) == 0 {
		return base, nil
	}
	return recs[len(recs)-1].Target, nil
}

// DeltasSince returns the records needed to bring a copy at ancestor up to
// the head. An ancestor the chain has no record of means the histories
// diverged; that surfaces as UnknownAncestorError.
func (s *Store) DeltasSince(ancestor Revision) ([]DeltaRecord, error) {
	base, err := s.Base()
	if err != nil {
		return nil, err
	}
	recs, err := s.Records()
	if err != nil {
		return nil, err
	}

	if ancestor.Equal(base) {
		return recs, nil
	}
	for i, rec := range recs {
		if ancestor.Equal(rec.Target) {
			return recs[i+1:], nil
		}
	}
	return nil, errors.UnknownAncestorError{Fingerprint: ancestor.Fingerprint}
}

// RecordDelta appends the delta taking the chain from head revision `from`
// to `to`. The payload file is written first, then the metafile commits
// the append.
func (s *Store) RecordDelta(from, to Revision, delta []byte) error {
	head, err := s.Head()
	if err != nil {
		return err
	}
	if !head.Equal(from) {
		return errors.SequenceError{Want: head.Fingerprint, Got: from.Fingerprint}
	}

	payload, err := s.comp.Compress(delta)
	if err != nil {
		return errors.WithContext(err, "compress delta")
	}

	payloadPath := s.deltaPath(to)
	if err := fsutil.WriteFile(s.fs, payloadPath, payload, 0644); err != nil {
		return errors.WithContext(err, "write delta payload")
	}

	rec := DeltaRecord{
		Version:            metaVersion,
		Codec:              s.codec,
		Compression:        s.comp.Name(),
		Source:             from,
		Target:             to,
		PayloadFingerprint: HashBytes(payload),
		CreatedAt:          s.clock.Now().UTC(),
	}
	if err := writeMeta(s.fs, payloadPath+MetaSuffix, rec); err != nil {
		return errors.WithContext(err, "write delta metafile")
	}
	return nil
}

// LoadPayload reads, verifies, and decodes the payload for rec.
func (s *Store) LoadPayload(rec DeltaRecord) ([]byte, error) {
	payloadPath := s.deltaPath(rec.Target)
	payload, err := afero.ReadFile(s.fs, payloadPath)
	if err != nil {
		return nil, errors.WithContext(err, "read delta payload")
	}

	if fingerprint := HashBytes(payload); fingerprint != rec.PayloadFingerprint {
		return nil, errors.IntegrityError{
			Path: payloadPath,
			Want: rec.PayloadFingerprint,
			Got:  fingerprint,
		}
	}

	comp, err := compress.Get(rec.Compression)
	if err != nil {
		return nil, err
	}
	return comp.Decompress(payload)
}
