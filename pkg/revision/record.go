package revision

import (
	"os"
	"time"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"

	"github.com/lightfold/catsync/pkg/errors"
	"github.com/lightfold/catsync/pkg/fsutil"
)

const (
	// MetaSuffix is appended to a cloud file's name to form its sidecar
	// metafile.
	MetaSuffix = ".catsync"

	// metaVersion is the schema version written into every metafile.
	metaVersion = "v1alpha1"
)

// BaseRecord is the sidecar metafile describing the cloud base snapshot,
// revision 0 of a chain.
type BaseRecord struct {
	Version     string    `json:"version,omitempty"`
	Compression string    `json:"compression"`
	Base        Revision  `json:"base"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}

// DeltaRecord is the sidecar metafile describing one stored delta. It is
// self-describing so that any machine with access to the cloud folder can
// validate and apply it.
type DeltaRecord struct {
	Version            string    `json:"version,omitempty"`
	Codec              string    `json:"codec"`
	Compression        string    `json:"compression"`
	Source             Revision  `json:"source"`
	Target             Revision  `json:"target"`
	PayloadFingerprint string    `json:"payloadFingerprint"`
	CreatedAt          time.Time `json:"createdAt,omitempty"`
}

type versioned interface {
	metaVersion() string
}

func (r BaseRecord) metaVersion() string  { return r.Version }
func (r DeltaRecord) metaVersion() string { return r.Version }

func readMeta(fs afero.Fs, path string, out interface{}) error {
	contents, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.FileNotFound{Path: path}
		}
		return errors.WithContext(err, "read metafile")
	}

	if err := yaml.Unmarshal(contents, out); err != nil {
		return errors.WithContext(err, "parse metafile")
	}

	if rec, ok := out.(versioned); ok {
		if v := rec.metaVersion(); v != metaVersion {
			return errors.NewFriendlyError("The cloud metafile %q has version "+
				"%q, but this catsync understands %q. It was probably written "+
				"by a newer catsync; upgrade this machine before syncing.",
				path, v, metaVersion)
		}
	}
	return nil
}

func writeMeta(fs afero.Fs, path string, rec interface{}) error {
	contents, err := yaml.Marshal(rec)
	if err != nil {
		return errors.WithContext(err, "marshal metafile")
	}
	return fsutil.WriteFile(fs, path, contents, 0644)
}
