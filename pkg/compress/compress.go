// Package compress implements the payload encodings used for stored
// catalog revisions and deltas. Every stored payload records the name of
// the compressor that produced it, so any machine with access to the cloud
// folder can decode it.
package compress

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"

	"github.com/lightfold/catsync/pkg/errors"
)

// Compressor encodes a raw payload into its stored form and back. The
// round-trip must be exact for every input, including the empty one.
type Compressor interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// Zip stores the payload as a zip archive with exactly one deflated
// member. Archives with any other member count are rejected as corrupt.
type Zip struct{}

// memberName is the name of the single archive member. Decoding ignores
// it, so renaming the cloud files doesn't matter.
const memberName = "payload"

func (Zip) Name() string {
	return "zip"
}

func (Zip) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := ZipTo(&buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Zip) Decompress(data []byte) ([]byte, error) {
	member, err := Unzip(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	defer member.Close()

	// ReadAll checks the member's CRC, so truncated or flipped bytes fail
	// here rather than producing silently wrong output.
	contents, err := io.ReadAll(member)
	if err != nil {
		return nil, errors.DecompressionError{Reason: err.Error()}
	}
	return contents, nil
}

// Noop stores the payload as-is, for users who sync over links where the
// cloud provider already compresses.
type Noop struct{}

func (Noop) Name() string {
	return "none"
}

func (Noop) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (Noop) Decompress(data []byte) ([]byte, error) {
	return data, nil
}

// ZipTo streams r into w in the Zip stored form, for payloads too large
// to hold in memory (the base catalog snapshot).
func ZipTo(w io.Writer, r io.Reader) error {
	archive := zip.NewWriter(w)
	member, err := archive.Create(memberName)
	if err != nil {
		return errors.WithContext(err, "create archive member")
	}
	if _, err := io.Copy(member, r); err != nil {
		return errors.WithContext(err, "write archive member")
	}
	if err := archive.Close(); err != nil {
		return errors.WithContext(err, "close archive")
	}
	return nil
}

// Unzip opens the single member of the archive in r for streaming reads.
func Unzip(r io.ReaderAt, size int64) (io.ReadCloser, error) {
	archive, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.DecompressionError{Reason: err.Error()}
	}
	if len(archive.File) != 1 {
		return nil, errors.DecompressionError{
			Reason: fmt.Sprintf("archive has %d members, want exactly 1", len(archive.File)),
		}
	}
	member, err := archive.File[0].Open()
	if err != nil {
		return nil, errors.DecompressionError{Reason: err.Error()}
	}
	return member, nil
}

var compressors = map[string]Compressor{
	Zip{}.Name():  Zip{},
	Noop{}.Name(): Noop{},
}

// Get returns the compressor with the given recorded name.
func Get(name string) (Compressor, error) {
	compressor, ok := compressors[name]
	if !ok {
		return nil, errors.New(fmt.Sprintf("unknown compressor %q", name))
	}
	return compressor, nil
}

// ForFlag maps the sync state's compression flag to a compressor.
func ForFlag(enabled bool) Compressor {
	if enabled {
		return Zip{}
	}
	return Noop{}
}
