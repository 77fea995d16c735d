package lockfile

import (
	"os"
	"syscall"
	"time"

	"github.com/ghodss/yaml"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/lightfold/catsync/pkg/errors"
)

// Suffix is appended to a catalog path to form its lock file.
const Suffix = ".lock"

// info identifies the process holding a lock so that error messages and
// stale-lock checks know who it was.
type info struct {
	Owner      string    `json:"owner"`
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Lock is an advisory lock on a catalog. The lock file's presence is the
// lock itself. Cloud drives don't propagate OS-level file locks, so
// presence is all that can be relied on.
type Lock struct {
	fs   afero.Fs
	path string
}

// hostname and pidAlive will be overridden in mock tests.
var hostname = func() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}

var pidAlive = func(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}

// Path returns the lock file path for a catalog.
func Path(catalog string) string {
	return catalog + Suffix
}

// Acquire takes the advisory lock for the given catalog. A lock held by
// another process surfaces as errors.CatalogLockedError. A lock whose
// holder ran on this host and is no longer alive is reclaimed with a
// warning.
func Acquire(fsys afero.Fs, catalog string, clock clockwork.Clock) (*Lock, error) {
	path := Path(catalog)
	for attempt := 0; ; attempt++ {
		f, err := fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return writeInfo(fsys, f, path, clock)
		}
		if !os.IsExist(err) {
			return nil, errors.WithContext(err, "create lock file")
		}

		holder := readInfo(fsys, path)
		if attempt == 0 && isStale(holder) {
			log.WithField("path", path).WithField("pid", holder.PID).
				Warn("Removing lock left behind by a dead process")
			if err := fsys.Remove(path); err != nil && !os.IsNotExist(err) {
				return nil, errors.WithContext(err, "remove stale lock")
			}
			continue
		}
		return nil, errors.CatalogLockedError{
			Path:  catalog,
			Owner: holder.Owner,
			PID:   holder.PID,
		}
	}
}

// Release removes the lock file. Releasing an already-removed lock is not
// an error.
func (l *Lock) Release() error {
	if err := l.fs.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.WithContext(err, "remove lock file")
	}
	return nil
}

// ForceRemove deletes a lock file no matter who holds it. It backs the
// --force-unlock flag for recovering from crashed runs.
func ForceRemove(fsys afero.Fs, catalog string) error {
	if err := fsys.Remove(Path(catalog)); err != nil && !os.IsNotExist(err) {
		return errors.WithContext(err, "remove lock file")
	}
	return nil
}

func writeInfo(fsys afero.Fs, f afero.File, path string, clock clockwork.Clock) (*Lock, error) {
	contents, err := yaml.Marshal(info{
		Owner:      uuid.New().String(),
		PID:        os.Getpid(),
		Host:       hostname(),
		AcquiredAt: clock.Now().UTC(),
	})
	if err == nil {
		_, err = f.Write(contents)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		fsys.Remove(path)
		return nil, errors.WithContext(err, "write lock file")
	}
	return &Lock{fs: fsys, path: path}, nil
}

// readInfo is best-effort. A lock file we can't parse still locks, it just
// locks anonymously.
func readInfo(fsys afero.Fs, path string) info {
	contents, err := afero.ReadFile(fsys, path)
	if err != nil {
		return info{}
	}
	var holder info
	if err := yaml.Unmarshal(contents, &holder); err != nil {
		return info{}
	}
	return holder
}

// isStale only ever reports true when the holder is provably gone: it was
// recorded on this host and its pid no longer responds. Locks from other
// hosts can't be probed, so they are never considered stale.
func isStale(holder info) bool {
	if holder.PID == 0 || holder.Host == "" || holder.Host != hostname() {
		return false
	}
	return !pidAlive(holder.PID)
}
