package bugtool

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ghodss/yaml"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/lightfold/catsync/cmd/util"
	"github.com/lightfold/catsync/pkg/compress"
	"github.com/lightfold/catsync/pkg/config"
	"github.com/lightfold/catsync/pkg/engine"
	"github.com/lightfold/catsync/pkg/errors"
	"github.com/lightfold/catsync/pkg/lockfile"
	"github.com/lightfold/catsync/pkg/revision"
	"github.com/lightfold/catsync/pkg/version"
)

// Mocked for unit testing.
var (
	fs                = afero.NewOsFs()
	clock             = clockwork.NewRealClock()
	parseUserConfig   = config.ParseUser
	getUserConfigPath = config.GetUserConfigPath
)

// New creates a new `bug-tool` command.
func New() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "bug-tool",
		Short: "Generate an archive for catsync debugging",
		Run:   func(_ *cobra.Command, _ []string) { main(out) },
	}
	cmd.Flags().StringVar(&out, "out", "", "path for archive")
	return cmd
}

func main(out string) {
	tmpdir, err := afero.TempDir(fs, "", "catsync-bug-tool")
	if err != nil {
		err = errors.NewFriendlyError("Failed to create out directory:\n%s", err)
		util.HandleFatalError(err)
	}

	// Wrap defer in a function to handle errors from fs.RemoveAll().
	defer func() {
		err := fs.RemoveAll(tmpdir)
		if err != nil {
			util.HandleFatalError(err)
		}
	}()

	setupInfo(tmpdir)

	if out == "" {
		out = fmt.Sprintf("catsync-bug-info-%s.tar.gz",
			time.Now().Format("Jan_02_2006-15-04-05"))
	}
	if err := tarDirectory(tmpdir, out); err != nil {
		err = errors.NewFriendlyError("Failed to tar:\n%s", err)
		util.HandleFatalError(err)
	}

	msg := `Created bug information archive at '%s'.
Attach it to your bug report.
You may want to edit the archive if your file paths are sensitive.
The archive contains:
 * The catsync user config.
 * The catalog's sync state and lock file.
 * A fingerprint listing of the local catalog files.
 * A listing of the cloud revision chain.
 * The version of the catsync CLI.
`
	fmt.Printf(msg, out)
}

func setupInfo(root string) {
	if err := setupVersion(root); err != nil {
		log.WithError(err).Warn("Failed to setup version info")
	}

	if err := setupUserConfig(root); err != nil {
		log.WithError(err).Warn("Failed to copy user config")
	}

	userConfig, err := parseUserConfig()
	if err != nil {
		log.WithError(err).Error("Failed to parse user config")
		return
	}

	if err := setupLocalFiles(root, userConfig); err != nil {
		log.WithError(err).Warn("Failed to list local files")
	}

	chains := map[string]string{
		"chain-catalog.yaml":  userConfig.Cloud,
		"chain-previews.yaml": engine.PreviewsPath(userConfig.Cloud),
	}
	for name, cloud := range chains {
		if err := setupChain(filepath.Join(root, name), cloud); err != nil {
			log.WithError(err).WithField("chain", cloud).
				Warn("Failed to list cloud chain")
		}
	}
}

func setupVersion(root string) error {
	out, err := fs.Create(filepath.Join(root, "version"))
	if err != nil {
		return errors.WithContext(err, "create")
	}
	defer out.Close()

	fmt.Fprintf(out, "catsync version: %s\n", version.Version)
	return nil
}

func setupUserConfig(root string) error {
	path, err := getUserConfigPath()
	if err != nil {
		return errors.WithContext(err, "get user config path")
	}
	return copyFile(path, filepath.Join(root, "config.yaml"))
}

// localFile is one line of the local-files listing: enough to compare
// against the fingerprints recorded in the sync state and cloud chain.
type localFile struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size,omitempty"`
	ModTime     time.Time `json:"modTime,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Missing     bool      `json:"missing,omitempty"`
	Error       string    `json:"error,omitempty"`
}

func setupLocalFiles(root string, userConfig config.User) error {
	if err := copyFile(config.StatePath(userConfig.Catalog),
		filepath.Join(root, "state.yaml")); err != nil {
		log.WithError(err).Debug("No sync state to copy")
	}
	if err := copyFile(lockfile.Path(userConfig.Catalog),
		filepath.Join(root, "lock.yaml")); err != nil {
		log.WithError(err).Debug("No lock file to copy")
	}

	previews := engine.PreviewsPath(userConfig.Catalog)
	paths := []string{
		userConfig.Catalog,
		userConfig.Catalog + engine.SnapshotSuffix,
		previews,
		previews + engine.SnapshotSuffix,
	}

	var listing []localFile
	for _, path := range paths {
		entry := localFile{Path: path}
		if info, err := fs.Stat(path); err == nil {
			entry.Size = info.Size()
			entry.ModTime = info.ModTime().UTC()
			if fp, err := revision.HashFile(fs, path); err == nil {
				entry.Fingerprint = fp
			} else {
				entry.Error = err.Error()
			}
		} else {
			entry.Missing = true
		}
		listing = append(listing, entry)
	}

	listingBytes, err := yaml.Marshal(listing)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}
	return afero.WriteFile(fs,
		filepath.Join(root, "local-files.yaml"), listingBytes, 0644)
}

// chainReport is what we can learn about a cloud chain without modifying
// it. A chain that fails validation still reports the error text.
type chainReport struct {
	Missing bool                   `json:"missing,omitempty"`
	Head    *revision.Revision     `json:"head,omitempty"`
	Records []revision.DeltaRecord `json:"records,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

func setupChain(path, cloud string) error {
	store := revision.NewStore(fs, cloud, "", compress.Noop{}, clock)

	var report chainReport
	exists, err := store.Exists()
	if err != nil {
		return errors.WithContext(err, "check chain")
	}
	if !exists {
		report.Missing = true
	} else {
		if head, err := store.Head(); err == nil {
			report.Head = &head
		} else {
			report.Error = err.Error()
		}
		if records, err := store.Records(); err == nil {
			report.Records = records
		}
	}

	reportBytes, err := yaml.Marshal(report)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}
	return afero.WriteFile(fs, path, reportBytes, 0644)
}

func copyFile(src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return errors.WithContext(err, "open source")
	}
	defer in.Close()

	out, err := fs.Create(dst)
	if err != nil {
		return errors.WithContext(err, "open destination")
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.WithContext(err, "copy")
	}
	return nil
}

func tarDirectory(src, outPath string) error {
	out, err := fs.Create(outPath)
	if err != nil {
		return errors.WithContext(err, "open destination")
	}
	defer out.Close()

	gzw := gzip.NewWriter(out)
	defer gzw.Close()

	tw := tar.NewWriter(gzw)
	defer tw.Close()

	return afero.Walk(fs, src, func(file string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(fi, fi.Name())
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("make header %s", file))
		}

		relPath, err := filepath.Rel(src, file)
		if err != nil {
			return errors.WithContext(err,
				fmt.Sprintf("get relative path of %s to %s", file, src))
		}

		header.Name = filepath.Join("catsync-bug-info", relPath)
		if err := tw.WriteHeader(header); err != nil {
			return errors.WithContext(err, fmt.Sprintf("write %s header", file))
		}

		// Only write contents if it's a file (i.e. not a directory).
		if !fi.Mode().IsRegular() {
			return nil
		}

		f, err := fs.Open(file)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("open %s", file))
		}
		defer f.Close()

		if _, err := io.Copy(tw, f); err != nil {
			return errors.WithContext(err, fmt.Sprintf("copy %s", file))
		}
		return nil
	})
}
