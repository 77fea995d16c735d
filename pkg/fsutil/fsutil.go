// Package fsutil implements the write-to-temp-then-rename discipline used
// for every durable file catsync touches. A crash mid-write leaves the
// previous file intact, never a half-written one.
package fsutil

import (
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/lightfold/catsync/pkg/errors"
)

const tmpPattern = ".catsync-tmp-*"

// WriteStream atomically replaces the file at path with whatever fill
// writes. The temporary file is created in the same directory so the final
// rename stays on one filesystem.
func WriteStream(fs afero.Fs, path string, mode os.FileMode, fill func(io.Writer) error) error {
	tmp, err := afero.TempFile(fs, filepath.Dir(path), tmpPattern)
	if err != nil {
		return errors.WithContext(err, "create temp file")
	}
	tmpName := tmp.Name()

	if err := fill(tmp); err != nil {
		tmp.Close()
		fs.Remove(tmpName)
		return errors.WithContext(err, "write temp file")
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpName)
		return errors.WithContext(err, "close temp file")
	}
	if err := fs.Chmod(tmpName, mode); err != nil {
		fs.Remove(tmpName)
		return errors.WithContext(err, "chmod temp file")
	}
	if err := fs.Rename(tmpName, path); err != nil {
		fs.Remove(tmpName)
		return errors.WithContext(err, "rename temp file")
	}
	return nil
}

// WriteFile atomically replaces the file at path with data.
func WriteFile(fs afero.Fs, path string, data []byte, mode os.FileMode) error {
	return WriteStream(fs, path, mode, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// CopyFile atomically replaces dst with the contents of src, preserving
// src's permission bits.
func CopyFile(fs afero.Fs, src, dst string) error {
	info, err := fs.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.FileNotFound{Path: src}
		}
		return errors.WithContext(err, "stat source")
	}

	in, err := fs.Open(src)
	if err != nil {
		return errors.WithContext(err, "open source")
	}
	defer in.Close()

	return WriteStream(fs, dst, info.Mode(), func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}
