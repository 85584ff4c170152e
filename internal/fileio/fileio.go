// Package fileio holds the symlink-safe file primitives shared by the
// notebook ledger, the identity source and transcript export.
package fileio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hpungsan/tether/internal/errors"
)

// ReadOptional returns the contents of path, or ok=false when it does not exist.
func ReadOptional(path string) (content string, ok bool, err error) {
	f, err := OpenNoFollowRead(path)
	if err != nil {
		if errors.Is(err, errors.ErrFileNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// AppendFile appends data to path, creating it with perm if needed.
func AppendFile(path string, data []byte, perm os.FileMode) error {
	f, err := OpenNoFollow(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteAtomic replaces path with data by writing a temp file in the same
// directory and renaming it into place. Readers see either the old or the
// new contents, never a partial write.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	return WriteAtomicFunc(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteAtomicFunc is WriteAtomic for streamed content: write fills the temp
// file, which is only renamed into place if write succeeds.
func WriteAtomicFunc(path string, perm os.FileMode, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)

	file, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := file.Name()

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if err := file.Chmod(perm); err != nil {
		return err
	}
	if err := write(file); err != nil {
		return err
	}

	// Ensure file is written
	if err := file.Sync(); err != nil {
		return err
	}

	// Close before atomic replace (required on Windows; fine elsewhere).
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	file = nil

	// os.Rename would follow a symlinked destination
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest(fmt.Sprintf("path is a symlink: %s", path))
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", filepath.Base(path), err)
	}

	success = true
	return nil
}
