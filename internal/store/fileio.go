package store

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// FileIO reads and writes whole files as text. Read must return an error
// matching fs.ErrNotExist when the file is absent.
type FileIO interface {
	Read(path string) (string, error)
	Write(path string, content string) error
}

// OSFileIO is FileIO on the local filesystem.
type OSFileIO struct{}

const newFileMode fs.FileMode = 0o600

func (OSFileIO) Read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Write replaces path through a temp file and rename, so readers never see
// a truncated file. An existing file keeps its permissions.
func (OSFileIO) Write(path string, content string) error {
	mode := newFileMode
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
