package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

//ErrFileNotFound is returned when a stored file is missing
var ErrFileNotFound = errors.New("file not found")

//Stored describes a file after it has been written
type Stored struct {
	Name     string
	Size     int64
	Checksum string
}

//FileStore keeps firmware images in a single flat directory
type FileStore interface {
	Save(name string, src io.Reader) (Stored, error)
	Open(name string) (afero.File, int64, error)
	Remove(name string) error
	Rename(from, to string) error
}

type store struct {
	fs  afero.Fs
	dir string
}

//NewOsFileStore stores files below dir on the local filesystem, creating it if needed
func NewOsFileStore(dir string) (FileStore, error) {
	return New(afero.NewOsFs(), dir)
}

//New wraps an arbitrary afero filesystem, tests use afero.NewMemMapFs()
func New(fs afero.Fs, dir string) (FileStore, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create file store directory %s: %w", dir, err)
	}
	return &store{fs: fs, dir: dir}, nil
}

func (s *store) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

//Save streams src into the named file while computing its sha256 checksum.
//A partially written file is removed again on failure.
func (s *store) Save(name string, src io.Reader) (Stored, error) {
	p, err := s.path(name)
	if err != nil {
		return Stored{}, err
	}

	f, err := s.fs.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return Stored{}, err
	}

	hash := sha256.New()
	size, err := io.Copy(f, io.TeeReader(src, hash))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.fs.Remove(p)
		return Stored{}, fmt.Errorf("failed to write %s: %w", name, err)
	}

	return Stored{Name: name, Size: size, Checksum: hex.EncodeToString(hash.Sum(nil))}, nil
}

//Open returns the named file together with its size
func (s *store) Open(name string) (afero.File, int64, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, 0, err
	}

	f, err := s.fs.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrFileNotFound
		}
		return nil, 0, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}

	return f, info.Size(), nil
}

//Remove deletes the named file. Removing a missing file returns ErrFileNotFound.
func (s *store) Remove(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}

	err = s.fs.Remove(p)
	if err != nil && os.IsNotExist(err) {
		return ErrFileNotFound
	}
	return err
}

//Rename moves a file within the store, replacing any file already stored as to
func (s *store) Rename(from, to string) error {
	src, err := s.path(from)
	if err != nil {
		return err
	}
	dst, err := s.path(to)
	if err != nil {
		return err
	}

	err = s.fs.Rename(src, dst)
	if err != nil && os.IsNotExist(err) {
		return ErrFileNotFound
	}
	return err
}
