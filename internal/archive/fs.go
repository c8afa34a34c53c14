package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/edvin/quotausage/internal/model"
)

// FSStore archives uploads as files in one directory.
type FSStore struct {
	fs  afero.Fs
	dir string
}

// NewFSStore creates dir if needed.
func NewFSStore(fs afero.Fs, dir string) (*FSStore, error) {
	if err := fs.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create archive dir %s: %w", dir, err)
	}
	return &FSStore{fs: fs, dir: dir}, nil
}

func (s *FSStore) Save(_ context.Context, name string, data []byte) error {
	name, err := CleanName(name)
	if err != nil {
		return err
	}

	tmp := filepath.Join(s.dir, "."+name+".tmp")
	if err := afero.WriteFile(s.fs, tmp, data, 0o640); err != nil {
		return fmt.Errorf("write upload %s: %w", name, err)
	}
	if err := s.fs.Rename(tmp, filepath.Join(s.dir, name)); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("store upload %s: %w", name, err)
	}
	return nil
}

func (s *FSStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	name, err := CleanName(name)
	if err != nil {
		return nil, err
	}

	f, err := s.fs.Open(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("open upload %s: %w", name, model.ErrUploadNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open upload %s: %w", name, err)
	}
	return f, nil
}

func (s *FSStore) List(_ context.Context) ([]Entry, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}

	entries := []Entry{}
	for _, fi := range infos {
		if fi.IsDir() || fi.Name()[0] == '.' {
			continue
		}
		entries = append(entries, Entry{Name: fi.Name(), Size: fi.Size(), ModTime: fi.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name > entries[j].Name })
	return entries, nil
}
