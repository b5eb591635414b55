package ingest

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
)

// LocalReader reads snapshot files from a directory tree laid out as
// <root>/<source>/<category_label>/<timestamp>.jsonl.
type LocalReader struct {
	root string
}

// NewLocalReader creates a LocalReader rooted at dir.
func NewLocalReader(dir string) *LocalReader {
	return &LocalReader{root: dir}
}

func (r *LocalReader) List(ctx context.Context) ([]File, error) {
	var files []File
	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(r.root, path)
		if err != nil {
			return err
		}
		f, ok := parseFilePath(filepath.ToSlash(rel))
		if !ok {
			return nil
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: walk %s", r.root)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func (r *LocalReader) Open(ctx context.Context, f File) (io.ReadCloser, error) {
	rc, err := os.Open(filepath.Join(r.root, filepath.FromSlash(f.Path)))
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", f.Path)
	}
	return rc, nil
}
