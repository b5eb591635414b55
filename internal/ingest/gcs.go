package ingest

import (
	"context"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"google.golang.org/api/iterator"
)

// GCSReader reads snapshot files from a GCS bucket. Object names follow the
// same <source>/<category_label>/<timestamp>.jsonl layout, optionally under a
// fixed prefix.
type GCSReader struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSReader creates a GCSReader. The prefix may be empty.
func NewGCSReader(ctx context.Context, bucket, prefix string) (*GCSReader, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: create gcs client")
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &GCSReader{client: client, bucket: bucket, prefix: prefix}, nil
}

func (r *GCSReader) List(ctx context.Context) ([]File, error) {
	it := r.client.Bucket(r.bucket).Objects(ctx, &storage.Query{Prefix: r.prefix})

	var files []File
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: list gs://%s/%s", r.bucket, r.prefix)
		}

		f, ok := parseFilePath(strings.TrimPrefix(attrs.Name, r.prefix))
		if !ok {
			continue
		}
		f.Path = attrs.Name
		files = append(files, f)
	}
	return files, nil
}

func (r *GCSReader) Open(ctx context.Context, f File) (io.ReadCloser, error) {
	rc, err := r.client.Bucket(r.bucket).Object(f.Path).NewReader(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open gs://%s/%s", r.bucket, f.Path)
	}
	return rc, nil
}

// Close releases the underlying client.
func (r *GCSReader) Close() error {
	return r.client.Close()
}
