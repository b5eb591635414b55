// Package ingest loads collector snapshot files into the bronze layer. The
// collectors write one JSONL file per capture under
// <source>/<category_label>/<timestamp>.jsonl; every line becomes one bronze
// observation with its payload kept verbatim.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/etrendo/marketsync/internal/model"
	"github.com/etrendo/marketsync/internal/resilience"
	"github.com/etrendo/marketsync/internal/store"
)

// File is one snapshot file discovered by a Reader.
type File struct {
	// Path identifies the file within the reader (object name or relative path).
	Path string
	// Source and CategoryLabel come from the first two path segments.
	Source        string
	CategoryLabel string
	// CapturedAt is parsed from the file name, the fallback observed_at for
	// lines that do not carry their own timestamp.
	CapturedAt time.Time
}

// Reader lists and opens snapshot files from a storage backend.
type Reader interface {
	List(ctx context.Context) ([]File, error)
	Open(ctx context.Context, f File) (io.ReadCloser, error)
}

// Stats summarizes one ingest pass.
type Stats struct {
	Files   int
	Rows    int64
	Skipped int64
}

// Ingestor drains a Reader into the bronze layer.
type Ingestor struct {
	store     store.Store
	reader    Reader
	batchSize int
	workers   int
}

// Options configures an Ingestor.
type Options struct {
	Store     store.Store
	Reader    Reader
	BatchSize int // rows per append, default 500
	Workers   int // concurrent file fetches, default 4
}

// New creates an Ingestor.
func New(opts Options) *Ingestor {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Ingestor{
		store:     opts.Store,
		reader:    opts.Reader,
		batchSize: batchSize,
		workers:   workers,
	}
}

// Run ingests every snapshot the reader lists, fetching files concurrently.
// Lines that are not JSON objects are skipped and counted, never fatal; a
// failed file fails the whole pass.
func (ing *Ingestor) Run(ctx context.Context) (Stats, error) {
	// One pass id correlates the per-file log lines of a concurrent run.
	log := zap.L().With(
		zap.String("component", "ingest"),
		zap.String("pass_id", uuid.NewString()),
	)

	retry := resilience.RetryConfig{
		OnRetry: func(attempt int, err error) {
			log.Warn("retrying snapshot read", zap.Int("attempt", attempt), zap.Error(err))
		},
	}

	files, err := resilience.DoVal(ctx, retry, ing.reader.List)
	if err != nil {
		return Stats{}, eris.Wrap(err, "ingest: list snapshots")
	}

	var (
		mu    sync.Mutex
		stats Stats
	)
	stats.Files = len(files)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(ing.workers)

	for _, f := range files {
		f := f
		g.Go(func() error {
			rows, skipped, err := ing.ingestFile(ctx, retry, f)
			if err != nil {
				return eris.Wrapf(err, "ingest: file %s", f.Path)
			}
			mu.Lock()
			stats.Rows += rows
			stats.Skipped += skipped
			mu.Unlock()
			log.Info("snapshot ingested",
				zap.String("file", f.Path),
				zap.Int64("rows", rows),
				zap.Int64("skipped", skipped))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (ing *Ingestor) ingestFile(ctx context.Context, retry resilience.RetryConfig, f File) (rows, skipped int64, err error) {
	// Only the open is retried. A partially appended file must not replay:
	// duplicate bronze rows are harmless, but the retry would recount them.
	rc, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (io.ReadCloser, error) {
		return ing.reader.Open(ctx, f)
	})
	if err != nil {
		return 0, 0, eris.Wrap(err, "open snapshot")
	}
	defer rc.Close()

	batch := make([]model.RawRow, 0, ing.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := ing.store.AppendObservations(ctx, batch)
		if err != nil {
			return eris.Wrap(err, "append batch")
		}
		rows += n
		batch = batch[:0]
		return nil
	}

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			skipped++
			continue
		}

		batch = append(batch, model.RawRow{
			Source:        f.Source,
			CategoryLabel: f.CategoryLabel,
			ObservedAt:    lineObservedAt(obj, f.CapturedAt),
			Payload:       []byte(line),
		})
		if len(batch) >= ing.batchSize {
			if err := flush(); err != nil {
				return rows, skipped, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return rows, skipped, eris.Wrap(err, "read snapshot")
	}
	return rows, skipped, flush()
}

// lineObservedAt takes the line's own observed_at when parseable, otherwise
// the snapshot's capture time.
func lineObservedAt(obj map[string]json.RawMessage, capturedAt time.Time) time.Time {
	raw, ok := obj["observed_at"]
	if !ok {
		return capturedAt
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return capturedAt
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return capturedAt
	}
	return t.UTC()
}

// parseFilePath splits <source>/<category_label>/<name>.jsonl and parses the
// capture timestamp from the file name. ok is false for paths that do not
// match the layout.
func parseFilePath(path string) (f File, ok bool) {
	if !strings.HasSuffix(path, ".jsonl") {
		return File{}, false
	}
	parts := strings.Split(path, "/")
	if len(parts) < 3 {
		return File{}, false
	}

	name := strings.TrimSuffix(parts[len(parts)-1], ".jsonl")
	capturedAt, ok := parseCaptureTime(name)
	if !ok {
		return File{}, false
	}

	return File{
		Path:          path,
		Source:        parts[0],
		CategoryLabel: parts[1],
		CapturedAt:    capturedAt,
	}, true
}

var captureTimeLayouts = []string{
	"2006-01-02T15-04-05Z",
	"20060102T150405Z",
	"2006-01-02",
}

func parseCaptureTime(name string) (time.Time, bool) {
	for _, layout := range captureTimeLayouts {
		if t, err := time.Parse(layout, name); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
