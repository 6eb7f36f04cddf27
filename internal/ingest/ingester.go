package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/hyperjump/contaluz/internal/fileid"
	"github.com/hyperjump/contaluz/internal/models"
	"github.com/hyperjump/contaluz/internal/search"
	"github.com/hyperjump/contaluz/internal/storage"
	cerr "github.com/hyperjump/contaluz/pkg/errors"
	"github.com/hyperjump/contaluz/pkg/utils"
)

// DefaultPatterns matches bill exports anywhere below an ingest directory.
var DefaultPatterns = []string{"**/*.json"}

// RecordIndexer appends records to the search index and drops the slots of records that are
// gone.
type RecordIndexer interface {
	IndexRecords(ctx context.Context, records []models.Record) (*search.RebuildResult, error)
	UnindexRecords(ctx context.Context, recordIDs []string) (int, error)
}

// ProgressFunc is called after each file of a directory run.
type ProgressFunc func(path string, done, total int)

// Counts tallies what happened to the records of one or more files.
type Counts struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Removed   int `json:"removed"`
	Indexed   int `json:"indexed"`
	Degraded  int `json:"degraded"`
}

func (c *Counts) add(o Counts) {
	c.Inserted += o.Inserted
	c.Updated += o.Updated
	c.Unchanged += o.Unchanged
	c.Removed += o.Removed
	c.Indexed += o.Indexed
	c.Degraded += o.Degraded
}

// FileResult is the outcome of ingesting one file.
type FileResult struct {
	Path   string `json:"path"`
	Source string `json:"source"`
	Counts
}

// Summary is the outcome of ingesting one or more directories. Failed files are logged and
// skipped.
type Summary struct {
	Files  int      `json:"files"`
	Failed []string `json:"failed,omitempty"`
	Counts
}

// Ingester stores bill records and indexes the new and changed ones.
type Ingester struct {
	docs     storage.DocumentStore
	index    RecordIndexer
	patterns []string
	progress ProgressFunc
	logger   *zap.Logger
	mu       sync.Mutex
}

// IngesterOption configures an Ingester.
type IngesterOption func(*Ingester)

// WithLogger sets a logger for ingest events.
func WithLogger(l *zap.Logger) IngesterOption {
	return func(in *Ingester) { in.logger = l }
}

// WithPatterns sets the doublestar patterns, relative to each directory, selecting bill files.
func WithPatterns(patterns ...string) IngesterOption {
	return func(in *Ingester) {
		if len(patterns) > 0 {
			in.patterns = patterns
		}
	}
}

// WithProgress registers a callback for directory runs.
func WithProgress(fn ProgressFunc) IngesterOption {
	return func(in *Ingester) { in.progress = fn }
}

// NewIngester creates an ingester. index may be nil, in which case records are only stored.
func NewIngester(docs storage.DocumentStore, index RecordIndexer, opts ...IngesterOption) *Ingester {
	in := &Ingester{
		docs:     docs,
		index:    index,
		patterns: DefaultPatterns,
	}
	for _, opt := range opts {
		opt(in)
	}
	in.logger = utils.OrNop(in.logger)
	return in
}

// Patterns returns the configured file patterns.
func (in *Ingester) Patterns() []string {
	return append([]string(nil), in.patterns...)
}

// IngestFile parses the bill at path and upserts its records. Records the file no longer
// contains are deleted from the store. Only inserted and updated records are embedded, so
// re-ingesting an unchanged file costs no provider calls.
func (in *Ingester) IngestFile(ctx context.Context, path string) (*FileResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, cerr.Wrap(err, cerr.CodeIngestReadFailure, "absolute path")
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, cerr.Wrap(err, cerr.CodeIngestReadFailure, "stat file", cerr.Field("path", absPath))
	}
	if !info.Mode().IsRegular() {
		return nil, cerr.New(cerr.CodeIngestReadFailure, "not a regular file", cerr.Field("path", absPath))
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, cerr.Wrap(err, cerr.CodeIngestReadFailure, "read file", cerr.Field("path", absPath))
	}
	bill, err := ParseBill(data)
	if err != nil {
		return nil, cerr.Wrap(err, cerr.CodeIngestParseInvalidFormat, "parse bill", cerr.Field("path", absPath))
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	res := &FileResult{Path: absPath, Source: fileid.SourceID(absPath)}
	previous, err := in.docs.IDsBySource(ctx, res.Source)
	if err != nil {
		return nil, err
	}
	records := BuildRecords(bill)
	current := make(map[string]struct{}, len(records))
	var changed []models.Record
	for _, rec := range records {
		current[rec.RecordID()] = struct{}{}
		outcome, err := in.docs.Put(ctx, res.Source, rec)
		if err != nil {
			return nil, err
		}
		switch outcome {
		case storage.PutInserted:
			res.Inserted++
			changed = append(changed, rec)
		case storage.PutUpdated:
			res.Updated++
			changed = append(changed, rec)
		default:
			res.Unchanged++
		}
	}
	var removed []string
	for _, id := range previous {
		if _, ok := current[id]; ok {
			continue
		}
		if err := in.docs.Delete(ctx, id); err != nil && !cerr.IsNotFound(err) {
			return nil, err
		}
		removed = append(removed, id)
	}
	res.Removed = len(removed)
	if len(removed) > 0 && in.index != nil {
		if _, err := in.index.UnindexRecords(ctx, removed); err != nil {
			return nil, err
		}
	}

	if len(changed) > 0 && in.index != nil {
		idx, err := in.index.IndexRecords(ctx, changed)
		if err != nil {
			return nil, err
		}
		res.Indexed = idx.Indexed
		res.Degraded = idx.Degraded
	}
	in.logger.Info("bill ingested",
		zap.String("path", absPath),
		zap.String("client_id", bill.Client.ID),
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated),
		zap.Int("unchanged", res.Unchanged),
		zap.Int("removed", res.Removed),
		zap.Int("indexed", res.Indexed))
	return res, nil
}

// RemoveFile deletes every record that came from the file at path and returns how many were
// removed. Their index slots stop resolving right away; the vectors go at the next rebuild.
func (in *Ingester) RemoveFile(ctx context.Context, path string) (int, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, cerr.Wrap(err, cerr.CodeIngestReadFailure, "absolute path")
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	source := fileid.SourceID(absPath)
	ids, err := in.docs.IDsBySource(ctx, source)
	if err != nil {
		return 0, err
	}
	n, err := in.docs.DeleteBySource(ctx, source)
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 && in.index != nil {
		if _, err := in.index.UnindexRecords(ctx, ids); err != nil {
			return 0, err
		}
	}
	in.logger.Info("bill removed", zap.String("path", absPath), zap.Int("records", n))
	return n, nil
}

// Files lists the files under dir matching the configured patterns, sorted.
func (in *Ingester) Files(dir string) ([]string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, cerr.Wrap(err, cerr.CodeIngestReadFailure, "absolute path")
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, cerr.Wrap(err, cerr.CodeIngestReadFailure, "stat directory", cerr.Field("path", absDir))
	}
	if !info.IsDir() {
		return nil, cerr.New(cerr.CodeIngestReadFailure, "not a directory", cerr.Field("path", absDir))
	}
	fsys := os.DirFS(absDir)
	seen := make(map[string]struct{})
	var files []string
	for _, pattern := range in.patterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, cerr.Wrap(err, cerr.CodeIngestReadFailure, "match pattern", cerr.Field("pattern", pattern))
		}
		for _, m := range matches {
			full := filepath.Join(absDir, filepath.FromSlash(m))
			if _, dup := seen[full]; dup {
				continue
			}
			// resolve symlinks; only regular files are bills
			if fi, err := os.Stat(full); err != nil || !fi.Mode().IsRegular() {
				continue
			}
			seen[full] = struct{}{}
			files = append(files, full)
		}
	}
	sort.Strings(files)
	return files, nil
}

// IngestDirectory ingests every matching file under dir. A file that fails is logged and
// recorded in the summary; the run continues with the next one.
func (in *Ingester) IngestDirectory(ctx context.Context, dir string) (*Summary, error) {
	return in.IngestAll(ctx, []string{dir})
}

// IngestAll ingests every matching file under each of dirs.
func (in *Ingester) IngestAll(ctx context.Context, dirs []string) (*Summary, error) {
	var files []string
	for _, dir := range dirs {
		found, err := in.Files(dir)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	sum := &Summary{}
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res, err := in.IngestFile(ctx, path)
		if err != nil {
			in.logger.Warn("bill ingest failed", zap.String("path", path), zap.Error(err))
			sum.Failed = append(sum.Failed, path)
		} else {
			sum.Files++
			sum.add(res.Counts)
		}
		if in.progress != nil {
			in.progress(path, i+1, len(files))
		}
	}
	return sum, nil
}

// Match reports whether path, relative to one of the ingest roots, matches a configured pattern.
func (in *Ingester) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range in.patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
