// Package spool ingests snippet files dropped into a directory. A *.json
// file holds one record or an array of records; a *.jsonl file holds one
// record per line. Processed files move to done/, unreadable ones to
// failed/. A file whose ingestion hits a storage fault stays in place and is
// retried on the next event or rescan.
package spool

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/ingestion/failures"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/snippet"
	apperrors "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/errors"
)

const (
	DoneDir   = "done"
	FailedDir = "failed"

	defaultDebounce = 250 * time.Millisecond
	rescanInterval  = 30 * time.Second
	maxLineBytes    = 8 << 20
)

type Ingester interface {
	IngestBatch(ctx context.Context, recs []snippet.Record) []indexer.Result
}

type Watcher struct {
	dir      string
	index    Ingester
	failures failures.Recorder
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]time.Time

	logger *slog.Logger
}

func New(dir string, idx Ingester, rec failures.Recorder) *Watcher {
	return &Watcher{
		dir:      dir,
		index:    idx,
		failures: rec,
		debounce: defaultDebounce,
		pending:  make(map[string]time.Time),
		logger:   slog.Default().With("component", "spool", "dir", dir),
	}
}

// Accepts reports whether name is a spool input file.
func Accepts(name string) bool {
	if strings.HasPrefix(filepath.Base(name), ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".jsonl":
		return true
	}
	return false
}

// Run processes files already in the directory, then watches it until ctx
// is done. Writes are debounced so a file is read once its writer pauses.
func (w *Watcher) Run(ctx context.Context) error {
	for _, sub := range []string{w.dir, filepath.Join(w.dir, DoneDir), filepath.Join(w.dir, FailedDir)} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return fmt.Errorf("creating spool directory: %w", err)
		}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating spool watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watching spool directory: %w", err)
	}
	w.logger.Info("spool watcher started")

	w.Scan(ctx)

	tick := time.NewTicker(w.debounce / 2)
	defer tick.Stop()
	rescan := time.NewTicker(rescanInterval)
	defer rescan.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("spool watcher stopping")
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				if Accepts(ev.Name) {
					w.mu.Lock()
					w.pending[ev.Name] = time.Now()
					w.mu.Unlock()
				}
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("spool watcher error", "error", err)
		case <-tick.C:
			for _, path := range w.ready(time.Now()) {
				w.process(ctx, path)
			}
		case <-rescan.C:
			w.Scan(ctx)
		}
	}
}

func (w *Watcher) ready(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			out = append(out, path)
			delete(w.pending, path)
		}
	}
	sort.Strings(out)
	return out
}

// Scan processes every spool file currently in the directory, oldest name
// first.
func (w *Watcher) Scan(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Error("reading spool directory", "error", err)
		return
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		if e.Type().IsRegular() && Accepts(e.Name()) {
			w.process(ctx, filepath.Join(w.dir, e.Name()))
		}
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	if err := w.ProcessFile(ctx, path); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Error("spool file not processed", "file", filepath.Base(path), "error", err)
	}
}

// ProcessFile ingests one file and moves it out of the spool.
func (w *Watcher) ProcessFile(ctx context.Context, path string) error {
	name := filepath.Base(path)
	recs, bad, err := ReadRecords(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		w.failures.Record(ctx, failures.Failure{SnippetID: name, Origin: "spool", Reason: err.Error()})
		return w.move(path, FailedDir)
	}
	for _, lineErr := range bad {
		w.failures.Record(ctx, failures.Failure{SnippetID: name, Origin: "spool", Reason: lineErr.Error()})
	}

	results := w.index.IngestBatch(ctx, recs)
	if err := indexer.FirstError(results); err != nil {
		return fmt.Errorf("ingesting %s: %w", name, err)
	}
	for i, res := range results {
		if res.Err != nil {
			w.failures.Record(ctx, failures.FromError(recs[i], "spool", res.Err))
		}
	}
	w.logger.Info("spool file ingested",
		"file", name,
		"records", len(recs),
		"malformed_lines", len(bad),
		"summary", indexer.Summarize(results),
	)
	return w.move(path, DoneDir)
}

func (w *Watcher) move(path, sub string) error {
	dst := filepath.Join(w.dir, sub, filepath.Base(path))
	if _, err := os.Stat(dst); err == nil {
		ext := filepath.Ext(dst)
		dst = fmt.Sprintf("%s.%d%s", strings.TrimSuffix(dst, ext), time.Now().UnixNano(), ext)
	}
	if err := os.Rename(path, dst); err != nil {
		return apperrors.Fault("move spool file", path, err)
	}
	return nil
}

// ReadRecords decodes a .json or .jsonl file. For .jsonl every malformed
// line is returned in bad and the rest of the file is still used; any
// problem with a .json file makes the whole file unreadable.
func ReadRecords(path string) (recs []snippet.Record, bad []error, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		recs, bad, err = decodeLines(data)
		return recs, bad, err
	}
	recs, err = decodeJSON(data)
	return recs, nil, err
}

func decodeJSON(data []byte) ([]snippet.Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty file", apperrors.ErrInvalidInput)
	}
	if trimmed[0] == '[' {
		var recs []snippet.Record
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return nil, fmt.Errorf("%w: decoding record array: %v", apperrors.ErrInvalidInput, err)
		}
		return recs, nil
	}
	var rec snippet.Record
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return nil, fmt.Errorf("%w: decoding record: %v", apperrors.ErrInvalidInput, err)
	}
	return []snippet.Record{rec}, nil
}

func decodeLines(data []byte) ([]snippet.Record, []error, error) {
	var (
		recs []snippet.Record
		bad  []error
	)
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var rec snippet.Record
		if err := json.Unmarshal(text, &rec); err != nil {
			bad = append(bad, fmt.Errorf("line %d: %v", line, err))
			continue
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: reading lines: %v", apperrors.ErrInvalidInput, err)
	}
	if len(recs) == 0 && len(bad) > 0 {
		return nil, nil, fmt.Errorf("%w: no readable lines (%d malformed)", apperrors.ErrInvalidInput, len(bad))
	}
	return recs, bad, nil
}
