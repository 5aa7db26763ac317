// Package audit records the activities a run removed from the graph.
//
// Each run appends to one `;`-delimited file named after the model, pathway,
// year and the run date. The file is write-only: nothing in the pipeline reads
// it back.
package audit

import (
	"encoding/csv"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/agentic-research/lcimorph/internal/graph"
	"github.com/go-git/go-billy/v5"
)

// Log appends deleted activity identities to a per-run file.
type Log struct {
	fs   billy.Filesystem
	path string
}

// FileName returns the log file name for a run started at t.
func FileName(model, pathway string, year int, t time.Time) string {
	return fmt.Sprintf("log deleted datasets %s %s %d-%s.csv", model, pathway, year, t.Format(time.DateOnly))
}

// New returns a log writing under dir. The file is created on the first
// Append.
func New(fsys billy.Filesystem, dir, model, pathway string, year int, now time.Time) *Log {
	return &Log{fs: fsys, path: path.Join(dir, FileName(model, pathway, year, now))}
}

// Path returns the file the log appends to.
func (l *Log) Path() string { return l.path }

// Append writes one name;product;location row per identity. A nil log
// discards the rows.
func (l *Log) Append(ids ...graph.Identity) (err error) {
	if l == nil || len(ids) == 0 {
		return nil
	}
	if err := l.fs.MkdirAll(path.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	f, err := l.fs.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open %s: %w", l.path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("audit: close %s: %w", l.path, cerr)
		}
	}()

	w := csv.NewWriter(f)
	w.Comma = ';'
	for _, id := range ids {
		if err := w.Write([]string{id.Name, id.Product, id.Location}); err != nil {
			return fmt.Errorf("audit: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
