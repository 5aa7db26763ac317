package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/agentic-research/lcimorph/internal/graph"
	"github.com/agentic-research/lcimorph/internal/observability"
	"go.opentelemetry.io/otel/attribute"
)

// ErrUnsupportedInventory is returned for inventory files with an unknown
// extension.
var ErrUnsupportedInventory = errors.New("unsupported inventory format")

// ReadInventory loads an activity graph from a file or a directory. Files are
// dispatched on extension: .db and .sqlite are snapshots written by
// WriteSnapshot, .json holds an array of activities. Directories are walked in
// lexical order and unsupported files are skipped.
func ReadInventory(ctx context.Context, path string) (g *graph.Graph, err error) {
	_, span := observability.StartSpan(ctx, "ingest.ReadInventory", attribute.String("path", path))
	defer func() { observability.EndSpan(span, err) }()

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	g = graph.New()
	if !info.IsDir() {
		if err := readInventoryFile(g, path, true); err != nil {
			return nil, err
		}
		return g, nil
	}

	var files []string
	err = filepath.Walk(path, func(p string, d os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := readInventoryFile(g, f, false); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func readInventoryFile(g *graph.Graph, path string, strict bool) error {
	switch filepath.Ext(path) {
	case ".db", ".sqlite":
		return StreamActivities(path, g.Add)
	case ".json":
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var acts []*graph.Activity
		if err := json.Unmarshal(content, &acts); err != nil {
			return fmt.Errorf("failed to parse json %s: %w", path, err)
		}
		for _, a := range acts {
			if err := g.Add(a); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}
		return nil
	default:
		if strict {
			return fmt.Errorf("%w: %s", ErrUnsupportedInventory, path)
		}
		return nil // Skip unsupported files
	}
}

// WriteInventory persists g to path, choosing the format from the extension
// the same way ReadInventory does.
func WriteInventory(path string, g *graph.Graph) error {
	switch filepath.Ext(path) {
	case ".db", ".sqlite":
		return WriteSnapshot(path, g)
	case ".json":
		b, err := json.MarshalIndent(g.Activities(), "", "  ")
		if err != nil {
			return err
		}
		return os.WriteFile(path, b, 0o644)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedInventory, path)
	}
}
