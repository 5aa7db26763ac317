package audit

import (
	"testing"
	"time"

	"github.com/agentic-research/lcimorph/internal/graph"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileName(t *testing.T) {
	day := time.Date(2026, 3, 7, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, "log deleted datasets remind SSP2-Base 2035-2026-03-07.csv",
		FileName("remind", "SSP2-Base", 2035, day))
}

func TestAppend(t *testing.T) {
	fsys := memfs.New()
	l := New(fsys, "logs", "remind", "SSP2-Base", 2035, time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC))

	require.NoError(t, l.Append(graph.Identity{Name: "market for steel", Product: "steel", Location: "RER"}))
	require.NoError(t, l.Append(
		graph.Identity{Name: "market for steel", Product: "steel", Location: "RoW"},
		graph.Identity{Name: "cement; clinker", Product: "clinker", Location: "CH"},
	))
	require.NoError(t, l.Append())

	got, err := util.ReadFile(fsys, l.Path())
	require.NoError(t, err)
	assert.Equal(t,
		"market for steel;steel;RER\n"+
			"market for steel;steel;RoW\n"+
			"\"cement; clinker\";clinker;CH\n",
		string(got))
}

func TestNilLog(t *testing.T) {
	var l *Log
	assert.NoError(t, l.Append(graph.Identity{Name: "x"}))
}
