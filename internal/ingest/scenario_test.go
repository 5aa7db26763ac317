package ingest

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/agentic-research/lcimorph/internal/cube"
	"github.com/fernet/fernet-go"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const remindCSV = `Model;Scenario;Region;Variable;Unit;2005;2010;2020;
REMIND;SSP2-Base;EUR;SE|Electricity|Coal;EJ/yr;1;1;1;
REMIND;SSP2-Base;DEU;SE|Electricity|Coal;EJ/yr;2;3;4;
REMIND;SSP2-Base;DEU;SE|Electricity|Coal;EJ/yr;4;5;6;
REMIND;SSP2-Base;DEU;Population;million;80;81;82;
REMIND;SSP2-Base;CHA;SE|Electricity|Coal;EJ/yr;7;;9;
`

func writeFile(t *testing.T, fsys billy.Filesystem, p, content string) {
	t.Helper()
	require.NoError(t, util.WriteFile(fsys, p, []byte(content), 0o644))
}

func TestLoader_Remind(t *testing.T) {
	fsys := memfs.New()
	writeFile(t, fsys, "data/remind_SSP2-Base.csv", remindCSV)

	l, err := NewLoader(fsys, "data", "remind", "SSP2-Base", nil, nil)
	require.NoError(t, err)
	c, err := l.Load(context.Background())
	require.NoError(t, err)

	t.Run("aggregate regions dropped", func(t *testing.T) {
		assert.Equal(t, []string{"CHA", "DEU"}, c.Labels(cube.RegionAxis))
	})
	t.Run("non whitelisted variables dropped", func(t *testing.T) {
		assert.Equal(t, []string{"SE|Electricity|Coal"}, c.Labels(cube.VariableAxis))
	})
	t.Run("years sorted", func(t *testing.T) {
		assert.Equal(t, []string{"2005", "2010", "2020"}, c.Labels(cube.YearAxis))
	})
	t.Run("duplicates averaged", func(t *testing.T) {
		v, err := c.At("DEU", "SE|Electricity|Coal", "2010")
		require.NoError(t, err)
		assert.InDelta(t, 4.0, v, 1e-12)
	})
	t.Run("empty cell is NaN", func(t *testing.T) {
		v, err := c.At("CHA", "SE|Electricity|Coal", "2010")
		require.NoError(t, err)
		assert.True(t, math.IsNaN(v))
	})
}

func TestLoader_ImageKeepsAggregates(t *testing.T) {
	fsys := memfs.New()
	writeFile(t, fsys, "data/image_SSP2-RCP26.csv",
		"Region,Variable,Unit,2020,2030\nEUR,Production|Steel,Mt,1,2\nWEU,Production|Steel,Mt,3,4\nWEU,GDP,bn,3,4\n")

	l, err := NewLoader(fsys, "data", "IMAGE", "SSP2-RCP26", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ',', l.Layout().Delimiter)

	c, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"EUR", "WEU"}, c.Labels(cube.RegionAxis))
	assert.Equal(t, []string{"Production|Steel"}, c.Labels(cube.VariableAxis))
}

func TestLoader_MifFallback(t *testing.T) {
	fsys := memfs.New()
	writeFile(t, fsys, "data/remind_SSP2-NPi.mif", remindCSV)

	l, err := NewLoader(fsys, "data", "remind", "SSP2-NPi", nil, nil)
	require.NoError(t, err)
	c, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"CHA", "DEU"}, c.Labels(cube.RegionAxis))
}

func TestLoader_Errors(t *testing.T) {
	t.Run("unsupported model", func(t *testing.T) {
		_, err := NewLoader(memfs.New(), "data", "message", "x", nil, nil)
		assert.ErrorIs(t, err, ErrUnsupportedModel)
	})

	t.Run("missing file", func(t *testing.T) {
		l, err := NewLoader(memfs.New(), "data", "remind", "nope", nil, nil)
		require.NoError(t, err)
		_, err = l.Load(context.Background())
		assert.ErrorIs(t, err, ErrFileNotFound)
	})

	t.Run("cancelled context", func(t *testing.T) {
		fsys := memfs.New()
		writeFile(t, fsys, "data/remind_SSP2-Base.csv", remindCSV)
		l, err := NewLoader(fsys, "data", "remind", "SSP2-Base", nil, nil)
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = l.Load(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("header without region", func(t *testing.T) {
		fsys := memfs.New()
		writeFile(t, fsys, "data/image_x.csv", "Variable,2020\nProduction|Steel,1\n")
		l, err := NewLoader(fsys, "data", "image", "x", nil, nil)
		require.NoError(t, err)
		_, err = l.Load(context.Background())
		assert.Error(t, err)
	})
}

func TestLoader_Encrypted(t *testing.T) {
	encoded, err := GenerateFernetKey()
	require.NoError(t, err)
	key, err := ParseFernetKey(encoded)
	require.NoError(t, err)

	token, err := fernet.EncryptAndSign([]byte(remindCSV), key)
	require.NoError(t, err)

	fsys := memfs.New()
	writeFile(t, fsys, "data/remind_SSP2-Base.csv", string(token))

	t.Run("right key", func(t *testing.T) {
		l, err := NewLoader(fsys, "data", "remind", "SSP2-Base", key, nil)
		require.NoError(t, err)
		c, err := l.Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"CHA", "DEU"}, c.Labels(cube.RegionAxis))
	})

	t.Run("wrong key", func(t *testing.T) {
		otherEncoded, err := GenerateFernetKey()
		require.NoError(t, err)
		other, err := ParseFernetKey(otherEncoded)
		require.NoError(t, err)
		l, err := NewLoader(fsys, "data", "remind", "SSP2-Base", other, nil)
		require.NoError(t, err)
		_, err = l.Load(context.Background())
		assert.ErrorIs(t, err, ErrDecryption)
	})
}

func TestFernet(t *testing.T) {
	encoded, err := GenerateFernetKey()
	require.NoError(t, err)
	key, err := ParseFernetKey(encoded)
	require.NoError(t, err)

	for _, msg := range []string{"a", "exactly sixteen!", "a somewhat longer message spanning blocks"} {
		token, err := fernet.EncryptAndSign([]byte(msg), key)
		require.NoError(t, err)
		plain, err := decryptToken(token, key)
		require.NoError(t, err)
		assert.Equal(t, msg, string(plain))
	}

	t.Run("unpadded key and trailing newline", func(t *testing.T) {
		k, err := ParseFernetKey(strings.TrimRight(encoded, "=") + "\n")
		require.NoError(t, err)
		assert.Equal(t, *key, *k)
		token, err := fernet.EncryptAndSign([]byte("payload"), k)
		require.NoError(t, err)
		plain, err := decryptToken(append(token, '\n'), key)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(plain))
	})

	t.Run("tampered token", func(t *testing.T) {
		token, err := fernet.EncryptAndSign([]byte("payload"), key)
		require.NoError(t, err)
		token[len(token)/2] ^= 'A' ^ 'B'
		_, err = decryptToken(token, key)
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("bad key", func(t *testing.T) {
		_, err := ParseFernetKey("c2hvcnQ=")
		assert.ErrorIs(t, err, ErrDecryption)
	})
}
