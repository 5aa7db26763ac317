// Package ingest reads scenario result files and auxiliary tables into
// labeled cubes, and persists activity graphs as SQLite snapshots.
//
// Every reader goes through a billy.Filesystem so callers can point it at the
// OS (osfs) or at an in-memory fixture (memfs).
package ingest

import (
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/fernet/fernet-go"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

var (
	ErrFileNotFound     = errors.New("scenario file not found")
	ErrDecryption       = errors.New("decryption failed")
	ErrUnsupportedModel = errors.New("unsupported model")
)

// scenarioExts are tried in order.
var scenarioExts = []string{".csv", ".mif"}

// ScenarioFileName returns the base name of a scenario file without extension.
func ScenarioFileName(model, pathway string) string {
	return model + "_" + pathway
}

// readScenario returns the raw bytes of `<dir>/<model>_<pathway>.{csv,mif}`,
// decrypted with key when one is given.
func readScenario(fsys billy.Filesystem, dir, model, pathway string, key *fernet.Key) ([]byte, string, error) {
	base := path.Join(dir, ScenarioFileName(model, pathway))
	for _, ext := range scenarioExts {
		p := base + ext
		raw, err := util.ReadFile(fsys, p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, p, fmt.Errorf("read %s: %w", p, err)
		}
		if key == nil {
			return raw, p, nil
		}
		plain, err := decryptToken(raw, key)
		if err != nil {
			return nil, p, fmt.Errorf("decrypt %s: %w", p, err)
		}
		return plain, p, nil
	}
	return nil, base, fmt.Errorf("%w: %s{%s}", ErrFileNotFound, base, ".csv,.mif")
}

// latin1 widens ISO-8859-1 bytes to UTF-8.
func latin1(b []byte) string {
	ascii := true
	for _, c := range b {
		if c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b)
	}
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return string(r)
}
