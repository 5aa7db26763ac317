package ingest

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/agentic-research/lcimorph/internal/graph"
	_ "modernc.org/sqlite"
)

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS activities (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	product TEXT NOT NULL,
	location TEXT NOT NULL,
	unit TEXT,
	code TEXT,
	comment TEXT,
	input TEXT,
	parameters JSON
);
CREATE TABLE IF NOT EXISTS exchanges (
	activity_id INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	name TEXT NOT NULL,
	product TEXT,
	location TEXT,
	unit TEXT,
	amount REAL NOT NULL,
	type TEXT NOT NULL,
	production_volume REAL,
	input TEXT,
	categories JSON,
	comment TEXT,
	PRIMARY KEY (activity_id, seq)
) WITHOUT ROWID;
`

// SQLiteWriter streams activities into a snapshot database in batched
// transactions.
type SQLiteWriter struct {
	db        *sql.DB
	tx        *sql.Tx
	stmtAct   *sql.Stmt
	stmtExc   *sql.Stmt
	batchSize int
	count     int
	nextID    int64
}

// NewSQLiteWriter creates a writer and initializes the schema. An existing
// snapshot at dbPath is cleared.
func NewSQLiteWriter(dbPath string) (*SQLiteWriter, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Performance tuning for bulk insert
	for _, pragma := range []string{"PRAGMA synchronous = OFF", "PRAGMA journal_mode = MEMORY"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if _, err := db.Exec(snapshotSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if _, err := db.Exec(`DELETE FROM exchanges; DELETE FROM activities;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clear snapshot: %w", err)
	}

	w := &SQLiteWriter{db: db, batchSize: 5000}
	if err := w.beginTx(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLiteWriter) beginTx() error {
	var err error
	w.tx, err = w.db.Begin()
	if err != nil {
		return err
	}
	w.stmtAct, err = w.tx.Prepare(`
		INSERT INTO activities (id, name, product, location, unit, code, comment, input, parameters)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	w.stmtExc, err = w.tx.Prepare(`
		INSERT INTO exchanges (activity_id, seq, name, product, location, unit, amount, type,
			production_volume, input, categories, comment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	return err
}

func (w *SQLiteWriter) commitTx() error {
	if w.stmtAct != nil {
		_ = w.stmtAct.Close()
	}
	if w.stmtExc != nil {
		_ = w.stmtExc.Close()
	}
	return w.tx.Commit()
}

// AddActivity writes a and its exchanges.
func (w *SQLiteWriter) AddActivity(a *graph.Activity) error {
	var params []byte
	if len(a.Parameters) > 0 {
		var err error
		if params, err = json.Marshal(a.Parameters); err != nil {
			return fmt.Errorf("encode parameters of %s: %w", a.Identity(), err)
		}
	}
	id := w.nextID
	w.nextID++
	if _, err := w.stmtAct.Exec(id, a.Name, a.Product, a.Location, a.Unit, a.Code, a.Comment, a.Input, params); err != nil {
		return fmt.Errorf("insert %s: %w", a.Identity(), err)
	}
	for seq, e := range a.Exchanges {
		var cats []byte
		if len(e.Categories) > 0 {
			cats, _ = json.Marshal(e.Categories)
		}
		_, err := w.stmtExc.Exec(id, seq, e.Name, e.Product, e.Location, e.Unit, e.Amount, string(e.Type),
			e.ProductionVolume, e.Input, cats, e.Comment)
		if err != nil {
			return fmt.Errorf("insert exchange %d of %s: %w", seq, a.Identity(), err)
		}
	}

	w.count++
	if w.count >= w.batchSize {
		if err := w.commitTx(); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
		if err := w.beginTx(); err != nil {
			return fmt.Errorf("begin batch: %w", err)
		}
		w.count = 0
	}
	return nil
}

// Close commits the pending batch and closes the database.
func (w *SQLiteWriter) Close() error {
	if err := w.commitTx(); err != nil {
		_ = w.db.Close()
		return err
	}
	if _, err := w.db.Exec(`CREATE INDEX IF NOT EXISTS idx_activity_identity ON activities(name, product, location)`); err != nil {
		_ = w.db.Close()
		return fmt.Errorf("create index: %w", err)
	}
	return w.db.Close()
}

// WriteSnapshot persists every activity of g to dbPath in insertion order.
func WriteSnapshot(dbPath string, g *graph.Graph) error {
	w, err := NewSQLiteWriter(dbPath)
	if err != nil {
		return err
	}
	for _, a := range g.Activities() {
		if err := w.AddActivity(a); err != nil {
			_ = w.Close()
			return err
		}
	}
	return w.Close()
}
