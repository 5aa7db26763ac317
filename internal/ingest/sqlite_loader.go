package ingest

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/agentic-research/lcimorph/internal/graph"
	_ "modernc.org/sqlite"
)

// StreamActivities iterates over the activities of a snapshot in the order
// they were written, calling fn for each one. Every activity row is read
// before any exchanges; exchanges are loaded for one activity at a time, just
// before fn sees it.
func StreamActivities(dbPath string, fn func(a *graph.Activity) error) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }() // safe to ignore

	excStmt, err := db.Prepare(`
		SELECT name, product, location, unit, amount, type, production_volume, input, categories, comment
		FROM exchanges WHERE activity_id = ? ORDER BY seq
	`)
	if err != nil {
		return fmt.Errorf("prepare exchanges: %w", err)
	}
	defer func() { _ = excStmt.Close() }() // safe to ignore

	rows, err := db.Query(`
		SELECT id, name, product, location, unit, code, comment, input, parameters
		FROM activities ORDER BY id
	`)
	if err != nil {
		return fmt.Errorf("query activities: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	// modernc serves one statement per connection at a time; collect ids
	// first so the exchange query does not interleave with the cursor.
	type pending struct {
		id  int64
		act *graph.Activity
	}
	var acts []pending
	for rows.Next() {
		var (
			id                         int64
			unit, code, comment, input sql.NullString
			params                     []byte
			a                          = &graph.Activity{}
		)
		if err := rows.Scan(&id, &a.Name, &a.Product, &a.Location, &unit, &code, &comment, &input, &params); err != nil {
			return fmt.Errorf("scan activity: %w", err)
		}
		a.Unit, a.Code, a.Comment, a.Input = unit.String, code.String, comment.String, input.String
		if len(params) > 0 {
			if err := json.Unmarshal(params, &a.Parameters); err != nil {
				return fmt.Errorf("parse parameters of %s: %w", a.Identity(), err)
			}
		}
		acts = append(acts, pending{id, a})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate activities: %w", err)
	}
	_ = rows.Close()

	for _, p := range acts {
		if err := loadExchanges(excStmt, p.id, p.act); err != nil {
			return err
		}
		if err := fn(p.act); err != nil {
			return err
		}
	}
	return nil
}

func loadExchanges(stmt *sql.Stmt, id int64, a *graph.Activity) error {
	rows, err := stmt.Query(id)
	if err != nil {
		return fmt.Errorf("query exchanges of %s: %w", a.Identity(), err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	for rows.Next() {
		var (
			e                            graph.Exchange
			product, location, unit, typ sql.NullString
			input, comment               sql.NullString
			pv                           sql.NullFloat64
			cats                         []byte
		)
		if err := rows.Scan(&e.Name, &product, &location, &unit, &e.Amount, &typ, &pv, &input, &cats, &comment); err != nil {
			return fmt.Errorf("scan exchange of %s: %w", a.Identity(), err)
		}
		e.Product, e.Location, e.Unit = product.String, location.String, unit.String
		e.Type = graph.ExchangeType(typ.String)
		e.ProductionVolume = pv.Float64
		e.Input, e.Comment = input.String, comment.String
		if len(cats) > 0 {
			if err := json.Unmarshal(cats, &e.Categories); err != nil {
				return fmt.Errorf("parse categories of %s: %w", a.Identity(), err)
			}
		}
		a.Exchanges = append(a.Exchanges, e)
	}
	return rows.Err()
}

// LoadActivities reads a whole snapshot into a fresh graph.
func LoadActivities(dbPath string) (*graph.Graph, error) {
	g := graph.New()
	err := StreamActivities(dbPath, func(a *graph.Activity) error {
		return g.Add(a)
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}
