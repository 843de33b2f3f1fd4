package store

import (
	"database/sql"
	"fmt"

	"triagetrain/internal/logging"
)

// Migration adds a column to an existing table. CREATE TABLE IF NOT EXISTS
// does not alter tables that already exist, so schema additions for databases
// created by earlier builds go here.
type Migration struct {
	Table  string
	Column string
	Def    string
}

var migrations = []Migration{
	{Table: "training_runs", Column: "duration_ms", Def: "INTEGER NOT NULL DEFAULT 0"},
	{Table: "training_runs", Column: "final_loss", Def: "REAL"},
}

// RunMigrations applies any column additions missing from the open database.
func RunMigrations(db *sql.DB) error {
	for _, m := range migrations {
		exists, err := columnExists(db, m.Table, m.Column)
		if err != nil {
			return fmt.Errorf("check column %s.%s: %w", m.Table, m.Column, err)
		}
		if exists {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("add column %s.%s: %w", m.Table, m.Column, err)
		}
		logging.Store("migrated: added %s.%s", m.Table, m.Column)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notnull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &primaryKey); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
