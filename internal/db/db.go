package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens one SQLite database file and applies the connection pragmas.
// Every data set in the project is a separate file opened this way: each
// inventory, the registry, and the client's local state.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	// WAL so readers stay unblocked during scan-batch transactions;
	// busy_timeout covers concurrent handles to the same inventory file.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q on %s: %w", p, path, err)
		}
	}

	return db, nil
}
