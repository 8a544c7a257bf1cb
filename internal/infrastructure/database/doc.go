// Package database opens and migrates the service's SQLite store.
//
// The store holds two append-only tables: position_history (one row per
// observed motor movement) and command_audit (one row per issued
// command). Both are written by the motor coordinator and read back by
// the HTTP API's history endpoints.
//
// The pool is pinned to a single connection. SQLite allows one writer,
// and at blind-motor data rates a second reader connection buys nothing
// but lock handling. WAL mode keeps history queries from stalling
// inserts.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: "data/renkei.db", WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are embedded SQL file pairs
// (YYYYMMDD_HHMMSS_description.{up,down}.sql), each applied in its own
// transaction. The database file is created with 0600 permissions and
// every query in the repo uses parameterised statements.
package database
