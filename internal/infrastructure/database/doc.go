// Package database provides SQLite storage for the gateway.
//
// The gateway keeps very little state of its own: the main configuration
// lives in YAML and equipment state belongs to the controller. What must
// survive restarts is the generated id of every protocol server and
// interface bridge, so that dashboards and peers can keep referring to a
// handle after it is re-created. IDStore owns that table.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//	ids := database.NewIDStore(db)
package database
