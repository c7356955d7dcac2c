package database

import (
	"fmt"

	dbsql "coursehall/api_video/pkg/database/sql"
	"coursehall/api_video/pkg/logging"
)

// ApplySchema executes the embedded schema files in lexical order. Every
// statement is idempotent (IF NOT EXISTS), so reapplying on each startup
// is safe and keeps fresh environments self-provisioning.
func ApplySchema(db PostgresConn, logger logging.Logger) error {
	entries, err := dbsql.Content.ReadDir("schema")
	if err != nil {
		return fmt.Errorf("read embedded schema: %w", err)
	}

	for _, entry := range entries {
		data, err := dbsql.Content.ReadFile("schema/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read schema file %s: %w", entry.Name(), err)
		}
		if _, err := db.Exec(string(data)); err != nil {
			return fmt.Errorf("apply schema file %s: %w", entry.Name(), err)
		}
		logger.WithField("file", entry.Name()).Debug("Applied schema file")
	}

	return nil
}
