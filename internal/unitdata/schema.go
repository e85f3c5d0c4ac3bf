// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package unitdata

import (
	"context"
	"database/sql"

	"github.com/juju/errors"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS kv (
    key  TEXT NOT NULL PRIMARY KEY,
    data TEXT NOT NULL
);`,
}

// applySchema creates the tables the store needs if they do not exist.
func applySchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Trace(err)
	}
	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return errors.Annotate(err, "applying schema")
		}
	}
	return errors.Trace(tx.Commit())
}
