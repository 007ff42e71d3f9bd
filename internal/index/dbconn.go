// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package index implements the searchable map from metadata to
// (segment, offset, size): one sqlite database per dataset for the
// ondisk2 layout, one small database per segment for iseg, and the
// MANIFEST of the simple layout.
package index

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"
)

var registerDriverOnce sync.Once

const driverName = "sqlite3WithHooks"

func registerDriver() {
	registerDriverOnce.Do(func() {
		sql.Register(driverName, sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &Hooks{}))
	})
}

// connect opens one sqlite index file.
func connect(path string) (*sqlx.DB, error) {
	registerDriver()
	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return nil, err
	}
	db, err := sqlx.Open(driverName, fmt.Sprintf("%s?_busy_timeout=3000&_journal_mode=TRUNCATE", path))
	if err != nil {
		return nil, err
	}
	// sqlite does not multithread; more connections would only queue
	// on locks
	db.SetMaxOpenConns(1)
	return db, nil
}
