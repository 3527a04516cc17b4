//go:build cgo

package cloud

import (
	"database/sql"
	"fmt"

	_ "github.com/tursodatabase/go-libsql"
)

func openLibSQL(dsn string) (*sql.DB, error) {
	conn, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql database: %w", err)
	}
	return conn, nil
}
