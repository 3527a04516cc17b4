//go:build !cgo

package cloud

import (
	"database/sql"
	"errors"
)

func openLibSQL(dsn string) (*sql.DB, error) {
	return nil, errors.New("libsql DSNs require a cgo build (CGO_ENABLED=1)")
}
