// Package all links every storage backend into the binary.
package all

import (
	_ "erpsync/internal/storage/mssql"
	_ "erpsync/internal/storage/postgres"
	_ "erpsync/internal/storage/sqlite"
)
