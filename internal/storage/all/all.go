// Package all registers every storage backend with the storage registry.
package all

import (
	_ "eavetl/internal/storage/duckdb"
	_ "eavetl/internal/storage/mssql"
	_ "eavetl/internal/storage/mysql"
	_ "eavetl/internal/storage/postgres"
	_ "eavetl/internal/storage/sqlite"
)
