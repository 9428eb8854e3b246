// Package all registers every storage backend with the factory registry.
//
// Binaries that pick the backend from config at run time blank-import this
// package once instead of tracking the backend list themselves.
package all

import (
	_ "salesetl/internal/storage/mssql"
	_ "salesetl/internal/storage/postgres"
	_ "salesetl/internal/storage/sqlite"
)
