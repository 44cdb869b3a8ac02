// Package all registers every built-in storage backend with the storage
// factory. Import it for side effects:
//
//	import _ "pipekit/internal/storage/all"
//
// after which storage.New and storage.EnsureTable accept the kinds
// "postgres", "mssql", "mysql" and "sqlite". A binary that needs fewer
// backends can import the individual packages instead.
package all

import (
	_ "pipekit/internal/storage/mssql"
	_ "pipekit/internal/storage/mysql"
	_ "pipekit/internal/storage/postgres"
	_ "pipekit/internal/storage/sqlite"
)
