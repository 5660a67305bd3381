// Package all registers every storage backend with the storage registry.
package all

import (
	_ "auctionetl/internal/storage/flatfile"
	_ "auctionetl/internal/storage/mssql"
	_ "auctionetl/internal/storage/postgres"
	_ "auctionetl/internal/storage/sqlite"
)
