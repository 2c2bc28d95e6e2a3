package capability

import (
	// Database drivers probed by SQLDriver("postgres") and SQLDriver("mysql").
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)
