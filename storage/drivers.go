package storage

// Blank-imported so their database/sql driver registers itself;
// Open's driverName selects which one is actually dialed.
import (
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)
