package db

import (
	"strings"

	"github.com/teranos/recwake/errors"
)

// ErrDatabaseClosed is returned when the store is used after shutdown
// closed the connection.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is
// closed, either our sentinel or the raw driver message, which cannot be
// wrapped at the source.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
