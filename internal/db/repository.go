package db

import (
	"database/sql"
	"fmt"
	"sync"
)

// Repository provides typed CRUD operations over the core tables. Entity
// operations live in actions.go, photos.go, slots.go, cache.go and kv.go.
type Repository struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries. Statements
	// are prepared on first use and reused afterwards.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// prepare gets or creates a prepared statement from the cache.
func (r *Repository) prepare(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine prepared this first; drop the duplicate.
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements. Call when the Repository is
// no longer needed.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}
