package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/aluiziolira/go-scrape-books-proxy/models"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS books (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT,
	image TEXT,
	description TEXT,
	upc TEXT,
	product_type TEXT,
	price FLOAT,
	price_tax FLOAT,
	tax FLOAT,
	availability INTEGER,
	number_of_reviews INTEGER
)`

// SQLite stores books in a local database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the database at path. Unless create is set the file
// must already exist. ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string, create bool) (*SQLite, error) {
	file := strings.TrimPrefix(path, "file:")
	if i := strings.IndexByte(file, '?'); i >= 0 {
		file = file[:i]
	}
	if file != ":memory:" && !create {
		if _, err := os.Stat(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, ErrDatabaseMissing{Database: file, Err: err}
			}
			return nil, ErrConnection{Err: err}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, ErrConnection{Err: err}
	}
	if file == ":memory:" {
		// Each connection would get its own database otherwise.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, ErrConnection{Err: err}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return err
}

func (s *SQLite) InsertBooks(ctx context.Context, books []*models.Book) error {
	if len(books) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteInsertSQL())
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, book := range books {
		if _, err := stmt.ExecContext(ctx, bookArgs(book)...); err != nil {
			return fmt.Errorf("insert book %d (%s): %w", i, book.UPC, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return n, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func sqliteInsertSQL() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(bookColumns)), ", ")
	return fmt.Sprintf("INSERT INTO books (%s) VALUES (%s)", strings.Join(bookColumns, ", "), placeholders)
}
