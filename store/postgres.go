package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-books-proxy/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS books (
	id SERIAL PRIMARY KEY,
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

// Postgres stores books through a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string, maxConns int) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	database := cfg.ConnConfig.Database
	user := cfg.ConnConfig.User

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, classifyPostgresError(err, database, user)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classifyPostgresError(err, database, user)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresSchema)
	return err
}

func (p *Postgres) InsertBooks(ctx context.Context, books []*models.Book) error {
	if len(books) == 0 {
		return nil
	}
	query := postgresInsertSQL()
	batch := &pgx.Batch{}
	for _, book := range books {
		batch.Queue(query, bookArgs(book)...)
	}

	results := p.pool.SendBatch(ctx, batch)
	for i := range books {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("insert book %d (%s): %w", i, books[i].UPC, err)
		}
	}
	return results.Close()
}

func (p *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM books`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return n, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func postgresInsertSQL() string {
	placeholders := make([]string, len(bookColumns))
	for i := range bookColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO books (%s) VALUES (%s)",
		strings.Join(bookColumns, ", "), strings.Join(placeholders, ", "))
}
