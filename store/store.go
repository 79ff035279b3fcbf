// Package store persists cleaned book records to a relational database.
package store

import (
	"context"
	"fmt"

	"github.com/aluiziolira/go-scrape-books-proxy/config"
	"github.com/aluiziolira/go-scrape-books-proxy/models"
)

// Store is a relational sink for books.
type Store interface {
	// EnsureSchema creates the books table when it does not exist.
	EnsureSchema(ctx context.Context) error
	// InsertBooks inserts one row per book.
	InsertBooks(ctx context.Context, books []*models.Book) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// Column order of every insert.
var bookColumns = []string{
	"title", "image", "description", "upc", "product_type",
	"price", "price_tax", "tax", "availability", "number_of_reviews",
}

func bookArgs(b *models.Book) []any {
	return []any{
		b.Title,
		b.Image,
		b.Description,
		b.UPC,
		b.ProductType,
		b.Price,
		b.PriceTax,
		b.Tax,
		b.Availability,
		b.NumberOfReviews,
	}
}

// Open connects to the configured backend and creates the schema.
func Open(ctx context.Context, cfg config.Storage) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "postgres":
		s, err = OpenPostgres(ctx, cfg.DSN, cfg.MaxConns)
	case "sqlite":
		s, err = OpenSQLite(ctx, cfg.DSN, cfg.CreateIfMissing)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("create books table: %w", err)
	}
	return s, nil
}
