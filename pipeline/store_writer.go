package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/aluiziolira/go-scrape-books-proxy/models"
	"github.com/aluiziolira/go-scrape-books-proxy/store"
)

// StoreWriter inserts batches into a relational store.
type StoreWriter struct {
	ctx     context.Context
	store   store.Store
	timeout time.Duration
}

// NewStoreWriter wraps s. Each batch insert is bounded by timeout when it
// is positive.
func NewStoreWriter(ctx context.Context, s store.Store, timeout time.Duration) *StoreWriter {
	if ctx == nil {
		ctx = context.Background()
	}
	return &StoreWriter{ctx: ctx, store: s, timeout: timeout}
}

func (sw *StoreWriter) Write(books []*models.Book) error {
	ctx, cancel := sw.opContext()
	defer cancel()
	if err := sw.store.InsertBooks(ctx, books); err != nil {
		return fmt.Errorf("insert books: %w", err)
	}
	return nil
}

func (sw *StoreWriter) Close() error {
	return sw.store.Close()
}

// Validate ensures the books table holds at least one row.
func (sw *StoreWriter) Validate() error {
	ctx, cancel := sw.opContext()
	defer cancel()
	n, err := sw.store.Count(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("books table is empty")
	}
	return nil
}

func (sw *StoreWriter) opContext() (context.Context, context.CancelFunc) {
	// Inserts still run during shutdown so drained batches are kept.
	base := context.WithoutCancel(sw.ctx)
	if sw.timeout > 0 {
		return context.WithTimeout(base, sw.timeout)
	}
	return context.WithCancel(base)
}
