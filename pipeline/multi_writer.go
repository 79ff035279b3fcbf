package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-scrape-books-proxy/models"
)

// MultiWriter fans every batch out to several writers, e.g. CSV plus the
// database.
type MultiWriter struct {
	writers []namedWriter
	mu      sync.Mutex
}

type namedWriter struct {
	name   string
	writer OutputWriter
}

// NewMultiWriter returns an empty MultiWriter. Register writers with Add;
// the name prefixes error messages.
func NewMultiWriter() *MultiWriter {
	return &MultiWriter{}
}

// Add registers a writer.
func (mw *MultiWriter) Add(name string, w OutputWriter) *MultiWriter {
	mw.writers = append(mw.writers, namedWriter{name: name, writer: w})
	return mw
}

// NewDualWriter writes CSV and JSON lines side by side.
func NewDualWriter(csvFilename, jsonFilename string) (*MultiWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("create CSV writer: %w", err)
	}
	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("create JSON writer: %w", err)
	}
	return NewMultiWriter().Add("csv", csvWriter).Add("json", jsonWriter), nil
}

// Write stops at the first failing writer.
func (mw *MultiWriter) Write(books []*models.Book) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	for _, nw := range mw.writers {
		if err := nw.writer.Write(books); err != nil {
			return fmt.Errorf("%s write: %w", nw.name, err)
		}
	}
	return nil
}

// Close closes every writer and joins their errors.
func (mw *MultiWriter) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	var errs []error
	for _, nw := range mw.writers {
		if err := nw.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close: %w", nw.name, err))
		}
	}
	return errors.Join(errs...)
}

// Validate validates every writer and joins their errors.
func (mw *MultiWriter) Validate() error {
	var errs []error
	for _, nw := range mw.writers {
		if err := nw.writer.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s validation: %w", nw.name, err))
		}
	}
	return errors.Join(errs...)
}
