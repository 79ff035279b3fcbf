// Package parser validates and cleans extracted book records.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-books-proxy/models"
)

// ErrValue matches every field conversion failure.
var ErrValue = errors.New("invalid value")

// ValueError reports a field whose text could not be converted.
type ValueError struct {
	Field string
	Value string
	Err   error
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ValueError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrValue) hold for any ValueError.
func (e *ValueError) Is(target error) bool {
	return target == ErrValue
}

var (
	errMissing  = errors.New("missing")
	errNoDigits = errors.New("no digits")

	digitsRe = regexp.MustCompile(`\d+`)
	// The mojibake form shows up when the page is decoded as latin-1.
	currencyReplacer = strings.NewReplacer("Â£", "", "£", "")
)

// ValidateRawBook ensures the scraper captured the required fields.
func ValidateRawBook(b *models.RawBook) error {
	if b == nil {
		return fmt.Errorf("book is nil")
	}
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("book missing title")
	}
	return nil
}

// CleanBook converts a raw record into typed fields. Fields are converted
// in a fixed order and the first failure aborts the record.
func CleanBook(raw *models.RawBook) (*models.Book, error) {
	if raw == nil {
		return nil, fmt.Errorf("book is nil")
	}
	price, err := CleanCurrency("price", raw.Price)
	if err != nil {
		return nil, err
	}
	priceTax, err := CleanCurrency("price_tax", raw.PriceTax)
	if err != nil {
		return nil, err
	}
	tax, err := CleanCurrency("tax", raw.Tax)
	if err != nil {
		return nil, err
	}
	availability, err := CleanAvailability(raw.Availability)
	if err != nil {
		return nil, err
	}
	reviews, err := CleanReviews(raw.NumberOfReviews)
	if err != nil {
		return nil, err
	}

	return &models.Book{
		Title:           strings.TrimSpace(raw.Title),
		Image:           strings.TrimSpace(raw.Image),
		Description:     strings.TrimSpace(raw.Description),
		UPC:             strings.TrimSpace(raw.UPC),
		ProductType:     strings.TrimSpace(raw.ProductType),
		Price:           price,
		PriceTax:        priceTax,
		Tax:             tax,
		Availability:    availability,
		NumberOfReviews: reviews,
		URL:             raw.URL,
		ScrapedAt:       raw.ScrapedAt,
	}, nil
}

// NormalizePrice removes the currency symbol and surrounding whitespace.
func NormalizePrice(price string) string {
	return strings.TrimSpace(currencyReplacer.Replace(strings.TrimSpace(price)))
}

// CleanCurrency parses a pound amount such as "£51.77". The symbol is
// optional.
func CleanCurrency(field, value string) (float64, error) {
	normalized := NormalizePrice(value)
	if normalized == "" {
		return 0, &ValueError{Field: field, Value: value, Err: errMissing}
	}
	parsed, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, &ValueError{Field: field, Value: value, Err: err}
	}
	return parsed, nil
}

// CleanAvailability extracts the stock count from text like
// "In stock (19 available)".
func CleanAvailability(value string) (int, error) {
	if strings.TrimSpace(value) == "" {
		return 0, &ValueError{Field: "availability", Value: value, Err: errMissing}
	}
	match := digitsRe.FindString(value)
	if match == "" {
		return 0, &ValueError{Field: "availability", Value: value, Err: errNoDigits}
	}
	parsed, err := strconv.Atoi(match)
	if err != nil {
		return 0, &ValueError{Field: "availability", Value: value, Err: err}
	}
	return parsed, nil
}

// CleanReviews parses the review count.
func CleanReviews(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, &ValueError{Field: "number_of_reviews", Value: value, Err: errMissing}
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, &ValueError{Field: "number_of_reviews", Value: value, Err: err}
	}
	return parsed, nil
}
