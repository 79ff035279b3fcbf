package parser

import (
	"errors"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-books-proxy/models"
)

func validRawBook() *models.RawBook {
	return &models.RawBook{
		Title:           "A Light in the Attic",
		Image:           "http://example.test/media/cache/fe/72/fe72.jpg",
		Description:     "It's hard to imagine a world without A Light in the Attic.",
		UPC:             "a897fe39b1053632",
		ProductType:     "Books",
		Price:           "£51.77",
		PriceTax:        "£51.77",
		Tax:             "£0.00",
		Availability:    "In stock (22 available)",
		NumberOfReviews: "0",
		URL:             "http://example.test/catalogue/a-light-in-the-attic_1000/index.html",
		ScrapedAt:       time.Date(2025, 11, 4, 13, 9, 13, 0, time.UTC),
	}
}

func TestValidateRawBook(t *testing.T) {
	tests := []struct {
		name    string
		book    *models.RawBook
		wantErr bool
	}{
		{name: "valid book", book: validRawBook(), wantErr: false},
		{name: "nil book", book: nil, wantErr: true},
		{name: "missing title", book: &models.RawBook{Title: "  ", Price: "£10.00"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRawBook(tt.book)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRawBook() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCleanBook(t *testing.T) {
	raw := &models.RawBook{
		Title:           "Sample",
		Price:           "£51.77",
		PriceTax:        "£51.77",
		Tax:             "£0.00",
		Availability:    "In stock (19 available)",
		NumberOfReviews: "0",
	}

	book, err := CleanBook(raw)
	if err != nil {
		t.Fatalf("CleanBook() error = %v", err)
	}
	if book.Price != 51.77 {
		t.Errorf("price = %v, want 51.77", book.Price)
	}
	if book.PriceTax != 51.77 {
		t.Errorf("price_tax = %v, want 51.77", book.PriceTax)
	}
	if book.Tax != 0 {
		t.Errorf("tax = %v, want 0", book.Tax)
	}
	if book.Availability != 19 {
		t.Errorf("availability = %d, want 19", book.Availability)
	}
	if book.NumberOfReviews != 0 {
		t.Errorf("number_of_reviews = %d, want 0", book.NumberOfReviews)
	}
}

func TestCleanBookKeepsTextFields(t *testing.T) {
	raw := validRawBook()
	book, err := CleanBook(raw)
	if err != nil {
		t.Fatalf("CleanBook() error = %v", err)
	}
	if book.Title != raw.Title || book.UPC != raw.UPC || book.ProductType != raw.ProductType {
		t.Fatalf("text fields changed: %+v", book)
	}
	if book.URL != raw.URL || !book.ScrapedAt.Equal(raw.ScrapedAt) {
		t.Fatalf("provenance fields changed: %+v", book)
	}
}

func TestCleanBookErrors(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*models.RawBook)
		wantField string
	}{
		{name: "missing price", mutate: func(b *models.RawBook) { b.Price = "" }, wantField: "price"},
		{name: "non numeric price tax", mutate: func(b *models.RawBook) { b.PriceTax = "£abc" }, wantField: "price_tax"},
		{name: "missing tax", mutate: func(b *models.RawBook) { b.Tax = "£" }, wantField: "tax"},
		{name: "availability without digits", mutate: func(b *models.RawBook) { b.Availability = "Out of stock" }, wantField: "availability"},
		{name: "missing availability", mutate: func(b *models.RawBook) { b.Availability = "" }, wantField: "availability"},
		{name: "non numeric reviews", mutate: func(b *models.RawBook) { b.NumberOfReviews = "none" }, wantField: "number_of_reviews"},
		{name: "missing reviews", mutate: func(b *models.RawBook) { b.NumberOfReviews = "" }, wantField: "number_of_reviews"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRawBook()
			tt.mutate(raw)

			_, err := CleanBook(raw)
			if !errors.Is(err, ErrValue) {
				t.Fatalf("expected ErrValue, got %v", err)
			}
			var valueErr *ValueError
			if !errors.As(err, &valueErr) {
				t.Fatalf("expected *ValueError, got %T", err)
			}
			if valueErr.Field != tt.wantField {
				t.Fatalf("field = %q, want %q", valueErr.Field, tt.wantField)
			}
		})
	}
}

func TestCleanBookStopsAtFirstFailure(t *testing.T) {
	raw := validRawBook()
	raw.Price = "free"
	raw.Availability = "Out of stock"

	_, err := CleanBook(raw)
	var valueErr *ValueError
	if !errors.As(err, &valueErr) || valueErr.Field != "price" {
		t.Fatalf("expected price failure first, got %v", err)
	}
}

func TestNormalizePrice(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "with currency symbol", input: "£51.77", expected: "51.77"},
		{name: "mojibake symbol", input: "Â£51.77", expected: "51.77"},
		{name: "with whitespace", input: "  £10.50  ", expected: "10.50"},
		{name: "already clean", input: "25.99", expected: "25.99"},
		{name: "multiple symbols", input: "£ 99.99 £", expected: "99.99"},
		{name: "empty string", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizePrice(tt.input)
			if result != tt.expected {
				t.Errorf("NormalizePrice(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestCleanCurrency(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
	}{
		{input: "£51.77", expected: 51.77},
		{input: "51.77", expected: 51.77},
		{input: "£0.00", expected: 0},
		{input: " £1,000 ", expected: -1},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := CleanCurrency("price", tt.input)
			if tt.expected < 0 {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("CleanCurrency(%q) error = %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("CleanCurrency(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCleanAvailability(t *testing.T) {
	tests := []struct {
		input    string
		expected int
		wantErr  bool
	}{
		{input: "In stock (19 available)", expected: 19},
		{input: "  In stock (22 available)  ", expected: 22},
		{input: "3 left, 7 incoming", expected: 3},
		{input: "In stock", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := CleanAvailability(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CleanAvailability(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("CleanAvailability(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}
