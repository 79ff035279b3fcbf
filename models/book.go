// Package models defines data structures for the scraper.
package models

import "time"

// RawBook is a product page as extracted, every field still text.
type RawBook struct {
	Title           string
	Image           string
	Description     string
	UPC             string
	ProductType     string
	Price           string
	PriceTax        string
	Tax             string
	Availability    string
	NumberOfReviews string
	URL             string
	ScrapedAt       time.Time
}

// Book is a cleaned product record ready for persistence.
type Book struct {
	Title           string    `csv:"title" json:"title"`
	Image           string    `csv:"image" json:"image"`
	Description     string    `csv:"description" json:"description"`
	UPC             string    `csv:"upc" json:"upc"`
	ProductType     string    `csv:"product_type" json:"product_type"`
	Price           float64   `csv:"price" json:"price"`
	PriceTax        float64   `csv:"price_tax" json:"price_tax"`
	Tax             float64   `csv:"tax" json:"tax"`
	Availability    int       `csv:"availability" json:"availability"`
	NumberOfReviews int       `csv:"number_of_reviews" json:"number_of_reviews"`
	URL             string    `csv:"url" json:"url"`
	ScrapedAt       time.Time `csv:"scraped_at" json:"scraped_at"`
}

// ScraperResult holds the overall result of a scraping operation
type ScraperResult struct {
	StartTime     time.Time
	EndTime       time.Time
	TotalCount    int
	ErrorCount    int
	FailedURLs    []string
	ErrorsByType  map[string]int
	RetryCount    int
	RequestCount  int
	ProxiedCount  int
	PageCount     int
	ProductVisits int
}
