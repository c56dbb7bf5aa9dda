package models

import (
	"fmt"
	"unicode/utf8"
)

// MaxCompositionLength is the longest composition text kept on a record, in runes.
const MaxCompositionLength = 1500

// ProductURL references a single product detail page.
type ProductURL = string

// CategorySpec is a catalog subsection and its approximate item count.
type CategorySpec struct {
	Path          string `json:"path"`
	ExpectedCount int    `json:"expected_count"`
}

// Target returns how many URLs a crawl of this category should collect.
func (c CategorySpec) Target(maxCache int) int {
	if maxCache > 0 && maxCache < c.ExpectedCount {
		return maxCache
	}
	return c.ExpectedCount
}

// ProductRecord is one row of the harvested table.
type ProductRecord struct {
	ProductID   int64   `json:"product_id"`
	Price       int64   `json:"price"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"review_count"`
	Composition string  `json:"composition"`
}

// NewProductRecord builds a record, truncating the composition to MaxCompositionLength.
func NewProductRecord(productID, price int64, rating float64, reviewCount int, composition string) *ProductRecord {
	return &ProductRecord{
		ProductID:   productID,
		Price:       price,
		Rating:      rating,
		ReviewCount: reviewCount,
		Composition: TruncateRunes(composition, MaxCompositionLength),
	}
}

// Validate reports the fields that break the record invariants.
func (p *ProductRecord) Validate() []string {
	var errors []string

	if p.ProductID <= 0 {
		errors = append(errors, "product_id must be positive")
	}

	if p.Price < 0 {
		errors = append(errors, "price must not be negative")
	}

	if p.Rating < 0 || p.Rating > 5 {
		errors = append(errors, fmt.Sprintf("rating %v out of range [0,5]", p.Rating))
	}

	if p.ReviewCount < 0 {
		errors = append(errors, "review_count must not be negative")
	}

	if p.Composition == "" {
		errors = append(errors, "composition is required")
	}

	return errors
}

// TruncateRunes cuts s to at most n runes without splitting a UTF-8 sequence.
func TruncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
