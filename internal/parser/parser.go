package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrMarkupMismatch is returned when an expected field is absent or malformed.
var ErrMarkupMismatch = errors.New("markup mismatch")

// ExtractionError describes which field could not be extracted and why.
type ExtractionError struct {
	Field  string
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %s", e.Field, e.Reason)
}

func (e *ExtractionError) Unwrap() error {
	return ErrMarkupMismatch
}

func mismatch(field, format string, args ...any) error {
	return &ExtractionError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Pattern is a fixed description of where a field lives in the markup.
// An empty Attr means the element's text content.
type Pattern struct {
	Field    string
	Selector string
	Attr     string
}

// Match returns the raw value of the first element matching the pattern.
func (p Pattern) Match(sel *goquery.Selection) (string, error) {
	if sel == nil {
		return "", mismatch(p.Field, "no markup")
	}

	el := sel.Find(p.Selector).First()
	if el.Length() == 0 {
		return "", mismatch(p.Field, "%s not found", p.Selector)
	}

	if p.Attr == "" {
		return el.Text(), nil
	}

	value, ok := el.Attr(p.Attr)
	if !ok {
		return "", mismatch(p.Field, "%s has no %s attribute", p.Selector, p.Attr)
	}
	return strings.TrimSpace(value), nil
}

// Parse builds the query document for a page body.
func Parse(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}
