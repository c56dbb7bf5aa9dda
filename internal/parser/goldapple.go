package parser

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/cosmetics-harvester/internal/models"
)

// ApplicabilityLabel is the description row naming the body area a product is for.
const ApplicabilityLabel = "область применения"

var (
	skuPattern         = Pattern{Field: "sku", Selector: `meta[itemprop="sku"]`, Attr: "content"}
	pricePattern       = Pattern{Field: "price", Selector: `meta[itemprop="price"]`, Attr: "content"}
	reviewCountPattern = Pattern{Field: "review_count", Selector: `meta[itemprop="reviewCount"]`, Attr: "content"}
	ratingPattern      = Pattern{Field: "rating", Selector: `div[itemprop="ratingValue"]`}
	descriptionPattern = Pattern{Field: "description", Selector: `div[value="Description_0"]`}
	compositionPattern = Pattern{Field: "composition", Selector: `div[text="состав"]`}
)

// ExtractSKU returns the numeric product id from the sku meta tag.
func ExtractSKU(sel *goquery.Selection) (int64, error) {
	return matchInt(skuPattern, sel)
}

// ExtractPrice returns the price in minor units from the price meta tag.
func ExtractPrice(sel *goquery.Selection) (int64, error) {
	return matchInt(pricePattern, sel)
}

// ExtractReviewCount returns the number of reviews on a review page.
func ExtractReviewCount(sel *goquery.Selection) (int, error) {
	n, err := matchInt(reviewCountPattern, sel)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ExtractRating returns the average rating on a review page. The rendered
// number is split over several lines, so all whitespace is removed first.
func ExtractRating(sel *goquery.Selection) (float64, error) {
	raw, err := ratingPattern.Match(sel)
	if err != nil {
		return 0, err
	}

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)

	rating, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, mismatch(ratingPattern.Field, "%q is not a number", cleaned)
	}
	if rating < 0 || rating > 5 {
		return 0, mismatch(ratingPattern.Field, "%v out of range [0,5]", rating)
	}
	return rating, nil
}

// DescriptionRegion returns the product description block that holds the
// applicability and composition rows.
func DescriptionRegion(sel *goquery.Selection) (*goquery.Selection, error) {
	if sel == nil {
		return nil, mismatch(descriptionPattern.Field, "no markup")
	}
	region := sel.Find(descriptionPattern.Selector).First()
	if region.Length() == 0 {
		return nil, mismatch(descriptionPattern.Field, "%s not found", descriptionPattern.Selector)
	}
	return region, nil
}

// ExtractApplicability returns the value of the "область применения" row.
func ExtractApplicability(region *goquery.Selection) (string, error) {
	if region == nil {
		return "", mismatch("applicability", "no markup")
	}

	var label *goquery.Selection
	region.Find("dt").EachWithBreak(func(_ int, dt *goquery.Selection) bool {
		if strings.TrimSpace(dt.Text()) == ApplicabilityLabel {
			label = dt
			return false
		}
		return true
	})
	if label == nil {
		return "", mismatch("applicability", "label %q not found", ApplicabilityLabel)
	}

	value := label.Next()
	if !value.Is("dt") {
		return "", mismatch("applicability", "no value after label")
	}

	span := value.Find("span").First()
	if span.Length() == 0 {
		return "", mismatch("applicability", "value has no span")
	}

	text := strings.TrimSpace(span.Text())
	if text == "" {
		return "", mismatch("applicability", "empty value")
	}
	return text, nil
}

// ExtractComposition returns the ingredient list, truncated to
// models.MaxCompositionLength runes.
func ExtractComposition(region *goquery.Selection) (string, error) {
	if region == nil {
		return "", mismatch(compositionPattern.Field, "no markup")
	}

	block := region.Find(compositionPattern.Selector).First()
	if block.Length() == 0 {
		return "", mismatch(compositionPattern.Field, "%s not found", compositionPattern.Selector)
	}

	inner := block.ChildrenFiltered("div").First()
	if inner.Length() == 0 {
		return "", mismatch(compositionPattern.Field, "no text block")
	}

	text := strings.TrimSpace(inner.Text())
	if text == "" {
		return "", mismatch(compositionPattern.Field, "empty text")
	}
	return models.TruncateRunes(text, models.MaxCompositionLength), nil
}

func matchInt(p Pattern, sel *goquery.Selection) (int64, error) {
	raw, err := p.Match(sel)
	if err != nil {
		return 0, err
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, mismatch(p.Field, "%q is not an integer", raw)
	}
	if n < 0 {
		return 0, mismatch(p.Field, "negative value %d", n)
	}
	return n, nil
}
