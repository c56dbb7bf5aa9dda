package models

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestCategorySpecTarget(t *testing.T) {
	tests := []struct {
		name     string
		expected int
		maxCache int
		want     int
	}{
		{"below cache bound", 5, 2400, 5},
		{"above cache bound", 8722, 2400, 2400},
		{"equal to cache bound", 2400, 2400, 2400},
		{"no cache bound", 668, 0, 668},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := CategorySpec{Path: "kremy", ExpectedCount: tt.expected}
			assert.Equal(t, tt.want, c.Target(tt.maxCache))
		})
	}
}

func TestNewProductRecordTruncatesComposition(t *testing.T) {
	long := strings.Repeat("вода ", 400)

	rec := NewProductRecord(19000012345, 1290, 4.8, 12, long)

	assert.Equal(t, MaxCompositionLength, utf8.RuneCountInString(rec.Composition))
	assert.True(t, utf8.ValidString(rec.Composition))
	assert.Empty(t, rec.Validate())
}

func TestProductRecordValidate(t *testing.T) {
	rec := &ProductRecord{ProductID: 0, Price: -1, Rating: 7, ReviewCount: -2}

	errs := rec.Validate()

	assert.Len(t, errs, 5)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "абв", TruncateRunes("абвгд", 3))
	assert.Equal(t, "abc", TruncateRunes("abc", 10))
	assert.Equal(t, "", TruncateRunes("abc", 0))
}
