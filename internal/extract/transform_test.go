package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scrapeworks/sift/internal/scrape"
)

func TestStripTransformer(t *testing.T) {
	tr := []scrape.Transformer{{Name: scrape.TransformStrip}}
	assert.Equal(t, "hello", applyTransformers("  hello  ", tr))
	assert.Nil(t, applyTransformers(nil, tr))
}

func TestToFloatScrubsCurrency(t *testing.T) {
	tr := []scrape.Transformer{{Name: scrape.TransformToFloat}}
	assert.Equal(t, 1234.56, applyTransformers(" $1,234.56 ", tr))
	assert.Equal(t, 0.0, applyTransformers("invalid", tr))
}

func TestToFloatEuropeanFormat(t *testing.T) {
	// Dot thousands separator, comma decimal separator.
	tr := []scrape.Transformer{{Name: scrape.TransformToFloat, Args: []string{",", "."}}}
	assert.Equal(t, 1234.56, applyTransformers("€1.234,56", tr))
}

func TestToInt(t *testing.T) {
	tr := []scrape.Transformer{{Name: scrape.TransformToInt}}
	assert.Equal(t, int64(12345), applyTransformers("Order #12345", tr))
	assert.Equal(t, int64(0), applyTransformers("No digits", tr))
	assert.Equal(t, int64(12), applyTransformers("12.0", tr))
}

func TestRegexExtraction(t *testing.T) {
	tr := []scrape.Transformer{{Name: scrape.TransformRegex, Args: []string{`Order: (\d+)`}}}
	assert.Equal(t, "9999", applyTransformers("Your Order: 9999 confirmed", tr))
	assert.Nil(t, applyTransformers("No match here", tr))
}

func TestRegexWithoutGroupUsesWholeMatch(t *testing.T) {
	tr := []scrape.Transformer{{Name: scrape.TransformRegex, Args: []string{`\d+`}}}
	assert.Equal(t, "42", applyTransformers("answer 42 found", tr))
}

func TestChainedTransformers(t *testing.T) {
	tr := []scrape.Transformer{
		{Name: scrape.TransformStrip},
		{Name: scrape.TransformReplace, Args: []string{"k", "000"}},
		{Name: scrape.TransformToInt},
	}
	// "  10k  " -> "10k" -> "10000" -> 10000
	assert.Equal(t, int64(10000), applyTransformers("  10k  ", tr))
}
