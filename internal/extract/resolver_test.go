package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapeworks/sift/internal/scrape"
)

const sampleHTML = `
<html>
	<body>
		<div class="product">
			<h1>Gaming Laptop</h1>
			<span class="price">$999.99</span>
			<ul class="specs">
				<li>16GB RAM</li>
				<li>512GB SSD</li>
			</ul>
		</div>
		<div class="product">
			<h1>Office Mouse</h1>
			<span class="price">$19.99</span>
		</div>
		<a class="next" href="/page/2">Next</a>
	</body>
</html>
`

func parseSample(t *testing.T) scrape.Document {
	t.Helper()
	doc, err := NewParser().Parse([]byte(sampleHTML))
	require.NoError(t, err)
	return doc
}

func css(value string) scrape.Selector {
	return scrape.Selector{Type: scrape.SelectorCSS, Value: value}
}

func xpath(value string) scrape.Selector {
	return scrape.Selector{Type: scrape.SelectorXPath, Value: value}
}

func TestCSSSelectorSingle(t *testing.T) {
	doc := parseSample(t)
	rec, err := doc.Extract([]scrape.FieldSpec{
		{Name: "title", Selectors: []scrape.Selector{css("h1")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Gaming Laptop", rec["title"])
}

func TestXPathSelectorSingle(t *testing.T) {
	doc := parseSample(t)
	rec, err := doc.Extract([]scrape.FieldSpec{
		{Name: "price", Selectors: []scrape.Selector{xpath("//span[@class='price']")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "$999.99", rec["price"])
}

func TestSelectorPriorityOrder(t *testing.T) {
	doc := parseSample(t)
	rec, err := doc.Extract([]scrape.FieldSpec{
		{Name: "title", Selectors: []scrape.Selector{css(".nonexistent"), css("h1")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Gaming Laptop", rec["title"])
}

func TestListExtractionWithChildren(t *testing.T) {
	doc := parseSample(t)
	rec, err := doc.Extract([]scrape.FieldSpec{
		{
			Name:      "products",
			IsList:    true,
			Selectors: []scrape.Selector{css("div.product")},
			Children: []scrape.FieldSpec{
				{Name: "name", Selectors: []scrape.Selector{css("h1")}},
				{
					Name:         "price",
					Selectors:    []scrape.Selector{css(".price")},
					Transformers: []scrape.Transformer{{Name: scrape.TransformToFloat}},
				},
			},
		},
	})
	require.NoError(t, err)

	products, ok := rec["products"].([]any)
	require.True(t, ok)
	require.Len(t, products, 2)

	first := products[0].(map[string]any)
	assert.Equal(t, "Gaming Laptop", first["name"])
	assert.Equal(t, 999.99, first["price"])

	second := products[1].(map[string]any)
	assert.Equal(t, "Office Mouse", second["name"])
	assert.Equal(t, 19.99, second["price"])
}

func TestListOfScalars(t *testing.T) {
	doc := parseSample(t)
	rec, err := doc.Extract([]scrape.FieldSpec{
		{Name: "specs", IsList: true, Selectors: []scrape.Selector{css(".specs li")}},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"16GB RAM", "512GB SSD"}, rec["specs"])
}

func TestMissingElementYieldsNil(t *testing.T) {
	doc := parseSample(t)
	rec, err := doc.Extract([]scrape.FieldSpec{
		{Name: "title", Selectors: []scrape.Selector{css("h1")}},
		{Name: "missing", Selectors: []scrape.Selector{css(".nonexistent")}},
	})
	require.NoError(t, err)
	assert.Nil(t, rec["missing"])
}

func TestExtractFailsWhenNothingMatches(t *testing.T) {
	doc := parseSample(t)
	_, err := doc.Extract([]scrape.FieldSpec{
		{Name: "missing", Selectors: []scrape.Selector{css(".nonexistent")}},
	})
	assert.Error(t, err)
}

func TestAttributeModeMissingAttributeYieldsEmptyString(t *testing.T) {
	doc := parseSample(t)
	rec, err := doc.Extract([]scrape.FieldSpec{
		{Name: "next", Selectors: []scrape.Selector{css("a.next")}, Attribute: "href"},
		{Name: "rel", Selectors: []scrape.Selector{css("a.next")}, Attribute: "rel"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/page/2", rec["next"])
	assert.Equal(t, "", rec["rel"])
}

func TestSelectAttribute(t *testing.T) {
	doc := parseSample(t)

	href, ok := doc.SelectAttribute(css("a.next"), "href")
	require.True(t, ok)
	assert.Equal(t, "/page/2", href)

	_, ok = doc.SelectAttribute(css("a.gone"), "href")
	assert.False(t, ok)

	_, ok = doc.SelectAttribute(css("a.next"), "rel")
	assert.False(t, ok)
}

func TestSelectAttributeAll(t *testing.T) {
	body := []byte(`<html><body>
		<a href="/a">A</a>
		<a>no href</a>
		<a href="/b">B</a>
	</body></html>`)
	doc, err := NewParser().Parse(body)
	require.NoError(t, err)

	hrefs := doc.SelectAttributeAll(css("a"), "href")
	assert.Equal(t, []string{"/a", "/b"}, hrefs)
}

func TestInvalidSelectorsMatchNothing(t *testing.T) {
	doc := parseSample(t)
	rec, err := doc.Extract([]scrape.FieldSpec{
		{Name: "title", Selectors: []scrape.Selector{css("h1")}},
		{Name: "bad_css", Selectors: []scrape.Selector{css("p..[")}},
		{Name: "bad_xpath", Selectors: []scrape.Selector{xpath("///[[")}},
	})
	require.NoError(t, err)
	assert.Nil(t, rec["bad_css"])
	assert.Nil(t, rec["bad_xpath"])
}
