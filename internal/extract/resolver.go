// Package extract parses fetched documents and resolves field spec trees
// into records. Selectors within a field are tried in priority order; the
// first one that yields values wins. CSS selectors are evaluated through
// goquery, XPath through htmlquery, both against the same parsed tree.
package extract

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/scrapeworks/sift/internal/scrape"
)

// HTMLParser implements scrape.Parser for HTML bodies.
type HTMLParser struct{}

// NewParser returns an HTMLParser.
func NewParser() *HTMLParser {
	return &HTMLParser{}
}

// Parse builds a Document from the raw body.
func (p *HTMLParser) Parse(body []byte) (scrape.Document, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &document{root: root}, nil
}

type document struct {
	root *html.Node
}

// Extract resolves every top-level field against the document root. It fails
// only when no field produced a value at all, which signals a page whose
// structure does not match the job's selectors.
func (d *document) Extract(fields []scrape.FieldSpec) (scrape.Record, error) {
	record := make(scrape.Record, len(fields))
	anyResolved := false
	for _, f := range fields {
		val := resolveField(d.root, f)
		record[f.Name] = val
		if !isEmptyValue(val) {
			anyResolved = true
		}
	}
	if !anyResolved {
		return nil, fmt.Errorf("no field selector matched the document")
	}
	return record, nil
}

// SelectAttribute returns the named attribute of the first matching element.
func (d *document) SelectAttribute(sel scrape.Selector, attribute string) (string, bool) {
	nodes := selectNodes(d.root, sel)
	if len(nodes) == 0 {
		return "", false
	}
	return attrValue(nodes[0], attribute)
}

// SelectAttributeAll returns the named attribute of every matching element,
// skipping elements that lack it.
func (d *document) SelectAttributeAll(sel scrape.Selector, attribute string) []string {
	var out []string
	for _, n := range selectNodes(d.root, sel) {
		if v, ok := attrValue(n, attribute); ok {
			out = append(out, v)
		}
	}
	return out
}

// resolveField resolves one field within scope. When the field has children,
// each matched element becomes a row scope for the child specs; otherwise the
// matched elements yield text or attribute values passed through the
// transformer chain.
func resolveField(scope *html.Node, f scrape.FieldSpec) any {
	if len(f.Children) > 0 {
		var matched []*html.Node
		for _, sel := range f.Selectors {
			if nodes := selectNodes(scope, sel); len(nodes) > 0 {
				matched = nodes
				break
			}
		}
		if len(matched) == 0 {
			if f.IsList {
				return []any{}
			}
			return nil
		}
		rows := make([]any, 0, len(matched))
		for _, el := range matched {
			row := make(map[string]any, len(f.Children))
			for _, child := range f.Children {
				row[child.Name] = resolveField(el, child)
			}
			rows = append(rows, row)
		}
		if f.IsList {
			return rows
		}
		return rows[0]
	}

	// A selector that matches elements but yields no values (e.g. a regex
	// transformer with no match) does not stop the fallthrough to the next
	// selector in priority order.
	values := []any{}
	for _, sel := range f.Selectors {
		for _, el := range selectNodes(scope, sel) {
			if val := extractValue(el, f); val != nil {
				values = append(values, val)
			}
		}
		if len(values) > 0 {
			break
		}
	}
	if f.IsList {
		return values
	}
	if len(values) == 0 {
		return nil
	}
	return values[0]
}

// extractValue pulls the raw value off one element. A configured attribute
// that is missing yields the empty string, not absence.
func extractValue(el *html.Node, f scrape.FieldSpec) any {
	var val any
	if f.Attribute != "" {
		v, _ := attrValue(el, f.Attribute)
		val = v
	} else {
		val = htmlquery.InnerText(el)
	}
	return applyTransformers(val, f.Transformers)
}

func selectNodes(scope *html.Node, sel scrape.Selector) []*html.Node {
	switch sel.Type {
	case scrape.SelectorCSS:
		return goquery.NewDocumentFromNode(scope).Find(sel.Value).Nodes
	case scrape.SelectorXPath:
		nodes, err := htmlquery.QueryAll(scope, sel.Value)
		if err != nil {
			return nil
		}
		return nodes
	default:
		return nil
	}
}

func attrValue(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	default:
		return false
	}
}
