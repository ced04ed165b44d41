package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/scrapeworks/sift/internal/scrape"
)

var numericRunes = regexp.MustCompile(`[^0-9.\-]`)

// applyTransformers runs the field's transformer chain over a freshly
// extracted value. Numeric transformers scrub currency symbols and grouping
// separators before parsing and yield zero on unparsable input; a regex with
// no match yields nil, which drops the value.
func applyTransformers(value any, transformers []scrape.Transformer) any {
	if value == nil {
		return nil
	}
	for _, tr := range transformers {
		switch tr.Name {
		case scrape.TransformStrip:
			if s, ok := value.(string); ok {
				value = strings.TrimSpace(s)
			}
		case scrape.TransformToFloat:
			value = toFloat(value, tr.Args)
		case scrape.TransformToInt:
			// Parse through float so "12.0" becomes 12.
			value = int64(toFloat(value, tr.Args))
		case scrape.TransformRegex:
			s, ok := value.(string)
			if !ok || len(tr.Args) == 0 {
				continue
			}
			re, err := regexp.Compile(tr.Args[0])
			if err != nil {
				continue
			}
			m := re.FindStringSubmatch(s)
			switch {
			case m == nil:
				return nil
			case len(m) > 1:
				value = m[1]
			default:
				value = m[0]
			}
		case scrape.TransformReplace:
			if s, ok := value.(string); ok && len(tr.Args) >= 2 {
				value = strings.ReplaceAll(s, tr.Args[0], tr.Args[1])
			}
		}
	}
	return value
}

// toFloat coerces value to float64. Strings are scrubbed of everything but
// digits, dots, and minus signs first, so "$1,234.56" parses as 1234.56.
// When args names a locale convention [decimalSep, thousandsSep], the
// thousands separator is removed and the decimal separator mapped to a dot
// before scrubbing, so "1.234,56" with args [",", "."] parses as 1234.56.
// Unparsable input yields 0.
func toFloat(value any, args []string) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case string:
		s := v
		if len(args) >= 2 {
			s = strings.ReplaceAll(s, args[1], "")
			s = strings.ReplaceAll(s, args[0], ".")
		}
		s = numericRunes.ReplaceAllString(s, "")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
