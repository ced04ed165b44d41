package persist

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/scrapeworks/sift/internal/scrape"
)

// ConvertToJSON streams the JSONL record log into a valid JSON array.
// Memory use is O(1): one line at a time. Malformed lines are skipped.
func ConvertToJSON(inputPath, outputPath string) error {
	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open record log: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create json output: %w", err)
	}
	defer func() { _ = out.Close() }()

	w := bufio.NewWriter(out)
	if _, err := w.WriteString("[\n"); err != nil {
		return fmt.Errorf("write json output: %w", err)
	}

	first := true
	scanner := newLineScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec scrape.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		pretty, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			continue
		}
		if !first {
			if _, err := w.WriteString(",\n"); err != nil {
				return fmt.Errorf("write json output: %w", err)
			}
		}
		if _, err := w.Write(pretty); err != nil {
			return fmt.Errorf("write json output: %w", err)
		}
		first = false
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read record log: %w", err)
	}

	if _, err := w.WriteString("\n]\n"); err != nil {
		return fmt.Errorf("write json output: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush json output: %w", err)
	}
	return nil
}

// ConvertToCSV converts the JSONL record log to CSV in two passes so dynamic
// headers never require holding the data set in memory: pass one collects
// flattened column names, pass two writes rows.
func ConvertToCSV(inputPath, outputPath string) error {
	headers := map[string]struct{}{}
	if err := scanRecords(inputPath, func(rec scrape.Record) {
		for _, row := range recordRows(rec) {
			for key := range flatten(row, "") {
				headers[key] = struct{}{}
			}
		}
	}); err != nil {
		return err
	}
	if len(headers) == 0 {
		return fmt.Errorf("no records found in %s", inputPath)
	}

	fieldnames := make([]string, 0, len(headers))
	for key := range headers {
		fieldnames = append(fieldnames, key)
	}
	sort.Strings(fieldnames)

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create csv output: %w", err)
	}
	defer func() { _ = out.Close() }()

	cw := csv.NewWriter(out)
	if err := cw.Write(fieldnames); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	if err := scanRecords(inputPath, func(rec scrape.Record) {
		for _, row := range recordRows(rec) {
			flat := flatten(row, "")
			cols := make([]string, len(fieldnames))
			for i, name := range fieldnames {
				if v, ok := flat[name]; ok {
					cols[i] = stringify(v)
				}
			}
			// Encoding errors surface via cw.Error below.
			_ = cw.Write(cols)
		}
	}); err != nil {
		return err
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	return nil
}

func scanRecords(path string, fn func(scrape.Record)) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open record log: %w", err)
	}
	defer func() { _ = in.Close() }()

	scanner := newLineScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec scrape.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		fn(rec)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read record log: %w", err)
	}
	return nil
}

// recordRows expands a record into CSV rows. A record whose only data field
// is a list of nested rows becomes one CSV row per item, each tagged with the
// record's lineage fields; anything else is a single row.
func recordRows(rec scrape.Record) []map[string]any {
	lineage := map[string]any{}
	data := map[string]any{}
	for key, value := range rec {
		if key == scrape.SourceURLField || key == scrape.ParentURLField {
			lineage[key] = value
			continue
		}
		data[key] = value
	}

	if len(data) == 1 {
		for _, value := range data {
			items, ok := value.([]any)
			if !ok {
				break
			}
			rows := make([]map[string]any, 0, len(items))
			for _, item := range items {
				obj, ok := item.(map[string]any)
				if !ok {
					rows = nil
					break
				}
				row := make(map[string]any, len(obj)+len(lineage))
				for k, v := range obj {
					row[k] = v
				}
				for k, v := range lineage {
					row[k] = v
				}
				rows = append(rows, row)
			}
			if rows != nil {
				return rows
			}
		}
	}

	row := make(map[string]any, len(rec))
	for k, v := range rec {
		row[k] = v
	}
	return []map[string]any{row}
}

// flatten joins nested map keys with dots.
func flatten(m map[string]any, prefix string) map[string]any {
	out := map[string]any{}
	for key, value := range m {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			for k, v := range flatten(nested, full) {
				out[k] = v
			}
			continue
		}
		out[full] = value
	}
	return out
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = stringify(item)
		}
		return strings.Join(parts, "; ")
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return strings.Trim(string(b), `"`)
	}
}

func newLineScanner(f *os.File) *bufio.Scanner {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return scanner
}
