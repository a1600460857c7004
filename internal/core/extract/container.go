package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// containerTags are element types that commonly wrap one logical record.
var containerTags = map[string]bool{
	"li": true, "tr": true, "article": true, "div": true,
	"section": true, "dd": true, "figure": true,
}

// InferContainer finds the nearest repeating ancestor of the first match of
// the first selector that also holds a match for every other selector. It
// returns a selector for that container type, or false when the fields share
// no common repeating container.
func InferContainer(doc *goquery.Document, selectors []string) (string, bool) {
	_, sig := inferContainers(doc, selectors)
	return sig, sig != ""
}

// inferContainers returns the record containers themselves: the chosen
// ancestor and its siblings of the same signature. Matching by signature
// across the whole document would also pick up wrappers of the same tag.
func inferContainers(doc *goquery.Document, selectors []string) (*goquery.Selection, string) {
	if len(selectors) == 0 {
		return nil, ""
	}
	anchor := doc.Find(selectors[0]).First()
	if anchor.Length() == 0 {
		return nil, ""
	}

	var (
		records *goquery.Selection
		sig     string
	)
	anchor.Parents().EachWithBreak(func(_ int, p *goquery.Selection) bool {
		if !containerTags[goquery.NodeName(p)] {
			return true
		}
		for _, sel := range selectors {
			if p.Find(sel).Length() == 0 {
				return true
			}
		}
		candidate := signature(p)
		siblings := p.Parent().Children().Filter(candidate)
		if siblings.Length() < 2 {
			return true
		}
		records, sig = siblings, candidate
		return false
	})
	return records, sig
}

// signature builds a tag.class selector describing an element's type.
func signature(s *goquery.Selection) string {
	var b strings.Builder
	b.WriteString(goquery.NodeName(s))
	for _, c := range classTokens(s) {
		if !isPlainClass(c) {
			continue
		}
		b.WriteByte('.')
		b.WriteString(c)
	}
	return b.String()
}

// isPlainClass rejects tokens that would need escaping inside a selector.
func isPlainClass(c string) bool {
	if c == "" || (c[0] >= '0' && c[0] <= '9') {
		return false
	}
	for _, r := range c {
		if !(r == '-' || r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// ExtractRecords collects one KeyValueRecord per inferred container. Without
// a common container it falls back to flat collection, pairing the i-th
// match of every field into the i-th record.
func ExtractRecords(doc *goquery.Document, fields []Field) []KeyValueRecord {
	if len(fields) == 0 {
		return nil
	}
	selectors := make([]string, len(fields))
	for i, f := range fields {
		selectors[i] = f.Selector
	}

	if containers, _ := inferContainers(doc, selectors); containers != nil {
		var out []KeyValueRecord
		containers.Each(func(_ int, c *goquery.Selection) {
			rec := KeyValueRecord{}
			for _, f := range fields {
				if s := c.Find(f.Selector).First(); s.Length() > 0 {
					rec[f.Name] = fieldValue(s, f.Attr)
				}
			}
			if len(rec) > 0 {
				out = append(out, rec)
			}
		})
		return out
	}

	columns := make([][]string, len(fields))
	rows := 0
	for i, f := range fields {
		doc.Find(f.Selector).Each(func(_ int, s *goquery.Selection) {
			columns[i] = append(columns[i], fieldValue(s, f.Attr))
		})
		if len(columns[i]) > rows {
			rows = len(columns[i])
		}
	}
	out := make([]KeyValueRecord, 0, rows)
	for r := 0; r < rows; r++ {
		rec := KeyValueRecord{}
		for i, f := range fields {
			if r < len(columns[i]) {
				rec[f.Name] = columns[i][r]
			}
		}
		out = append(out, rec)
	}
	return out
}

func fieldValue(s *goquery.Selection, attr string) string {
	if attr != "" {
		v, _ := s.Attr(attr)
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(s.Text())
}
