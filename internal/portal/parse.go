package portal

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"cdrwatch/internal/cdr"
)

// noRecordsMarker is the literal phrase the portal renders when a
// query matches nothing.
const noRecordsMarker = "Nenhum registro"

// paginationRe matches the portal's "Exibindo de X ... Y de Z"
// trailer. Tags may sit between the numbers, hence (?s).
var paginationRe = regexp.MustCompile(`(?s)Exibindo de (\d+).*?(\d+) de (\d+)`)

// PageRange is the pagination trailer of one report fragment:
// showing records From..To of Total.
type PageRange struct {
	From  int
	To    int
	Total int
}

// HasMore reports whether pages remain after this one.
func (p *PageRange) HasMore() bool {
	return p != nil && p.To < p.Total
}

// PageResult is the parsed content of one report fragment.
type PageResult struct {
	Rows      []cdr.RawRow
	Range     *PageRange
	NoRecords bool
}

// ParseReportPage extracts data rows and the pagination trailer from
// a report HTML fragment. The first table row is the header; data
// rows need at least six cells, shorter rows are skipped as
// malformed. A fragment that fails to parse at all is an error; a
// fragment with no table yields an empty result.
func ParseReportPage(fragment string) (*PageResult, error) {
	if strings.Contains(fragment, noRecordsMarker) {
		return &PageResult{NoRecords: true}, nil
	}

	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return nil, err
	}

	result := &PageResult{}
	rowIndex := 0

	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			idx := rowIndex
			rowIndex++
			if idx > 0 {
				if row, ok := parseRow(n); ok {
					result.Rows = append(result.Rows, row)
				}
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)

	if m := paginationRe.FindStringSubmatch(fragment); m != nil {
		from, _ := strconv.Atoi(m[1])
		to, _ := strconv.Atoi(m[2])
		total, _ := strconv.Atoi(m[3])
		result.Range = &PageRange{From: from, To: to, Total: total}
	}

	return result, nil
}

// parseRow collects the cell texts of one <tr>. Rows with fewer than
// six cells do not carry a full record.
func parseRow(tr *html.Node) (cdr.RawRow, bool) {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "td" {
			cells = append(cells, textContent(c))
		}
	}
	if len(cells) < 6 {
		return cdr.RawRow{}, false
	}
	return cdr.RawRow{
		Timestamp:    cells[0],
		Origin:       cells[1],
		Destination:  cells[2],
		CarrierLabel: cells[3],
		DurationText: cells[4],
		CostText:     cells[5],
	}, true
}

// textContent flattens the text nodes under n, trimmed.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var traverse func(*html.Node)
	traverse = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(n)
	return strings.TrimSpace(sb.String())
}
