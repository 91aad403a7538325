package extract

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"github.com/local/doctranslate/internal/batch"
	"github.com/local/doctranslate/internal/imagerender"
)

// pdfLine is one text line of a page. top and left are only meaningful
// when placed is set (MuPDF HTML output).
type pdfLine struct {
	text      string
	size      float64
	bold      bool
	top, left float64
	placed    bool
}

const (
	rowTolerance = 2.0
	colTolerance = 3.0
	maxCellRunes = 40
)

func (e *Extractor) extractPDF(ctx context.Context, path string) (*Document, error) {
	if _, err := checkPageLimit(path, e.opts.MaxPDFPages); err != nil {
		return nil, err
	}
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	l := zerolog.Ctx(ctx)
	var b builder
	pages := doc.NumPage()
	if limit := e.opts.MaxPDFPages; limit > 0 && pages > limit {
		return nil, &LimitError{Reason: fmt.Sprintf("PDF has %d pages, limit is %d", pages, limit)}
	}
	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines := e.pageLines(doc, i)
		if len(lines) == 0 && e.opts.Recognizer != nil {
			lines = e.recognizePage(ctx, doc, i)
		}
		kept := b.addPage(lines, i+1)
		l.Debug().Int("page", i+1).Int("lines", len(lines)).Int("units", kept).Msg("page extracted")
	}
	return &Document{Units: b.units, HTML: RenderHTML(b.units), FileType: "pdf", HasFormat: true, Pages: pages}, nil
}

// pageLines prefers MuPDF's HTML output, which carries font sizes, and
// falls back to the plain text layer.
func (e *Extractor) pageLines(doc *fitz.Document, page int) []pdfLine {
	if h, err := doc.HTML(page, false); err == nil {
		if lines := linesFromHTML(h); len(lines) > 0 {
			return lines
		}
	}
	text, err := doc.Text(page)
	if err != nil {
		return nil
	}
	var out []pdfLine
	for _, s := range strings.Split(text, "\n") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, pdfLine{text: s, size: 12})
		}
	}
	return out
}

// recognizePage rasterizes a page without a text layer and reads it with
// the vision model. A page that cannot be read contributes nothing.
func (e *Extractor) recognizePage(ctx context.Context, doc *fitz.Document, page int) []pdfLine {
	l := zerolog.Ctx(ctx)
	jpg, err := imagerender.RenderPage(doc, page, e.opts.Render)
	if err != nil {
		l.Warn().Err(err).Int("page", page+1).Msg("render scanned page failed")
		return nil
	}
	paras, err := e.opts.Recognizer.RecognizeBytes(ctx, jpg, e.opts.VisionModel, e.opts.MaxRetries)
	if err != nil {
		l.Warn().Err(err).Int("page", page+1).Msg("scanned page not recognized")
		return nil
	}
	out := make([]pdfLine, len(paras))
	for i, p := range paras {
		out[i] = pdfLine{text: p.Text, size: 12}
	}
	return out
}

// addPage emits the units of one page in reading order. Runs of aligned
// short rows become table cells, emitted where their first line appears;
// every other line is a heading or paragraph.
func (b *builder) addPage(lines []pdfLine, page int) int {
	rows := groupRows(lines)
	tables := make(map[int][]pageRow)
	inTable := make(map[int]bool)
	for start, end := range tableSpans(lines, rows) {
		first := len(lines)
		for _, row := range rows[start:end] {
			for _, i := range row {
				inTable[i] = true
				first = min(first, i)
			}
		}
		tables[first] = rows[start:end]
	}

	kept := 0
	for i, ln := range lines {
		if t, ok := tables[i]; ok {
			kept += b.addTable(lines, t, page)
		}
		if inTable[i] {
			continue
		}
		text := fixUnderscores(ln.text)
		if skipLine(text) {
			continue
		}
		tag := headingTag(ln.size)
		if b.push(batch.Unit{Text: text, Tag: tag, Page: page, Bold: tag == "p" && ln.bold}) {
			kept++
		}
	}
	return kept
}

// addTable emits one unit per non-empty cell; the first row is the header.
func (b *builder) addTable(lines []pdfLine, rows []pageRow, page int) int {
	kept := 0
	for ri, row := range rows {
		tag := "td"
		if ri == 0 {
			tag = "th"
		}
		for ci, i := range row {
			if b.push(batch.Unit{Text: fixUnderscores(lines[i].text), Tag: tag, Page: page, IsTable: true, Row: ri, Col: ci}) {
				kept++
			}
		}
	}
	return kept
}

// pageRow holds the indexes of the placed lines sharing a top coordinate,
// ordered left to right.
type pageRow []int

// groupRows clusters placed lines by top, top to bottom.
func groupRows(lines []pdfLine) []pageRow {
	var placed []int
	for i, ln := range lines {
		if ln.placed {
			placed = append(placed, i)
		}
	}
	sort.SliceStable(placed, func(x, y int) bool { return lines[placed[x]].top < lines[placed[y]].top })

	var rows []pageRow
	for _, i := range placed {
		if n := len(rows); n > 0 && math.Abs(lines[i].top-lines[rows[n-1][0]].top) <= rowTolerance {
			rows[n-1] = append(rows[n-1], i)
			continue
		}
		rows = append(rows, pageRow{i})
	}
	for _, r := range rows {
		sort.SliceStable(r, func(x, y int) bool { return lines[r[x]].left < lines[r[y]].left })
	}
	return rows
}

// cellLike reports whether r could be a table row: several short pieces.
// Long pieces side by side are column layout, not a table.
func (r pageRow) cellLike(lines []pdfLine) bool {
	if len(r) < 2 {
		return false
	}
	for _, i := range r {
		if utf8.RuneCountInString(strings.TrimSpace(lines[i].text)) > maxCellRunes {
			return false
		}
	}
	return true
}

func sameColumns(lines []pdfLine, a, b pageRow) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(lines[a[i]].left-lines[b[i]].left) > colTolerance {
			return false
		}
	}
	return true
}

// tableSpans maps the first row of every table to the row after its last:
// at least two consecutive cell-like rows with aligned columns.
func tableSpans(lines []pdfLine, rows []pageRow) map[int]int {
	spans := make(map[int]int)
	for i := 0; i < len(rows); {
		if !rows[i].cellLike(lines) {
			i++
			continue
		}
		j := i + 1
		for j < len(rows) && rows[j].cellLike(lines) && sameColumns(lines, rows[i], rows[j]) {
			j++
		}
		if j-i >= 2 {
			spans[i] = j
			i = j
			continue
		}
		i++
	}
	return spans
}

var (
	fontSizeRe = regexp.MustCompile(`font-size:\s*([0-9.]+)pt`)
	topRe      = regexp.MustCompile(`(?:^|;)\s*top:\s*(-?[0-9.]+)pt`)
	leftRe     = regexp.MustCompile(`(?:^|;)\s*left:\s*(-?[0-9.]+)pt`)
)

// linesFromHTML reads the <p> elements of a MuPDF page in document order.
// A line's size is the largest span font size inside it.
func linesFromHTML(s string) []pdfLine {
	root, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return nil
	}
	var out []pdfLine
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "p" {
			var ln pdfLine
			var sb strings.Builder
			style := attr(n, "style")
			top, okTop := styleValue(topRe, style)
			left, okLeft := styleValue(leftRe, style)
			ln.top, ln.left, ln.placed = top, left, okTop && okLeft
			collectLine(n, &sb, &ln)
			if ln.size == 0 {
				ln.size = 12
			}
			if ln.text = strings.TrimSpace(sb.String()); ln.text != "" {
				out = append(out, ln)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func collectLine(n *html.Node, sb *strings.Builder, ln *pdfLine) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			sb.WriteString(c.Data)
		case html.ElementNode:
			if c.Data == "b" || c.Data == "strong" {
				ln.bold = true
			}
			if m := fontSizeRe.FindStringSubmatch(attr(c, "style")); m != nil {
				if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > ln.size {
					ln.size = v
				}
			}
			collectLine(c, sb, ln)
		}
	}
}

func styleValue(re *regexp.Regexp, style string) (float64, bool) {
	m := re.FindStringSubmatch(style)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	return v, err == nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func headingTag(size float64) string {
	switch {
	case size > 16:
		return "h1"
	case size > 14:
		return "h2"
	case size > 13:
		return "h3"
	default:
		return "p"
	}
}

var bulletOnly = map[string]bool{
	"•": true, "●": true, "○": true, "■": true, "□": true, "▪": true,
	"▫": true, "-": true, "*": true, "·": true, ".": true, ",": true,
}

// skipLine drops bullet glyphs and page numbers.
func skipLine(s string) bool {
	if s == "" || bulletOnly[s] {
		return true
	}
	if len(s) <= 3 {
		for _, r := range s {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	}
	return false
}

var (
	underscoreBoth  = regexp.MustCompile(`\s+_\s+`)
	underscoreLeft  = regexp.MustCompile(`\s+_`)
	underscoreRight = regexp.MustCompile(`_\s+`)
)

// fixUnderscores joins identifiers that text extraction split around "_".
func fixUnderscores(s string) string {
	s = underscoreBoth.ReplaceAllString(s, "_")
	s = underscoreLeft.ReplaceAllString(s, "_")
	s = underscoreRight.ReplaceAllString(s, "_")
	return strings.TrimRight(s, " \t")
}
