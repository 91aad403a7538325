// Package export renders translations as downloadable text or Word files.
package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/local/doctranslate/internal/batch"
	"github.com/local/doctranslate/internal/extract"
)

const (
	FormatText = "txt"
	FormatDocx = "docx"

	ContentTypeText = "text/plain; charset=utf-8"
	ContentTypeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

	DefaultStem = "翻译结果"
)

// Paragraph is one exported block. Style is an HTML block tag such as
// "h1" or "li"; empty means a body paragraph. Bold marks the whole run bold.
type Paragraph struct {
	Text  string
	Style string
	Bold  bool
}

// FromUnits keeps the translation of every unit, in order, styled by its tag.
func FromUnits(items []batch.TranslatedUnit) []Paragraph {
	out := make([]Paragraph, 0, len(items))
	for _, it := range items {
		out = append(out, Paragraph{Text: it.Translation, Style: styleOf(it.Tag), Bold: it.Bold})
	}
	return out
}

// FromBlocks maps the blocks of a translated HTML fragment.
func FromBlocks(blocks []extract.Block) []Paragraph {
	out := make([]Paragraph, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, Paragraph{Text: b.Text, Style: styleOf(b.Tag), Bold: b.Bold})
	}
	return out
}

func styleOf(tag string) string {
	switch tag {
	case "h1", "h2", "h3", "h4", "h5", "h6", "li":
		return tag
	}
	return ""
}

// FileName is the download name for an export of stem in format.
func FileName(stem, format string) string {
	if stem == "" {
		stem = DefaultStem
	}
	return fmt.Sprintf("%s_译文.%s", stem, format)
}

// Text renders the plain-text export: a UTF-8 BOM, a header with the export
// time, then every non-empty paragraph followed by a blank line.
func Text(paras []Paragraph, now time.Time) []byte {
	var b bytes.Buffer
	b.WriteString("\ufeff")
	b.WriteString("翻译结果\n")
	fmt.Fprintf(&b, "导出时间：%s\n", now.Format("2006-01-02 15:04:05"))
	b.WriteString(strings.Repeat("=", 80))
	b.WriteString("\n\n")
	for _, p := range paras {
		if p.Text == "" {
			continue
		}
		b.WriteString(p.Text)
		b.WriteString("\n\n")
	}
	return b.Bytes()
}
