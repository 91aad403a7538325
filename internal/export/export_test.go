package export

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/local/doctranslate/internal/batch"
	"github.com/local/doctranslate/internal/extract"
)

func TestText(t *testing.T) {
	now := time.Date(2024, 3, 5, 9, 7, 1, 0, time.UTC)
	got := string(Text([]Paragraph{{Text: "你好"}, {Text: ""}, {Text: "世界"}}, now))
	want := "\ufeff翻译结果\n导出时间：2024-03-05 09:07:01\n" + strings.Repeat("=", 80) + "\n\n你好\n\n世界\n\n"
	if got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func TestFileName(t *testing.T) {
	if FileName("report", FormatDocx) != "report_译文.docx" || FileName("", FormatText) != "翻译结果_译文.txt" {
		t.Fatal(FileName("report", FormatDocx), FileName("", FormatText))
	}
}

func TestFromUnitsAndBlocks(t *testing.T) {
	ps := FromUnits([]batch.TranslatedUnit{
		{Unit: batch.Unit{Tag: "h2"}, Translation: "标题"},
		{Unit: batch.Unit{Tag: "td"}, Translation: "单元格"},
	})
	if ps[0] != (Paragraph{Text: "标题", Style: "h2"}) || ps[1] != (Paragraph{Text: "单元格"}) {
		t.Fatalf("units = %+v", ps)
	}
	ps = FromBlocks([]extract.Block{{Tag: "li", Text: "项"}, {Tag: "p", Text: "粗", Bold: true}})
	if ps[0] != (Paragraph{Text: "项", Style: "li"}) || ps[1] != (Paragraph{Text: "粗", Bold: true}) {
		t.Fatalf("blocks = %+v", ps)
	}
	ps = FromUnits([]batch.TranslatedUnit{{Unit: batch.Unit{Tag: "p", Bold: true}, Translation: "重点"}})
	if !ps[0].Bold {
		t.Fatalf("bold lost: %+v", ps)
	}
}

func readPart(t *testing.T, data []byte, name string) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				t.Fatal(err)
			}
			defer rc.Close()
			b, _ := io.ReadAll(rc)
			return string(b)
		}
	}
	t.Fatalf("part %s missing", name)
	return ""
}

func TestDocx(t *testing.T) {
	data, err := Docx([]Paragraph{
		{Text: "第一章", Style: "h1"},
		{Text: "a < b & c\nnext line"},
		{Text: ""},
	}, DocxOptions{Title: "译文"})
	if err != nil {
		t.Fatal(err)
	}
	doc := readPart(t, data, "word/document.xml")
	for _, s := range []string{
		`<w:pStyle w:val="Title"/></w:pPr><w:r><w:t xml:space="preserve">译文</w:t>`,
		`<w:pStyle w:val="Heading1"/>`,
		`a &lt; b &amp; c</w:t><w:br/><w:t xml:space="preserve">next line`,
	} {
		if !strings.Contains(doc, s) {
			t.Errorf("document.xml missing %q:\n%s", s, doc)
		}
	}
	if n := strings.Count(doc, "<w:p>"); n != 3 {
		t.Errorf("paragraphs = %d", n)
	}
	if !strings.Contains(readPart(t, data, "word/styles.xml"), `w:styleId="Title"`) {
		t.Error("styles missing Title")
	}
	readPart(t, data, "[Content_Types].xml")
	readPart(t, data, "_rels/.rels")
}

func TestDocxBoldRun(t *testing.T) {
	data, err := Docx([]Paragraph{{Text: "重点", Bold: true}, {Text: "普通"}}, DocxOptions{})
	if err != nil {
		t.Fatal(err)
	}
	doc := readPart(t, data, "word/document.xml")
	if !strings.Contains(doc, `<w:p><w:r><w:rPr><w:b/></w:rPr><w:t xml:space="preserve">重点</w:t>`) {
		t.Errorf("bold run missing:\n%s", doc)
	}
	if n := strings.Count(doc, "<w:b/>"); n != 1 {
		t.Errorf("bold runs = %d", n)
	}
}
