package extract

import (
	"bytes"
	"fmt"
	stdhtml "html"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/local/doctranslate/internal/batch"
)

// RenderHTML builds the skeleton for units: one element per unit carrying
// its id and class "translatable", with a rule between pages. Table cells
// are laid out in a table; bold units are wrapped in strong.
func RenderHTML(units []batch.Unit) string {
	return render(len(units), func(i int) (batch.Unit, string) { return units[i], units[i].Text })
}

// RenderTranslatedHTML is RenderHTML with every element holding its translation.
func RenderTranslatedHTML(items []batch.TranslatedUnit) string {
	return render(len(items), func(i int) (batch.Unit, string) { return items[i].Unit, items[i].Translation })
}

func render(n int, at func(int) (batch.Unit, string)) string {
	var b strings.Builder
	lastPage := 0
	inTable := false
	row, col := 0, 0
	closeTable := func() {
		if inTable {
			b.WriteString("</tr></table>\n")
			inTable = false
		}
	}
	for i := 0; i < n; i++ {
		u, text := at(i)
		if inTable && (!u.IsTable || u.Page != lastPage || u.Row < row) {
			closeTable()
		}
		if u.Page > 1 && lastPage != 0 && u.Page != lastPage {
			b.WriteString("<hr class=\"page-break\">\n")
		}
		lastPage = u.Page
		tag := u.Tag
		if tag == "" {
			tag = "p"
		}
		body := stdhtml.EscapeString(text)
		if u.Bold {
			body = "<strong>" + body + "</strong>"
		}
		if !u.IsTable {
			fmt.Fprintf(&b, "<%s id=\"%s\" class=\"translatable\">%s</%s>\n", tag, stdhtml.EscapeString(u.ID), body, tag)
			continue
		}
		if !inTable {
			b.WriteString("<table class=\"pdf-table\"><tr>")
			inTable, row, col = true, u.Row, 0
		}
		for ; row < u.Row; row++ {
			b.WriteString("</tr>\n<tr>")
			col = 0
		}
		for ; col < u.Col; col++ {
			fmt.Fprintf(&b, "<%s></%s>", tag, tag)
		}
		fmt.Fprintf(&b, "<%s id=\"%s\" class=\"translatable\">%s</%s>", tag, stdhtml.EscapeString(u.ID), body, tag)
		col++
	}
	closeTable()
	return strings.TrimSuffix(b.String(), "\n")
}

var bodyContext = &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}

// ReplaceByID replaces the text of every element whose id is a key of
// translations. Elements not named keep their content.
func ReplaceByID(fragment string, translations map[string]string) (string, error) {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), bodyContext)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if t, ok := translations[attr(n, "id")]; ok {
				target := n
				if c := n.FirstChild; c != nil && c.NextSibling == nil && isBold(c) {
					target = c
				}
				for c := target.FirstChild; c != nil; c = target.FirstChild {
					target.RemoveChild(c)
				}
				target.AppendChild(&html.Node{Type: html.TextNode, Data: t})
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	var buf bytes.Buffer
	for _, n := range nodes {
		walk(n)
		if err := html.Render(&buf, n); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// Block is one block-level element of a fragment. Bold is set when the
// element holds a strong or b element.
type Block struct {
	Tag  string
	Text string
	Bold bool
}

var blockTags = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"p": true, "li": true, "th": true, "td": true,
}

// Blocks lists the non-empty block elements of a fragment in order.
func Blocks(fragment string) ([]Block, error) {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), bodyContext)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	var out []Block
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && blockTags[n.Data] {
			if t := strings.TrimSpace(textOf(n)); t != "" {
				out = append(out, Block{Tag: n.Data, Text: t, Bold: hasBold(n)})
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return out, nil
}

// PlainText returns the fragment's text nodes, one per line.
func PlainText(fragment string) (string, error) {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), bodyContext)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				lines = append(lines, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return strings.Join(lines, "\n"), nil
}

func isBold(n *html.Node) bool {
	return n.Type == html.ElementNode && (n.DataAtom == atom.Strong || n.DataAtom == atom.B)
}

func hasBold(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isBold(c) || hasBold(c) {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
