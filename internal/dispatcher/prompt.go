package dispatcher

import (
	"encoding/json"
	"fmt"
	"strings"
)

const translationRules = `Requirements:
1. Strictly keep the paragraph format and line breaks of the original.
2. Keep the punctuation style of the original.
3. Keep technical terms, variable names and identifiers (e.g. ROA, GDP, API, crash_w) as they are.
4. A technical term may be glossed on first occurrence as "term (translation)".
5. Return only the translation, without explanations or notes.
6. If the original has several paragraphs, the translation must have the same number of paragraphs.`

func buildSinglePrompt(text, targetName, sourceName string) string {
	var b strings.Builder
	if sourceName == "" {
		fmt.Fprintf(&b, "Translate the following content into %s.\n", targetName)
	} else {
		fmt.Fprintf(&b, "Translate the following %s content into %s.\n", sourceName, targetName)
	}
	b.WriteString(translationRules)
	b.WriteString("\n\nOriginal:\n")
	b.WriteString(text)
	return b.String()
}

type batchItem struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

func buildBatchPrompt(texts []string, targetName string) (string, error) {
	items := make([]batchItem, len(texts))
	for i, t := range texts {
		items[i] = batchItem{Index: i, Text: t}
	}
	payload, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Translate the text of every item in the following JSON array into %s.\n", targetName)
	b.WriteString(`Requirements:
1. Strictly keep the format and line breaks of every item; translate each item separately.
2. Keep technical terms, variable names and identifiers (e.g. ROA, GDP, crash_w, adj_ret) as they are.
3. A technical term may be glossed on first occurrence as "term (translation)", and kept as-is afterwards.
4. Return one result per item, carrying the same index.
5. Reply with a JSON array only: [{"index": 0, "translation": "..."}, ...]
6. Do not add any other text.

Original JSON:
`)
	b.Write(payload)
	b.WriteString("\n\nTranslated JSON array:")
	return b.String(), nil
}
