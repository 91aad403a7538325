package dispatcher

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/local/doctranslate/internal/ai"
)

var fenceRe = regexp.MustCompile("(?s)^```[\\w+-]*\\s*(.*?)\\s*(?:```)?\\s*$")

// stripFence removes a surrounding markdown code fence, with or without a
// language tag. Unfenced input is returned trimmed.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

type batchReply struct {
	Index       int    `json:"index"`
	Translation string `json:"translation"`
}

// parseBatchReply decodes a batch reply into exactly want translations,
// ordered by the index the model echoed back.
func parseBatchReply(content string, want int) ([]string, error) {
	var items []batchReply
	if err := json.Unmarshal([]byte(stripFence(content)), &items); err != nil {
		return nil, &ai.ParseError{What: "batch reply", Err: err}
	}
	if len(items) != want {
		return nil, &ai.ParseError{What: "batch reply", Err: fmt.Errorf("got %d entries, want %d", len(items), want)}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Index < items[j].Index })
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Translation
	}
	return out, nil
}
