package config

import "sort"

// DefaultLanguageName is used in prompts when a target code is unknown.
const DefaultLanguageName = "中文（简体）"

// Languages maps language codes to the display names used in prompts.
type Languages map[string]string

// DefaultLanguages is the built-in language table.
func DefaultLanguages() Languages {
	return Languages{
		"zh-CN": "中文（简体）",
		"zh-TW": "中文（繁体）",
		"en":    "English",
		"ja":    "日本語",
		"ko":    "한국어",
		"fr":    "Français",
		"de":    "Deutsch",
		"es":    "Español",
		"ru":    "Русский",
		"ar":    "العربية",
		"pt":    "Português",
		"it":    "Italiano",
	}
}

// Name resolves code, returning fallback for unknown codes.
func (l Languages) Name(code, fallback string) string {
	if n, ok := l[code]; ok {
		return n
	}
	return fallback
}

// Codes returns the known codes sorted.
func (l Languages) Codes() []string {
	out := make([]string, 0, len(l))
	for c := range l {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
