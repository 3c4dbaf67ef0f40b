package util

import "strings"

// SplitURLList splits multi-URL user input on commas, semicolons or any
// whitespace, canonicalises each entry and drops empties and duplicates.
// Order of first occurrence is preserved.
func SplitURLList(input string) []string {
	fields := strings.FieldsFunc(input, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n', '\r':
			return true
		default:
			return false
		}
	})

	seen := make(map[string]struct{}, len(fields))
	urls := make([]string, 0, len(fields))
	for _, f := range fields {
		u := CanonicalURL(f)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	return urls
}
