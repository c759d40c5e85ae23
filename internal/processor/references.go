package processor

import (
	"regexp"
	"sort"
	"strings"
)

var (
	// "Clause 8.3", "section 4.2.1", "Annex A"
	namedRefRe = regexp.MustCompile(`\b((?i:clause|section|annex|control))\s+([A-Z](?:\.\d+)*|\d+(?:\.\d+)*)\b`)
	// "A.5.1" style control identifiers
	controlRefRe = regexp.MustCompile(`\b[A-Z]\.\d+(?:\.\d+)*\b`)
)

// ExtractReferences returns the sorted, de-duplicated clause references in text
func ExtractReferences(text string) []string {
	seen := map[string]bool{}
	for _, m := range namedRefRe.FindAllStringSubmatch(text, -1) {
		kind := strings.ToUpper(m[1][:1]) + strings.ToLower(m[1][1:])
		seen[kind+" "+m[2]] = true
	}
	for _, m := range controlRefRe.FindAllString(text, -1) {
		seen[m] = true
	}
	if len(seen) == 0 {
		return nil
	}

	refs := make([]string, 0, len(seen))
	for ref := range seen {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
