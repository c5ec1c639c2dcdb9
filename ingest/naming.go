package ingest

import "strings"

const (
	collectionPrefix = "collection_"

	// maxCollectionName bounds the full collection name, prefix included.
	maxCollectionName = 63
)

// CollectionName derives the document collection for filename.
func CollectionName(filename string) string {
	return collectionPrefix + SanitizeName(filename, maxCollectionName-len(collectionPrefix))
}

// SanitizeName reduces name to lower-case ASCII letters, digits and single
// underscores. The result is never empty, starts with a letter, ends with a
// letter or digit and is at most maxLen bytes long.
func SanitizeName(name string, maxLen int) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case r == ' ' || r == '.' || r == '-' || r == '_':
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	s := strings.Trim(b.String(), "_")
	if s == "" {
		s = "doc"
	}
	if s[0] < 'a' || s[0] > 'z' {
		s = "doc_" + s
	}
	if maxLen < 1 {
		maxLen = 1
	}
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.TrimRight(s, "_")
}
