package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/markdave123-py/knowledgehub/internal/models"
)

const excerptRunes = 200

var (
	authorPattern = regexp.MustCompile(`(?i)(?:author|writer|by)\s*:?\s*([^\n\r,]+)`)
	namePattern   = regexp.MustCompile(`(?i)name\s*:?\s*([^\n\r,]+)`)
)

// heuristicAnswer builds a best-effort reply from the retrieved chunks when
// no model produced one. Only the nearest chunk is consulted.
func heuristicAnswer(question string, docs []models.VectorDocument) string {
	if len(docs) == 0 {
		return fmt.Sprintf("I couldn't find anything relevant in your documents for %q. Try rephrasing the question or uploading more documents.", question)
	}
	content := docs[0].Content
	q := strings.ToLower(question)

	switch {
	case strings.Contains(q, "author") || strings.Contains(q, "writer") || strings.Contains(q, "who wrote"):
		if v := firstGroup(authorPattern, content); v != "" {
			return fmt.Sprintf("The author is %s.", v)
		}
		return fmt.Sprintf("The document doesn't name an author clearly. Closest match: %q", excerpt(content))
	case strings.Contains(q, "name") && (strings.Contains(q, "what") || strings.Contains(q, "tell me")):
		if v := firstGroup(namePattern, content); v != "" {
			return fmt.Sprintf("The name is %s.", v)
		}
		return fmt.Sprintf("The document doesn't state a name clearly. Closest match: %q", excerpt(content))
	default:
		return fmt.Sprintf("From your documents: %q", excerpt(content))
	}
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func excerpt(s string) string {
	r := []rune(s)
	if len(r) <= excerptRunes {
		return s
	}
	return string(r[:excerptRunes]) + "..."
}
