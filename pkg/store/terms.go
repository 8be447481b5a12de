package store

import (
	"strings"
)

// Stopwords filtered out of lexical queries.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "about": true,
	"and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"have": true, "has": true, "had": true, "do": true, "does": true, "did": true,
	"how": true, "what": true, "where": true, "when": true, "why": true, "which": true,
	"tell": true, "me": true, "please": true,
}

// ExtractMatchTerms converts a natural language query to FTS5 MATCH syntax,
// joining terms with OR for broad recall. The merged result set is narrowed
// downstream, so recall beats precision here.
func ExtractMatchTerms(query string) string {
	words := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(words))

	for _, w := range words {
		w = strings.Trim(w, ".,?!\"'`:;()[]{}*")
		if len(w) < 2 || stopwords[w] {
			continue
		}
		if w = escapeFTS5(w); w != "" {
			terms = append(terms, w)
		}
	}

	return strings.Join(terms, " OR ")
}

// escapeFTS5 quotes terms containing FTS5 operator characters.
func escapeFTS5(term string) string {
	needsQuoting := false
	for _, c := range term {
		switch c {
		case '^', '*', '"', '(', ')', ':', '-':
			needsQuoting = true
		}
	}

	if needsQuoting {
		term = strings.ReplaceAll(term, `"`, `""`)
		return `"` + term + `"`
	}
	return term
}
