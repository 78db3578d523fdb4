package moderation

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxTermLength is the longest accepted lexicon term, in runes.
const MaxTermLength = 64

var nonTokenChars = regexp.MustCompile(`[^\pL\pN\s]+`)

// ErrMalformedTerm is returned by NormalizeTerm for lines that cannot be used
// as a lexicon term.
var ErrMalformedTerm = errors.New("moderation: malformed term")

// Lexicon is a set of abuse terms. Single-word terms match whole tokens and
// multi-word terms match a run of consecutive tokens. A Lexicon is never
// mutated after construction.
type Lexicon struct {
	words   map[string]struct{}
	phrases []string // normalized, single-space separated
}

// NewLexicon returns the built-in lexicon merged with extra terms.
func NewLexicon(extra ...string) *Lexicon {
	terms := make([]string, 0, len(baseTerms)+len(extra))
	terms = append(terms, baseTerms...)
	terms = append(terms, extra...)
	return NewLexiconWithTerms(terms)
}

// NewLexiconWithTerms builds a lexicon from terms only, without the built-in
// list. Malformed terms are dropped and duplicates collapse.
func NewLexiconWithTerms(terms []string) *Lexicon {
	l := &Lexicon{words: make(map[string]struct{})}
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		n, err := NormalizeTerm(t)
		if err != nil {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		if strings.Contains(n, " ") {
			l.phrases = append(l.phrases, n)
		} else {
			l.words[n] = struct{}{}
		}
	}
	return l
}

// LoadLexicon merges the built-in list with the terms in the file at path.
// A missing or unreadable file is not fatal: the built-in list is used and a
// warning is logged.
func LoadLexicon(path string) *Lexicon {
	if path == "" {
		return NewLexicon()
	}
	f, err := os.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("component", "lexicon").Str("path", path).
			Msg("word list unavailable, using built-in terms")
		return NewLexicon()
	}
	defer f.Close()

	terms, skipped, err := ReadTerms(f)
	if err != nil {
		log.Warn().Err(err).Str("component", "lexicon").Str("path", path).
			Msg("word list read failed, using built-in terms")
		return NewLexicon()
	}
	if skipped > 0 {
		log.Warn().Str("component", "lexicon").Str("path", path).Int("skipped", skipped).
			Msg("skipped malformed word list lines")
	}

	lex := NewLexicon(terms...)
	log.Info().Str("component", "lexicon").Str("path", path).
		Int("loaded", len(terms)).Int("total", lex.Len()).Msg("word list loaded")
	return lex
}

// ReadTerms reads one term per line. Blank lines and lines starting with "#"
// are ignored; malformed lines are counted in skipped.
func ReadTerms(r io.Reader) (terms []string, skipped int, err error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		n, nerr := NormalizeTerm(line)
		if nerr != nil {
			skipped++
			continue
		}
		terms = append(terms, n)
	}
	if err := sc.Err(); err != nil {
		return nil, skipped, fmt.Errorf("moderation: read terms: %w", err)
	}
	return terms, skipped, nil
}

// NormalizeTerm lower-cases a term, folds diacritics, drops punctuation and
// collapses whitespace.
func NormalizeTerm(term string) (string, error) {
	toks := tokenize(term)
	if len(toks) == 0 {
		return "", ErrMalformedTerm
	}
	n := strings.Join(toks, " ")
	if utf8.RuneCountInString(n) > MaxTermLength {
		return "", ErrMalformedTerm
	}
	return n, nil
}

// Contains reports whether any term appears in text as a whole word.
func (l *Lexicon) Contains(text string) bool {
	_, ok := l.Match(text)
	return ok
}

// Match returns the first term found in text.
func (l *Lexicon) Match(text string) (string, bool) {
	toks := tokenize(text)
	if len(toks) == 0 {
		return "", false
	}
	for _, t := range toks {
		if _, ok := l.words[t]; ok {
			return t, true
		}
	}
	if len(l.phrases) == 0 {
		return "", false
	}
	padded := " " + strings.Join(toks, " ") + " "
	for _, p := range l.phrases {
		if strings.Contains(padded, " "+p+" ") {
			return p, true
		}
	}
	return "", false
}

// Len returns the number of distinct terms.
func (l *Lexicon) Len() int {
	return len(l.words) + len(l.phrases)
}

// tokenize splits text into lower-case tokens with diacritics removed.
func tokenize(text string) []string {
	// the transformer holds state, so build one per call
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	bare := strings.ToLower(nonTokenChars.ReplaceAllString(text, " "))
	folded, _, err := transform.String(fold, bare)
	if err != nil {
		folded = bare
	}
	return strings.Fields(folded)
}
