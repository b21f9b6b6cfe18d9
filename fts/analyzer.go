package fts

import (
	"strings"
	"unicode"

	"github.com/lqhl/elacsym/model"
)

// DefaultMaxTokenLength drops pathological tokens during analysis.
const DefaultMaxTokenLength = 40

// Analyzer is the per-field text pipeline. The stage order is fixed:
// tokenize, remove-too-long, ascii-fold, lowercase, stopwords, stem.
type Analyzer struct {
	language        Language
	stemmer         stemFunc
	stopwords       map[string]struct{}
	caseSensitive   bool
	asciiFolding    bool
	removeStopwords bool
	stemming        bool
	maxTokenLength  int
}

// NewAnalyzer builds an analyzer from the schema's full-text config.
func NewAnalyzer(cfg model.FullText) (*Analyzer, error) {
	lang, err := ParseLanguage(cfg.Language)
	if err != nil {
		return nil, err
	}
	maxLen := cfg.MaxTokenLength
	if maxLen <= 0 {
		maxLen = DefaultMaxTokenLength
	}
	a := &Analyzer{
		language:        lang,
		caseSensitive:   cfg.CaseSensitive,
		asciiFolding:    cfg.ASCIIFolding,
		removeStopwords: cfg.RemoveStopwords,
		stemming:        cfg.Stemming,
		maxTokenLength:  maxLen,
	}
	if a.stemming {
		a.stemmer = stemmerFor(lang)
	}
	if a.removeStopwords {
		a.stopwords = stopwordsFor(lang)
	}
	return a, nil
}

// Analyze runs the pipeline over text and returns the token stream.
func (a *Analyzer) Analyze(text string) []string {
	var tokens []string
	appendToken := func(tok string) {
		if tok == "" {
			return
		}
		if len([]rune(tok)) > a.maxTokenLength {
			return
		}
		if a.asciiFolding {
			tok = asciiFold(tok)
		}
		if !a.caseSensitive {
			tok = strings.ToLower(tok)
		}
		if a.stopwords != nil {
			if _, drop := a.stopwords[tok]; drop {
				return
			}
		}
		if a.stemming {
			tok = stem(a.stemmer, tok)
		}
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}

	start := -1
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			appendToken(text[start:i])
			start = -1
		}
	}
	if start >= 0 {
		appendToken(text[start:])
	}
	return tokens
}

// asciiFold strips combining accents from Latin characters. Characters
// outside the mapped range pass through unchanged.
func asciiFold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if folded, ok := foldTable[r]; ok {
			b.WriteString(folded)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var foldTable = map[rune]string{
	'à': "a", 'á': "a", 'â': "a", 'ã': "a", 'ä': "a", 'å': "a", 'æ': "ae",
	'ç': "c", 'è': "e", 'é': "e", 'ê': "e", 'ë': "e", 'ì': "i", 'í': "i",
	'î': "i", 'ï': "i", 'ñ': "n", 'ò': "o", 'ó': "o", 'ô': "o", 'õ': "o",
	'ö': "o", 'ø': "o", 'ù': "u", 'ú': "u", 'û': "u", 'ü': "u", 'ý': "y",
	'ÿ': "y", 'ß': "ss", 'œ': "oe", 'ð': "d", 'þ': "th",
	'À': "A", 'Á': "A", 'Â': "A", 'Ã': "A", 'Ä': "A", 'Å': "A", 'Æ': "AE",
	'Ç': "C", 'È': "E", 'É': "E", 'Ê': "E", 'Ë': "E", 'Ì': "I", 'Í': "I",
	'Î': "I", 'Ï': "I", 'Ñ': "N", 'Ò': "O", 'Ó': "O", 'Ô': "O", 'Õ': "O",
	'Ö': "O", 'Ø': "O", 'Ù': "U", 'Ú': "U", 'Û': "U", 'Ü': "U", 'Ý': "Y",
	'Œ': "OE", 'Þ': "TH",
}
