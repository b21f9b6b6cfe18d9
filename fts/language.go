package fts

import (
	"fmt"
	"strings"

	"github.com/blevesearch/snowballstem"
	"github.com/blevesearch/snowballstem/arabic"
	"github.com/blevesearch/snowballstem/danish"
	"github.com/blevesearch/snowballstem/dutch"
	"github.com/blevesearch/snowballstem/english"
	"github.com/blevesearch/snowballstem/finnish"
	"github.com/blevesearch/snowballstem/french"
	"github.com/blevesearch/snowballstem/german"
	"github.com/blevesearch/snowballstem/hungarian"
	"github.com/blevesearch/snowballstem/italian"
	"github.com/blevesearch/snowballstem/norwegian"
	"github.com/blevesearch/snowballstem/portuguese"
	"github.com/blevesearch/snowballstem/romanian"
	"github.com/blevesearch/snowballstem/russian"
	"github.com/blevesearch/snowballstem/spanish"
	"github.com/blevesearch/snowballstem/swedish"
	"github.com/blevesearch/snowballstem/tamil"
	"github.com/blevesearch/snowballstem/turkish"
)

// Language identifies an analyzer language preset.
type Language uint8

const (
	LangEnglish Language = iota
	LangArabic
	LangDanish
	LangDutch
	LangFinnish
	LangFrench
	LangGerman
	LangGreek
	LangHungarian
	LangItalian
	LangNorwegian
	LangPortuguese
	LangRomanian
	LangRussian
	LangSpanish
	LangSwedish
	LangTamil
	LangTurkish
)

// Code returns the ISO-639-1 style identifier for the language.
func (l Language) Code() string {
	switch l {
	case LangArabic:
		return "ar"
	case LangDanish:
		return "da"
	case LangDutch:
		return "nl"
	case LangEnglish:
		return "en"
	case LangFinnish:
		return "fi"
	case LangFrench:
		return "fr"
	case LangGerman:
		return "de"
	case LangGreek:
		return "el"
	case LangHungarian:
		return "hu"
	case LangItalian:
		return "it"
	case LangNorwegian:
		return "no"
	case LangPortuguese:
		return "pt"
	case LangRomanian:
		return "ro"
	case LangRussian:
		return "ru"
	case LangSpanish:
		return "es"
	case LangSwedish:
		return "sv"
	case LangTamil:
		return "ta"
	case LangTurkish:
		return "tr"
	default:
		return "en"
	}
}

func (l Language) String() string { return l.Code() }

// ParseLanguage accepts both codes ("en") and full names ("english").
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "en", "english":
		return LangEnglish, nil
	case "ar", "arabic":
		return LangArabic, nil
	case "da", "danish":
		return LangDanish, nil
	case "nl", "dutch":
		return LangDutch, nil
	case "fi", "finnish":
		return LangFinnish, nil
	case "fr", "french":
		return LangFrench, nil
	case "de", "german":
		return LangGerman, nil
	case "el", "greek":
		return LangGreek, nil
	case "hu", "hungarian":
		return LangHungarian, nil
	case "it", "italian":
		return LangItalian, nil
	case "no", "norwegian":
		return LangNorwegian, nil
	case "pt", "portuguese":
		return LangPortuguese, nil
	case "ro", "romanian":
		return LangRomanian, nil
	case "ru", "russian":
		return LangRussian, nil
	case "es", "spanish":
		return LangSpanish, nil
	case "sv", "swedish":
		return LangSwedish, nil
	case "ta", "tamil":
		return LangTamil, nil
	case "tr", "turkish":
		return LangTurkish, nil
	default:
		return 0, fmt.Errorf("unsupported full-text language: %q", s)
	}
}

type stemFunc func(env *snowballstem.Env) bool

// stemmerFor returns the Snowball stemmer for the language, or nil when
// none exists (Greek); stemming is then a no-op.
func stemmerFor(l Language) stemFunc {
	switch l {
	case LangArabic:
		return arabic.Stem
	case LangDanish:
		return danish.Stem
	case LangDutch:
		return dutch.Stem
	case LangEnglish:
		return english.Stem
	case LangFinnish:
		return finnish.Stem
	case LangFrench:
		return french.Stem
	case LangGerman:
		return german.Stem
	case LangHungarian:
		return hungarian.Stem
	case LangItalian:
		return italian.Stem
	case LangNorwegian:
		return norwegian.Stem
	case LangPortuguese:
		return portuguese.Stem
	case LangRomanian:
		return romanian.Stem
	case LangRussian:
		return russian.Stem
	case LangSpanish:
		return spanish.Stem
	case LangSwedish:
		return swedish.Stem
	case LangTamil:
		return tamil.Stem
	case LangTurkish:
		return turkish.Stem
	default:
		return nil
	}
}

// stem applies the language stemmer to a single token.
func stem(fn stemFunc, token string) string {
	if fn == nil {
		return token
	}
	env := snowballstem.NewEnv(token)
	fn(env)
	return env.Current()
}
