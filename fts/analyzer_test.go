package fts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lqhl/elacsym/model"
)

func TestAnalyzeSimple(t *testing.T) {
	a, err := NewAnalyzer(model.SimpleFullText())
	require.NoError(t, err)

	tokens := a.Analyze("Rust Database, fast & reliable!")
	assert.Equal(t, []string{"rust", "database", "fast", "reliable"}, tokens)
}

func TestAnalyzeCaseSensitive(t *testing.T) {
	a, err := NewAnalyzer(model.FullText{Enabled: true, Language: "en", CaseSensitive: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"Rust", "DB"}, a.Analyze("Rust DB"))
}

func TestAnalyzeDropsOverlongTokens(t *testing.T) {
	a, err := NewAnalyzer(model.FullText{Enabled: true, Language: "en", MaxTokenLength: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"short", "ok"}, a.Analyze("short toolongtoken ok"))
}

func TestAnalyzeDefaultCutoffIsForty(t *testing.T) {
	a, err := NewAnalyzer(model.SimpleFullText())
	require.NoError(t, err)
	long := strings.Repeat("x", 41)
	edge := strings.Repeat("y", 40)
	assert.Equal(t, []string{edge}, a.Analyze(long+" "+edge))
}

func TestAnalyzeStopwords(t *testing.T) {
	a, err := NewAnalyzer(model.FullText{
		Enabled: true, Language: "english", RemoveStopwords: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"quick", "fox"}, a.Analyze("the quick fox and"))
}

func TestAnalyzeStemmingEnglish(t *testing.T) {
	a, err := NewAnalyzer(model.FullText{
		Enabled: true, Language: "english", Stemming: true,
	})
	require.NoError(t, err)
	tokens := a.Analyze("running databases")
	assert.Equal(t, []string{"run", "databas"}, tokens)
}

func TestAnalyzeASCIIFolding(t *testing.T) {
	a, err := NewAnalyzer(model.FullText{
		Enabled: true, Language: "french", ASCIIFolding: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"cafe", "resume"}, a.Analyze("café résumé"))
}

func TestAnalyzerStabilityAcrossLanguages(t *testing.T) {
	samples := map[string]string{
		"arabic":     "قواعد البيانات سريعة",
		"danish":     "hurtige databaser virker",
		"dutch":      "snelle databases werken",
		"english":    "fast databases are working",
		"finnish":    "nopeat tietokannat toimivat",
		"french":     "les bases de données rapides",
		"german":     "schnelle Datenbanken funktionieren",
		"greek":      "γρήγορες βάσεις δεδομένων",
		"hungarian":  "gyors adatbázisok működnek",
		"italian":    "database veloci funzionano",
		"norwegian":  "raske databaser fungerer",
		"portuguese": "bancos de dados rápidos",
		"romanian":   "baze de date rapide",
		"russian":    "быстрые базы данных работают",
		"spanish":    "bases de datos rápidas",
		"swedish":    "snabba databaser fungerar",
		"tamil":      "வேகமான தரவுத்தளங்கள்",
		"turkish":    "hızlı veritabanları çalışıyor",
	}
	for lang, text := range samples {
		a, err := NewAnalyzer(model.FullText{
			Enabled: true, Language: lang,
			Stemming: true, RemoveStopwords: true,
		})
		require.NoError(t, err, lang)
		first := a.Analyze(text)
		assert.NotEmpty(t, first, lang)
		for i := 0; i < 4; i++ {
			assert.Equal(t, first, a.Analyze(text),
				"token stream for %s must be identical across runs", lang)
		}
	}
}

func TestParseLanguageAliases(t *testing.T) {
	byCode, err := ParseLanguage("de")
	require.NoError(t, err)
	byName, err := ParseLanguage("German")
	require.NoError(t, err)
	assert.Equal(t, byCode, byName)

	_, err = ParseLanguage("klingon")
	assert.Error(t, err)
}

func TestGreekStemmingIsNoop(t *testing.T) {
	a, err := NewAnalyzer(model.FullText{Enabled: true, Language: "el", Stemming: true})
	require.NoError(t, err)
	// No Snowball stemmer exists for Greek; tokens pass through.
	assert.Equal(t, []string{"βάσεις"}, a.Analyze("βάσεις"))
}
