package fts

// Curated stopword lists per language. These cover the high-frequency
// function words that dominate posting lists; removal is a no-op for
// languages not present.

var stopwordLists = map[Language][]string{
	LangEnglish: {
		"a", "an", "and", "are", "as", "at", "be", "but", "by", "for",
		"if", "in", "into", "is", "it", "no", "not", "of", "on", "or",
		"such", "that", "the", "their", "then", "there", "these", "they",
		"this", "to", "was", "will", "with",
	},
	LangArabic: {
		"من", "في", "على", "و", "فى", "يا", "ما", "لا", "ان", "أن",
		"إن", "هذا", "هذه", "ذلك", "التي", "الذي", "عن", "مع", "هو", "هي",
	},
	LangDanish: {
		"af", "alle", "at", "de", "den", "der", "det", "en", "er", "et",
		"for", "fra", "han", "har", "med", "og", "om", "på", "som", "til",
		"var", "vi", "ikke", "jeg", "hun",
	},
	LangDutch: {
		"de", "en", "van", "ik", "te", "dat", "die", "in", "een", "hij",
		"het", "niet", "zijn", "is", "was", "op", "aan", "met", "als",
		"voor", "had", "er", "maar", "om", "hem", "dan", "zou", "of",
	},
	LangFinnish: {
		"ja", "on", "ei", "se", "että", "oli", "hän", "mutta", "niin",
		"kun", "joka", "sen", "siitä", "myös", "ovat", "tai", "ole", "nyt",
	},
	LangFrench: {
		"au", "aux", "avec", "ce", "ces", "dans", "de", "des", "du",
		"elle", "en", "et", "il", "je", "la", "le", "les", "leur", "lui",
		"mais", "ne", "nous", "on", "ou", "par", "pas", "pour", "qu",
		"que", "qui", "sa", "se", "son", "sur", "tu", "un", "une", "vous",
	},
	LangGerman: {
		"aber", "als", "auch", "auf", "aus", "bei", "das", "dass", "dem",
		"den", "der", "des", "die", "ein", "eine", "einer", "er", "es",
		"für", "hat", "ich", "im", "in", "ist", "mit", "nicht", "noch",
		"sich", "sie", "sind", "und", "von", "war", "wie", "zu",
	},
	LangGreek: {
		"και", "το", "του", "της", "τα", "να", "με", "που", "την", "για",
		"στο", "δεν", "από", "είναι", "σε", "ο", "η", "οι", "αυτό", "τον",
	},
	LangHungarian: {
		"a", "az", "és", "hogy", "nem", "is", "egy", "de", "volt", "ez",
		"ha", "meg", "csak", "már", "el", "van", "mint", "még", "azt",
	},
	LangItalian: {
		"a", "al", "alla", "che", "chi", "ci", "come", "con", "da", "de",
		"del", "della", "di", "e", "è", "il", "in", "la", "le", "lo", "ma",
		"mi", "nel", "non", "per", "più", "se", "si", "su", "un", "una",
	},
	LangNorwegian: {
		"av", "da", "de", "den", "det", "en", "er", "et", "for", "fra",
		"ha", "han", "hun", "i", "ikke", "jeg", "med", "men", "og", "om",
		"på", "seg", "som", "til", "var", "vi", "å",
	},
	LangPortuguese: {
		"a", "ao", "as", "com", "da", "das", "de", "do", "dos", "e", "em",
		"na", "nas", "no", "nos", "não", "o", "os", "ou", "para", "por",
		"que", "se", "sem", "um", "uma",
	},
	LangRomanian: {
		"a", "ai", "al", "ale", "am", "ar", "au", "ca", "care", "ce", "cu",
		"de", "din", "după", "ea", "el", "este", "eu", "în", "la", "le",
		"lui", "mai", "nu", "o", "pe", "prin", "sa", "se", "și", "un", "una",
	},
	LangRussian: {
		"и", "в", "во", "не", "что", "он", "на", "я", "с", "со", "как",
		"а", "то", "все", "она", "так", "его", "но", "да", "ты", "к", "у",
		"же", "вы", "за", "бы", "по", "ее", "мне", "было", "вот", "от",
	},
	LangSpanish: {
		"a", "al", "como", "con", "de", "del", "el", "ella", "en", "es",
		"esta", "la", "las", "le", "lo", "los", "más", "mi", "no", "o",
		"para", "pero", "por", "que", "se", "si", "sin", "su", "sus", "un",
		"una", "y", "ya",
	},
	LangSwedish: {
		"av", "den", "det", "en", "ett", "för", "från", "han", "har",
		"hon", "i", "icke", "inte", "jag", "med", "men", "och", "om", "på",
		"som", "till", "var", "vi", "är", "att", "de", "du",
	},
	LangTamil: {
		"ஒரு", "என்று", "மற்றும்", "இந்த", "அந்த", "இது", "அது", "என",
		"உள்ள", "மேலும்", "அவர்", "நான்", "அவர்கள்", "எனக்கு",
	},
	LangTurkish: {
		"acaba", "ama", "ancak", "bir", "bu", "da", "de", "daha", "en",
		"gibi", "için", "ile", "ise", "ki", "mi", "mu", "mü", "ne", "o",
		"sonra", "şu", "ve", "veya", "ya", "çok",
	},
}

// stopwordsFor builds the lookup set for a language.
func stopwordsFor(l Language) map[string]struct{} {
	words := stopwordLists[l]
	if len(words) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
