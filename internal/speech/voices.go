package speech

import "github.com/vovakirdan/medrelay/internal/store"

// Voice is a concrete voice identity for one language.
type Voice struct {
	Name   string // engine voice name
	Locale string // BCP-47 tag passed to the engine
}

// VoiceBook selects a voice by language and listener role. Doctor voices
// exist only for some languages; everything else uses the language default.
type VoiceBook struct {
	Default  map[string]Voice
	Doctor   map[string]Voice
	Fallback Voice
}

// Lookup returns the voice for a role in a language.
func (b *VoiceBook) Lookup(lang string, role store.Role) Voice {
	if role == store.RoleDoctor {
		if v, ok := b.Doctor[lang]; ok {
			return v
		}
	}
	if v, ok := b.Default[lang]; ok {
		return v
	}
	return b.Fallback
}

// DefaultVoiceBook maps the supported languages onto Gemini prebuilt voices.
func DefaultVoiceBook() *VoiceBook {
	const patientVoice, doctorVoice = "Kore", "Charon"

	locales := map[string]string{
		"en": "en-US", "hi": "hi-IN", "es": "es-ES", "fr": "fr-FR", "de": "de-DE",
		"zh": "cmn-CN", "ar": "ar-EG", "pt": "pt-BR", "ru": "ru-RU", "ja": "ja-JP",
		"ko": "ko-KR", "bn": "bn-BD", "ta": "ta-IN", "te": "te-IN", "ur": "ur-IN",
		"mr": "mr-IN", "gu": "gu-IN", "kn": "kn-IN", "ml": "ml-IN", "pa": "pa-IN",
	}
	withDoctor := []string{"en", "hi", "es", "fr", "de", "zh", "ar", "pt", "ru", "ja", "ko"}

	book := &VoiceBook{
		Default:  make(map[string]Voice, len(locales)),
		Doctor:   make(map[string]Voice, len(withDoctor)),
		Fallback: Voice{Name: patientVoice, Locale: "en-US"},
	}
	for lang, locale := range locales {
		book.Default[lang] = Voice{Name: patientVoice, Locale: locale}
	}
	for _, lang := range withDoctor {
		book.Doctor[lang] = Voice{Name: doctorVoice, Locale: locales[lang]}
	}
	return book
}
